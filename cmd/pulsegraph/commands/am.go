package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pulsegraph/am"
	"github.com/teranos/pulsegraph/errors"
	"github.com/teranos/pulsegraph/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage pulsegraph configuration",
	Long: sym.AM + ` am - Manage pulsegraph configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/pulsegraph/am.toml)
3. User config (~/.pulsegraph/am.toml)
4. Project config (nearest am.toml, searching up from the working directory)
5. Environment variables (PULSEGRAPH_* prefix, e.g. PULSEGRAPH_SCHEDULER_WORKERS)

Examples:
  pulsegraph am show                 # Show effective configuration as TOML
  pulsegraph am show --format json   # ...as JSON
  pulsegraph am show --sources       # Show where each setting came from
  pulsegraph am init                 # Write the defaults to ./am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Long:  "Write the built-in defaults to path (default ./am.toml). An existing file is rotated to .back1.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	amShowFormat  string
	amShowSources bool
)

func init() {
	amShowCmd.Flags().StringVar(&amShowFormat, "format", "toml", "Output format: toml, json, yaml")
	amShowCmd.Flags().BoolVar(&amShowSources, "sources", false, "Show the source of each setting")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	if amShowSources {
		return showSources(cmd)
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out := cmd.OutOrStdout()
	switch amShowFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# pulsegraph configuration\n%s", data)
	case "toml":
		data, err := cfg.ToTOML()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "# pulsegraph configuration\n%s", data)
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", amShowFormat)
	}
	return nil
}

func showSources(cmd *cobra.Command) error {
	settings, err := am.Introspect()
	if err != nil {
		return errors.Wrap(err, "failed to introspect config")
	}

	rows := [][]string{{"Key", "Value", "Source", "From"}}
	for _, s := range settings {
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(rows).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		pterm.Warning.WithWriter(cmd.ErrOrStderr()).Printfln("%s exists, previous version kept as %s.back1", path, path)
	}
	if err := am.Defaults().WriteFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", sym.AM, path)
	return nil
}
