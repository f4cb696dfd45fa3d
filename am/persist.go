package am

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/pulsegraph/errors"
)

// ToTOML renders the configuration as TOML.
func (c *Config) ToTOML() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal config")
	}
	return data, nil
}

// WriteFile writes the configuration to path, rotating up to three backups
// of any existing file (.back1 newest).
func (c *Config) WriteFile(path string) error {
	data, err := c.ToTOML()
	if err != nil {
		return err
	}
	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Workers:            DefaultWorkers,
			QueueCapacity:      DefaultQueueCapacity,
			PollIntervalMS:     DefaultPollIntervalMS,
			GracePeriodSeconds: DefaultGracePeriodSeconds,
			HardStopSeconds:    DefaultHardStopSeconds,
			PeriodicGate:       DefaultPeriodicGate,
		},
		History: HistoryConfig{
			Path:          DefaultHistoryPath,
			RetentionDays: DefaultRetentionDays,
		},
	}
}

// createBackup rotates .back3 <- .back2 <- .back1 <- current
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back1 := configPath + ".back1"
	back2 := configPath + ".back2"
	back3 := configPath + ".back3"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back3)
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
