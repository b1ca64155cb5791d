package config

import (
	"errors"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// ErrNoConfigFile is returned by WatchServices when no file was loaded.
var ErrNoConfigFile = errors.New("no config file to watch")

// WatchServices calls onChange with the new registry every time the config
// file is rewritten with a valid configuration. Invalid edits are logged and
// skipped, as are versions without a services section. Only the services
// section is applied at runtime.
func (c *Config) WatchServices(logger *slog.Logger, onChange func(services map[string]string)) error {
	if c.ConfigFile() == "" {
		return ErrNoConfigFile
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		// a truncated file reads as empty while it is being rewritten
		if !c.v.IsSet("services") {
			logger.Warn("Ignoring config change without services", slog.String("file", e.Name))
			return
		}

		next, err := build(c.v)
		if err != nil {
			logger.Error("Ignoring invalid config change",
				slog.String("file", e.Name),
				slog.Any("error", err))
			return
		}

		logger.Info("Config file changed", slog.String("file", e.Name))
		onChange(next.Services)
	})
	c.v.WatchConfig()

	return nil
}
