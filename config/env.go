package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are settings that do not map onto a viper key.
type envOverrides struct {
	Services map[string]string `env:"ROUTER_SERVICES" envSeparator:"," envKeyValSeparator:"="`
	Port     string            `env:"PORT"`
}

func parseEnv() (envOverrides, error) {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return o, fmt.Errorf("parse env: %w", err)
	}
	return o, nil
}

// applyEnv fills the registry defaults and applies ROUTER_SERVICES and PORT.
func (c *Config) applyEnv() error {
	o, err := parseEnv()
	if err != nil {
		return err
	}

	services := make(map[string]string, len(c.Services)+len(o.Services))
	for name, u := range c.Services {
		services[name] = u
	}
	if len(services) == 0 {
		services = DefaultServices()
	}
	for name, u := range o.Services {
		services[strings.TrimSpace(name)] = strings.TrimSpace(u)
	}
	c.Services = services

	if o.Port != "" && os.Getenv("SERVER_ADDRESS") == "" {
		c.Server.Address = ":" + strings.TrimPrefix(o.Port, ":")
	}

	return nil
}
