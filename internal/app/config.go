package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPath string // hcl execution configuration
	DataPath   string // extended-xyz dataset to inspect
	WorkDir    string // working directory for intermediate files

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.DataPath == "" {
		return nil, errors.New("DataPath is a required configuration field and cannot be empty")
	}

	return &cfg, nil
}
