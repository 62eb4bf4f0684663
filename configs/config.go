package configs

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server struct {
		Port string `yaml:"port" validate:"required"`
	} `yaml:"server"`

	Storage struct {
		DataDir string `yaml:"data_dir" validate:"required_unless=Type memory"`
		Type    string `yaml:"type" validate:"oneof=bolt badger sqlite memory"`
	} `yaml:"storage"`

	Database struct {
		Name      string `yaml:"name" validate:"required,excludesall=/\\"`
		StoreName string `yaml:"store_name" validate:"required,excludesall=/\\"`
	} `yaml:"database"`

	Log struct {
		Level  string `yaml:"level" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" validate:"oneof=json console"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	config := &Config{}

	// Server defaults
	config.Server.Port = ":8080"

	// Storage defaults
	config.Storage.DataDir = "data"
	config.Storage.Type = "bolt"

	// Database defaults
	config.Database.Name = "composi-idb"
	config.Database.StoreName = "composi-store"

	// Log defaults
	config.Log.Level = "info"
	config.Log.Format = "console"

	return config
}

// LoadConfig loads configuration from a YAML file over the defaults and
// validates the result
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file %s: %w", filename, err)
		}
		defer func() {
			_ = file.Close()
		}()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration's field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
