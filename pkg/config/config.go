// Package config loads service settings from the environment and an optional
// YAML or JSON file named by CONFIG_FILE. Environment variables win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileVar names the variable holding the config file path.
const FileVar = "CONFIG_FILE"

// Load returns a viper instance with defaults applied. Keys are lower case
// and map to upper case environment variables, so "database_url" is read
// from DATABASE_URL.
func Load(defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	if path := strings.TrimSpace(v.GetString(FileVar)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return v, nil
}

// String is a trimmed string setting.
func String(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

// Millis reads an integer number of milliseconds.
func Millis(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Millisecond
}

// Require returns an error naming the first key that is empty.
func Require(v *viper.Viper, keys ...string) error {
	for _, k := range keys {
		if String(v, k) == "" {
			return fmt.Errorf("%s is required", strings.ToUpper(k))
		}
	}
	return nil
}
