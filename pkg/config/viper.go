// Package config is responsible for initializing the global configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	internalconfig "github.com/JakeFAU/linkcheck/internal/config"
)

// InitConfig prepares the global Viper instance: search paths ("." then
// /etc/linkcheck/ then the XDG config dir), CHECKER_ environment overrides,
// and defaults. cfgFile, when set, replaces the search. It returns the path
// of the file read, or "" when running on defaults and environment alone.
//
// It is meant to be called once at startup, before flags are read.
func InitConfig(cfgFile string) (string, error) {
	return initConfig(viper.GetViper(), cfgFile)
}

func initConfig(v *viper.Viper, cfgFile string) (string, error) {
	internalconfig.Prepare(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			// No file anywhere on the search path; defaults and env apply.
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}
