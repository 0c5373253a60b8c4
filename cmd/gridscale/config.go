package main

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultData = "../data/sst/*.nc"
	defaultVar  = "sst"
	defaultOut  = "."
)

// Config holds the settings shared by gridscale's commands.
type Config struct {
	Data       string         `mapstructure:"data"`
	Var        string         `mapstructure:"var"`
	Out        string         `mapstructure:"out"`
	Chunks     map[string]int `mapstructure:"chunks"`
	Window     int            `mapstructure:"window"`
	Resample   string         `mapstructure:"resample"`
	Seed       int64          `mapstructure:"seed"`
	Compressor string         `mapstructure:"compressor"`
}

// setDefaults sets the default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data", defaultData)
	v.SetDefault("var", defaultVar)
	v.SetDefault("out", defaultOut)
	v.SetDefault("window", 12)
	v.SetDefault("resample", "YS")
	v.SetDefault("seed", 0)
	v.SetDefault("compressor", "zstd")
}

// loadConfig merges defaults, the TOML file at path (if any), GRIDSCALE_*
// environment variables and the flags that were set, in increasing order
// of precedence.
func loadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("GRIDSCALE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("gridscale: read config %s", path), err)
		}
	}
	if flags != nil {
		var err error
		flags.VisitAll(func(f *pflag.Flag) {
			if err != nil || !f.Changed || !configKeys[f.Name] {
				return
			}
			err = v.BindPFlag(f.Name, f)
		})
		if err != nil {
			return nil, errors.E("gridscale: bind flags", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.E(errors.Invalid, "gridscale: config", err)
	}
	if c.Window <= 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("gridscale: window must be positive, got %d", c.Window))
	}
	return &c, nil
}

// configKeys are the flags that override configuration values.
var configKeys = map[string]bool{
	"data":       true,
	"var":        true,
	"out":        true,
	"chunks":     true,
	"window":     true,
	"resample":   true,
	"seed":       true,
	"compressor": true,
}
