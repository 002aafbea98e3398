// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads engine settings from a configuration file and
// the environment.
//
// Settings are read, from highest to lowest precedence, from
// environment variables prefixed with ASYNCHTTP_ (for example
// ASYNCHTTP_LOGGING_LEVEL), the configuration file, and the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gogama/asynchttp"
	"github.com/gogama/asynchttp/executor"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "ASYNCHTTP"

// File holds the settings Load reads.
type File struct {
	UserAgent   string `mapstructure:"user_agent" validate:"omitempty,printascii"`
	StoragePath string `mapstructure:"storage_path"`
	EnableHTTP2 bool   `mapstructure:"enable_http2"`

	MaxRequestsPerSecond float64 `mapstructure:"max_requests_per_second" validate:"gte=0"`
	Burst                int     `mapstructure:"burst" validate:"gte=0"`

	// TransportWorkers is the number of goroutines running round trips.
	// Zero means a goroutine per round trip.
	TransportWorkers int `mapstructure:"transport_workers" validate:"gte=0"`
	TransportQueue   int `mapstructure:"transport_queue" validate:"gte=0"`

	EnableNetworkQualityEstimator bool `mapstructure:"enable_network_quality_estimator"`

	Logging Logging `mapstructure:"logging"`
	NetLog  NetLog  `mapstructure:"netlog"`
}

// Logging configures the engine's logrus logger.
type Logging struct {
	Level  string `mapstructure:"level" validate:"oneof=panic fatal error warn warning info debug trace"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// NetLog configures the diagnostic log. It is off if Path is empty.
type NetLog struct {
	Path    string `mapstructure:"path"`
	Verbose bool   `mapstructure:"verbose"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("user_agent", "")
	v.SetDefault("storage_path", "")
	v.SetDefault("enable_http2", true)
	v.SetDefault("max_requests_per_second", 0)
	v.SetDefault("burst", 0)
	v.SetDefault("transport_workers", 0)
	v.SetDefault("transport_queue", 64)
	v.SetDefault("enable_network_quality_estimator", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("netlog.path", "")
	v.SetDefault("netlog.verbose", false)
}

// Load reads the settings. If cfgFile is empty, Load looks for
// asynchttp.yaml in the working directory and then in
// $HOME/.asynchttp, and carries on with the defaults if there is none.
// A named cfgFile must exist.
func Load(cfgFile string) (*File, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("asynchttp")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.asynchttp")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("asynchttp/config: error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("asynchttp/config: unable to decode config: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("asynchttp/config: invalid config: %w", err)
	}
	return &f, nil
}

// Logger returns a logrus logger writing to standard error at the
// configured level and in the configured format.
func (f *File) Logger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(f.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("asynchttp/config: %w", err)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)
	if f.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log, nil
}

// EngineConfig returns the engine configuration described by f. If
// TransportWorkers is set, the returned pool runs the round trips; the
// caller must shut it down after the engine. Otherwise the pool is nil.
func (f *File) EngineConfig(log logrus.FieldLogger) (*asynchttp.Config, *executor.Pool) {
	cfg := &asynchttp.Config{
		UserAgent:                     f.UserAgent,
		StoragePath:                   f.StoragePath,
		EnableHTTP2:                   f.EnableHTTP2,
		MaxRequestsPerSecond:          f.MaxRequestsPerSecond,
		Burst:                         f.Burst,
		EnableNetworkQualityEstimator: f.EnableNetworkQualityEstimator,
		Logger:                        log,
	}

	var pool *executor.Pool
	if f.TransportWorkers > 0 {
		pool = executor.NewPool(f.TransportWorkers, f.TransportQueue, func(v interface{}) {
			log.WithField("panic", v).Error("asynchttp/config: transport task panicked")
		})
		cfg.TransportExecutor = pool
	}
	return cfg, pool
}
