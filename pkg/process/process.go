// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package process wires logging, configuration and signal handling for
// the command-line entry points.
package process

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// Error is the process error class.
var Error = errs.Class("process")

// NewLogger builds the service logger. Development mode switches to the
// human-oriented console encoder.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		logger, err := zap.NewDevelopment()
		return logger, Error.Wrap(err)
	}
	logger, err := zap.NewProduction()
	return logger, Error.Wrap(err)
}

// LoadConfig reads the JSON configuration document and applies HATRAC_*
// environment overrides for the deployment-specific scalars.
func LoadConfig(path string) (hatrac.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hatrac.Config{}, Error.Wrap(err)
	}
	config, err := hatrac.ParseConfig(data)
	if err != nil {
		return hatrac.Config{}, Error.Wrap(err)
	}

	v := viper.New()
	v.SetEnvPrefix("hatrac")
	v.AutomaticEnv()
	if addr := v.GetString("listen_address"); addr != "" {
		config.ListenAddress = addr
	}
	if dsn := v.GetString("database_dsn"); dsn != "" {
		config.DatabaseDSN = dsn
	}
	if root := v.GetString("storage_path"); root != "" {
		config.StoragePath = root
	}
	if config.ListenAddress == "" {
		config.ListenAddress = ":8080"
	}
	return config, nil
}

// FlagOverrides applies command-line flags over the loaded configuration.
// Only flags the user actually set win over the document and environment.
func FlagOverrides(config *hatrac.Config, flags *pflag.FlagSet) {
	if flags.Changed("listen") {
		config.ListenAddress, _ = flags.GetString("listen")
	}
	if flags.Changed("storage") {
		config.StoragePath, _ = flags.GetString("storage")
	}
}

// Ctx returns a context canceled by SIGINT or SIGTERM.
func Ctx() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
