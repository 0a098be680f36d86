// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kalypss/PortFolio/pkg/config"
	"github.com/Kalypss/PortFolio/pkg/system"
)

// ConfigPathEnv names the configuration file when --config is not given.
const ConfigPathEnv = "PORTFOLIO_GATEWAY_CONFIG"

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath string
	debug      bool
	writer     io.Writer
}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   os.Getenv(ConfigPathEnv),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:          "portfolio-gateway",
		Short:        "Security gateway for the portfolio backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file (default ./config.yaml)")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug level logging")

	root.AddCommand(
		newServeCommand(rt),
		newTokenCommand(rt),
		newVersionCommand(rt),
	)
	return root
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) loadConfig() (config.Config, error) {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return cfg, err
	}
	if rt.debug {
		cfg.Log.Debug = true
	}
	return cfg, nil
}

func (rt *runtimeState) logger(cfg config.Config) (*zap.Logger, error) {
	return system.NewLogger(cfg.Log.Debug, cfg.Log.Format)
}
