package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dashjay/obspath/pkg/config"
	"github.com/dashjay/obspath/pkg/core"
	"github.com/dashjay/obspath/pkg/storpath"
)

var (
	cfgFile  string
	logLevel string
	retries  int
	progress bool

	session *core.Session
)

var rootCmd = &cobra.Command{
	Use:           "obspath",
	Short:         "Work with local, s3:// and swift:// paths alike",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
			cfg.LogLevel = logLevel
		}
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err == nil {
			logrus.SetLevel(lvl)
		}
		if cmd.Flags().Changed("retries") {
			cfg.Retry.NumRetries = retries
		}
		if cmd.Flags().Changed("progress") {
			cfg.Progress = progress
		}
		session, err = core.NewSession(cfg)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if session == nil {
			return nil
		}
		return session.Close()
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Errorln(err)
		os.Exit(1)
	}
}

func parsePath(raw string) (storpath.Path, error) {
	return storpath.Parse(raw)
}

func printPaths(paths []storpath.Path) {
	for _, p := range paths {
		fmt.Println(p.String())
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file, merged over "+config.UserConfigFile)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 0, "retries for failed remote calls")
	rootCmd.PersistentFlags().BoolVar(&progress, "progress", false, "draw progress bars for transfers")
}
