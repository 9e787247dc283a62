// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/rtastore/pkg/env"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "rtastore",
	Short: "rtastore - chunked storage for live audio recordings",
	Long: `rtastore stores live audio recordings chunk by chunk on a proof-backed
storage network, falling back to a pinning service when the network is
unavailable, and compiles per-recording metadata once a recording ends.`,
	PersistentPreRun: initialize,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("env", "", "Environment (local, production, testing); defaults to $ENV")
	viper.BindPFlags(rootCmd.PersistentFlags())
}

func initialize(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("rtastore", false)

	fl := NewFlagLoader(cmd)
	if e := fl.String("env"); e != "" {
		env.Set(e)
	}
	logger.SetLevelString(fl.String("log_level"))
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
