package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/keith/internal/config"
)

const defaultConfigPath = "keith.yaml"

func addConfigFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to keith config file")
}

// loadConfig reads the config file. A missing default file is not an
// error: keith then runs from environment variables alone.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Load("")
		}
	}
	return config.Load(path)
}
