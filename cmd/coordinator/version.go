package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gebz97/dyno/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("dyno-coordinator %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		return nil
	},
}
