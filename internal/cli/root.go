// Package cli implements the mk2 command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/murphys7017/mk2/internal/cli.version=1.2.3"
	version = "0.2.0"
	logo    = "\n" +
		"             _    ____\n" +
		"  _ __ ___ | | _|___ \\\n" +
		" | '_ ` _ \\| |/ / __) |\n" +
		" | | | | | |   < / __/\n" +
		" |_| |_| |_|_|\\_\\_____|\n"
)

var rootCmd = &cobra.Command{
	Use:   "mk2",
	Short: "mk2 - event-driven agent dispatch core",
	Long:  color.CyanString(logo) + "\nA multi-session, self-regulating event dispatch engine.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mk2 version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("mk2 %s\n", version)
	},
}
