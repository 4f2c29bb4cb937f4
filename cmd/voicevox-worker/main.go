// main package for the voicevox-worker
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	warmEngine bool

	rootCmd = &cobra.Command{
		Use:           "voicevox-worker",
		Short:         "Serve VOICEVOX speech synthesis jobs",
		Long:          "voicevox-worker validates synthesis jobs, drives a VOICEVOX engine, and returns base64 WAV audio.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a TOML config file (defaults to the central configurator)")
	rootCmd.PersistentFlags().BoolVar(&warmEngine, "warm", false,
		"initialize the engine at startup instead of on the first job")

	rootCmd.AddCommand(workerCmd, serveCmd, testCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
