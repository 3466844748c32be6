package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "nolight",
		Short: "NoLight - front end for an AI pair-programming CLI",
		Long: `NoLight drives an AI coding assistant against a Unity game project.
It sends prompts to the assistant, watches its output for commit ids,
keeps a history of every request, and can kick off batch game builds.`,
		RunE: runTUI,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
