package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironsheep/astrophot/internal/logging"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "astrophot",
		Short:         "Source detection and aperture photometry for FITS images",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := g.logLevel
			if !cmd.Flags().Changed("log-level") {
				if env := os.Getenv(logging.EnvLevel); env != "" {
					level = env
				}
			}
			if _, err := logging.Setup(cmd.ErrOrStderr(), level, g.logFormat); err != nil {
				return err
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to config file (default: ./astrophot.yaml or ~/.config/astrophot/astrophot.yaml)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format: text, json")

	rootCmd.AddCommand(
		runCommand(g),
		configCommand(g),
		headerCommand(),
		cutoutCommand(),
		renderCommand(g),
		serveCommand(g),
		versionCommand(),
	)

	return rootCmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "astrophot %s\n", Version)
			fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
		},
	}
}
