package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
)

var flagEnvFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "doctorctl",
		Short: "Operator tool for pipeline-doctor",
		Long: `doctorctl inspects what pipeline-doctor would do with a failure and reads
the incident records it keeps. It never triggers builds or sends notifications.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("doctorctl %s\n", version))
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Environment file loaded before reading configuration")

	root.AddCommand(newClassifyCmd())
	root.AddCommand(newIncidentCmd())
	root.AddCommand(newEventCmd())
	return root
}

// loadConfig reads the same environment the services use
func loadConfig() (*config.Config, error) {
	if flagEnvFile != "" {
		if err := godotenv.Load(flagEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", flagEnvFile, err)
		}
	}
	return config.Load()
}
