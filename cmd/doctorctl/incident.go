package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
)

func newIncidentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "incident",
		Short: "Read incident records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "get <identity>",
		Short:   "Print the stored record for an incident identity",
		Example: "  doctorctl incident get build:octo/app/4242",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			backend, err := incident.Open(cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			inc, err := backend.Store.Get(cmd.Context(), args[0])
			if err != nil {
				if incident.IsNotFound(err) {
					return fmt.Errorf("no incident recorded for %s in the %s store", args[0], backend.Name)
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), inc)
		},
	})
	return cmd
}
