package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/NikhilSetiya/pipeline-doctor/internal/classifier"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

func newClassifyCmd() *cobra.Command {
	var stage bool

	cmd := &cobra.Command{
		Use:   "classify [file]",
		Short: "Print the remediation action for a diagnostic blob",
		Long: `Reads build diagnostics from file, or from stdin when no file or "-" is
given, and prints the action the classifier picks for them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			event := types.FailureEvent{SourceKind: types.SourceKindBuild, RawDetail: string(blob)}
			if stage {
				event.SourceKind = types.SourceKindPipelineStage
			}
			fmt.Fprintln(cmd.OutOrStdout(), classifier.New().Classify(event))
			return nil
		},
	}
	cmd.Flags().BoolVar(&stage, "stage", false, "Classify as a pipeline stage failure")
	return cmd
}

func readInput(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return data, nil
}
