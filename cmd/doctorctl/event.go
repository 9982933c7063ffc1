package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/NikhilSetiya/pipeline-doctor/internal/classifier"
	"github.com/NikhilSetiya/pipeline-doctor/internal/events"
	"github.com/NikhilSetiya/pipeline-doctor/internal/incident"
	"github.com/NikhilSetiya/pipeline-doctor/internal/orchestration/github"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// replayResult is what the controller would do with an event
type replayResult struct {
	EventID    string               `json:"event_id"`
	Ignored    bool                 `json:"ignored,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Identity   string               `json:"identity,omitempty"`
	Action     types.Action         `json:"action,omitempty"`
	RetryCount int                  `json:"retry_count"`
	Status     types.IncidentStatus `json:"status,omitempty"`
	Escalate   bool                 `json:"escalate,omitempty"`
}

type replayOptions struct {
	describe   bool
	useStore   bool
	maxRetries int
}

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Work with failure event envelopes",
	}

	var opts replayOptions
	replay := &cobra.Command{
		Use:   "replay <file>",
		Short: "Show the identity and action an event envelope would get",
		Long: `Normalizes the envelope in file ("-" for stdin) and prints the incident
identity and action it would get. Nothing is re-triggered, notified or written.

--describe fetches build diagnostics from GitHub like the live path does.
--store reads the current incident record so budget exhaustion is predicted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			result, err := events.Parse(payload)
			if err != nil {
				return err
			}

			r := &replayer{maxRetries: opts.maxRetries}
			if opts.describe || opts.useStore {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("max-retries") {
					r.maxRetries = cfg.Doctor.MaxRetries
				}
				if opts.describe {
					gh, err := github.NewClient(cmd.Context(), cfg.GitHub)
					if err != nil {
						return err
					}
					r.describer = gh
				}
				if opts.useStore {
					backend, err := incident.Open(cfg)
					if err != nil {
						return err
					}
					defer backend.Close()
					r.store = backend.Store
				}
			}

			out, err := r.replay(cmd.Context(), result)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	replay.Flags().BoolVar(&opts.describe, "describe", false, "Fetch build diagnostics from GitHub")
	replay.Flags().BoolVar(&opts.useStore, "store", false, "Consult the configured incident store")
	replay.Flags().IntVar(&opts.maxRetries, "max-retries", 2, "Retry budget (defaults to DOCTOR_MAX_RETRIES with --store or --describe)")

	cmd.AddCommand(replay)
	return cmd
}

type describer interface {
	Describe(ctx context.Context, buildID string) (*types.BuildInfo, error)
}

type replayer struct {
	maxRetries int
	describer  describer
	store      incident.Store
}

func (r *replayer) replay(ctx context.Context, result *events.Result) (*replayResult, error) {
	out := &replayResult{EventID: result.Envelope.ID}
	if result.Ignored() {
		out.Ignored = true
		out.Reason = result.Reason
		return out, nil
	}

	event := *result.Event
	out.Identity = event.Identity()

	current := types.NewIncident(out.Identity)
	if r.store != nil {
		inc, err := r.store.Get(ctx, out.Identity)
		switch {
		case err == nil:
			current = inc
		case !incident.IsNotFound(err):
			return nil, err
		}
	}

	if current.RetryCount >= r.maxRetries {
		out.Action = types.ActionGaveUp
		out.RetryCount = current.RetryCount
		out.Status = types.IncidentStatusUnhealed
		out.Escalate = true
		return out, nil
	}

	if event.SourceKind == types.SourceKindBuild && r.describer != nil {
		info, err := r.describer.Describe(ctx, event.BuildID)
		if err != nil {
			return nil, err
		}
		event.RawDetail = info.DiagnosticBlob
	}

	out.Action = classifier.New().Classify(event)
	out.RetryCount = current.RetryCount + 1
	out.Status = types.IncidentStatusRetrying
	return out, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
