// Package github implements the build and pipeline orchestration APIs on top of
// GitHub Actions.
//
// A build is a workflow run, identified as "owner/repo/<runID>". A project is a
// workflow at a ref, named "owner/repo/<workflowID>@<ref>". A pipeline is a
// repository ("owner/repo"), an execution is a run id and a stage is a job name.
//
// Re-triggered workflows receive the retry token as a workflow_dispatch input,
// "doctor_retry_token" unless configured otherwise. GitHub answers 422 for
// inputs a workflow does not declare, so dispatched workflows must declare it:
//
//	on:
//	  workflow_dispatch:
//	    inputs:
//	      doctor_retry_token:
//	        required: false
//
// Setting the input name to "-" sends no token.
package github

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v56/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/NikhilSetiya/pipeline-doctor/internal/remediation"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/config"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/health"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/logging"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/resilience"
	"github.com/NikhilSetiya/pipeline-doctor/pkg/types"
)

// TimeoutVariable is the repository Actions variable workflows read their timeout from
const TimeoutVariable = "BUILD_TIMEOUT_MINUTES"

// DefaultTokenInput is the workflow input carrying the retry token
const DefaultTokenInput = "doctor_retry_token"

// NoTokenInput disables sending the retry token
const NoTokenInput = "-"

const serviceName = "github"

var (
	_ remediation.BuildAPI    = (*Client)(nil)
	_ remediation.PipelineAPI = (*Client)(nil)
)

// Client talks to the GitHub Actions API
type Client struct {
	gh         *gogithub.Client
	breaker    *resilience.CircuitBreaker
	logger     *logging.Logger
	tokenInput string
}

// Option configures a Client
type Option func(*Client)

// WithCircuitBreaker replaces the default circuit breaker
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithTokenInput names the workflow input the retry token is sent as
func WithTokenInput(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.tokenInput = name
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client authenticated with cfg.Token. A BaseURL selects a
// GitHub Enterprise Server.
func NewClient(ctx context.Context, cfg config.GitHubConfig, opts ...Option) (*Client, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	gh := gogithub.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, errors.NewValidationError("invalid GitHub base URL").WithCause(err)
		}
	}

	return NewFromClient(gh, append([]Option{WithTokenInput(cfg.TokenInput)}, opts...)...), nil
}

// NewFromClient wraps an existing go-github client
func NewFromClient(gh *gogithub.Client, opts ...Option) *Client {
	c := &Client{
		gh:         gh,
		logger:     logging.GetLogger(),
		tokenInput: DefaultTokenInput,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: serviceName,
			OnStateChange: func(name string, from, to resilience.CircuitState) {
				c.logger.Warn("GitHub circuit breaker changed state",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// HealthChecker reports the API as degraded while the circuit breaker is not closed
func (c *Client) HealthChecker() health.Checker {
	return health.NewCustomChecker(serviceName, func(_ context.Context) (health.Status, string, error) {
		state := c.breaker.State()
		if state == resilience.StateClosed {
			return health.StatusHealthy, "circuit closed", nil
		}
		return health.StatusDegraded, fmt.Sprintf("circuit %s", state), nil
	}).WithMetadata(map[string]string{"breaker": c.breaker.Name()})
}

// Describe implements remediation.BuildAPI. The diagnostic blob is the run and
// its latest jobs as JSON, statuses upper-cased.
func (c *Client) Describe(ctx context.Context, buildID string) (*types.BuildInfo, error) {
	ref, err := parseBuildID(buildID)
	if err != nil {
		return nil, err
	}

	var run *gogithub.WorkflowRun
	var jobs []*gogithub.WorkflowJob
	err = c.call(ctx, "describe", func(ctx context.Context) error {
		var err error
		run, _, err = c.gh.Actions.GetWorkflowRunByID(ctx, ref.owner, ref.repo, ref.runID)
		if err != nil {
			return err
		}
		jobs, err = c.latestJobs(ctx, ref.owner, ref.repo, ref.runID)
		return err
	})
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(newDiagnostics(run, jobs))
	if err != nil {
		return nil, errors.NewInternalError("failed to encode run diagnostics").WithCause(err)
	}

	return &types.BuildInfo{
		BuildID:        buildID,
		ProjectName:    ProjectName(ref.owner, ref.repo, run.GetWorkflowID(), run.GetHeadBranch()),
		DiagnosticBlob: string(blob),
	}, nil
}

// UpdateTimeout implements remediation.BuildAPI by setting the repository's
// timeout variable, creating it when missing
func (c *Client) UpdateTimeout(ctx context.Context, projectName string, minutes int) error {
	project, err := parseProjectName(projectName)
	if err != nil {
		return err
	}

	variable := &gogithub.ActionsVariable{
		Name:  TimeoutVariable,
		Value: strconv.Itoa(minutes),
	}

	return c.call(ctx, "update_timeout", func(ctx context.Context) error {
		resp, err := c.gh.Actions.UpdateRepoVariable(ctx, project.owner, project.repo, variable)
		if err != nil && resp != nil && resp.StatusCode == http.StatusNotFound {
			_, err = c.gh.Actions.CreateRepoVariable(ctx, project.owner, project.repo, variable)
		}
		return err
	})
}

// Start implements remediation.BuildAPI with a workflow_dispatch. The retry
// token is sent as the configured token input; other override keys become
// lower-cased workflow inputs.
func (c *Client) Start(ctx context.Context, projectName string, overrides map[string]string) error {
	project, err := parseProjectName(projectName)
	if err != nil {
		return err
	}

	inputs := make(map[string]interface{}, len(overrides))
	for k, v := range overrides {
		if k != remediation.RetryTokenKey {
			inputs[strings.ToLower(k)] = v
			continue
		}
		if c.tokenInput != NoTokenInput {
			inputs[c.tokenInput] = v
		}
	}

	return c.call(ctx, "start", func(ctx context.Context) error {
		_, err := c.gh.Actions.CreateWorkflowDispatchEventByID(ctx, project.owner, project.repo, project.workflowID,
			gogithub.CreateWorkflowDispatchEventRequest{
				Ref:    project.ref,
				Inputs: inputs,
			})
		return err
	})
}

// RetryStage implements remediation.PipelineAPI. Failed jobs named stageName are
// re-run; when none match, every failed job of the run is.
func (c *Client) RetryStage(ctx context.Context, pipelineName, executionID, stageName string, mode remediation.RetryMode) error {
	owner, repo, err := splitRepo(pipelineName)
	if err != nil {
		return err
	}
	runID, err := strconv.ParseInt(executionID, 10, 64)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("execution id %q is not a run id", executionID)).WithCause(err)
	}
	if mode != remediation.RetryModeFailedActions {
		return errors.NewValidationError(fmt.Sprintf("unsupported retry mode %s", mode))
	}

	return c.call(ctx, "retry_stage", func(ctx context.Context) error {
		jobs, err := c.latestJobs(ctx, owner, repo, runID)
		if err != nil {
			return err
		}

		rerun := 0
		for _, job := range jobs {
			if job.GetName() != stageName || !isFailedConclusion(job.GetConclusion()) {
				continue
			}
			if _, err := c.gh.Actions.RerunJobByID(ctx, owner, repo, job.GetID()); err != nil {
				return err
			}
			rerun++
		}

		if rerun == 0 {
			c.logger.WithFields(logrus.Fields{
				"pipeline": pipelineName,
				"run_id":   runID,
				"stage":    stageName,
			}).Info("No failed job matches the stage, re-running all failed jobs")
			_, err = c.gh.Actions.RerunFailedJobsByID(ctx, owner, repo, runID)
		}
		return err
	})
}

func (c *Client) latestJobs(ctx context.Context, owner, repo string, runID int64) ([]*gogithub.WorkflowJob, error) {
	opts := &gogithub.ListWorkflowJobsOptions{
		Filter:      "latest",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var all []*gogithub.WorkflowJob
	for {
		jobs, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, jobs.Jobs...)
		if resp == nil || resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// call runs fn behind the circuit breaker and maps failures to AppErrors
func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := c.breaker.Execute(ctx, fn)
	if err == nil {
		return nil
	}

	if resilience.IsCircuitBreakerError(err) {
		return errors.NewExternalError(serviceName, "GitHub API circuit is open").
			WithDetail("operation", operation).
			WithCause(err)
	}

	var rateErr *gogithub.RateLimitError
	var abuseErr *gogithub.AbuseRateLimitError
	if stderrors.As(err, &rateErr) || stderrors.As(err, &abuseErr) {
		return errors.NewRateLimitError("GitHub API rate limit exceeded").
			WithDetail("operation", operation).
			WithCause(err)
	}

	return errors.NewExternalError(serviceName, fmt.Sprintf("GitHub %s failed", operation)).
		WithDetail("operation", operation).
		WithCause(err)
}

func isFailedConclusion(conclusion string) bool {
	switch conclusion {
	case "failure", "timed_out", "cancelled":
		return true
	}
	return false
}
