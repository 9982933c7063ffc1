package github

import (
	"fmt"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v56/github"

	"github.com/NikhilSetiya/pipeline-doctor/pkg/errors"
)

type buildRef struct {
	owner string
	repo  string
	runID int64
}

type projectRef struct {
	owner      string
	repo       string
	workflowID int64
	ref        string
}

// BuildID formats the build id of a workflow run
func BuildID(owner, repo string, runID int64) string {
	return fmt.Sprintf("%s/%s/%d", owner, repo, runID)
}

// ProjectName formats the project name of a workflow at a ref
func ProjectName(owner, repo string, workflowID int64, ref string) string {
	return fmt.Sprintf("%s/%s/%d@%s", owner, repo, workflowID, ref)
}

func parseBuildID(id string) (buildRef, error) {
	parts := strings.Split(id, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return buildRef{}, errors.NewValidationError(fmt.Sprintf("build id %q is not owner/repo/run", id))
	}
	runID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return buildRef{}, errors.NewValidationError(fmt.Sprintf("build id %q has no numeric run id", id)).WithCause(err)
	}
	return buildRef{owner: parts[0], repo: parts[1], runID: runID}, nil
}

func parseProjectName(name string) (projectRef, error) {
	at := strings.Index(name, "@")
	if at <= 0 || at == len(name)-1 {
		return projectRef{}, errors.NewValidationError(fmt.Sprintf("project %q is not owner/repo/workflow@ref", name))
	}

	parts := strings.Split(name[:at], "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return projectRef{}, errors.NewValidationError(fmt.Sprintf("project %q is not owner/repo/workflow@ref", name))
	}
	workflowID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return projectRef{}, errors.NewValidationError(fmt.Sprintf("project %q has no numeric workflow id", name)).WithCause(err)
	}

	return projectRef{owner: parts[0], repo: parts[1], workflowID: workflowID, ref: name[at+1:]}, nil
}

func splitRepo(name string) (string, string, error) {
	owner, repo, ok := strings.Cut(name, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", errors.NewValidationError(fmt.Sprintf("pipeline %q is not owner/repo", name))
	}
	return owner, repo, nil
}

// diagnostics is the JSON rendered into BuildInfo.DiagnosticBlob
type diagnostics struct {
	RunID      int64            `json:"run_id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Conclusion string           `json:"conclusion"`
	Attempt    int              `json:"attempt"`
	Jobs       []jobDiagnostics `json:"jobs"`
}

type jobDiagnostics struct {
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	Conclusion  string   `json:"conclusion"`
	FailedSteps []string `json:"failed_steps,omitempty"`
}

func newDiagnostics(run *gogithub.WorkflowRun, jobs []*gogithub.WorkflowJob) diagnostics {
	d := diagnostics{
		RunID:      run.GetID(),
		Name:       run.GetName(),
		Status:     strings.ToUpper(run.GetStatus()),
		Conclusion: strings.ToUpper(run.GetConclusion()),
		Attempt:    run.GetRunAttempt(),
		Jobs:       make([]jobDiagnostics, 0, len(jobs)),
	}

	for _, job := range jobs {
		jd := jobDiagnostics{
			Name:       job.GetName(),
			Status:     strings.ToUpper(job.GetStatus()),
			Conclusion: strings.ToUpper(job.GetConclusion()),
		}
		for _, step := range job.Steps {
			if isFailedConclusion(step.GetConclusion()) {
				jd.FailedSteps = append(jd.FailedSteps, step.GetName())
			}
		}
		d.Jobs = append(d.Jobs, jd)
	}

	return d
}
