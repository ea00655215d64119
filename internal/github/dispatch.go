package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v68/github"
)

// workflowPreference orders candidate workflow filenames for re-dispatch.
var workflowPreference = []string{"cco.yml", "orchestrator.yml"}

// FindWorkflowFile auto-detects the orchestrator's workflow filename from
// the repository's workflow list: exact preferred names first, then the
// first workflow whose name or path mentions cco or orchestrator.
func (c *Client) FindWorkflowFile(ctx context.Context) (string, error) {
	var flows []*gh.Workflow
	err := c.withRetry(ctx, "list workflows", func() error {
		flows = flows[:0]
		opts := &gh.ListOptions{PerPage: 100}
		for {
			page, resp, err := c.gh.Actions.ListWorkflows(ctx, c.owner, c.repo, opts)
			if err != nil {
				return err
			}
			flows = append(flows, page.Workflows...)
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return "", fmt.Errorf("list workflows: %w", err)
	}

	fileOf := func(w *gh.Workflow) string {
		path := w.GetPath()
		if i := strings.LastIndex(path, "/"); i >= 0 {
			return path[i+1:]
		}
		return path
	}

	for _, preferred := range workflowPreference {
		for _, w := range flows {
			if fileOf(w) == preferred {
				return preferred, nil
			}
		}
	}

	for _, w := range flows {
		lower := strings.ToLower(w.GetName() + " " + w.GetPath())
		if strings.Contains(lower, "cco") || strings.Contains(lower, "orchestrator") {
			return fileOf(w), nil
		}
	}

	return "", fmt.Errorf("no orchestrator workflow found among %d workflows", len(flows))
}

// DispatchWorkflow re-dispatches the orchestrator workflow on ref with the
// given inputs. 400/404/422 are not retried: a malformed dispatch will not
// get better.
func (c *Client) DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]any) error {
	err := c.withRetry(ctx, "dispatch workflow", func() error {
		_, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.owner, c.repo, workflowFile,
			gh.CreateWorkflowDispatchEventRequest{
				Ref:    ref,
				Inputs: inputs,
			})
		return err
	})
	if err != nil {
		return fmt.Errorf("dispatch %s on %s: %w", workflowFile, ref, err)
	}
	return nil
}
