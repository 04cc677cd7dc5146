package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"annexbot/internal/domain"
	"annexbot/internal/infra"
)

// Gateway is the provider side of a generation job.
type Gateway interface {
	// UploadInput mirrors a source file to provider-reachable storage
	// and returns its URL.
	UploadInput(ctx context.Context, sourceURL, fileName string) (string, error)
	// CreateTask submits the job and returns the provider task id.
	CreateTask(ctx context.Context, job domain.Job, inputURLs []string) (string, error)
	// PollTask fetches the task's current state.
	PollTask(ctx context.Context, taskID string) (domain.TaskStatus, error)
}

// ErrPollTimeout marks a task that outlived the poll budget. The task may
// still finish on the provider side; we stop watching it.
var ErrPollTimeout = errors.New("task polling budget exhausted")

// TaskFailedError carries the provider's failure reason for a terminal
// failed task.
type TaskFailedError struct {
	Reason string
}

func (e *TaskFailedError) Error() string {
	if e.Reason == "" {
		return "task failed"
	}
	return "task failed: " + e.Reason
}

// Poller watches a submitted task until it reaches a terminal state or the
// attempt budget runs out.
type Poller struct {
	gateway  Gateway
	interval time.Duration
	budget   int
	log      infra.Logger
}

func NewPoller(gateway Gateway, interval time.Duration, budget int, log infra.Logger) *Poller {
	return &Poller{gateway: gateway, interval: interval, budget: budget, log: log}
}

// Run blocks until the task succeeds, fails, or exhausts the budget. On
// success it returns the result asset URLs. A terminal success with no
// extractable URLs is reported as domain.ErrEmptyResult. A transport error
// from a poll attempt is terminal for the job.
func (p *Poller) Run(ctx context.Context, taskID string) ([]string, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < p.budget; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := p.gateway.PollTask(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("poll task %s: %w", taskID, err)
		}

		switch classifyState(status.State) {
		case stateSuccess:
			urls := extractResultURLs(status.ResultJSON)
			if len(urls) == 0 {
				p.log.Warn().Str("task_id", taskID).Str("result", status.ResultJSON).
					Msg("task succeeded with no result urls")
				return nil, domain.ErrEmptyResult
			}
			return urls, nil
		case stateFailed:
			return nil, &TaskFailedError{Reason: status.FailReason}
		case statePending:
			p.log.Debug().Str("task_id", taskID).Str("state", status.State).
				Int("attempt", attempt+1).Msg("task still running")
		}
	}
	return nil, ErrPollTimeout
}

type taskState int

const (
	statePending taskState = iota
	stateSuccess
	stateFailed
)

// classifyState folds the provider's state vocabulary into three classes,
// ignoring case. Anything unrecognized counts as still-running.
func classifyState(s string) taskState {
	switch strings.ToLower(s) {
	case "success", "succeeded", "completed":
		return stateSuccess
	case "failed", "fail", "error", "canceled", "cancelled":
		return stateFailed
	default:
		return statePending
	}
}

// extractResultURLs pulls asset URLs out of the task result document. The
// shapes are tried in order: the primary array field, two alternates, then
// a single-URL object. Array members may be plain strings or objects with
// a url field.
func extractResultURLs(resultJSON string) []string {
	if resultJSON == "" {
		return nil
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resultJSON), &doc); err != nil {
		return nil
	}

	for _, key := range []string{"resultUrls", "result_urls", "urls"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if urls := decodeURLArray(raw); len(urls) > 0 {
			return urls
		}
	}

	if raw, ok := doc["url"]; ok {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil && single != "" {
			return []string{single}
		}
	}
	return nil
}

func decodeURLArray(raw json.RawMessage) []string {
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		var urls []string
		for _, u := range plain {
			if u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	}

	var wrapped []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		var urls []string
		for _, w := range wrapped {
			if w.URL != "" {
				urls = append(urls, w.URL)
			}
		}
		return urls
	}
	return nil
}
