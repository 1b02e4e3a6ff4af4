// Package poller is a status-polling client for the jobs API.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clip-worker/entities"
	"clip-worker/pipeline"

	"github.com/rs/zerolog"
)

const (
	DefaultActive = 3 * time.Second
	DefaultIdle   = 10 * time.Second
)

// Policy picks how often to poll: Active while any job is still moving, Idle
// otherwise.
type Policy struct {
	Active time.Duration
	Idle   time.Duration
}

func (p Policy) Interval(jobs []*entities.Job) time.Duration {
	active, idle := p.Active, p.Idle
	if active <= 0 {
		active = DefaultActive
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	if anyActive(jobs) {
		return active
	}
	return idle
}

func anyActive(jobs []*entities.Job) bool {
	for _, j := range jobs {
		if j != nil && !j.Status.Terminal() {
			return true
		}
	}
	return false
}

// Lister returns the current job list.
type Lister interface {
	List(ctx context.Context) ([]*entities.Job, error)
}

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) List(ctx context.Context) ([]*entities.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list jobs: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var jobs []*entities.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

// Line renders one job as "[step/total] STATUS progress%".
func Line(job *entities.Job) string {
	total := pipeline.StepCount(job.Kind) - 1
	step, ok := pipeline.StepIndex(job.Kind, job.Status)
	prefix := fmt.Sprintf("%s %s", job.ID, job.Kind)
	if !ok {
		msg := ""
		if job.ErrorMessage != nil {
			msg = " " + *job.ErrorMessage
		}
		return fmt.Sprintf("%s [-/%d] %s%s", prefix, total, job.Status, msg)
	}
	return fmt.Sprintf("%s [%d/%d] %s %d%%", prefix, step, total, job.Status, job.Progress)
}

// Watch polls lister with policy and writes a line to w whenever a job's
// rendering changes. It returns when ctx ends, or once every job is terminal
// if untilIdle is set.
func Watch(ctx context.Context, lister Lister, policy Policy, w io.Writer, untilIdle bool) error {
	logger := zerolog.Ctx(ctx)
	seen := make(map[string]string)

	for {
		jobs, err := lister.List(ctx)
		wait := policy.Interval(jobs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn().Err(err).Msg("poll failed")
			wait = policy.Interval(nil)
		} else {
			for _, job := range jobs {
				line := Line(job)
				id := job.ID.String()
				if seen[id] == line {
					continue
				}
				seen[id] = line
				if _, err := fmt.Fprintln(w, line); err != nil {
					return err
				}
			}
			if untilIdle && !anyActive(jobs) {
				return nil
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
