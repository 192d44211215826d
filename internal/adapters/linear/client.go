package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/config"
	"github.com/Latermedia/linearbot-sub003/internal/domain"
	"github.com/rs/zerolog"
)

// FatalError marks a remote failure that retrying cannot fix (auth rejected,
// malformed query, any non-rate-limit 4xx). It aborts the current phase.
type FatalError struct {
	Status  int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("linear api fatal: status=%d %s", e.Status, e.Message)
}

// IsFatal reports whether err is non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Client is a rate-limit-aware GraphQL client for the Linear API. Transient
// failures (timeouts, 429, 5xx, RATELIMITED) are retried in place with
// exponential backoff; the caller's cursor never advances on failure, so every
// page is delivered at least once and none is silently skipped.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      zerolog.Logger

	backoffInitial time.Duration
	backoffMult    float64
	backoffMax     time.Duration
	maxRetries     int

	mu       sync.Mutex
	phase    string
	counts   map[string]int
	failures int // consecutive transient failures, process-local
}

func New(cfg config.Config, log zerolog.Logger) *Client {
	return &Client{
		endpoint:       cfg.LinearEndpoint,
		apiKey:         cfg.LinearAPIKey,
		http:           &http.Client{Timeout: cfg.HTTPTimeout},
		log:            log,
		backoffInitial: cfg.BackoffInitial,
		backoffMult:    cfg.BackoffMultiplier,
		backoffMax:     cfg.BackoffMax,
		maxRetries:     cfg.MaxRetries,
		counts:         map[string]int{},
	}
}

// SetPhase tags subsequent query counts with the given sync phase name.
func (c *Client) SetPhase(name string) {
	c.mu.Lock()
	c.phase = name
	c.mu.Unlock()
}

// QueryCounts returns a copy of the per-phase query counters.
func (c *Client) QueryCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Failures returns the current consecutive transient-failure count.
func (c *Client) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *Client) countQuery() {
	c.mu.Lock()
	phase := c.phase
	if phase == "" {
		phase = "unphased"
	}
	c.counts[phase]++
	c.mu.Unlock()
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// do runs one GraphQL operation, retrying transient failures in place. Every
// HTTP request issued increments the phase-tagged query counter.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	if c.endpoint == "" {
		return &FatalError{Message: "empty endpoint"}
	}
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return err
	}
	for {
		c.countQuery()
		err := c.attempt(ctx, body, out)
		if err == nil {
			c.mu.Lock()
			c.failures = 0
			c.mu.Unlock()
			return nil
		}
		if IsFatal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		c.mu.Lock()
		c.failures++
		n := c.failures
		c.mu.Unlock()
		if n > c.maxRetries {
			return fmt.Errorf("linear api: retries exhausted: %w", err)
		}
		delay := c.delay(n)
		c.log.Warn().Err(err).Int("attempt", n).Dur("backoff", delay).Msg("linear: transient error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) delay(failures int) time.Duration {
	d := c.backoffInitial
	for i := 1; i < failures; i++ {
		d = time.Duration(float64(d) * c.backoffMult)
		if d >= c.backoffMax {
			return c.backoffMax
		}
	}
	if d > c.backoffMax {
		return c.backoffMax
	}
	return d
}

func (c *Client) attempt(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err // network/timeout: transient
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(b))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("linear api status=%d body=%s", resp.StatusCode, msg)
		}
		return &FatalError{Status: resp.StatusCode, Message: msg}
	}
	var gr gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return err
	}
	if len(gr.Errors) > 0 {
		if isRateLimited(gr.Errors) {
			return fmt.Errorf("linear api rate limited: %s", gr.Errors[0].Message)
		}
		return &FatalError{Status: resp.StatusCode, Message: gr.Errors[0].Message}
	}
	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return &FatalError{Message: fmt.Sprintf("bad response shape: %v", err)}
		}
	}
	return nil
}

func isRateLimited(errs []gqlError) bool {
	for _, e := range errs {
		if e.Extensions.Code == "RATELIMITED" || strings.Contains(strings.ToLower(e.Message), "rate limit") {
			return true
		}
	}
	return false
}

func issueFilter(teamKeys []string, stateTypes []string, updatedSince *time.Time) map[string]any {
	filter := map[string]any{}
	if len(teamKeys) > 0 {
		filter["team"] = map[string]any{"key": map[string]any{"in": teamKeys}}
	}
	if len(stateTypes) > 0 {
		filter["state"] = map[string]any{"type": map[string]any{"in": stateTypes}}
	}
	if updatedSince != nil {
		filter["updatedAt"] = map[string]any{"gt": updatedSince.UTC().Format(time.RFC3339)}
	}
	return filter
}

// Issues fetches one page of issues filtered by team scope and workflow-state
// types. Pass the previous page's EndCursor as after ("" for the first page).
func (c *Client) Issues(ctx context.Context, after string, pageSize int, teamKeys, stateTypes []string) (IssuePage, error) {
	return c.issuesPage(ctx, after, pageSize, issueFilter(teamKeys, stateTypes, nil))
}

// UpdatedIssues fetches one page of issues updated after since.
func (c *Client) UpdatedIssues(ctx context.Context, after string, pageSize int, teamKeys []string, since time.Time) (IssuePage, error) {
	return c.issuesPage(ctx, after, pageSize, issueFilter(teamKeys, nil, &since))
}

func (c *Client) issuesPage(ctx context.Context, after string, pageSize int, filter map[string]any) (IssuePage, error) {
	vars := map[string]any{"first": pageSize, "filter": filter}
	if after != "" {
		vars["after"] = after
	}
	var out struct {
		Issues struct {
			Nodes    []issueNode `json:"nodes"`
			PageInfo PageInfo    `json:"pageInfo"`
		} `json:"issues"`
	}
	if err := c.do(ctx, queryIssues, vars, &out); err != nil {
		return IssuePage{}, err
	}
	page := IssuePage{PageInfo: out.Issues.PageInfo}
	for _, n := range out.Issues.Nodes {
		page.Issues = append(page.Issues, n.toDomain())
	}
	return page, nil
}

// Project fetches a single project with its update history.
func (c *Client) Project(ctx context.Context, id string) (domain.Project, error) {
	var out struct {
		Project *projectNode `json:"project"`
	}
	if err := c.do(ctx, queryProject, map[string]any{"id": id}, &out); err != nil {
		return domain.Project{}, err
	}
	if out.Project == nil {
		return domain.Project{}, &FatalError{Status: 404, Message: "project not found: " + id}
	}
	return out.Project.toDomain(), nil
}

// Projects fetches one page of projects in the given lifecycle states.
func (c *Client) Projects(ctx context.Context, after string, pageSize int, states []string) (ProjectPage, error) {
	filter := map[string]any{}
	if len(states) > 0 {
		filter["state"] = map[string]any{"in": states}
	}
	vars := map[string]any{"first": pageSize, "filter": filter}
	if after != "" {
		vars["after"] = after
	}
	var out struct {
		Projects struct {
			Nodes    []projectNode `json:"nodes"`
			PageInfo PageInfo      `json:"pageInfo"`
		} `json:"projects"`
	}
	if err := c.do(ctx, queryProjects, vars, &out); err != nil {
		return ProjectPage{}, err
	}
	page := ProjectPage{PageInfo: out.Projects.PageInfo}
	for _, n := range out.Projects.Nodes {
		page.Projects = append(page.Projects, n.toDomain())
	}
	return page, nil
}

// ProjectIssues fetches one page of a project's issue connection.
func (c *Client) ProjectIssues(ctx context.Context, projectID, after string, pageSize int) (IssuePage, error) {
	vars := map[string]any{"id": projectID, "first": pageSize}
	if after != "" {
		vars["after"] = after
	}
	var out struct {
		Project *struct {
			Issues struct {
				Nodes    []issueNode `json:"nodes"`
				PageInfo PageInfo    `json:"pageInfo"`
			} `json:"issues"`
		} `json:"project"`
	}
	if err := c.do(ctx, queryProjectIssues, vars, &out); err != nil {
		return IssuePage{}, err
	}
	if out.Project == nil {
		return IssuePage{}, &FatalError{Status: 404, Message: "project not found: " + projectID}
	}
	page := IssuePage{PageInfo: out.Project.Issues.PageInfo}
	for _, n := range out.Project.Issues.Nodes {
		page.Issues = append(page.Issues, n.toDomain())
	}
	return page, nil
}

// Initiatives fetches one page of initiatives with their member project IDs.
func (c *Client) Initiatives(ctx context.Context, after string, pageSize int) (InitiativePage, error) {
	vars := map[string]any{"first": pageSize}
	if after != "" {
		vars["after"] = after
	}
	var out struct {
		Initiatives struct {
			Nodes    []initiativeNode `json:"nodes"`
			PageInfo PageInfo         `json:"pageInfo"`
		} `json:"initiatives"`
	}
	if err := c.do(ctx, queryInitiatives, vars, &out); err != nil {
		return InitiativePage{}, err
	}
	page := InitiativePage{PageInfo: out.Initiatives.PageInfo}
	for _, n := range out.Initiatives.Nodes {
		page.Initiatives = append(page.Initiatives, n.toDomain())
	}
	return page, nil
}
