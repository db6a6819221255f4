// Package scopelinesdk is a minimal typed client for the Scopeline HTTP API.
package scopelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Scopeline server. Zero value plus BaseURL works;
// set BearerToken for authenticated deployments.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job represents the API job model (partial).
type Job struct {
	ID         string `json:"id"`
	ClientName string `json:"client_name"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	HighRisk   bool   `json:"high_risk"`
	UpdatedAt  string `json:"updated_at"`
}

// Phase represents the API phase model (partial).
type Phase struct {
	ID          string `json:"id"`
	JobID       string `json:"job_id"`
	Seq         int    `json:"seq"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	ReportCount int    `json:"report_count"`
}

// TimeSlot represents one allocation.
type TimeSlot struct {
	ID        string  `json:"id"`
	PhaseID   *string `json:"phase_id,omitempty"`
	PersonID  string  `json:"person_id"`
	Role      string  `json:"role"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Confirmed bool    `json:"confirmed"`
}

// Message is one guard message attached to a transition outcome.
type Message struct {
	Severity string `json:"severity"`
	Text     string `json:"text"`
}

// Transition is the outcome of a transition request. Allowed false means
// the guard refused; Messages explain why.
type Transition struct {
	Allowed  bool      `json:"allowed"`
	Messages []Message `json:"messages,omitempty"`
	Job      *Job      `json:"job,omitempty"`
	Phase    *Phase    `json:"phase,omitempty"`
}

// TargetOption is one reachable status with its guard outcome.
type TargetOption struct {
	Target   string    `json:"target"`
	Allowed  bool      `json:"allowed"`
	Messages []Message `json:"messages,omitempty"`
}

// Dates are the resolved effective dates, formatted YYYY-MM-DD.
type Dates struct {
	Start    *string         `json:"start,omitempty"`
	Delivery *string         `json:"delivery,omitempty"`
	TQADue   *string         `json:"tqa_due,omitempty"`
	PQADue   *string         `json:"pqa_due,omitempty"`
	Flags    map[string]bool `json:"flags,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	JobID      string `json:"job_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// SweepStats summarizes one reconciliation sweep.
type SweepStats struct {
	Examined  int `json:"examined"`
	PreChecks int `json:"pre_checks"`
	Begun     int `json:"begun"`
	Completed int `json:"completed"`
	Errors    int `json:"errors"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps event listings with the cursor for the next page.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"next_cursor"`
}

// CreateJob creates a job in draft.
func (c *Client) CreateJob(ctx context.Context, clientName, title string) (Job, error) {
	body := map[string]any{
		"client_name": clientName,
		"title":       title,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, "v0/jobs", body, &resp)
	return resp, err
}

// GetJob fetches a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "v0/jobs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListJobs lists jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, statuses ...string) ([]Job, error) {
	endpoint := "v0/jobs"
	if len(statuses) > 0 {
		q := url.Values{}
		for _, s := range statuses {
			q.Add("status", s)
		}
		endpoint += "?" + q.Encode()
	}
	var resp []Job
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TransitionJob asks the server to move a job to target.
func (c *Client) TransitionJob(ctx context.Context, id, target string) (Transition, error) {
	var resp Transition
	endpoint := fmt.Sprintf("v0/jobs/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"target": target}, &resp)
	return resp, err
}

// CanTransitionJob checks a job transition without applying it.
func (c *Client) CanTransitionJob(ctx context.Context, id, target string) (Transition, error) {
	var resp Transition
	endpoint := fmt.Sprintf("v0/jobs/%s/can-transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"target": target}, &resp)
	return resp, err
}

// JobTargets lists the statuses a job can reach with guard outcomes.
func (c *Client) JobTargets(ctx context.Context, id string) ([]TargetOption, error) {
	var resp []TargetOption
	endpoint := fmt.Sprintf("v0/jobs/%s/targets", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// JobDates fetches a job's effective dates.
func (c *Client) JobDates(ctx context.Context, id string) (Dates, error) {
	var resp Dates
	endpoint := fmt.Sprintf("v0/jobs/%s/dates", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreatePhase creates a phase under a job.
func (c *Client) CreatePhase(ctx context.Context, jobID, title string, reportCount int) (Phase, error) {
	body := map[string]any{
		"title":        title,
		"report_count": reportCount,
	}
	var resp Phase
	endpoint := fmt.Sprintf("v0/jobs/%s/phases", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetPhase fetches a phase by id.
func (c *Client) GetPhase(ctx context.Context, id string) (Phase, error) {
	var resp Phase
	err := c.do(ctx, http.MethodGet, "v0/phases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListPhases lists a job's phases.
func (c *Client) ListPhases(ctx context.Context, jobID string) ([]Phase, error) {
	var resp []Phase
	endpoint := fmt.Sprintf("v0/jobs/%s/phases", url.PathEscape(jobID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TransitionPhase asks the server to move a phase to target.
func (c *Client) TransitionPhase(ctx context.Context, id, target string) (Transition, error) {
	var resp Transition
	endpoint := fmt.Sprintf("v0/phases/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"target": target}, &resp)
	return resp, err
}

// CanTransitionPhase checks a phase transition without applying it.
func (c *Client) CanTransitionPhase(ctx context.Context, id, target string) (Transition, error) {
	var resp Transition
	endpoint := fmt.Sprintf("v0/phases/%s/can-transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"target": target}, &resp)
	return resp, err
}

// PhaseTargets lists the statuses a phase can reach with guard outcomes.
func (c *Client) PhaseTargets(ctx context.Context, id string) ([]TargetOption, error) {
	var resp []TargetOption
	endpoint := fmt.Sprintf("v0/phases/%s/targets", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PhaseDates fetches a phase's effective dates and lateness flags.
func (c *Client) PhaseDates(ctx context.Context, id string) (Dates, error) {
	var resp Dates
	endpoint := fmt.Sprintf("v0/phases/%s/dates", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddSlot allocates a person against a phase. Pass an empty phaseID for
// unbound time.
func (c *Client) AddSlot(ctx context.Context, phaseID, personID, role, start, end string) (TimeSlot, error) {
	body := map[string]any{
		"person_id": personID,
		"role":      role,
		"start":     start,
		"end":       end,
	}
	if phaseID != "" {
		body["phase_id"] = phaseID
	}
	var resp TimeSlot
	err := c.do(ctx, http.MethodPost, "v0/slots", body, &resp)
	return resp, err
}

// DeleteSlot removes an allocation.
func (c *Client) DeleteSlot(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/slots/"+url.PathEscape(id), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, jobID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, jobID, limit, 0)
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, jobID string, limit int, cursor int64) (PaginatedEvents, error) {
	q := url.Values{}
	if jobID != "" {
		q.Set("job_id", jobID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	endpoint := "v0/events"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Sweep runs one reconciliation pass on the server.
func (c *Client) Sweep(ctx context.Context) (SweepStats, error) {
	var resp SweepStats
	err := c.do(ctx, http.MethodPost, "v0/sweep", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
