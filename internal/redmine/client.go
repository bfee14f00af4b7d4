// Package redmine is a client for the Redmine REST API.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"

	"github.com/steveyegge/redmine-drafts/internal/debug"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultPerPage = 100
	// MaxRetryElapsed bounds how long a rate-limited or unavailable server
	// is retried before the last error is returned.
	MaxRetryElapsed = 20 * time.Second
	// EnumerationTTL is how long statuses, priorities and activities are cached.
	EnumerationTTL = 10 * time.Minute
)

// Client provides methods to interact with the Redmine REST API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	MaxElapsed time.Duration

	cache *gocache.Cache
}

var _ API = (*Client)(nil)

// NewClient creates a new Redmine client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		MaxElapsed: MaxRetryElapsed,
		cache:      gocache.New(EnumerationTTL, 2*EnumerationTTL),
	}
}

// WithHTTPClient returns a copy of the client that uses hc for requests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	clone := *c
	clone.HTTPClient = hc
	return &clone
}

// Options returns the connection options.
func (c *Client) Options() Options {
	return Options{BaseURL: c.BaseURL, APIKey: c.APIKey}
}

// Do sends a request with an optional JSON body and returns the raw
// response body.
func (c *Client) Do(ctx context.Context, method, path string, body json.RawMessage) ([]byte, error) {
	return c.request(ctx, method, path, body)
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, body json.RawMessage) ([]byte, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

// Put sends a PUT request.
func (c *Client) Put(ctx context.Context, path string, body json.RawMessage) ([]byte, error) {
	return c.request(ctx, http.MethodPut, path, body)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.request(ctx, http.MethodDelete, path, nil)
}

// send issues a prebuilt Request.
func (c *Client) send(ctx context.Context, req Request) ([]byte, error) {
	return c.request(ctx, req.Method, req.Path, req.Body)
}

func newRetryBackoff(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = maxElapsed
	return bo
}

// isRetryable decides whether a response status warrants another attempt.
// Rate limiting is always retried since the server rejected the request
// outright; gateway errors are only retried for reads.
func isRetryable(method string, status int) bool {
	switch status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return method == http.MethodGet
	}
	return false
}

// request sends an HTTP request to the Redmine API.
func (c *Client) request(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("redmine URL not configured")
	}

	var respBody []byte
	attempt := 0
	op := func() error {
		attempt++
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("X-Redmine-API-Key", c.APIKey)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			err = fmt.Errorf("request failed (attempt %d): %w", attempt, err)
			if method == http.MethodGet && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			err = fmt.Errorf("failed to read response (attempt %d): %w", attempt, err)
			// The server may already have acted on a write.
			if method == http.MethodGet && ctx.Err() == nil {
				return err
			}
			return backoff.Permanent(err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := parseAPIError(resp.StatusCode, data)
			if isRetryable(method, resp.StatusCode) {
				debug.Logf("redmine: %s %s returned %d, retrying (attempt %d)\n", method, path, resp.StatusCode, attempt)
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}

		respBody = data
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newRetryBackoff(c.MaxElapsed), ctx)); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}
	return respBody, nil
}

// getJSON fetches path and decodes the named envelope key into out.
func (c *Client) getJSON(ctx context.Context, path, envelope string, out any) error {
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	raw, ok := payload[envelope]
	if !ok {
		return fmt.Errorf("response has no %q field", envelope)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", envelope, err)
	}
	return nil
}

// requestWithPagination fetches all pages of an offset/limit endpoint and
// returns the raw items found under envelope.
func (c *Client) requestWithPagination(ctx context.Context, path, envelope string, params url.Values, limit int) ([]json.RawMessage, error) {
	var all []json.RawMessage
	offset := 0

	for {
		perPage := DefaultPerPage
		if limit > 0 && limit-len(all) < perPage {
			perPage = limit - len(all)
		}
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(perPage))

		data, err := c.request(ctx, http.MethodGet, path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page map[string]json.RawMessage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("failed to parse page: %w", err)
		}
		var items []json.RawMessage
		if raw, ok := page[envelope]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", envelope, err)
			}
		}
		var total int
		if raw, ok := page["total_count"]; ok {
			_ = json.Unmarshal(raw, &total)
		}

		all = append(all, items...)
		offset += len(items)

		if len(items) == 0 || offset >= total || (limit > 0 && len(all) >= limit) {
			break
		}
	}

	return all, nil
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to parse item: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

// CurrentUser returns the user owning the API key.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/users/current.json", "user", &user); err != nil {
		return nil, fmt.Errorf("failed to fetch current user: %w", err)
	}
	return &user, nil
}

// GetIssue retrieves a single issue with its relations.
func (c *Client) GetIssue(ctx context.Context, id int) (*Issue, error) {
	var issue Issue
	if err := c.getJSON(ctx, fmt.Sprintf("/issues/%d.json?include=relations", id), "issue", &issue); err != nil {
		return nil, fmt.Errorf("failed to fetch issue %d: %w", id, err)
	}
	return &issue, nil
}

// ListIssues retrieves issues matching filter.
func (c *Client) ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, error) {
	params := url.Values{}
	if filter.ProjectID != 0 {
		params.Set("project_id", strconv.Itoa(filter.ProjectID))
	}
	if filter.StatusID != "" {
		params.Set("status_id", filter.StatusID)
	}
	if filter.AssignedToID != "" {
		params.Set("assigned_to_id", filter.AssignedToID)
	}
	params.Set("sort", "updated_on:desc")

	raws, err := c.requestWithPagination(ctx, "/issues.json", "issues", params, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issues: %w", err)
	}
	return decodeAll[Issue](raws)
}

// ListProjects retrieves all projects visible to the user.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	raws, err := c.requestWithPagination(ctx, "/projects.json", "projects", url.Values{}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch projects: %w", err)
	}
	return decodeAll[Project](raws)
}

// ListIssueStatuses retrieves the issue statuses. Results are cached.
func (c *Client) ListIssueStatuses(ctx context.Context) ([]IssueStatus, error) {
	return cached(c, "issue_statuses", func() ([]IssueStatus, error) {
		var statuses []IssueStatus
		if err := c.getJSON(ctx, "/issue_statuses.json", "issue_statuses", &statuses); err != nil {
			return nil, fmt.Errorf("failed to fetch issue statuses: %w", err)
		}
		return statuses, nil
	})
}

// ListIssuePriorities retrieves the issue priorities. Results are cached.
func (c *Client) ListIssuePriorities(ctx context.Context) ([]Enumeration, error) {
	return cached(c, "issue_priorities", func() ([]Enumeration, error) {
		var priorities []Enumeration
		if err := c.getJSON(ctx, "/enumerations/issue_priorities.json", "issue_priorities", &priorities); err != nil {
			return nil, fmt.Errorf("failed to fetch issue priorities: %w", err)
		}
		return priorities, nil
	})
}

// ListTimeEntryActivities retrieves the time entry activities. Results are cached.
func (c *Client) ListTimeEntryActivities(ctx context.Context) ([]Enumeration, error) {
	return cached(c, "time_entry_activities", func() ([]Enumeration, error) {
		var activities []Enumeration
		if err := c.getJSON(ctx, "/enumerations/time_entry_activities.json", "time_entry_activities", &activities); err != nil {
			return nil, fmt.Errorf("failed to fetch time entry activities: %w", err)
		}
		return activities, nil
	})
}

func cached[T any](c *Client, key string, fetch func() ([]T, error)) ([]T, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if items, ok := v.([]T); ok {
				return items, nil
			}
		}
	}
	items, err := fetch()
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, items, gocache.DefaultExpiration)
	}
	return items, nil
}

// ListTimeEntries retrieves time entries matching filter.
func (c *Client) ListTimeEntries(ctx context.Context, filter TimeEntryFilter) ([]TimeEntry, error) {
	params := url.Values{}
	if filter.IssueID != 0 {
		params.Set("issue_id", strconv.Itoa(filter.IssueID))
	}
	if filter.ProjectID != 0 {
		params.Set("project_id", strconv.Itoa(filter.ProjectID))
	}
	if filter.UserID != "" {
		params.Set("user_id", filter.UserID)
	}
	if filter.From != "" {
		params.Set("from", filter.From)
	}
	if filter.To != "" {
		params.Set("to", filter.To)
	}

	raws, err := c.requestWithPagination(ctx, "/time_entries.json", "time_entries", params, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch time entries: %w", err)
	}
	return decodeAll[TimeEntry](raws)
}

// ListVersions retrieves the versions of a project.
func (c *Client) ListVersions(ctx context.Context, projectID int) ([]Version, error) {
	var versions []Version
	if err := c.getJSON(ctx, fmt.Sprintf("/projects/%d/versions.json", projectID), "versions", &versions); err != nil {
		return nil, fmt.Errorf("failed to fetch versions of project %d: %w", projectID, err)
	}
	return versions, nil
}

// ListRelations retrieves the relations of an issue.
func (c *Client) ListRelations(ctx context.Context, issueID int) ([]Relation, error) {
	var relations []Relation
	if err := c.getJSON(ctx, fmt.Sprintf("/issues/%d/relations.json", issueID), "relations", &relations); err != nil {
		return nil, fmt.Errorf("failed to fetch relations of issue %d: %w", issueID, err)
	}
	return relations, nil
}

// ListMemberships retrieves the memberships of a project.
func (c *Client) ListMemberships(ctx context.Context, projectID int) ([]Membership, error) {
	raws, err := c.requestWithPagination(ctx, fmt.Sprintf("/projects/%d/memberships.json", projectID), "memberships", url.Values{}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch memberships of project %d: %w", projectID, err)
	}
	return decodeAll[Membership](raws)
}

// CreateIssue creates a new issue.
func (c *Client) CreateIssue(ctx context.Context, issue IssueCreate) (*IssueResult, error) {
	req, err := CreateIssueRequest(issue)
	if err != nil {
		return nil, err
	}
	data, err := c.send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	var result IssueResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse created issue: %w", err)
	}
	return &result, nil
}

// UpdateIssue updates an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, id int, update IssueUpdate) error {
	return c.sendBuilt(ctx, fmt.Sprintf("update issue %d", id), func() (Request, error) {
		return UpdateIssueRequest(id, update)
	})
}

// DeleteIssue deletes an issue.
func (c *Client) DeleteIssue(ctx context.Context, id int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("delete issue %d", id), func() (Request, error) {
		return DeleteIssueRequest(id)
	})
}

// SetIssueStatus changes an issue's status.
func (c *Client) SetIssueStatus(ctx context.Context, id, statusID int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("set status of issue %d", id), func() (Request, error) {
		return SetIssueStatusRequest(id, statusID)
	})
}

// SetIssueDates changes an issue's start and due dates.
func (c *Client) SetIssueDates(ctx context.Context, id int, dates DateRange) error {
	return c.sendBuilt(ctx, fmt.Sprintf("set dates of issue %d", id), func() (Request, error) {
		return SetIssueDatesRequest(id, dates)
	})
}

// SetIssueDoneRatio changes an issue's % done.
func (c *Client) SetIssueDoneRatio(ctx context.Context, id, doneRatio int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("set done ratio of issue %d", id), func() (Request, error) {
		return SetIssueDoneRatioRequest(id, doneRatio)
	})
}

// SetIssuePriority changes an issue's priority.
func (c *Client) SetIssuePriority(ctx context.Context, id, priorityID int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("set priority of issue %d", id), func() (Request, error) {
		return SetIssuePriorityRequest(id, priorityID)
	})
}

// SetIssueAssignee changes (or clears) an issue's assignee.
func (c *Client) SetIssueAssignee(ctx context.Context, id int, assigneeID *int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("set assignee of issue %d", id), func() (Request, error) {
		return SetIssueAssigneeRequest(id, assigneeID)
	})
}

// AddIssueNote adds a journal note to an issue.
func (c *Client) AddIssueNote(ctx context.Context, id int, notes string) error {
	return c.sendBuilt(ctx, fmt.Sprintf("add note to issue %d", id), func() (Request, error) {
		return AddIssueNoteRequest(id, notes)
	})
}

// ApplyQuickUpdate sends status, assignee, note and dates as one request.
func (c *Client) ApplyQuickUpdate(ctx context.Context, update QuickUpdate) (*QuickUpdateResult, error) {
	err := c.sendBuilt(ctx, fmt.Sprintf("quick update issue %d", update.IssueID), func() (Request, error) {
		return QuickUpdateRequest(update)
	})
	if err != nil {
		return nil, err
	}
	return &QuickUpdateResult{
		IssueID:    update.IssueID,
		StatusID:   update.StatusID,
		AssigneeID: update.AssigneeID,
		Noted:      update.Message != "",
		Dates:      update.Dates,
	}, nil
}

// CreateTimeEntry logs time.
func (c *Client) CreateTimeEntry(ctx context.Context, entry TimeEntryCreate) (*TimeEntryResult, error) {
	req, err := CreateTimeEntryRequest(entry)
	if err != nil {
		return nil, err
	}
	data, err := c.send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create time entry: %w", err)
	}
	var result TimeEntryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse created time entry: %w", err)
	}
	return &result, nil
}

// UpdateTimeEntry updates a time entry.
func (c *Client) UpdateTimeEntry(ctx context.Context, id int, update TimeEntryUpdate) error {
	return c.sendBuilt(ctx, fmt.Sprintf("update time entry %d", id), func() (Request, error) {
		return UpdateTimeEntryRequest(id, update)
	})
}

// DeleteTimeEntry deletes a time entry.
func (c *Client) DeleteTimeEntry(ctx context.Context, id int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("delete time entry %d", id), func() (Request, error) {
		return DeleteTimeEntryRequest(id)
	})
}

// CreateVersion creates a version in a project.
func (c *Client) CreateVersion(ctx context.Context, projectID int, version VersionCreate) (*VersionResult, error) {
	req, err := CreateVersionRequest(projectID, version)
	if err != nil {
		return nil, err
	}
	data, err := c.send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}
	var result VersionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse created version: %w", err)
	}
	return &result, nil
}

// UpdateVersion updates a version.
func (c *Client) UpdateVersion(ctx context.Context, id int, update VersionUpdate) error {
	return c.sendBuilt(ctx, fmt.Sprintf("update version %d", id), func() (Request, error) {
		return UpdateVersionRequest(id, update)
	})
}

// DeleteVersion deletes a version.
func (c *Client) DeleteVersion(ctx context.Context, id int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("delete version %d", id), func() (Request, error) {
		return DeleteVersionRequest(id)
	})
}

// CreateRelation relates two issues.
func (c *Client) CreateRelation(ctx context.Context, issueID int, relation RelationCreate) (*RelationResult, error) {
	req, err := CreateRelationRequest(issueID, relation)
	if err != nil {
		return nil, err
	}
	data, err := c.send(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create relation: %w", err)
	}
	var result RelationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse created relation: %w", err)
	}
	return &result, nil
}

// DeleteRelation deletes a relation.
func (c *Client) DeleteRelation(ctx context.Context, id int) error {
	return c.sendBuilt(ctx, fmt.Sprintf("delete relation %d", id), func() (Request, error) {
		return DeleteRelationRequest(id)
	})
}

// sendBuilt builds a request and sends it, discarding the response body.
func (c *Client) sendBuilt(ctx context.Context, what string, build func() (Request, error)) error {
	req, err := build()
	if err != nil {
		return err
	}
	if _, err := c.send(ctx, req); err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}
