package redmine

import (
	"context"
	"encoding/json"
)

// Options describes the endpoint a client talks to.
type Options struct {
	BaseURL string
	APIKey  string
}

// API is the capability surface of a Redmine client. The real HTTP client
// implements it, and so does the draft-intercepting proxy that wraps it, so
// consumers never need to know which one they hold.
type API interface {
	// Options returns the connection options (read-only).
	Options() Options

	// Reads.
	CurrentUser(ctx context.Context) (*User, error)
	GetIssue(ctx context.Context, id int) (*Issue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]Issue, error)
	ListProjects(ctx context.Context) ([]Project, error)
	ListIssueStatuses(ctx context.Context) ([]IssueStatus, error)
	ListIssuePriorities(ctx context.Context) ([]Enumeration, error)
	ListTimeEntryActivities(ctx context.Context) ([]Enumeration, error)
	ListTimeEntries(ctx context.Context, filter TimeEntryFilter) ([]TimeEntry, error)
	ListVersions(ctx context.Context, projectID int) ([]Version, error)
	ListRelations(ctx context.Context, issueID int) ([]Relation, error)
	ListMemberships(ctx context.Context, projectID int) ([]Membership, error)

	// Issue writes.
	CreateIssue(ctx context.Context, issue IssueCreate) (*IssueResult, error)
	UpdateIssue(ctx context.Context, id int, update IssueUpdate) error
	DeleteIssue(ctx context.Context, id int) error
	SetIssueStatus(ctx context.Context, id, statusID int) error
	SetIssueDates(ctx context.Context, id int, dates DateRange) error
	SetIssueDoneRatio(ctx context.Context, id, doneRatio int) error
	SetIssuePriority(ctx context.Context, id, priorityID int) error
	SetIssueAssignee(ctx context.Context, id int, assigneeID *int) error
	AddIssueNote(ctx context.Context, id int, notes string) error
	ApplyQuickUpdate(ctx context.Context, update QuickUpdate) (*QuickUpdateResult, error)

	// Time entry writes.
	CreateTimeEntry(ctx context.Context, entry TimeEntryCreate) (*TimeEntryResult, error)
	UpdateTimeEntry(ctx context.Context, id int, update TimeEntryUpdate) error
	DeleteTimeEntry(ctx context.Context, id int) error

	// Version writes.
	CreateVersion(ctx context.Context, projectID int, version VersionCreate) (*VersionResult, error)
	UpdateVersion(ctx context.Context, id int, update VersionUpdate) error
	DeleteVersion(ctx context.Context, id int) error

	// Relation writes.
	CreateRelation(ctx context.Context, issueID int, relation RelationCreate) (*RelationResult, error)
	DeleteRelation(ctx context.Context, id int) error

	// Generic verbs. body may be nil; the raw response body is returned.
	Do(ctx context.Context, method, path string, body json.RawMessage) ([]byte, error)
	Post(ctx context.Context, path string, body json.RawMessage) ([]byte, error)
	Put(ctx context.Context, path string, body json.RawMessage) ([]byte, error)
	Delete(ctx context.Context, path string) ([]byte, error)
}
