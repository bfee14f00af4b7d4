package redmine

import "time"

// IDName is Redmine's {id, name} reference used for projects, trackers,
// statuses, users and the like.
type IDName struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// Issue represents a Redmine issue.
type Issue struct {
	ID             int        `json:"id"`
	Project        IDName     `json:"project"`
	Tracker        IDName     `json:"tracker"`
	Status         IDName     `json:"status"`
	Priority       IDName     `json:"priority"`
	Author         IDName     `json:"author"`
	AssignedTo     *IDName    `json:"assigned_to,omitempty"`
	FixedVersion   *IDName    `json:"fixed_version,omitempty"`
	Parent         *IssueRef  `json:"parent,omitempty"`
	Subject        string     `json:"subject"`
	Description    string     `json:"description,omitempty"`
	StartDate      string     `json:"start_date,omitempty"` // YYYY-MM-DD
	DueDate        string     `json:"due_date,omitempty"`   // YYYY-MM-DD
	DoneRatio      int        `json:"done_ratio"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	SpentHours     float64    `json:"spent_hours,omitempty"`
	CreatedOn      *time.Time `json:"created_on,omitempty"`
	UpdatedOn      *time.Time `json:"updated_on,omitempty"`
	ClosedOn       *time.Time `json:"closed_on,omitempty"`
	Relations      []Relation `json:"relations,omitempty"`
}

// IssueRef is a bare {id} reference.
type IssueRef struct {
	ID int `json:"id"`
}

// IssueStatus is an entry of /issue_statuses.json.
type IssueStatus struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsClosed bool   `json:"is_closed"`
}

// Enumeration is an entry of /enumerations/*.json (priorities, activities).
type Enumeration struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
	Active    *bool  `json:"active,omitempty"`
}

// Project represents a Redmine project.
type Project struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Identifier  string  `json:"identifier"`
	Description string  `json:"description,omitempty"`
	Status      int     `json:"status"`
	Parent      *IDName `json:"parent,omitempty"`
}

// User is the subset of /users/current.json rd cares about.
type User struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Mail      string `json:"mail,omitempty"`
}

// Membership is an entry of /projects/:id/memberships.json.
type Membership struct {
	ID      int      `json:"id"`
	Project IDName   `json:"project"`
	User    *IDName  `json:"user,omitempty"`
	Group   *IDName  `json:"group,omitempty"`
	Roles   []IDName `json:"roles,omitempty"`
}

// TimeEntry represents a Redmine time entry.
type TimeEntry struct {
	ID        int        `json:"id"`
	Project   IDName     `json:"project"`
	Issue     *IssueRef  `json:"issue,omitempty"`
	User      IDName     `json:"user"`
	Activity  IDName     `json:"activity"`
	Hours     float64    `json:"hours"`
	Comments  string     `json:"comments"`
	SpentOn   string     `json:"spent_on"` // YYYY-MM-DD
	CreatedOn *time.Time `json:"created_on,omitempty"`
	UpdatedOn *time.Time `json:"updated_on,omitempty"`
}

// Version represents a project version (milestone).
type Version struct {
	ID          int        `json:"id"`
	Project     IDName     `json:"project"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"` // open, locked, closed
	DueDate     string     `json:"due_date,omitempty"`
	Sharing     string     `json:"sharing,omitempty"`
	CreatedOn   *time.Time `json:"created_on,omitempty"`
	UpdatedOn   *time.Time `json:"updated_on,omitempty"`
}

// Relation links two issues.
type Relation struct {
	ID           int    `json:"id"`
	IssueID      int    `json:"issue_id"`
	IssueToID    int    `json:"issue_to_id"`
	RelationType string `json:"relation_type"`
	Delay        *int   `json:"delay,omitempty"`
}

// Relation types accepted by Redmine.
const (
	RelationRelates    = "relates"
	RelationDuplicates = "duplicates"
	RelationDuplicated = "duplicated"
	RelationBlocks     = "blocks"
	RelationBlocked    = "blocked"
	RelationPrecedes   = "precedes"
	RelationFollows    = "follows"
	RelationCopiedTo   = "copied_to"
	RelationCopiedFrom = "copied_from"
)

var validRelationTypes = map[string]bool{
	RelationRelates:    true,
	RelationDuplicates: true,
	RelationDuplicated: true,
	RelationBlocks:     true,
	RelationBlocked:    true,
	RelationPrecedes:   true,
	RelationFollows:    true,
	RelationCopiedTo:   true,
	RelationCopiedFrom: true,
}

// IsValidRelationType reports whether t is a relation type Redmine accepts.
func IsValidRelationType(t string) bool {
	return validRelationTypes[t]
}

// IssueCreate is the body of POST /issues.json.
type IssueCreate struct {
	ProjectID      int      `json:"project_id"`
	TrackerID      int      `json:"tracker_id,omitempty"`
	StatusID       int      `json:"status_id,omitempty"`
	PriorityID     int      `json:"priority_id,omitempty"`
	Subject        string   `json:"subject"`
	Description    string   `json:"description,omitempty"`
	AssignedToID   int      `json:"assigned_to_id,omitempty"`
	ParentIssueID  int      `json:"parent_issue_id,omitempty"`
	FixedVersionID int      `json:"fixed_version_id,omitempty"`
	StartDate      string   `json:"start_date,omitempty"`
	DueDate        string   `json:"due_date,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
}

// IssueUpdate is the body of PUT /issues/:id.json. Nil fields are left
// untouched on the server.
type IssueUpdate struct {
	Subject        *string  `json:"subject,omitempty"`
	Description    *string  `json:"description,omitempty"`
	TrackerID      *int     `json:"tracker_id,omitempty"`
	StatusID       *int     `json:"status_id,omitempty"`
	PriorityID     *int     `json:"priority_id,omitempty"`
	FixedVersionID *int     `json:"fixed_version_id,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	Notes          *string  `json:"notes,omitempty"`
}

// DateRange is an issue's start/due pair. Empty strings clear the date.
type DateRange struct {
	StartDate string `json:"start_date"`
	DueDate   string `json:"due_date"`
}

// QuickUpdate bundles the edits of the "quick update" flow into a single
// request: status, assignee, an optional note and an optional date range.
type QuickUpdate struct {
	IssueID    int
	StatusID   int
	AssigneeID *int // nil leaves the assignee untouched; 0 unassigns
	Message    string
	Dates      *DateRange
}

// QuickUpdateResult reports what a quick update changed.
type QuickUpdateResult struct {
	IssueID    int        `json:"issue_id"`
	StatusID   int        `json:"status_id"`
	AssigneeID *int       `json:"assignee_id,omitempty"`
	Noted      bool       `json:"noted"`
	Dates      *DateRange `json:"dates,omitempty"`
	Drafted    bool       `json:"drafted"`
}

// TimeEntryCreate is the body of POST /time_entries.json.
type TimeEntryCreate struct {
	IssueID    int     `json:"issue_id,omitempty"`
	ProjectID  int     `json:"project_id,omitempty"`
	Hours      float64 `json:"hours"`
	ActivityID int     `json:"activity_id,omitempty"`
	Comments   string  `json:"comments,omitempty"`
	SpentOn    string  `json:"spent_on,omitempty"`
}

// TimeEntryUpdate is the body of PUT /time_entries/:id.json.
type TimeEntryUpdate struct {
	IssueID    *int     `json:"issue_id,omitempty"`
	Hours      *float64 `json:"hours,omitempty"`
	ActivityID *int     `json:"activity_id,omitempty"`
	Comments   *string  `json:"comments,omitempty"`
	SpentOn    *string  `json:"spent_on,omitempty"`
}

// VersionCreate is the body of POST /projects/:id/versions.json.
type VersionCreate struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	Sharing     string `json:"sharing,omitempty"`
}

// VersionUpdate is the body of PUT /versions/:id.json.
type VersionUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Sharing     *string `json:"sharing,omitempty"`
}

// RelationCreate is the body of POST /issues/:id/relations.json.
type RelationCreate struct {
	IssueToID    int    `json:"issue_to_id"`
	RelationType string `json:"relation_type"`
	Delay        *int   `json:"delay,omitempty"`
}

// IssueResult is the envelope Redmine returns for a created issue.
type IssueResult struct {
	Issue Issue `json:"issue"`
}

// TimeEntryResult is the envelope Redmine returns for a created time entry.
type TimeEntryResult struct {
	TimeEntry TimeEntry `json:"time_entry"`
}

// VersionResult is the envelope Redmine returns for a created version.
type VersionResult struct {
	Version Version `json:"version"`
}

// RelationResult is the envelope Redmine returns for a created relation.
type RelationResult struct {
	Relation Relation `json:"relation"`
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	ProjectID    int
	StatusID     string // "open", "closed", "*" or a numeric id
	AssignedToID string // "me" or a numeric id
	Limit        int
}

// TimeEntryFilter narrows ListTimeEntries.
type TimeEntryFilter struct {
	IssueID   int
	ProjectID int
	UserID    string // "me" or a numeric id
	From      string
	To        string
	Limit     int
}
