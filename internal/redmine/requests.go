package redmine

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Request is a fully described API call: the method, the path relative to
// the base URL, and the JSON body (nil for bodiless calls). The client sends
// these, and the draft proxy stores them verbatim for later replay, so both
// sides build them through the functions below.
type Request struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"data,omitempty"`
}

func newRequest(method, path, envelope string, payload any) (Request, error) {
	req := Request{Method: method, Path: path}
	if payload == nil {
		return req, nil
	}
	body, err := json.Marshal(map[string]any{envelope: payload})
	if err != nil {
		return Request{}, fmt.Errorf("failed to marshal %s body: %w", envelope, err)
	}
	req.Body = body
	return req, nil
}

// IssuePath returns the path of a single issue.
func IssuePath(id int) string { return fmt.Sprintf("/issues/%d.json", id) }

// CreateIssueRequest builds POST /issues.json.
func CreateIssueRequest(issue IssueCreate) (Request, error) {
	return newRequest(http.MethodPost, "/issues.json", "issue", issue)
}

// UpdateIssueRequest builds PUT /issues/:id.json.
func UpdateIssueRequest(id int, update IssueUpdate) (Request, error) {
	return newRequest(http.MethodPut, IssuePath(id), "issue", update)
}

// DeleteIssueRequest builds DELETE /issues/:id.json.
func DeleteIssueRequest(id int) (Request, error) {
	return newRequest(http.MethodDelete, IssuePath(id), "", nil)
}

// SetIssueStatusRequest builds the status-only issue update.
func SetIssueStatusRequest(id, statusID int) (Request, error) {
	return newRequest(http.MethodPut, IssuePath(id), "issue", map[string]any{"status_id": statusID})
}

// SetIssueDatesRequest builds the start/due date issue update. Empty dates
// are sent as null, which clears them.
func SetIssueDatesRequest(id int, dates DateRange) (Request, error) {
	return newRequest(http.MethodPut, IssuePath(id), "issue", map[string]any{
		"start_date": nullIfEmpty(dates.StartDate),
		"due_date":   nullIfEmpty(dates.DueDate),
	})
}

// SetIssueDoneRatioRequest builds the % done issue update.
func SetIssueDoneRatioRequest(id, doneRatio int) (Request, error) {
	if doneRatio < 0 || doneRatio > 100 {
		return Request{}, fmt.Errorf("done ratio must be between 0 and 100, got %d", doneRatio)
	}
	return newRequest(http.MethodPut, IssuePath(id), "issue", map[string]any{"done_ratio": doneRatio})
}

// SetIssuePriorityRequest builds the priority issue update.
func SetIssuePriorityRequest(id, priorityID int) (Request, error) {
	return newRequest(http.MethodPut, IssuePath(id), "issue", map[string]any{"priority_id": priorityID})
}

// SetIssueAssigneeRequest builds the assignee issue update. A nil or zero
// assignee unassigns the issue.
func SetIssueAssigneeRequest(id int, assigneeID *int) (Request, error) {
	return newRequest(http.MethodPut, IssuePath(id), "issue", map[string]any{"assigned_to_id": assigneeValue(assigneeID)})
}

// AddIssueNoteRequest builds a journal note on an issue.
func AddIssueNoteRequest(id int, notes string) (Request, error) {
	if notes == "" {
		return Request{}, fmt.Errorf("note cannot be empty")
	}
	return newRequest(http.MethodPut, IssuePath(id), "issue", map[string]any{"notes": notes})
}

// QuickUpdateRequest builds the single combined issue update used when the
// quick update is sent directly.
func QuickUpdateRequest(update QuickUpdate) (Request, error) {
	fields := map[string]any{"status_id": update.StatusID}
	if update.AssigneeID != nil {
		fields["assigned_to_id"] = assigneeValue(update.AssigneeID)
	}
	if update.Message != "" {
		fields["notes"] = update.Message
	}
	if update.Dates != nil {
		fields["start_date"] = nullIfEmpty(update.Dates.StartDate)
		fields["due_date"] = nullIfEmpty(update.Dates.DueDate)
	}
	return newRequest(http.MethodPut, IssuePath(update.IssueID), "issue", fields)
}

// CreateTimeEntryRequest builds POST /time_entries.json.
func CreateTimeEntryRequest(entry TimeEntryCreate) (Request, error) {
	if entry.IssueID == 0 && entry.ProjectID == 0 {
		return Request{}, fmt.Errorf("time entry needs an issue or a project")
	}
	return newRequest(http.MethodPost, "/time_entries.json", "time_entry", entry)
}

// UpdateTimeEntryRequest builds PUT /time_entries/:id.json.
func UpdateTimeEntryRequest(id int, update TimeEntryUpdate) (Request, error) {
	return newRequest(http.MethodPut, fmt.Sprintf("/time_entries/%d.json", id), "time_entry", update)
}

// DeleteTimeEntryRequest builds DELETE /time_entries/:id.json.
func DeleteTimeEntryRequest(id int) (Request, error) {
	return newRequest(http.MethodDelete, fmt.Sprintf("/time_entries/%d.json", id), "", nil)
}

// CreateVersionRequest builds POST /projects/:id/versions.json.
func CreateVersionRequest(projectID int, version VersionCreate) (Request, error) {
	if version.Name == "" {
		return Request{}, fmt.Errorf("version name cannot be empty")
	}
	return newRequest(http.MethodPost, fmt.Sprintf("/projects/%d/versions.json", projectID), "version", version)
}

// UpdateVersionRequest builds PUT /versions/:id.json.
func UpdateVersionRequest(id int, update VersionUpdate) (Request, error) {
	return newRequest(http.MethodPut, fmt.Sprintf("/versions/%d.json", id), "version", update)
}

// DeleteVersionRequest builds DELETE /versions/:id.json.
func DeleteVersionRequest(id int) (Request, error) {
	return newRequest(http.MethodDelete, fmt.Sprintf("/versions/%d.json", id), "", nil)
}

// CreateRelationRequest builds POST /issues/:id/relations.json.
func CreateRelationRequest(issueID int, relation RelationCreate) (Request, error) {
	if !IsValidRelationType(relation.RelationType) {
		return Request{}, fmt.Errorf("invalid relation type %q", relation.RelationType)
	}
	return newRequest(http.MethodPost, fmt.Sprintf("/issues/%d/relations.json", issueID), "relation", relation)
}

// DeleteRelationRequest builds DELETE /relations/:id.json.
func DeleteRelationRequest(id int) (Request, error) {
	return newRequest(http.MethodDelete, fmt.Sprintf("/relations/%d.json", id), "", nil)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// assigneeValue maps "no assignee" to the empty string, which is how the
// Redmine API unassigns an issue.
func assigneeValue(id *int) any {
	if id == nil || *id == 0 {
		return ""
	}
	return *id
}
