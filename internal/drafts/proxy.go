package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

type bypassKey struct{}

// WithBypass marks ctx so that writes made with it go straight to Redmine
// even while draft mode is on.
func WithBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

// IsBypassed reports whether ctx carries the bypass marker.
func IsBypassed(ctx context.Context) bool {
	b, _ := ctx.Value(bypassKey{}).(bool)
	return b
}

// Proxy is a redmine.API that queues writes while draft mode is on. Reads
// and the generic verbs (Do, Post, Put, Delete) always reach the wrapped
// client.
type Proxy struct {
	client redmine.API
	queue  *Queue
	mode   Switch
	logger *zap.Logger

	// OnWarning, if set, receives non-fatal problems such as a draft that
	// was queued but could not be saved to disk.
	OnWarning func(msg string)
}

var _ redmine.API = (*Proxy)(nil)

// NewProxy wraps client.
func NewProxy(client redmine.API, queue *Queue, mode Switch) *Proxy {
	return &Proxy{
		client: client,
		queue:  queue,
		mode:   mode,
		logger: debug.Named("drafts.proxy"),
	}
}

// Client returns the wrapped client.
func (p *Proxy) Client() redmine.API { return p.client }

// Options returns the wrapped client's connection options.
func (p *Proxy) Options() redmine.Options { return p.client.Options() }

func (p *Proxy) drafting(ctx context.Context) bool {
	return !IsBypassed(ctx) && p.mode.Enabled()
}

// draft is what a write method knows about the operation it queues.
type draft struct {
	typ        OpType
	issueID    int
	resourceID int
	req        redmine.Request
	desc       string
}

// enqueue turns d into an Operation and adds it to the queue. Negative ids
// in the payload are bound to the temp ids of the creates that issued them.
func (p *Proxy) enqueue(ctx context.Context, d draft) (Operation, error) {
	req, deps, err := bindPlaceholders(d.req, p.queue.PlaceholderTempID)
	if err != nil {
		return Operation{}, err
	}

	op := Operation{
		ID:          NewID(),
		Type:        d.typ,
		Timestamp:   time.Now(),
		IssueID:     d.issueID,
		ResourceID:  d.resourceID,
		Description: d.desc,
		HTTP:        req,
		DependsOn:   deps,
	}
	r := d.typ.Resource()
	switch {
	case d.typ.IsCreate():
		op.TempID = NewTempID(r)
		op.PlaceholderID = NewPlaceholderID()
		op.ResourceKey = ResourceKey(r, op.TempID, FacetCreate)
	case d.typ.IsNote():
		op.ResourceKey = NoteKey(p.keyID(d.issueID))
	default:
		target := d.resourceID
		if r == ResourceIssue {
			target = d.issueID
		}
		op.ResourceKey = ResourceKey(r, p.keyID(target), d.typ.Facet())
	}

	if err := p.queue.Add(ctx, op); err != nil {
		var perr *PersistError
		if !errors.As(err, &perr) {
			return Operation{}, err
		}
		p.logger.Warn("draft queued but not saved", zap.String("id", op.ID), zap.Error(err))
		p.warn("Draft %q is queued but could not be saved: %v", op.Description, perr.Err)
	}
	return op, nil
}

// keyID renders id for a resource key, using the temp id for placeholders.
func (p *Proxy) keyID(id int) string {
	if id < 0 {
		if tempID, ok := p.queue.PlaceholderTempID(id); ok {
			return tempID
		}
	}
	return strconv.Itoa(id)
}

// discardPlaceholder drops the queued create behind placeholder and every
// draft that depends on it. Deleting something that only exists as a draft
// never needs to reach Redmine.
func (p *Proxy) discardPlaceholder(ctx context.Context, placeholder int) error {
	tempID, ok := p.queue.PlaceholderTempID(placeholder)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlaceholder, placeholder)
	}
	return p.queue.RemoveByTempIDPrefix(ctx, tempID)
}

func (p *Proxy) warn(format string, args ...interface{}) {
	if p.OnWarning != nil {
		p.OnWarning(fmt.Sprintf(format, args...))
	}
}

func issueLabel(id int) string {
	if id < 0 {
		return fmt.Sprintf("draft issue %d", id)
	}
	return fmt.Sprintf("#%d", id)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Reads always delegate.

func (p *Proxy) CurrentUser(ctx context.Context) (*redmine.User, error) {
	return p.client.CurrentUser(ctx)
}

func (p *Proxy) GetIssue(ctx context.Context, id int) (*redmine.Issue, error) {
	return p.client.GetIssue(ctx, id)
}

func (p *Proxy) ListIssues(ctx context.Context, filter redmine.IssueFilter) ([]redmine.Issue, error) {
	return p.client.ListIssues(ctx, filter)
}

func (p *Proxy) ListProjects(ctx context.Context) ([]redmine.Project, error) {
	return p.client.ListProjects(ctx)
}

func (p *Proxy) ListIssueStatuses(ctx context.Context) ([]redmine.IssueStatus, error) {
	return p.client.ListIssueStatuses(ctx)
}

func (p *Proxy) ListIssuePriorities(ctx context.Context) ([]redmine.Enumeration, error) {
	return p.client.ListIssuePriorities(ctx)
}

func (p *Proxy) ListTimeEntryActivities(ctx context.Context) ([]redmine.Enumeration, error) {
	return p.client.ListTimeEntryActivities(ctx)
}

func (p *Proxy) ListTimeEntries(ctx context.Context, filter redmine.TimeEntryFilter) ([]redmine.TimeEntry, error) {
	return p.client.ListTimeEntries(ctx, filter)
}

func (p *Proxy) ListVersions(ctx context.Context, projectID int) ([]redmine.Version, error) {
	return p.client.ListVersions(ctx, projectID)
}

func (p *Proxy) ListRelations(ctx context.Context, issueID int) ([]redmine.Relation, error) {
	return p.client.ListRelations(ctx, issueID)
}

func (p *Proxy) ListMemberships(ctx context.Context, projectID int) ([]redmine.Membership, error) {
	return p.client.ListMemberships(ctx, projectID)
}

// Generic verbs always delegate.

func (p *Proxy) Do(ctx context.Context, method, path string, body json.RawMessage) ([]byte, error) {
	return p.client.Do(ctx, method, path, body)
}

func (p *Proxy) Post(ctx context.Context, path string, body json.RawMessage) ([]byte, error) {
	return p.client.Post(ctx, path, body)
}

func (p *Proxy) Put(ctx context.Context, path string, body json.RawMessage) ([]byte, error) {
	return p.client.Put(ctx, path, body)
}

func (p *Proxy) Delete(ctx context.Context, path string) ([]byte, error) {
	return p.client.Delete(ctx, path)
}

// Issue writes.

// CreateIssue queues the create and returns the issue as the caller
// described it, with a placeholder id.
func (p *Proxy) CreateIssue(ctx context.Context, issue redmine.IssueCreate) (*redmine.IssueResult, error) {
	if !p.drafting(ctx) {
		return p.client.CreateIssue(ctx, issue)
	}
	req, err := redmine.CreateIssueRequest(issue)
	if err != nil {
		return nil, err
	}
	op, err := p.enqueue(ctx, draft{
		typ:  OpCreateIssue,
		req:  req,
		desc: fmt.Sprintf("Create issue %q", truncate(issue.Subject, 60)),
	})
	if err != nil {
		return nil, err
	}
	created := redmine.Issue{
		ID:             op.PlaceholderID,
		Project:        redmine.IDName{ID: issue.ProjectID},
		Tracker:        redmine.IDName{ID: issue.TrackerID},
		Status:         redmine.IDName{ID: issue.StatusID},
		Priority:       redmine.IDName{ID: issue.PriorityID},
		Subject:        issue.Subject,
		Description:    issue.Description,
		StartDate:      issue.StartDate,
		DueDate:        issue.DueDate,
		EstimatedHours: issue.EstimatedHours,
	}
	if issue.AssignedToID != 0 {
		created.AssignedTo = &redmine.IDName{ID: issue.AssignedToID}
	}
	if issue.FixedVersionID != 0 {
		created.FixedVersion = &redmine.IDName{ID: issue.FixedVersionID}
	}
	if issue.ParentIssueID != 0 {
		created.Parent = &redmine.IssueRef{ID: issue.ParentIssueID}
	}
	return &redmine.IssueResult{Issue: created}, nil
}

func (p *Proxy) UpdateIssue(ctx context.Context, id int, update redmine.IssueUpdate) error {
	if !p.drafting(ctx) {
		return p.client.UpdateIssue(ctx, id, update)
	}
	req, err := redmine.UpdateIssueRequest(id, update)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{typ: OpUpdateIssue, issueID: id, req: req, desc: "Update " + issueLabel(id)})
	return err
}

// DeleteIssue queues the delete. Deleting a draft issue discards the draft
// and everything queued against it instead.
func (p *Proxy) DeleteIssue(ctx context.Context, id int) error {
	if !p.drafting(ctx) {
		return p.client.DeleteIssue(ctx, id)
	}
	if id < 0 {
		return p.discardPlaceholder(ctx, id)
	}
	req, err := redmine.DeleteIssueRequest(id)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{typ: OpDeleteIssue, issueID: id, req: req, desc: "Delete " + issueLabel(id)})
	return err
}

func (p *Proxy) SetIssueStatus(ctx context.Context, id, statusID int) error {
	if !p.drafting(ctx) {
		return p.client.SetIssueStatus(ctx, id, statusID)
	}
	return p.queueStatus(ctx, id, statusID)
}

func (p *Proxy) queueStatus(ctx context.Context, id, statusID int) error {
	req, err := redmine.SetIssueStatusRequest(id, statusID)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:     OpSetIssueStatus,
		issueID: id,
		req:     req,
		desc:    fmt.Sprintf("Set status of %s to %d", issueLabel(id), statusID),
	})
	return err
}

func (p *Proxy) SetIssueDates(ctx context.Context, id int, dates redmine.DateRange) error {
	if !p.drafting(ctx) {
		return p.client.SetIssueDates(ctx, id, dates)
	}
	return p.queueDates(ctx, id, dates)
}

func (p *Proxy) queueDates(ctx context.Context, id int, dates redmine.DateRange) error {
	req, err := redmine.SetIssueDatesRequest(id, dates)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:     OpSetIssueDates,
		issueID: id,
		req:     req,
		desc:    fmt.Sprintf("Set dates of %s (start %s, due %s)", issueLabel(id), orNone(dates.StartDate), orNone(dates.DueDate)),
	})
	return err
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func (p *Proxy) SetIssueDoneRatio(ctx context.Context, id, doneRatio int) error {
	if !p.drafting(ctx) {
		return p.client.SetIssueDoneRatio(ctx, id, doneRatio)
	}
	req, err := redmine.SetIssueDoneRatioRequest(id, doneRatio)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:     OpSetIssueDoneRatio,
		issueID: id,
		req:     req,
		desc:    fmt.Sprintf("Set %s to %d%% done", issueLabel(id), doneRatio),
	})
	return err
}

func (p *Proxy) SetIssuePriority(ctx context.Context, id, priorityID int) error {
	if !p.drafting(ctx) {
		return p.client.SetIssuePriority(ctx, id, priorityID)
	}
	req, err := redmine.SetIssuePriorityRequest(id, priorityID)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:     OpSetIssuePriority,
		issueID: id,
		req:     req,
		desc:    fmt.Sprintf("Set priority of %s to %d", issueLabel(id), priorityID),
	})
	return err
}

func (p *Proxy) SetIssueAssignee(ctx context.Context, id int, assigneeID *int) error {
	if !p.drafting(ctx) {
		return p.client.SetIssueAssignee(ctx, id, assigneeID)
	}
	return p.queueAssignee(ctx, id, assigneeID)
}

func (p *Proxy) queueAssignee(ctx context.Context, id int, assigneeID *int) error {
	req, err := redmine.SetIssueAssigneeRequest(id, assigneeID)
	if err != nil {
		return err
	}
	desc := "Unassign " + issueLabel(id)
	if assigneeID != nil && *assigneeID != 0 {
		desc = fmt.Sprintf("Assign %s to user %d", issueLabel(id), *assigneeID)
	}
	_, err = p.enqueue(ctx, draft{typ: OpSetIssueAssignee, issueID: id, req: req, desc: desc})
	return err
}

func (p *Proxy) AddIssueNote(ctx context.Context, id int, notes string) error {
	if !p.drafting(ctx) {
		return p.client.AddIssueNote(ctx, id, notes)
	}
	return p.queueNote(ctx, id, notes)
}

func (p *Proxy) queueNote(ctx context.Context, id int, notes string) error {
	req, err := redmine.AddIssueNoteRequest(id, notes)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:     OpAddIssueNote,
		issueID: id,
		req:     req,
		desc:    fmt.Sprintf("Add note to %s: %q", issueLabel(id), truncate(notes, 40)),
	})
	return err
}

// ApplyQuickUpdate sends one combined request when not drafting. When
// drafting it queues separate status, assignee, note and dates operations,
// so each collapses with later edits of the same field. The note is only
// queued when a message is given, the dates only when a range is given.
func (p *Proxy) ApplyQuickUpdate(ctx context.Context, update redmine.QuickUpdate) (*redmine.QuickUpdateResult, error) {
	if !p.drafting(ctx) {
		return p.client.ApplyQuickUpdate(ctx, update)
	}
	id := update.IssueID
	if update.StatusID != 0 {
		if err := p.queueStatus(ctx, id, update.StatusID); err != nil {
			return nil, err
		}
	}
	if update.AssigneeID != nil {
		if err := p.queueAssignee(ctx, id, update.AssigneeID); err != nil {
			return nil, err
		}
	}
	if update.Message != "" {
		if err := p.queueNote(ctx, id, update.Message); err != nil {
			return nil, err
		}
	}
	if update.Dates != nil {
		if err := p.queueDates(ctx, id, *update.Dates); err != nil {
			return nil, err
		}
	}
	return &redmine.QuickUpdateResult{
		IssueID:    id,
		StatusID:   update.StatusID,
		AssigneeID: update.AssigneeID,
		Noted:      update.Message != "",
		Dates:      update.Dates,
		Drafted:    true,
	}, nil
}

// Time entry writes.

func (p *Proxy) CreateTimeEntry(ctx context.Context, entry redmine.TimeEntryCreate) (*redmine.TimeEntryResult, error) {
	if !p.drafting(ctx) {
		return p.client.CreateTimeEntry(ctx, entry)
	}
	req, err := redmine.CreateTimeEntryRequest(entry)
	if err != nil {
		return nil, err
	}
	target := fmt.Sprintf("project %d", entry.ProjectID)
	if entry.IssueID != 0 {
		target = issueLabel(entry.IssueID)
	}
	op, err := p.enqueue(ctx, draft{
		typ:     OpCreateTimeEntry,
		issueID: entry.IssueID,
		req:     req,
		desc:    fmt.Sprintf("Log %sh on %s", strconv.FormatFloat(entry.Hours, 'f', -1, 64), target),
	})
	if err != nil {
		return nil, err
	}
	created := redmine.TimeEntry{
		ID:       op.PlaceholderID,
		Project:  redmine.IDName{ID: entry.ProjectID},
		Activity: redmine.IDName{ID: entry.ActivityID},
		Hours:    entry.Hours,
		Comments: entry.Comments,
		SpentOn:  entry.SpentOn,
	}
	if entry.IssueID != 0 {
		created.Issue = &redmine.IssueRef{ID: entry.IssueID}
	}
	return &redmine.TimeEntryResult{TimeEntry: created}, nil
}

func (p *Proxy) UpdateTimeEntry(ctx context.Context, id int, update redmine.TimeEntryUpdate) error {
	if !p.drafting(ctx) {
		return p.client.UpdateTimeEntry(ctx, id, update)
	}
	req, err := redmine.UpdateTimeEntryRequest(id, update)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:        OpUpdateTimeEntry,
		resourceID: id,
		req:        req,
		desc:       fmt.Sprintf("Update time entry %d", id),
	})
	return err
}

func (p *Proxy) DeleteTimeEntry(ctx context.Context, id int) error {
	if !p.drafting(ctx) {
		return p.client.DeleteTimeEntry(ctx, id)
	}
	if id < 0 {
		return p.discardPlaceholder(ctx, id)
	}
	req, err := redmine.DeleteTimeEntryRequest(id)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:        OpDeleteTimeEntry,
		resourceID: id,
		req:        req,
		desc:       fmt.Sprintf("Delete time entry %d", id),
	})
	return err
}

// Version writes.

func (p *Proxy) CreateVersion(ctx context.Context, projectID int, version redmine.VersionCreate) (*redmine.VersionResult, error) {
	if !p.drafting(ctx) {
		return p.client.CreateVersion(ctx, projectID, version)
	}
	req, err := redmine.CreateVersionRequest(projectID, version)
	if err != nil {
		return nil, err
	}
	op, err := p.enqueue(ctx, draft{
		typ:  OpCreateVersion,
		req:  req,
		desc: fmt.Sprintf("Create version %q in project %d", version.Name, projectID),
	})
	if err != nil {
		return nil, err
	}
	status := version.Status
	if status == "" {
		status = "open"
	}
	return &redmine.VersionResult{Version: redmine.Version{
		ID:          op.PlaceholderID,
		Project:     redmine.IDName{ID: projectID},
		Name:        version.Name,
		Description: version.Description,
		Status:      status,
		DueDate:     version.DueDate,
		Sharing:     version.Sharing,
	}}, nil
}

func (p *Proxy) UpdateVersion(ctx context.Context, id int, update redmine.VersionUpdate) error {
	if !p.drafting(ctx) {
		return p.client.UpdateVersion(ctx, id, update)
	}
	req, err := redmine.UpdateVersionRequest(id, update)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:        OpUpdateVersion,
		resourceID: id,
		req:        req,
		desc:       fmt.Sprintf("Update version %d", id),
	})
	return err
}

func (p *Proxy) DeleteVersion(ctx context.Context, id int) error {
	if !p.drafting(ctx) {
		return p.client.DeleteVersion(ctx, id)
	}
	if id < 0 {
		return p.discardPlaceholder(ctx, id)
	}
	req, err := redmine.DeleteVersionRequest(id)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:        OpDeleteVersion,
		resourceID: id,
		req:        req,
		desc:       fmt.Sprintf("Delete version %d", id),
	})
	return err
}

// Relation writes.

func (p *Proxy) CreateRelation(ctx context.Context, issueID int, relation redmine.RelationCreate) (*redmine.RelationResult, error) {
	if !p.drafting(ctx) {
		return p.client.CreateRelation(ctx, issueID, relation)
	}
	req, err := redmine.CreateRelationRequest(issueID, relation)
	if err != nil {
		return nil, err
	}
	op, err := p.enqueue(ctx, draft{
		typ:     OpCreateRelation,
		issueID: issueID,
		req:     req,
		desc:    fmt.Sprintf("Relate %s %s %s", issueLabel(issueID), relation.RelationType, issueLabel(relation.IssueToID)),
	})
	if err != nil {
		return nil, err
	}
	return &redmine.RelationResult{Relation: redmine.Relation{
		ID:           op.PlaceholderID,
		IssueID:      issueID,
		IssueToID:    relation.IssueToID,
		RelationType: relation.RelationType,
		Delay:        relation.Delay,
	}}, nil
}

func (p *Proxy) DeleteRelation(ctx context.Context, id int) error {
	if !p.drafting(ctx) {
		return p.client.DeleteRelation(ctx, id)
	}
	if id < 0 {
		return p.discardPlaceholder(ctx, id)
	}
	req, err := redmine.DeleteRelationRequest(id)
	if err != nil {
		return err
	}
	_, err = p.enqueue(ctx, draft{
		typ:        OpDeleteRelation,
		resourceID: id,
		req:        req,
		desc:       fmt.Sprintf("Delete relation %d", id),
	})
	return err
}
