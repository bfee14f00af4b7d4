package drafts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

func TestProxyQueuesStatusChangesPerIssue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.proxy.SetIssueStatus(ctx, 42, 3))
	require.NoError(t, e.proxy.SetIssueStatus(ctx, 42, 5))

	ops := e.queue.All()
	require.Len(t, ops, 1)
	assert.Equal(t, OpSetIssueStatus, ops[0].Type)
	assert.Equal(t, "issue:42:status", ops[0].ResourceKey)
	assert.Equal(t, "PUT", ops[0].HTTP.Method)
	assert.Equal(t, "/issues/42.json", ops[0].HTTP.Path)
	assert.JSONEq(t, `{"issue":{"status_id":5}}`, string(ops[0].HTTP.Body))
	assert.Empty(t, e.server.WriteRequests())
}

func TestProxyFieldsOfOneIssueAreIndependent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.proxy.SetIssueStatus(ctx, 42, 3))
	require.NoError(t, e.proxy.SetIssueDoneRatio(ctx, 42, 50))
	require.NoError(t, e.proxy.SetIssuePriority(ctx, 42, 3))
	require.NoError(t, e.proxy.SetIssueAssignee(ctx, 42, intPtr(7)))
	require.NoError(t, e.proxy.SetIssueDates(ctx, 42, redmine.DateRange{StartDate: "2026-01-05"}))
	require.NoError(t, e.proxy.AddIssueNote(ctx, 42, "one"))
	require.NoError(t, e.proxy.AddIssueNote(ctx, 42, "two"))

	assert.Len(t, e.queue.ByKeyPrefix(IssueKeyPrefix("42")), 7)
	assert.Len(t, e.queue.ByKeyPrefix("issue:42:note:"), 2)
}

func TestProxyPassesThroughWhenDisabled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.server.AddIssue(redmine.Issue{Subject: "Broken login"})
	require.NoError(t, e.mode.Disable())

	require.NoError(t, e.proxy.SetIssueStatus(ctx, id, 2))

	assert.Equal(t, 0, e.queue.Count())
	issue, ok := e.server.Issue(id)
	require.True(t, ok)
	assert.Equal(t, 2, issue.Status.ID)
}

func TestProxyBypassGoesStraightToRedmine(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.server.AddIssue(redmine.Issue{Subject: "Broken login"})

	require.NoError(t, e.proxy.AddIssueNote(WithBypass(ctx), id, "sent now"))
	require.NoError(t, e.proxy.AddIssueNote(ctx, id, "drafted"))

	assert.Equal(t, []string{"sent now"}, e.server.Notes(id))
	assert.Equal(t, 1, e.queue.Count())
	assert.True(t, e.mode.Enabled())
}

func TestProxyReadsAlwaysReachRedmine(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.server.AddIssue(redmine.Issue{Subject: "Slow search"})

	issue, err := e.proxy.GetIssue(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Slow search", issue.Subject)

	statuses, err := e.proxy.ListIssueStatuses(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, statuses)

	_, err = e.proxy.Post(ctx, "/issues.json", []byte(`{"issue":{"project_id":1,"subject":"raw"}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, e.queue.Count())
}

func TestProxyQuickUpdateSplitsIntoFields(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	res, err := e.proxy.ApplyQuickUpdate(ctx, redmine.QuickUpdate{
		IssueID:    42,
		StatusID:   3,
		AssigneeID: intPtr(7),
		Message:    "Done",
	})
	require.NoError(t, err)
	assert.True(t, res.Drafted)
	assert.True(t, res.Noted)

	ops := e.queue.All()
	require.Len(t, ops, 3)
	assert.Equal(t, OpSetIssueStatus, ops[0].Type)
	assert.Equal(t, OpSetIssueAssignee, ops[1].Type)
	assert.Equal(t, OpAddIssueNote, ops[2].Type)
	assert.JSONEq(t, `{"issue":{"assigned_to_id":7}}`, string(ops[1].HTTP.Body))
	assert.JSONEq(t, `{"issue":{"notes":"Done"}}`, string(ops[2].HTTP.Body))

	// A second quick update replaces the fields but adds another note.
	_, err = e.proxy.ApplyQuickUpdate(ctx, redmine.QuickUpdate{
		IssueID:  42,
		StatusID: 5,
		Message:  "Reopened by mistake",
		Dates:    &redmine.DateRange{DueDate: "2026-02-01"},
	})
	require.NoError(t, err)
	assert.Len(t, e.queue.All(), 5)
	assert.Len(t, e.queue.ByKeyPrefix("issue:42:status"), 1)
	assert.Len(t, e.queue.ByKeyPrefix("issue:42:dates"), 1)
}

func TestProxyCreatesReturnPlaceholders(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	a, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "First", AssignedToID: 7})
	require.NoError(t, err)
	b, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "Second"})
	require.NoError(t, err)

	assert.Negative(t, a.Issue.ID)
	assert.Negative(t, b.Issue.ID)
	assert.NotEqual(t, a.Issue.ID, b.Issue.ID)
	assert.Equal(t, "First", a.Issue.Subject)
	require.NotNil(t, a.Issue.AssignedTo)
	assert.Equal(t, 7, a.Issue.AssignedTo.ID)

	entry, err := e.proxy.CreateTimeEntry(ctx, redmine.TimeEntryCreate{ProjectID: 1, Hours: 1.5, Comments: "review"})
	require.NoError(t, err)
	assert.Negative(t, entry.TimeEntry.ID)
	assert.Equal(t, 1.5, entry.TimeEntry.Hours)

	version, err := e.proxy.CreateVersion(ctx, 1, redmine.VersionCreate{Name: "v2.0"})
	require.NoError(t, err)
	assert.Negative(t, version.Version.ID)
	assert.Equal(t, "open", version.Version.Status)

	ops := e.queue.All()
	require.Len(t, ops, 4)
	for _, op := range ops {
		assert.True(t, IsTempID(op.TempID), op.TempID)
		assert.Equal(t, ResourceKey(op.Type.Resource(), op.TempID, FacetCreate), op.ResourceKey)
	}
	assert.Equal(t, a.Issue.ID, ops[0].PlaceholderID)
	assert.Empty(t, e.server.WriteRequests())
}

func TestProxyBindsPlaceholdersToTempIDs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	parent, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "Parent"})
	require.NoError(t, err)
	child, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "Child", ParentIssueID: parent.Issue.ID})
	require.NoError(t, err)
	require.NoError(t, e.proxy.SetIssueStatus(ctx, child.Issue.ID, 2))
	_, err = e.proxy.CreateRelation(ctx, parent.Issue.ID, redmine.RelationCreate{IssueToID: 9, RelationType: redmine.RelationBlocks})
	require.NoError(t, err)

	parentTemp, ok := e.queue.PlaceholderTempID(parent.Issue.ID)
	require.True(t, ok)
	childTemp, ok := e.queue.PlaceholderTempID(child.Issue.ID)
	require.True(t, ok)

	ops := e.queue.All()
	require.Len(t, ops, 4)

	assert.Equal(t, []string{parentTemp}, ops[1].DependsOn)
	assert.Contains(t, string(ops[1].HTTP.Body), `"parent_issue_id":"`+parentTemp+`"`)

	assert.Equal(t, []string{childTemp}, ops[2].DependsOn)
	assert.Equal(t, "/issues/"+childTemp+".json", ops[2].HTTP.Path)
	assert.Equal(t, "issue:"+childTemp+":status", ops[2].ResourceKey)
	assert.Equal(t, child.Issue.ID, ops[2].IssueID)

	assert.Equal(t, "/issues/"+parentTemp+"/relations.json", ops[3].HTTP.Path)
	assert.Equal(t, []string{parentTemp}, ops[3].DependsOn)
}

func TestProxyRejectsUnknownPlaceholder(t *testing.T) {
	e := newEnv(t)
	err := e.proxy.SetIssueStatus(context.Background(), -12345, 2)
	assert.ErrorIs(t, err, ErrUnknownPlaceholder)
	assert.Equal(t, 0, e.queue.Count())
}

func TestProxyDeletingDraftDiscardsIt(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	created, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "Scratch"})
	require.NoError(t, err)
	require.NoError(t, e.proxy.AddIssueNote(ctx, created.Issue.ID, "more"))
	require.NoError(t, e.proxy.SetIssueStatus(ctx, 42, 3))

	require.NoError(t, e.proxy.DeleteIssue(ctx, created.Issue.ID))

	ops := e.queue.All()
	require.Len(t, ops, 1)
	assert.Equal(t, 42, ops[0].IssueID)
	assert.Empty(t, e.server.WriteRequests())

	assert.ErrorIs(t, e.proxy.DeleteIssue(ctx, created.Issue.ID), ErrUnknownPlaceholder)
}

func TestProxyDeleteOfRealResourceIsQueued(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.proxy.DeleteTimeEntry(ctx, 15))
	require.NoError(t, e.proxy.DeleteVersion(ctx, 3))
	require.NoError(t, e.proxy.DeleteRelation(ctx, 8))

	ops := e.queue.All()
	require.Len(t, ops, 3)
	assert.Equal(t, "timeentry:15:delete", ops[0].ResourceKey)
	assert.Equal(t, "version:3:delete", ops[1].ResourceKey)
	assert.Equal(t, "relation:8:delete", ops[2].ResourceKey)
}

func TestProxyKeepsDraftWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var warnings []string
	e.proxy.OnWarning = func(msg string) { warnings = append(warnings, msg) }
	e.store.FailWrites(1, errors.New("disk full"))

	require.NoError(t, e.proxy.SetIssueStatus(ctx, 42, 3))
	created, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "Later"})
	require.NoError(t, err)

	assert.Negative(t, created.Issue.ID)
	assert.Equal(t, 2, e.queue.Count())
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "disk full")
}

func TestProxyRejectsInvalidInput(t *testing.T) {
	e := newEnv(t)
	err := e.proxy.SetIssueDoneRatio(context.Background(), 42, 120)
	assert.Error(t, err)
	assert.Equal(t, 0, e.queue.Count())
}

func TestProxyDeletingDraftDiscardsIndirectDependents(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	existing := e.server.AddIssue(redmine.Issue{Subject: "Existing"})

	issue, err := e.proxy.CreateIssue(ctx, redmine.IssueCreate{ProjectID: 1, Subject: "Scratch"})
	require.NoError(t, err)
	entry, err := e.proxy.CreateTimeEntry(ctx, redmine.TimeEntryCreate{IssueID: issue.Issue.ID, Hours: 1})
	require.NoError(t, err)
	hours := 2.5
	require.NoError(t, e.proxy.UpdateTimeEntry(ctx, entry.TimeEntry.ID, redmine.TimeEntryUpdate{Hours: &hours}))
	require.NoError(t, e.proxy.SetIssueStatus(ctx, existing, 3))
	require.Equal(t, 4, e.queue.Count())

	require.NoError(t, e.proxy.DeleteIssue(ctx, issue.Issue.ID))

	ops := e.queue.All()
	require.Len(t, ops, 1)
	assert.Equal(t, existing, ops[0].IssueID)

	results, err := NewApplier(e.queue, e.client).ApplyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ApplySummary{Applied: 1}, Summarize(results))
	assert.Equal(t, 0, e.queue.Count())
}
