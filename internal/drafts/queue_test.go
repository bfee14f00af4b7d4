package drafts

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/steveyegge/redmine-drafts/internal/storage/memory"
)

func TestMutationsBeforeLoad(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(memory.New())

	assert.ErrorIs(t, q.Add(ctx, statusOp(t, 1, 2)), ErrNotLoaded)
	assert.ErrorIs(t, q.Remove(ctx, "x"), ErrNotLoaded)
	assert.ErrorIs(t, q.Clear(ctx), ErrNotLoaded)
	assert.ErrorIs(t, q.ResolveTempID(ctx, "draft-issue-x", 5), ErrNotLoaded)
	assert.False(t, q.Loaded())
}

func TestLoadMissingDocumentStartsEmpty(t *testing.T) {
	store := memory.New()
	q := NewQueue(store)
	require.NoError(t, q.Load(context.Background(), identityA, LoadOptions{}))
	assert.Equal(t, 0, q.Count())
	assert.Equal(t, identityA, q.Identity())
	assert.Empty(t, store.Writes())
}

func TestLoadIgnoresUnreadableDocuments(t *testing.T) {
	cases := map[string]string{
		"malformed":       `{"version":1,"operations":[`,
		"unknown version": `{"version":2,"serverIdentity":"identity-a","operations":[{"id":"x","type":"setIssueStatus"}]}`,
		"not an object":   `[]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			store := memory.New()
			store.Seed([]byte(doc))
			q := NewQueue(store)
			require.NoError(t, q.Load(context.Background(), identityA, LoadOptions{}))
			assert.Equal(t, 0, q.Count())
		})
	}
}

func TestLoadReadError(t *testing.T) {
	store := memory.New()
	store.FailReads(errors.New("permission denied"))
	q := NewQueue(store)
	err := q.Load(context.Background(), identityA, LoadOptions{})
	require.Error(t, err)
	assert.False(t, q.Loaded())
}

func TestLoadRestoresOperations(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedDocument(t, store, identityA, statusOp(t, 1, 2), noteOp(t, 1, "hello"), Operation{ID: "bogus", Type: "renameIssue"})

	q := NewQueue(store)
	changes := 0
	q.OnDidChange(func(Change) { changes++ })
	require.NoError(t, q.Load(ctx, identityA, LoadOptions{}))

	ops := q.All()
	require.Len(t, ops, 2)
	assert.Equal(t, OpSetIssueStatus, ops[0].Type)
	assert.Equal(t, OpAddIssueNote, ops[1].Type)
	assert.Equal(t, 1, changes)
}

func TestIdentitySwitchDiscard(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	original := seedDocument(t, store, identityA, statusOp(t, 1, 2), statusOp(t, 2, 3))
	q := NewQueue(store)

	conflict, err := q.CheckServerConflict(ctx, identityB)
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, 2, conflict.Count)

	none, err := q.CheckServerConflict(ctx, identityA)
	require.NoError(t, err)
	assert.Nil(t, none)

	err = q.Load(ctx, identityB, LoadOptions{})
	ic, ok := IsIdentityConflict(err)
	require.True(t, ok, "expected identity conflict, got %v", err)
	assert.Equal(t, 2, ic.Pending)
	assert.False(t, q.Loaded())
	assert.Empty(t, store.Writes())
	assert.Equal(t, original, store.Data())

	require.NoError(t, q.Load(ctx, identityB, LoadOptions{Force: true}))
	assert.Equal(t, 0, q.Count())
	doc := decodeDocument(t, store.Data())
	assert.Equal(t, identityB, doc.ServerIdentity)
	assert.Empty(t, doc.Operations)
}

func TestLoadOtherIdentityWithoutDraftsRebinds(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedDocument(t, store, identityA)
	q := NewQueue(store)

	conflict, err := q.CheckServerConflict(ctx, identityB)
	require.NoError(t, err)
	assert.Nil(t, conflict)

	require.NoError(t, q.Load(ctx, identityB, LoadOptions{}))
	assert.Equal(t, identityB, decodeDocument(t, store.Data()).ServerIdentity)
}

func TestAddReplacesSameResourceKey(t *testing.T) {
	ctx := context.Background()
	q, store := newLoadedQueue(t)

	require.NoError(t, q.Add(ctx, statusOp(t, 42, 3)))
	require.NoError(t, q.Add(ctx, statusOp(t, 7, 1)))
	last := statusOp(t, 42, 5)
	last.ID = "last"
	require.NoError(t, q.Add(ctx, last))

	ops := q.All()
	require.Len(t, ops, 2)
	// Replaced in place, so the original position is kept.
	assert.Equal(t, "last", ops[0].ID)
	assert.Equal(t, "issue:42:status", ops[0].ResourceKey)
	assert.JSONEq(t, `{"issue":{"status_id":5}}`, string(ops[0].HTTP.Body))
	assert.Len(t, decodeDocument(t, store.Data()).Operations, 2)
}

func TestNotesAccumulate(t *testing.T) {
	ctx := context.Background()
	q, _ := newLoadedQueue(t)

	for i := 0; i < 5; i++ {
		op := noteOp(t, 42, "note "+strconv.Itoa(i))
		require.NoError(t, q.Add(ctx, op))
	}
	// Even a reused key does not collapse notes.
	dup := noteOp(t, 42, "again")
	require.NoError(t, q.Add(ctx, dup))
	dup.ID = ""
	require.NoError(t, q.Add(ctx, dup))

	assert.Len(t, q.ByIssueID(42), 7)
	assert.Len(t, q.ByKeyPrefix("issue:42:note:"), 7)
}

func TestAddRejectsUnknownType(t *testing.T) {
	q, _ := newLoadedQueue(t)
	err := q.Add(context.Background(), Operation{Type: "renameIssue"})
	assert.Error(t, err)
	assert.Equal(t, 0, q.Count())
}

func TestWritesLandInCallOrder(t *testing.T) {
	ctx := context.Background()
	q, store := newLoadedQueue(t)
	store.Hold()

	const n = 5
	errs := make(chan error, n+1)
	var firstID string
	for i := 0; i < n; i++ {
		op := statusOp(t, 100+i, 1)
		op.ID = NewID()
		if i == 0 {
			firstID = op.ID
		}
		go func() { errs <- q.Add(ctx, op) }()
		// Memory reflects the call before its write lands.
		require.Eventually(t, func() bool { return q.Count() == i+1 }, time.Second, time.Millisecond)
	}
	go func() { errs <- q.Remove(ctx, firstID) }()
	require.Eventually(t, func() bool { return q.Count() == n-1 }, time.Second, time.Millisecond)

	assert.Empty(t, store.Writes())
	store.Release()
	for i := 0; i < n+1; i++ {
		require.NoError(t, <-errs)
	}

	writes := store.Writes()
	require.Len(t, writes, n+1)
	for i := 0; i < n; i++ {
		assert.Len(t, decodeDocument(t, writes[i]).Operations, i+1, "write %d", i)
	}
	assert.Len(t, decodeDocument(t, writes[n]).Operations, n-1)
	assert.Equal(t, 1, store.MaxInFlight())
}

func TestFailedWriteIsReportedAndChainContinues(t *testing.T) {
	ctx := context.Background()
	q, store := newLoadedQueue(t)
	boom := errors.New("disk full")
	store.FailWrites(1, boom)

	err := q.Add(ctx, statusOp(t, 1, 2))
	require.ErrorIs(t, err, boom)
	var perr *PersistError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, q.Count(), "memory keeps the draft")

	require.NoError(t, q.Add(ctx, statusOp(t, 2, 2)))
	assert.Len(t, decodeDocument(t, store.Data()).Operations, 2)
}

func TestNoopRemovalsDoNotWriteOrNotify(t *testing.T) {
	ctx := context.Background()
	q, store := newLoadedQueue(t)
	require.NoError(t, q.Add(ctx, statusOp(t, 1, 2)))

	writes := len(store.Writes())
	notified := 0
	q.OnDidChange(func(Change) { notified++ })

	require.NoError(t, q.Remove(ctx, "missing"))
	require.NoError(t, q.RemoveMany(ctx, []string{"a", "b"}))
	require.NoError(t, q.RemoveByKey(ctx, "issue:99:status"))
	require.NoError(t, q.RemoveByTempIDPrefix(ctx, "draft-issue-nope"))
	require.NoError(t, q.RemoveByTempIDPrefix(ctx, ""))

	assert.Len(t, store.Writes(), writes)
	assert.Equal(t, 0, notified)

	require.NoError(t, q.Clear(ctx))
	require.NoError(t, q.Clear(ctx))
	assert.Len(t, store.Writes(), writes+1)
	assert.Equal(t, 1, notified)
}

func TestRemovals(t *testing.T) {
	ctx := context.Background()
	q, _ := newLoadedQueue(t)
	a, b, c := statusOp(t, 1, 2), statusOp(t, 2, 2), statusOp(t, 3, 2)
	a.ID, b.ID, c.ID = "a", "b", "c"
	for _, op := range []Operation{a, b, c} {
		require.NoError(t, q.Add(ctx, op))
	}

	require.NoError(t, q.RemoveByKey(ctx, "issue:2:status"))
	assert.Equal(t, 2, q.Count())
	require.NoError(t, q.RemoveMany(ctx, []string{"a", "c"}))
	assert.Equal(t, 0, q.Count())
}

func TestRemoveByTempIDPrefixTakesDependents(t *testing.T) {
	ctx := context.Background()
	q, _ := newLoadedQueue(t)

	create := Operation{Type: OpCreateIssue, TempID: "draft-issue-1", PlaceholderID: -10, ResourceKey: "issue:draft-issue-1:create"}
	dependent := statusOp(t, -10, 3)
	dependent.DependsOn = []string{"draft-issue-1"}
	dependent.ResourceKey = "issue:draft-issue-1:status"
	other := statusOp(t, 5, 3)
	for _, op := range []Operation{create, dependent, other} {
		require.NoError(t, q.Add(ctx, op))
	}

	require.NoError(t, q.RemoveByTempIDPrefix(ctx, "draft-issue-1"))
	ops := q.All()
	require.Len(t, ops, 1)
	assert.Equal(t, 5, ops[0].IssueID)
}

func TestRemoveByTempIDPrefixFollowsChains(t *testing.T) {
	ctx := context.Background()
	q, _ := newLoadedQueue(t)

	issue := Operation{Type: OpCreateIssue, TempID: "draft-issue-1", PlaceholderID: -10, ResourceKey: "issue:draft-issue-1:create"}
	entry := Operation{Type: OpCreateTimeEntry, TempID: "draft-timeentry-2", PlaceholderID: -20,
		ResourceKey: "timeentry:draft-timeentry-2:create", DependsOn: []string{"draft-issue-1"}}
	edit := Operation{Type: OpUpdateTimeEntry, ResourceID: -20,
		ResourceKey: "timeentry:draft-timeentry-2:update", DependsOn: []string{"draft-timeentry-2"}}
	other := statusOp(t, 5, 3)
	// The edit is queued ahead of the create it waits on, so one pass in
	// queue order would miss it.
	for _, op := range []Operation{issue, edit, entry, other} {
		require.NoError(t, q.Add(ctx, op))
	}

	require.NoError(t, q.RemoveByTempIDPrefix(ctx, "draft-issue-1"))
	ops := q.All()
	require.Len(t, ops, 1)
	assert.Equal(t, 5, ops[0].IssueID)
}

func TestAddMovesReplacementBehindNewDependency(t *testing.T) {
	ctx := context.Background()
	q, _ := newLoadedQueue(t)

	first := Operation{Type: OpUpdateIssue, IssueID: 1001, ResourceKey: "issue:1001:update"}
	version := Operation{Type: OpCreateVersion, TempID: "draft-version-1", PlaceholderID: -30, ResourceKey: "version:draft-version-1:create"}
	status := statusOp(t, 7, 2)
	for _, op := range []Operation{first, version, status} {
		require.NoError(t, q.Add(ctx, op))
	}

	second := Operation{ID: "second", Type: OpUpdateIssue, IssueID: 1001, ResourceKey: "issue:1001:update",
		DependsOn: []string{"draft-version-1"}}
	require.NoError(t, q.Add(ctx, second))

	ops := q.All()
	require.Len(t, ops, 3)
	assert.Equal(t, "version:draft-version-1:create", ops[0].ResourceKey)
	assert.Equal(t, "issue:7:status", ops[1].ResourceKey)
	assert.Equal(t, "second", ops[2].ID)
}

func TestResolveTempIDRewritesDependents(t *testing.T) {
	ctx := context.Background()
	q, store := newLoadedQueue(t)

	create := Operation{Type: OpCreateIssue, TempID: "draft-issue-1", PlaceholderID: -10, ResourceKey: "issue:draft-issue-1:create"}
	dependent := Operation{
		Type:        OpSetIssueStatus,
		IssueID:     -10,
		DependsOn:   []string{"draft-issue-1"},
		ResourceKey: "issue:draft-issue-1:status",
	}
	dependent.HTTP.Method = "PUT"
	dependent.HTTP.Path = "/issues/draft-issue-1.json"
	dependent.HTTP.Body = []byte(`{"issue":{"status_id":3}}`)
	for _, op := range []Operation{create, dependent} {
		require.NoError(t, q.Add(ctx, op))
	}

	require.NoError(t, q.ResolveTempID(ctx, "draft-issue-1", 501))

	ops := q.All()
	require.Len(t, ops, 1)
	got := ops[0]
	assert.Equal(t, 501, got.IssueID)
	assert.Equal(t, "issue:501:status", got.ResourceKey)
	assert.Equal(t, "/issues/501.json", got.HTTP.Path)
	assert.Empty(t, got.DependsOn)
	assert.Len(t, q.ByIssueID(501), 1)

	saved := decodeDocument(t, store.Data())
	require.Len(t, saved.Operations, 1)
	assert.Equal(t, "/issues/501.json", saved.Operations[0].HTTP.Path)

	assert.Error(t, q.ResolveTempID(ctx, "draft-issue-1", 0))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	ctx := context.Background()
	q, _ := newLoadedQueue(t)
	require.NoError(t, q.Add(ctx, statusOp(t, 1, 2)))

	ops := q.All()
	ops[0].HTTP.Body[0] = 'X'
	ops[0].ResourceKey = "changed"

	fresh := q.All()
	assert.Equal(t, "issue:1:status", fresh[0].ResourceKey)
	assert.Equal(t, byte('{'), fresh[0].HTTP.Body[0])
}

func TestChangeHandlers(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	store := memory.New()
	q := NewQueue(store, WithQueueLogger(zap.New(core)))
	require.NoError(t, q.Load(ctx, identityA, LoadOptions{}))

	var sources []string
	q.OnDidChange(func(Change) { panic("render failed") })
	unsubscribe := q.OnDidChange(func(c Change) { sources = append(sources, c.Source) })

	require.NoError(t, q.Add(WithChangeSource(ctx, "review-panel"), statusOp(t, 1, 2)))
	require.NoError(t, q.Add(ctx, statusOp(t, 2, 2)))
	assert.Equal(t, []string{"review-panel", ""}, sources)
	assert.Equal(t, 2, logs.FilterMessage("change handler panicked").Len())

	unsubscribe()
	unsubscribe()
	require.NoError(t, q.Add(ctx, statusOp(t, 3, 2)))
	assert.Len(t, sources, 2)
}

func TestFlushWaitsForPendingWrites(t *testing.T) {
	ctx := context.Background()
	q, store := newLoadedQueue(t)
	store.Hold()

	go func() { _ = q.Add(ctx, statusOp(t, 1, 2)) }()
	require.Eventually(t, func() bool { return q.Count() == 1 }, time.Second, time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Flush(short), context.DeadlineExceeded)

	store.Release()
	require.NoError(t, q.Flush(ctx))
	assert.Len(t, store.Writes(), 1)
}
