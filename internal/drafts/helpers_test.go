package drafts

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steveyegge/redmine-drafts/internal/redmine"
	"github.com/steveyegge/redmine-drafts/internal/redmine/redminetest"
	"github.com/steveyegge/redmine-drafts/internal/storage/memory"
)

const (
	identityA = "identity-a"
	identityB = "identity-b"
)

func newLoadedQueue(t *testing.T) (*Queue, *memory.Store) {
	t.Helper()
	store := memory.New()
	q := NewQueue(store)
	require.NoError(t, q.Load(context.Background(), identityA, LoadOptions{}))
	return q, store
}

func statusOp(t *testing.T, issue, status int) Operation {
	t.Helper()
	req, err := redmine.SetIssueStatusRequest(issue, status)
	require.NoError(t, err)
	return Operation{
		Type:        OpSetIssueStatus,
		IssueID:     issue,
		HTTP:        req,
		ResourceKey: ResourceKey(ResourceIssue, strconv.Itoa(issue), "status"),
		Description: "status",
	}
}

func noteOp(t *testing.T, issue int, text string) Operation {
	t.Helper()
	req, err := redmine.AddIssueNoteRequest(issue, text)
	require.NoError(t, err)
	return Operation{
		Type:        OpAddIssueNote,
		IssueID:     issue,
		HTTP:        req,
		ResourceKey: NoteKey(strconv.Itoa(issue)),
		Description: text,
	}
}

func seedDocument(t *testing.T, store *memory.Store, identity string, ops ...Operation) []byte {
	t.Helper()
	for i := range ops {
		if ops[i].ID == "" {
			ops[i].ID = NewID()
		}
	}
	data, err := json.Marshal(Document{Version: DocumentVersion, ServerIdentity: identity, Operations: ops})
	require.NoError(t, err)
	store.Seed(data)
	return data
}

func decodeDocument(t *testing.T, data []byte) Document {
	t.Helper()
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

// memState is an in-memory StateStore.
type memState struct {
	mu     sync.Mutex
	values map[string]bool
	err    error
}

func newMemState() *memState { return &memState{values: map[string]bool{}} }

func (s *memState) GetBool(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *memState) SetBool(key string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.values[key] = v
	return nil
}

// recordingFlag records every SetContext call.
type recordingFlag struct {
	mu    sync.Mutex
	calls []bool
}

func (f *recordingFlag) SetContext(key string, v bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, v)
	return nil
}

func (f *recordingFlag) Calls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

type env struct {
	server *redminetest.Server
	client *redmine.Client
	queue  *Queue
	store  *memory.Store
	mode   *Mode
	proxy  *Proxy
}

// newEnv wires a proxy over a fake Redmine with draft mode on.
func newEnv(t *testing.T) *env {
	t.Helper()
	srv := redminetest.NewServer()
	t.Cleanup(srv.Close)
	q, store := newLoadedQueue(t)
	mode := NewMode(newMemState(), nil)
	require.NoError(t, mode.Enable())
	client := srv.Client()
	return &env{
		server: srv,
		client: client,
		queue:  q,
		store:  store,
		mode:   mode,
		proxy:  NewProxy(client, q, mode),
	}
}

func intPtr(v int) *int { return &v }
