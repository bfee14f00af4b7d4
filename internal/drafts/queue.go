package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/storage"
)

// DocumentVersion is the only persisted format version Load understands.
const DocumentVersion = 1

// Document is the persisted form of a Queue.
type Document struct {
	Version        int         `json:"version"`
	ServerIdentity string      `json:"serverIdentity"`
	Operations     []Operation `json:"operations"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Force discards pending drafts that belong to another identity.
	Force bool
}

// ServerConflict describes pending drafts bound to another identity.
type ServerConflict struct {
	Count int
}

// Queue is the ordered list of pending operations. At most one operation
// exists per resource key, except notes, which always accumulate.
//
// Every mutation updates memory immediately, then rewrites the whole
// document. Writes are chained: each one starts only after the previous one
// has finished, so they land in the order the mutations were made even when
// callers do not wait for each other. A failed write is reported to the
// caller that made it and does not affect later writes.
type Queue struct {
	store  storage.Document
	logger *zap.Logger

	mu       sync.Mutex
	loaded   bool
	identity string
	ops      []Operation
	// tail is closed when the most recently scheduled write has finished.
	tail chan struct{}

	changes *emitter[Change]
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger used for swallowed write failures.
func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// NewQueue returns an unloaded queue persisted to store.
func NewQueue(store storage.Document, opts ...QueueOption) *Queue {
	q := &Queue{
		store:  store,
		logger: debug.Named("drafts.queue"),
		tail:   closedChan(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.changes = newEmitter[Change]("queue", q.logger)
	return q
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// readDocument returns the persisted document, or nil if it is missing,
// malformed, or of an unknown version.
func (q *Queue) readDocument(ctx context.Context) (*Document, error) {
	data, err := q.store.Read(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read draft queue: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		q.logger.Warn("ignoring unreadable draft queue", zap.Error(err))
		return nil, nil
	}
	if doc.Version != DocumentVersion {
		q.logger.Warn("ignoring draft queue with unknown version", zap.Int("version", doc.Version))
		return nil, nil
	}
	return &doc, nil
}

// Load reads the persisted queue for identity. A missing or unreadable
// document yields an empty queue. If the document is bound to another
// identity and still has operations, Load returns *IdentityConflictError
// unless opts.Force is set; otherwise the document is replaced by an empty
// one bound to identity.
func (q *Queue) Load(ctx context.Context, identity string, opts LoadOptions) error {
	doc, err := q.readDocument(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	switch {
	case doc != nil && doc.ServerIdentity == identity:
		q.ops = make([]Operation, 0, len(doc.Operations))
		for _, op := range doc.Operations {
			if !op.Type.Valid() {
				q.logger.Warn("dropping draft of unknown type", zap.String("id", op.ID), zap.String("type", string(op.Type)))
				continue
			}
			q.ops = append(q.ops, op)
		}
		q.identity = identity
		q.loaded = true
		q.mu.Unlock()
		q.notify(ctx)
		return nil

	case doc != nil && len(doc.Operations) > 0 && !opts.Force:
		q.mu.Unlock()
		return &IdentityConflictError{Pending: len(doc.Operations)}

	case doc == nil:
		q.ops = nil
		q.identity = identity
		q.loaded = true
		q.mu.Unlock()
		q.notify(ctx)
		return nil
	}

	if len(doc.Operations) > 0 {
		q.logger.Info("discarding drafts of previous server identity", zap.Int("count", len(doc.Operations)))
	}
	q.ops = nil
	q.identity = identity
	q.loaded = true
	wait := q.scheduleWriteLocked(ctx)
	q.mu.Unlock()

	err = wait()
	q.notify(ctx)
	return err
}

// CheckServerConflict reports pending drafts persisted under an identity
// other than identity, without changing anything. It returns nil when
// there is nothing to lose.
func (q *Queue) CheckServerConflict(ctx context.Context, identity string) (*ServerConflict, error) {
	doc, err := q.readDocument(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.ServerIdentity == identity || len(doc.Operations) == 0 {
		return nil, nil
	}
	return &ServerConflict{Count: len(doc.Operations)}, nil
}

// Add queues op. An existing operation with the same resource key is
// replaced in place; notes are always appended. Missing ids and timestamps
// are filled in.
func (q *Queue) Add(ctx context.Context, op Operation) error {
	if !op.Type.Valid() {
		return fmt.Errorf("invalid draft operation type %q", op.Type)
	}
	if op.ID == "" {
		op.ID = NewID()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	op = op.clone()

	q.mu.Lock()
	if !q.loaded {
		q.mu.Unlock()
		return ErrNotLoaded
	}
	replaced := false
	if !op.Type.IsNote() && op.ResourceKey != "" {
		for i := range q.ops {
			if q.ops[i].ResourceKey != op.ResourceKey {
				continue
			}
			if q.dependsOnLaterLocked(op, i) {
				// Keep insertion order valid: the replacement must run after
				// the create it now waits for.
				q.ops = append(q.ops[:i], q.ops[i+1:]...)
				break
			}
			q.ops[i] = op
			replaced = true
			break
		}
	}
	if !replaced {
		q.ops = append(q.ops, op)
	}
	wait := q.scheduleWriteLocked(ctx)
	q.mu.Unlock()

	err := wait()
	q.notify(ctx)
	return err
}

// dependsOnLaterLocked reports whether op waits for a create queued after
// index i.
func (q *Queue) dependsOnLaterLocked(op Operation, i int) bool {
	if len(op.DependsOn) == 0 {
		return false
	}
	for _, later := range q.ops[i+1:] {
		if later.TempID == "" {
			continue
		}
		for _, dep := range op.DependsOn {
			if dep == later.TempID {
				return true
			}
		}
	}
	return false
}

// Remove removes the operation with id.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.removeWhere(ctx, func(op Operation) bool { return op.ID == id })
}

// RemoveMany removes the operations with the given ids.
func (q *Queue) RemoveMany(ctx context.Context, ids []string) error {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return q.removeWhere(ctx, func(op Operation) bool { return set[op.ID] })
}

// RemoveByKey removes the operation with resourceKey.
func (q *Queue) RemoveByKey(ctx context.Context, resourceKey string) error {
	return q.removeWhere(ctx, func(op Operation) bool { return op.ResourceKey == resourceKey })
}

// RemoveByTempIDPrefix removes the creates whose temp id starts with
// prefix, along with every operation that depends on one of them, directly
// or through another removed create.
func (q *Queue) RemoveByTempIDPrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	return q.removeSelected(ctx, func(ops []Operation) map[string]bool {
		return dependentsOf(ops, prefix)
	})
}

// dependentsOf returns the ids of the creates in ops whose temp id starts
// with prefix and of everything that transitively depends on them.
func dependentsOf(ops []Operation, prefix string) map[string]bool {
	gone := make(map[string]bool)
	for _, op := range ops {
		if op.TempID != "" && strings.HasPrefix(op.TempID, prefix) {
			gone[op.TempID] = true
		}
	}
	removed := make(map[string]bool)
	for grew := true; grew; {
		grew = false
		for _, op := range ops {
			if removed[op.ID] {
				continue
			}
			if !gone[op.TempID] && !dependsOnAny(op, prefix, gone) {
				continue
			}
			removed[op.ID] = true
			grew = true
			if op.TempID != "" {
				gone[op.TempID] = true
			}
		}
	}
	return removed
}

func dependsOnAny(op Operation, prefix string, tempIDs map[string]bool) bool {
	for _, dep := range op.DependsOn {
		if tempIDs[dep] || strings.HasPrefix(dep, prefix) {
			return true
		}
	}
	return false
}

// Clear removes every operation.
func (q *Queue) Clear(ctx context.Context) error {
	return q.removeWhere(ctx, func(Operation) bool { return true })
}

// removeWhere drops matching operations. Nothing is written and no one is
// notified when nothing matched.
func (q *Queue) removeWhere(ctx context.Context, match func(Operation) bool) error {
	return q.removeSelected(ctx, func(ops []Operation) map[string]bool {
		ids := make(map[string]bool)
		for _, op := range ops {
			if match(op) {
				ids[op.ID] = true
			}
		}
		return ids
	})
}

// removeSelected drops the operations whose ids selectIDs picks from the
// current queue, under the same lock.
func (q *Queue) removeSelected(ctx context.Context, selectIDs func([]Operation) map[string]bool) error {
	q.mu.Lock()
	if !q.loaded {
		q.mu.Unlock()
		return ErrNotLoaded
	}
	ids := selectIDs(q.ops)
	kept := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if !ids[op.ID] {
			kept = append(kept, op)
		}
	}
	if len(kept) == len(q.ops) {
		q.mu.Unlock()
		return nil
	}
	q.ops = kept
	wait := q.scheduleWriteLocked(ctx)
	q.mu.Unlock()

	err := wait()
	q.notify(ctx)
	return err
}

// ResolveTempID records that the create owning tempID now exists as
// realID. The create is removed and every operation referencing tempID is
// rewritten to use realID, in one write, so a later run can send them
// without knowing about this one.
func (q *Queue) ResolveTempID(ctx context.Context, tempID string, realID int) error {
	if realID <= 0 {
		return fmt.Errorf("invalid real id %d for %s", realID, tempID)
	}
	realStr := strconv.Itoa(realID)

	q.mu.Lock()
	if !q.loaded {
		q.mu.Unlock()
		return ErrNotLoaded
	}
	placeholder := 0
	for _, op := range q.ops {
		if op.TempID == tempID {
			placeholder = op.PlaceholderID
			break
		}
	}

	changed := false
	kept := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if op.TempID == tempID {
			changed = true
			continue
		}
		if !op.References(tempID) {
			kept = append(kept, op)
			continue
		}
		rewritten, err := resolveInOperation(op, tempID, realStr, placeholder, realID)
		if err != nil {
			q.mu.Unlock()
			return err
		}
		kept = append(kept, rewritten)
		changed = true
	}
	if !changed {
		q.mu.Unlock()
		return nil
	}
	q.ops = kept
	wait := q.scheduleWriteLocked(ctx)
	q.mu.Unlock()

	err := wait()
	q.notify(ctx)
	return err
}

func resolveInOperation(op Operation, tempID, realStr string, placeholder, realID int) (Operation, error) {
	op = op.clone()
	req, err := TempIDMap{tempID: realID}.Substitute(op.HTTP)
	if err != nil {
		return op, fmt.Errorf("failed to resolve %s in draft %s: %w", tempID, op.ID, err)
	}
	op.HTTP = req
	if placeholder != 0 {
		if op.IssueID == placeholder {
			op.IssueID = realID
		}
		if op.ResourceID == placeholder {
			op.ResourceID = realID
		}
	}
	if parts := strings.SplitN(op.ResourceKey, ":", 3); len(parts) == 3 && parts[1] == tempID {
		op.ResourceKey = parts[0] + ":" + realStr + ":" + parts[2]
	}
	deps := op.DependsOn[:0]
	for _, dep := range op.DependsOn {
		if dep != tempID {
			deps = append(deps, dep)
		}
	}
	if len(deps) == 0 {
		deps = nil
	}
	op.DependsOn = deps
	return op, nil
}

// scheduleWriteLocked snapshots the current state and queues a write of it
// behind every previously scheduled write. The returned func waits for this
// write and returns its error. q.mu must be held.
func (q *Queue) scheduleWriteLocked(ctx context.Context) func() error {
	data, marshalErr := json.Marshal(Document{
		Version:        DocumentVersion,
		ServerIdentity: q.identity,
		Operations:     q.snapshotLocked(),
	})

	prev := q.tail
	done := make(chan struct{})
	q.tail = done
	result := make(chan error, 1)
	writeCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(done)
		<-prev
		if marshalErr != nil {
			result <- &PersistError{Err: marshalErr}
			return
		}
		if err := q.store.Write(writeCtx, data); err != nil {
			q.logger.Warn("draft queue write failed; keeping drafts in memory", zap.Error(err))
			result <- &PersistError{Err: err}
			return
		}
		result <- nil
	}()

	return func() error {
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush waits for every write scheduled so far.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) notify(ctx context.Context) {
	q.changes.emit(Change{Source: ChangeSource(ctx)})
}

// OnDidChange subscribes h to queue mutations and returns a func that
// unsubscribes it.
func (q *Queue) OnDidChange(h func(Change)) func() {
	return q.changes.subscribe(h)
}

func (q *Queue) snapshotLocked() []Operation {
	out := make([]Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.clone()
	}
	return out
}

// All returns a copy of the queued operations in insertion order.
func (q *Queue) All() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Get returns the operation with id.
func (q *Queue) Get(id string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.ID == id {
			return op.clone(), true
		}
	}
	return Operation{}, false
}

// ByIssueID returns the operations targeting issue id.
func (q *Queue) ByIssueID(id int) []Operation {
	return q.filter(func(op Operation) bool { return op.IssueID == id })
}

// ByKeyPrefix returns the operations whose resource key starts with prefix.
func (q *Queue) ByKeyPrefix(prefix string) []Operation {
	return q.filter(func(op Operation) bool { return strings.HasPrefix(op.ResourceKey, prefix) })
}

// PlaceholderTempID returns the temp id of the queued create that handed
// out placeholder.
func (q *Queue) PlaceholderTempID(placeholder int) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.PlaceholderID == placeholder && op.TempID != "" {
			return op.TempID, true
		}
	}
	return "", false
}

func (q *Queue) filter(keep func(Operation) bool) []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Operation
	for _, op := range q.ops {
		if keep(op) {
			out = append(out, op.clone())
		}
	}
	return out
}

// Count returns the number of queued operations.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Loaded reports whether Load has succeeded.
func (q *Queue) Loaded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loaded
}

// Identity returns the server identity the queue is bound to.
func (q *Queue) Identity() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.identity
}
