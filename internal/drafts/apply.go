package drafts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/steveyegge/redmine-drafts/internal/debug"
	"github.com/steveyegge/redmine-drafts/internal/redmine"
)

const metricsScope = "github.com/steveyegge/redmine-drafts/drafts"

// ApplyResult is the outcome of replaying one operation.
type ApplyResult struct {
	Operation Operation `json:"operation"`
	Success   bool      `json:"success"`
	// Skipped is set when the operation was not sent because a create it
	// depends on has not succeeded. It stays queued.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	// RealID is the id Redmine assigned, for creates.
	RealID int `json:"realId,omitempty"`
}

// ApplySummary counts the results of a run.
type ApplySummary struct {
	Applied int
	Failed  int
	Skipped int
}

// Summarize counts results by outcome.
func Summarize(results []ApplyResult) ApplySummary {
	var s ApplySummary
	for _, r := range results {
		switch {
		case r.Success:
			s.Applied++
		case r.Skipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// Applier replays queued operations against the real client.
//
// Operations are sent in queue order. A successful operation leaves the
// queue; a successful create also resolves its temp id so later
// operations that reference it are sent with the real id. A failed
// operation stays queued, and so does everything that depends on a create
// that has not succeeded.
type Applier struct {
	queue  *Queue
	client redmine.API
	logger *zap.Logger
	group  singleflight.Group

	applied  metric.Int64Counter
	failed   metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram

	// Progress callbacks for the UI.
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// NewApplier returns an Applier that sends queue's operations through
// client. client must be the real client, not a Proxy.
func NewApplier(queue *Queue, client redmine.API) *Applier {
	a := &Applier{
		queue:  queue,
		client: client,
		logger: debug.Named("drafts.apply"),
	}
	a.initMetrics()
	return a
}

func (a *Applier) initMetrics() {
	m := otel.Meter(metricsScope)
	a.applied, _ = m.Int64Counter("rd.drafts.applied",
		metric.WithDescription("Draft operations applied to Redmine"))
	a.failed, _ = m.Int64Counter("rd.drafts.failed",
		metric.WithDescription("Draft operations Redmine rejected"))
	a.skipped, _ = m.Int64Counter("rd.drafts.skipped",
		metric.WithDescription("Draft operations held back by an unresolved dependency"))
	a.duration, _ = m.Float64Histogram("rd.drafts.apply.duration",
		metric.WithDescription("Duration of an apply run in milliseconds"),
		metric.WithUnit("ms"))
	_, _ = m.Int64ObservableGauge("rd.drafts.queue.size",
		metric.WithDescription("Operations waiting in the draft queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(a.queue.Count()))
			return nil
		}))
}

// ApplyAll replays every queued operation. Calls made while a run is in
// progress wait for it and share its results.
func (a *Applier) ApplyAll(ctx context.Context) ([]ApplyResult, error) {
	v, err, shared := a.group.Do("apply-all", func() (interface{}, error) {
		return a.run(ctx, a.queue.All())
	})
	if shared {
		a.logger.Debug("joined apply run in progress")
	}
	results, _ := v.([]ApplyResult)
	return append([]ApplyResult(nil), results...), err
}

// ApplyOne replays the operation with id. It is skipped if it depends on a
// create that is still queued.
func (a *Applier) ApplyOne(ctx context.Context, id string) (ApplyResult, error) {
	op, ok := a.queue.Get(id)
	if !ok {
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	results, err := a.run(ctx, []Operation{op})
	if err != nil {
		return ApplyResult{}, err
	}
	return results[0], nil
}

// DiscardAll drops every queued operation. Callers confirm with the user
// first.
func (a *Applier) DiscardAll(ctx context.Context) error {
	n := a.queue.Count()
	if err := a.queue.Clear(ctx); err != nil {
		return err
	}
	a.msg("Discarded %d draft(s)", n)
	return nil
}

func (a *Applier) run(ctx context.Context, ops []Operation) ([]ApplyResult, error) {
	start := time.Now()
	temp := TempIDMap{}
	results := make([]ApplyResult, 0, len(ops))

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("apply interrupted: %w", err)
		}
		res := a.applyOperation(ctx, op, temp)
		results = append(results, res)
		attrs := metric.WithAttributes(attribute.String("type", string(op.Type)))
		switch {
		case res.Success:
			a.applied.Add(ctx, 1, attrs)
			a.msg("Applied: %s", op.Description)
		case res.Skipped:
			a.skipped.Add(ctx, 1, attrs)
			a.warn("Skipped: %s (%s)", op.Description, res.Error)
		default:
			a.failed.Add(ctx, 1, attrs)
			a.warn("Failed: %s: %s", op.Description, res.Error)
		}
	}

	a.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s := Summarize(results)
	a.logger.Info("apply finished",
		zap.Int("applied", s.Applied),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

func (a *Applier) applyOperation(ctx context.Context, op Operation, temp TempIDMap) ApplyResult {
	res := ApplyResult{Operation: op}

	for _, dep := range op.DependsOn {
		if _, ok := temp.Resolved(dep); ok {
			continue
		}
		res.Skipped = true
		if a.queueHasCreate(dep) {
			res.Error = fmt.Sprintf("waiting for draft %s to be created", dep)
		} else {
			res.Error = fmt.Sprintf("depends on draft %s, which is no longer queued", dep)
		}
		return res
	}

	req, err := temp.Substitute(op.HTTP)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	body, err := a.client.Do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		res.Error = err.Error()
		a.logger.Debug("draft rejected", zap.String("id", op.ID), zap.Error(err))
		return res
	}
	res.Success = true

	if op.Type.IsCreate() {
		realID, err := createdID(op.Type, body)
		if err != nil {
			// The resource exists remotely, but dependents cannot be resolved.
			res.Error = err.Error()
			a.warn("Applied %s but could not read the new id: %v", op.Description, err)
			a.persist(op, a.queue.Remove(ctx, op.ID))
			return res
		}
		res.RealID = realID
		temp[op.TempID] = realID
		a.persist(op, a.queue.ResolveTempID(ctx, op.TempID, realID))
		return res
	}

	a.persist(op, a.queue.Remove(ctx, op.ID))
	return res
}

// persist reports a queue write that failed after Redmine accepted the
// operation. The queue in memory is already correct.
func (a *Applier) persist(op Operation, err error) {
	if err == nil {
		return
	}
	a.logger.Warn("applied draft but could not update the saved queue", zap.String("id", op.ID), zap.Error(err))
	a.warn("Applied %s but the saved draft queue could not be updated: %v", op.Description, err)
}

func (a *Applier) queueHasCreate(tempID string) bool {
	for _, op := range a.queue.All() {
		if op.TempID == tempID {
			return true
		}
	}
	return false
}

// createdID extracts the id from a create response such as
// {"issue": {"id": 42, ...}}.
func createdID(t OpType, body []byte) (int, error) {
	envelope := descriptors[t].envelope
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("failed to parse %s response: %w", envelope, err)
	}
	var created struct {
		ID int `json:"id"`
	}
	if raw, ok := payload[envelope]; ok {
		if err := json.Unmarshal(raw, &created); err != nil {
			return 0, fmt.Errorf("failed to parse %s response: %w", envelope, err)
		}
	}
	if created.ID <= 0 {
		return 0, fmt.Errorf("%s response has no id", envelope)
	}
	return created.ID, nil
}

func (a *Applier) msg(format string, args ...interface{}) {
	if a.OnMessage != nil {
		a.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (a *Applier) warn(format string, args ...interface{}) {
	if a.OnWarning != nil {
		a.OnWarning(fmt.Sprintf(format, args...))
	}
}
