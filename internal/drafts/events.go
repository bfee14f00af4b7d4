package drafts

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Change describes a queue mutation. Handlers read the new contents with
// Queue.All.
type Change struct {
	// Source is the tag passed with WithChangeSource by the caller that
	// caused the change, or "" if none was given.
	Source string
}

type changeSourceKey struct{}

// WithChangeSource tags mutations made with ctx so subscribers can tell
// their own changes apart from others.
func WithChangeSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, changeSourceKey{}, source)
}

// ChangeSource returns the tag set by WithChangeSource.
func ChangeSource(ctx context.Context) string {
	s, _ := ctx.Value(changeSourceKey{}).(string)
	return s
}

// emitter fans a value out to subscribers. A panicking handler is logged
// and the remaining handlers still run.
type emitter[T any] struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(T)
	order    []int
	name     string
	logger   *zap.Logger
}

func newEmitter[T any](name string, logger *zap.Logger) *emitter[T] {
	return &emitter[T]{handlers: make(map[int]func(T)), name: name, logger: logger}
}

func (e *emitter[T]) subscribe(h func(T)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.handlers[id] = h
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.handlers, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i:i], e.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	hs := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		hs = append(hs, e.handlers[id])
	}
	e.mu.Unlock()

	for _, h := range hs {
		e.call(h, v)
	}
}

func (e *emitter[T]) call(h func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("change handler panicked",
				zap.String("emitter", e.name),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	h(v)
}

func (e *emitter[T]) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[int]func(T))
	e.order = nil
}

func (e *emitter[T]) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.order)
}
