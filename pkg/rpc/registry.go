package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeadlineExceeded is returned by Await when no reply arrived before the
// call's deadline.
var ErrDeadlineExceeded = errors.New("rpc: deadline exceeded")

// PendingCall is a call waiting for its reply.
type PendingCall struct {
	CorrelationID string
	CreatedAt     time.Time
	Deadline      time.Time

	result chan json.RawMessage
}

// Registry maps correlation ids to pending calls. An entry is removed exactly
// once, by whichever of resolution, timeout or cancellation happens first.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*PendingCall
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*PendingCall),
	}
}

// Register adds a pending call that expires after timeout.
func (r *Registry) Register(correlationID string, timeout time.Duration) (*PendingCall, error) {
	now := time.Now()
	call := &PendingCall{
		CorrelationID: correlationID,
		CreatedAt:     now,
		Deadline:      now.Add(timeout),
		result:        make(chan json.RawMessage, 1),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[correlationID]; exists {
		return nil, fmt.Errorf("rpc: correlation id %s already pending", correlationID)
	}
	r.pending[correlationID] = call
	PendingCalls.Inc()
	return call, nil
}

// Resolve delivers payload to the call registered under correlationID. It
// returns false when no such call is pending, which is the case for late and
// foreign replies.
func (r *Registry) Resolve(correlationID string, payload json.RawMessage) bool {
	call, ok := r.take(correlationID)
	if !ok {
		return false
	}
	call.result <- payload
	return true
}

// Remove deletes a pending call without resolving it. It returns false when
// the call was already resolved or removed.
func (r *Registry) Remove(correlationID string) bool {
	_, ok := r.take(correlationID)
	return ok
}

func (r *Registry) take(correlationID string) (*PendingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	call, ok := r.pending[correlationID]
	if ok {
		delete(r.pending, correlationID)
		PendingCalls.Dec()
	}
	return call, ok
}

// Len returns the number of pending calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Await blocks until call is resolved, its deadline passes, or ctx is done.
// If resolution races with the deadline, the side that removes the entry from
// the registry wins; a resolved payload is never lost.
func (r *Registry) Await(ctx context.Context, call *PendingCall) (json.RawMessage, error) {
	timer := time.NewTimer(time.Until(call.Deadline))
	defer timer.Stop()

	select {
	case payload := <-call.result:
		return payload, nil
	case <-timer.C:
		if r.Remove(call.CorrelationID) {
			return nil, ErrDeadlineExceeded
		}
		return <-call.result, nil
	case <-ctx.Done():
		if r.Remove(call.CorrelationID) {
			return nil, ctx.Err()
		}
		return <-call.result, nil
	}
}
