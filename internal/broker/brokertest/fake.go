// Package brokertest provides an in-memory payment processor for tests.
package brokertest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/angelmondragon/payflow/internal/broker"
)

// Fake is a concurrency-safe in-memory Broker. Sessions are created unpaid;
// tests flip them with MarkPaid.
type Fake struct {
	mu        sync.Mutex
	seq       int
	sessions  map[string]*broker.Session
	byKey     map[string]string
	requests  []broker.SessionRequest
	CreateErr error
	GetErr    error
	gets      int
}

// New returns an empty fake processor.
func New() *Fake {
	return &Fake{
		sessions: make(map[string]*broker.Session),
		byKey:    make(map[string]string),
	}
}

// CreateSession honours the idempotency key like the real processor: a
// repeated key yields the original session.
func (f *Fake) CreateSession(_ context.Context, req broker.SessionRequest) (*broker.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	f.requests = append(f.requests, req)
	if id, ok := f.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		s := *f.sessions[id]
		return &s, nil
	}
	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	s := &broker.Session{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		PaymentStatus: "unpaid",
		Status:        "open",
		OrderHint:     strconv.FormatUint(req.OrderID, 10),
	}
	f.sessions[id] = s
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = id
	}
	out := *s
	return &out, nil
}

func (f *Fake) GetSession(_ context.Context, sessionID string) (*broker.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gets++
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	out := *s
	return &out, nil
}

// AddSession registers a session created outside CreateSession.
func (f *Fake) AddSession(s broker.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = &s
}

// MarkPaid completes the session with the given confirmation reference.
func (f *Fake) MarkPaid(sessionID, confirmationRef string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		s = &broker.Session{ID: sessionID}
		f.sessions[sessionID] = s
	}
	s.Paid = true
	s.PaymentStatus = "paid"
	s.Status = "complete"
	s.ConfirmationRef = confirmationRef
}

// Requests returns every CreateSession request received.
func (f *Fake) Requests() []broker.SessionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broker.SessionRequest(nil), f.requests...)
}

// SessionCount is the number of distinct sessions created.
func (f *Fake) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// GetCalls is the number of GetSession calls.
func (f *Fake) GetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}
