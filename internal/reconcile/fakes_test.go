package reconcile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/models"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) SendConfirmation(_ context.Context, e *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e.OrderID)
	return nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeEvents struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakeEvents) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakeEvents) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type fakeFetcher struct {
	fetchFn func(ctx context.Context, orderID string) (*gateway.RemoteStatus, error)
	calls   atomic.Int32
}

func (f *fakeFetcher) FetchStatus(ctx context.Context, orderID string) (*gateway.RemoteStatus, error) {
	f.calls.Add(1)
	return f.fetchFn(ctx, orderID)
}
