package loyalty

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BeanCounter/app/models"
	"github.com/ManuelReschke/BeanCounter/internal/pkg/clock"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) ofType(eventType string) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, e := range n.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type recordingGateway struct {
	mu       sync.Mutex
	requests []ChargeRequest
	err      error
}

func (g *recordingGateway) Charge(_ context.Context, req ChargeRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.err
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type testEngine struct {
	*Engine
	repo     *MemoryRepository
	clock    *clock.Manual
	notifier *recordingNotifier
	gateway  *recordingGateway
}

func newTestEngine(t *testing.T, start time.Time, mutate ...func(*Policy)) *testEngine {
	t.Helper()
	policy := DefaultPolicy()
	for _, m := range mutate {
		m(&policy)
	}
	te := &testEngine{
		repo:     NewMemoryRepository(),
		clock:    clock.NewManual(start),
		notifier: &recordingNotifier{},
		gateway:  &recordingGateway{},
	}
	te.Engine = NewEngine(te.repo, policy,
		WithClock(te.clock),
		WithNotifier(te.notifier),
		WithPaymentGateway(te.gateway),
	)
	return te
}

func (te *testEngine) mustEnsure(t *testing.T, id, tz string) *models.Customer {
	t.Helper()
	c, err := te.EnsureCustomer(context.Background(), CustomerProfile{ID: id, Timezone: tz})
	require.NoError(t, err)
	return c
}

func date(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}
