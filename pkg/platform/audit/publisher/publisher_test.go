package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "trainflow/pkg/domain"
	audit "trainflow/pkg/platform/audit"
	"trainflow/pkg/platform/audit/store/memory"
	"trainflow/pkg/platform/circuit"
	"trainflow/pkg/requestcontext"
)

type failingStore struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (s *failingStore) Append(context.Context, audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

type countingMetrics struct {
	published map[string]int
	failed    map[string]int
	opened    int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{published: map[string]int{}, failed: map[string]int{}}
}

func (m *countingMetrics) IncAuditPublished(sink string) { m.published[sink]++ }
func (m *countingMetrics) IncAuditFailed(sink string)    { m.failed[sink]++ }
func (m *countingMetrics) IncAuditBreakerOpened()        { m.opened++ }

func TestRecordEnrichesFromRequestContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pub := New(store, WithClock(func() time.Time { return fixed }))

	ctx := requestcontext.WithClientMetadata(context.Background(), "10.0.0.7",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	ctx = requestcontext.WithRequestID(ctx, "req-123")

	actor := id.UserID(uuid.New())
	err := pub.Record(ctx, audit.Event{
		ActorID:    actor,
		Action:     audit.ActionSubmit,
		EntityType: "renewal_request",
		EntityID:   "r-1",
	})
	require.NoError(t, err)

	events, err := store.ListByEntity(ctx, "renewal_request", "r-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, fixed, got.Timestamp)
	assert.Equal(t, "10.0.0.7", got.ClientIP)
	assert.Equal(t, "req-123", got.RequestID)
	assert.Contains(t, got.Device, "Chrome")
	assert.Equal(t, actor, got.ActorID)
}

func TestRecordFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &failingStore{fail: true}
	fallback := memory.NewInMemoryStore()
	m := newCountingMetrics()
	pub := New(primary, WithFallback(fallback), WithMetrics(m))

	err := pub.Record(context.Background(), audit.Event{Action: audit.ActionApprove, EntityType: "renewal_request", EntityID: "r-2"})
	require.NoError(t, err)

	events, _ := fallback.ListAll(context.Background())
	assert.Len(t, events, 1)
	assert.Equal(t, 1, m.failed["primary"])
	assert.Equal(t, 1, m.published["fallback"])
}

func TestRecordWithoutFallbackReturnsError(t *testing.T) {
	pub := New(&failingStore{fail: true})

	err := pub.Record(context.Background(), audit.Event{Action: audit.ActionReject})
	require.Error(t, err)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	primary := &failingStore{fail: true}
	fallback := memory.NewInMemoryStore()
	m := newCountingMetrics()
	breaker := circuit.New("audit-test", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))
	pub := New(primary, WithFallback(fallback), WithBreaker(breaker), WithMetrics(m))
	ctx := context.Background()

	for range 3 {
		require.NoError(t, pub.Record(ctx, audit.Event{Action: audit.ActionSubmit}))
	}
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, 1, m.opened)

	primary.setFail(false)
	require.NoError(t, pub.Record(ctx, audit.Event{Action: audit.ActionSubmit}))
	assert.False(t, breaker.IsOpen())

	events, _ := fallback.ListAll(ctx)
	assert.Len(t, events, 3)
}

func TestNilPublisher(t *testing.T) {
	var pub *Publisher
	assert.ErrorIs(t, pub.Record(context.Background(), audit.Event{}), ErrNoStore)
}

func TestDeviceSummary(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{name: "empty", ua: "", want: ""},
		{name: "firefox on linux", ua: "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", want: "Firefox"},
		{name: "bot", ua: "Googlebot/2.1 (+http://www.google.com/bot.html)", want: "bot: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeviceSummary(tt.ua)
			if tt.want == "" {
				assert.Empty(t, got)
				return
			}
			assert.Contains(t, got, tt.want)
		})
	}
}
