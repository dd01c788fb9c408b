package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/pkg/util"
)

// fakeBackend is a mutex-guarded in-memory Backend. SetAsync writes from a
// goroutine, so every method takes the lock.
type fakeBackend struct {
	mu sync.Mutex

	tickets   map[string]domain.TicketMetadata
	openTimes map[string][]int64
	counters  map[string]int64
	configs   map[string]domain.GuildConfig

	getCalls    int
	saveCalls   int
	updateCalls int

	failSave   error
	failUpdate error
	failGet    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tickets:   make(map[string]domain.TicketMetadata),
		openTimes: make(map[string][]int64),
		counters:  make(map[string]int64),
		configs:   make(map[string]domain.GuildConfig),
	}
}

func (f *fakeBackend) GetTicketMetadata(_ context.Context, _, threadID string) (*domain.TicketMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.failGet != nil {
		return nil, f.failGet
	}
	meta, ok := f.tickets[threadID]
	if !ok {
		return nil, nil
	}
	copied := meta
	return &copied, nil
}

func (f *fakeBackend) SaveTicketMetadata(_ context.Context, _, threadID string, meta *domain.TicketMetadata, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSave != nil {
		return f.failSave
	}
	f.tickets[threadID] = *meta
	f.openTimes[meta.OpenedBy.ID] = append(f.openTimes[meta.OpenedBy.ID], meta.OpenTime)
	return nil
}

func (f *fakeBackend) UpdateTicketMetadata(_ context.Context, _, threadID string, meta *domain.TicketMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdate != nil {
		return f.failUpdate
	}
	f.tickets[threadID] = *meta
	return nil
}

func (f *fakeBackend) ListActiveTickets(_ context.Context, _ string) ([]ActiveTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ActiveTicket
	for threadID, meta := range f.tickets {
		if meta.IsOpen() {
			out = append(out, ActiveTicket{ThreadID: threadID, Metadata: meta})
		}
	}
	return out, nil
}

func (f *fakeBackend) UserOpenTimes(_ context.Context, _, userID string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.openTimes[userID]...), nil
}

func (f *fakeBackend) TicketCounter(_ context.Context, guildID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters[guildID], nil
}

func (f *fakeBackend) IncrementTicketCounter(_ context.Context, guildID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[guildID]++
	return f.counters[guildID], nil
}

func (f *fakeBackend) GuildConfig(_ context.Context, guildID string) (*domain.GuildConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.configs[guildID]
	if !ok {
		return nil, nil
	}
	copied := cfg
	return &copied, nil
}

func (f *fakeBackend) SaveGuildConfig(_ context.Context, guildID string, cfg *domain.GuildConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[guildID] = *cfg
	return nil
}

func (f *fakeBackend) configCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.configs)
}

func (f *fakeBackend) ticket(threadID string) (domain.TicketMetadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	meta, ok := f.tickets[threadID]
	return meta, ok
}

func newTestStore(backend Backend) *Store {
	return New(backend, zap.NewNop())
}

func TestGetCacheFirst(t *testing.T) {
	backend := newFakeBackend()
	backend.tickets["t1"] = domain.TicketMetadata{
		TicketID: 1,
		ThreadID: "t1",
		GuildID:  "g1",
		Status:   domain.TicketStatusOpen,
		OpenTime: 1_700_000_000,
	}
	s := newTestStore(backend)
	ctx := context.Background()

	first, err := s.Get(ctx, "g1", "t1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, backend.getCalls)

	// second read is served from the cache
	second, err := s.Get(ctx, "g1", "t1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 1, backend.getCalls)

	// the returned value is a copy, not an alias of the cache entry
	second.Status = domain.TicketStatusClosed
	third, err := s.Get(ctx, "g1", "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, third.Status)
}

func TestGetMissReturnsNilNil(t *testing.T) {
	s := newTestStore(newFakeBackend())

	meta, err := s.Get(context.Background(), "g1", "missing")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestGetNormalizesMillisecondTimestamps(t *testing.T) {
	backend := newFakeBackend()
	backend.tickets["t1"] = domain.TicketMetadata{
		ThreadID: "t1",
		GuildID:  "g1",
		Status:   domain.TicketStatusOpen,
		// written by an older version in milliseconds
		OpenTime:  1_700_000_000_000,
		CloseTime: 0,
	}
	s := newTestStore(backend)

	meta, err := s.Get(context.Background(), "g1", "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), meta.OpenTime)
	assert.Equal(t, int64(0), meta.CloseTime)
}

func TestGetBackendFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.failGet = errors.New("connection refused")
	s := newTestStore(backend)

	_, err := s.Get(context.Background(), "g1", "t1")
	require.Error(t, err)
	assert.Equal(t, "EXTERNAL_SERVICE", util.ToDomainError(err).Code)
}

func TestCreateBackendFirst(t *testing.T) {
	backend := newFakeBackend()
	backend.failSave = errors.New("write refused")
	s := newTestStore(backend)
	ctx := context.Background()

	meta := &domain.TicketMetadata{ThreadID: "t1", GuildID: "g1", Status: domain.TicketStatusOpen}
	err := s.Create(ctx, meta)
	require.Error(t, err)

	// a failed create must leave no cached state behind
	got, err := s.Get(ctx, "g1", "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetKeepsCacheOnBackendFailure(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(backend)
	ctx := context.Background()

	meta := &domain.TicketMetadata{ThreadID: "t1", GuildID: "g1", Status: domain.TicketStatusOpen}
	require.NoError(t, s.Create(ctx, meta))

	backend.failUpdate = errors.New("write refused")
	meta.Status = domain.TicketStatusClosed
	err := s.Set(ctx, meta)
	require.Error(t, err)

	// callers roll forward on the cached value
	got, err := s.Get(ctx, "g1", "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, got.Status)
}

func TestSetAsyncEventuallyPersists(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(backend)
	ctx := context.Background()

	meta := &domain.TicketMetadata{ThreadID: "t1", GuildID: "g1", Status: domain.TicketStatusOpen}
	require.NoError(t, s.Create(ctx, meta))

	meta.Reason = "resolved"
	s.SetAsync(ctx, meta)

	// cache is updated synchronously
	got, err := s.Get(ctx, "g1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Reason)

	require.Eventually(t, func() bool {
		persisted, ok := backend.ticket("t1")
		return ok && persisted.Reason == "resolved"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClearClosedEvictsOnlyClosed(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(backend)
	ctx := context.Background()

	open := &domain.TicketMetadata{ThreadID: "open", GuildID: "g1", Status: domain.TicketStatusOpen}
	closed := &domain.TicketMetadata{ThreadID: "closed", GuildID: "g1", Status: domain.TicketStatusClosed}
	locked := &domain.TicketMetadata{ThreadID: "locked", GuildID: "g1", Status: domain.TicketStatusLocked}
	require.NoError(t, s.Create(ctx, open))
	require.NoError(t, s.Create(ctx, closed))
	require.NoError(t, s.Create(ctx, locked))

	assert.Equal(t, 2, s.ClearClosed())

	// evicted entries are still readable from the backend
	before := backend.getCalls
	got, err := s.Get(ctx, "g1", "closed")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, before+1, backend.getCalls)

	// the open ticket never left the cache
	_, err = s.Get(ctx, "g1", "open")
	require.NoError(t, err)
	assert.Equal(t, before+1, backend.getCalls)
}

func TestLastOpenTime(t *testing.T) {
	backend := newFakeBackend()
	// mixed units from different writer versions
	backend.openTimes["u1"] = []int64{1_600_000_000, 1_700_000_000_000, 1_650_000_000}
	s := newTestStore(backend)

	last, err := s.LastOpenTime(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 0), last)

	none, err := s.LastOpenTime(context.Background(), "g1", "nobody")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestNextTicketIDIncrements(t *testing.T) {
	s := newTestStore(newFakeBackend())
	ctx := context.Background()

	first, err := s.NextTicketID(ctx, "g1")
	require.NoError(t, err)
	second, err := s.NextTicketID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	count, err := s.TicketCounter(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSaveGuildConfigRejectsUnparsableThreshold(t *testing.T) {
	backend := newFakeBackend()
	s := newTestStore(backend)
	ctx := context.Background()

	bad := &domain.GuildConfig{
		Enabled: true,
		RoleTimeLimits: domain.RoleTimeLimitConfig{
			Included: []domain.RoleTimeLimit{{RoleID: "r1", Threshold: "whenever"}},
		},
	}
	err := s.SaveGuildConfig(ctx, "g1", bad)
	require.Error(t, err)
	assert.Equal(t, "INVALID_INPUT", util.ToDomainError(err).Code)
	assert.Equal(t, 0, backend.configCount())

	badRule := &domain.GuildConfig{
		Enabled:   true,
		AutoClose: []domain.AutoCloseRule{{Enabled: true, Threshold: "0", Reason: "inactive"}},
	}
	err = s.SaveGuildConfig(ctx, "g1", badRule)
	require.Error(t, err)
	assert.Equal(t, 0, backend.configCount())

	good := &domain.GuildConfig{
		Enabled: true,
		RoleTimeLimits: domain.RoleTimeLimitConfig{
			Included: []domain.RoleTimeLimit{{RoleID: "r1", Threshold: "24h"}},
		},
		AutoClose: []domain.AutoCloseRule{
			{Enabled: false, Threshold: "garbage"}, // disabled rules are not validated
			{Enabled: true, Threshold: "3d", Reason: "inactive"},
		},
	}
	require.NoError(t, s.SaveGuildConfig(ctx, "g1", good))
	assert.Equal(t, 1, backend.configCount())
}
