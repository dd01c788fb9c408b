package scheduler

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
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/platform"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/internal/store"
)

type fakeBackend struct {
	mu sync.Mutex

	tickets map[string]domain.TicketMetadata
	configs map[string]domain.GuildConfig

	failUpdate error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tickets: make(map[string]domain.TicketMetadata),
		configs: make(map[string]domain.GuildConfig),
	}
}

func (f *fakeBackend) GetTicketMetadata(_ context.Context, _, threadID string) (*domain.TicketMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	f.tickets[threadID] = *meta
	return nil
}

func (f *fakeBackend) UpdateTicketMetadata(_ context.Context, _, threadID string, meta *domain.TicketMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate != nil {
		return f.failUpdate
	}
	f.tickets[threadID] = *meta
	return nil
}

func (f *fakeBackend) ListActiveTickets(_ context.Context, _ string) ([]store.ActiveTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.ActiveTicket
	for threadID, meta := range f.tickets {
		if meta.IsOpen() {
			out = append(out, store.ActiveTicket{ThreadID: threadID, Metadata: meta})
		}
	}
	return out, nil
}

func (f *fakeBackend) UserOpenTimes(_ context.Context, _, _ string) ([]int64, error) {
	return nil, nil
}

func (f *fakeBackend) TicketCounter(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (f *fakeBackend) IncrementTicketCounter(_ context.Context, _ string) (int64, error) {
	return 0, nil
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

type fakePlatform struct {
	mu sync.Mutex

	warnings []string
	locked   []string
	failSend error
}

func (f *fakePlatform) CreateThread(_ context.Context, _ platform.ThreadRequest) (string, error) {
	return "", errors.New("not used")
}

func (f *fakePlatform) AddParticipant(_ context.Context, _, _, _ string) error { return nil }

func (f *fakePlatform) LockThread(_ context.Context, _, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = append(f.locked, threadID)
	return nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID string, msg platform.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return "", f.failSend
	}
	if msg.Template == platform.TemplateInactivityWarning {
		f.warnings = append(f.warnings, channelID)
	}
	return "msg-1", nil
}

func (f *fakePlatform) SendDirectMessage(_ context.Context, _ string, _ platform.Message) (string, error) {
	return "msg-dm", nil
}

func (f *fakePlatform) EditMessage(_ context.Context, _, _ string, _ platform.Message) error {
	return nil
}

func (f *fakePlatform) DeleteMessage(_ context.Context, _, _ string) error { return nil }

func (f *fakePlatform) MemberRoles(_ context.Context, _, _ string) ([]string, error) {
	return nil, nil
}

func (f *fakePlatform) HasAdmin(_ context.Context, _, _ string) (bool, error) { return false, nil }

func (f *fakePlatform) warningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.warnings)
}

const sweepGuild = "guild-1"

type sweepFixture struct {
	backend   *fakeBackend
	platform  *fakePlatform
	store     *store.Store
	scheduler *Scheduler
	clock     *time.Time
}

func newSweepFixture(t *testing.T, cfg domain.GuildConfig) *sweepFixture {
	t.Helper()
	backend := newFakeBackend()
	backend.configs[sweepGuild] = cfg

	p := &fakePlatform{}
	st := store.New(backend, zap.NewNop())
	clock := time.Unix(1_700_000_000, 0)
	now := func() time.Time { return clock }

	svc := service.NewTicketService(service.Dependencies{
		Store:    st,
		Platform: p,
		Metrics:  observability.NewMetrics(),
		Logger:   zap.NewNop(),
		Now:      now,
	})
	sched := New(Dependencies{
		Store:    st,
		Service:  svc,
		Platform: p,
		Logger:   zap.NewNop(),
		Interval: time.Minute,
		Grace:    time.Hour,
		GuildIDs: []string{sweepGuild},
		Now:      now,
	})
	return &sweepFixture{backend: backend, platform: p, store: st, scheduler: sched, clock: &clock}
}

func (fx *sweepFixture) advance(d time.Duration) {
	*fx.clock = fx.clock.Add(d)
}

func (fx *sweepFixture) seedTicket(t *testing.T, threadID string, age time.Duration) {
	t.Helper()
	meta := &domain.TicketMetadata{
		TicketID: 1,
		ThreadID: threadID,
		GuildID:  sweepGuild,
		OpenedBy: domain.Identity{ID: "u1", Username: "alice", DisplayName: "Alice"},
		OpenTime: fx.clock.Add(-age).Unix(),
		Status:   domain.TicketStatusOpen,
	}
	require.NoError(t, fx.store.Create(context.Background(), meta))
}

func (fx *sweepFixture) ticketStatus(t *testing.T, threadID string) domain.TicketStatus {
	t.Helper()
	meta, err := fx.store.Get(context.Background(), sweepGuild, threadID)
	require.NoError(t, err)
	require.NotNil(t, meta)
	return meta.Status
}

func autoCloseConfig(threshold string) domain.GuildConfig {
	return domain.GuildConfig{
		Enabled:   true,
		AutoClose: []domain.AutoCloseRule{{Enabled: true, Threshold: threshold, Reason: "closed for inactivity"}},
	}
}

func TestSweepWarnsThenClosesAfterGrace(t *testing.T) {
	fx := newSweepFixture(t, autoCloseConfig("3d"))
	ctx := context.Background()
	fx.seedTicket(t, "stale", 4*24*time.Hour)

	// first pass warns, does not close
	require.NoError(t, fx.scheduler.Sweep(ctx, sweepGuild))
	assert.Equal(t, 1, fx.platform.warningCount())
	assert.Equal(t, domain.TicketStatusOpen, fx.ticketStatus(t, "stale"))

	// inside the grace window nothing further happens
	fx.advance(30 * time.Minute)
	require.NoError(t, fx.scheduler.Sweep(ctx, sweepGuild))
	assert.Equal(t, 1, fx.platform.warningCount())
	assert.Equal(t, domain.TicketStatusOpen, fx.ticketStatus(t, "stale"))

	// past the grace window the ticket is closed with the rule's reason
	fx.advance(31 * time.Minute)
	require.NoError(t, fx.scheduler.Sweep(ctx, sweepGuild))
	meta, err := fx.store.Get(ctx, sweepGuild, "stale")
	require.NoError(t, err)
	assert.True(t, meta.IsClosed())
	assert.Equal(t, "closed for inactivity", meta.Reason)
	require.NotNil(t, meta.ClosedBy)
	assert.Equal(t, "system", meta.ClosedBy.ID)
}

func TestSweepIgnoresFreshTickets(t *testing.T) {
	fx := newSweepFixture(t, autoCloseConfig("3d"))
	fx.seedTicket(t, "fresh", 24*time.Hour)

	require.NoError(t, fx.scheduler.Sweep(context.Background(), sweepGuild))
	assert.Zero(t, fx.platform.warningCount())
	assert.Equal(t, domain.TicketStatusOpen, fx.ticketStatus(t, "fresh"))
}

func TestSweepSkipsTicketClosedSinceListing(t *testing.T) {
	fx := newSweepFixture(t, autoCloseConfig("3d"))
	ctx := context.Background()
	fx.seedTicket(t, "stale", 4*24*time.Hour)

	// a human closes the ticket but the backend write is lost; the listing
	// still reports it open while the cache holds the closed state
	meta, err := fx.store.Get(ctx, sweepGuild, "stale")
	require.NoError(t, err)
	meta.Status = domain.TicketStatusClosed
	meta.Reason = "handled by a human"
	fx.backend.failUpdate = errors.New("write refused")
	require.Error(t, fx.store.Set(ctx, meta))
	fx.backend.failUpdate = nil

	require.NoError(t, fx.scheduler.Sweep(ctx, sweepGuild))
	assert.Zero(t, fx.platform.warningCount())
	got, err := fx.store.Get(ctx, sweepGuild, "stale")
	require.NoError(t, err)
	assert.Equal(t, "handled by a human", got.Reason)
}

func TestSweepSkipsInvalidThreshold(t *testing.T) {
	for _, threshold := range []string{"0", "whenever"} {
		fx := newSweepFixture(t, autoCloseConfig(threshold))
		fx.seedTicket(t, "stale", 365*24*time.Hour)

		require.NoError(t, fx.scheduler.Sweep(context.Background(), sweepGuild))
		assert.Zero(t, fx.platform.warningCount(), "threshold %q", threshold)
		assert.Equal(t, domain.TicketStatusOpen, fx.ticketStatus(t, "stale"), "threshold %q", threshold)
	}
}

func TestSweepSkipsDisabledOrMissingConfig(t *testing.T) {
	disabled := autoCloseConfig("3d")
	disabled.Enabled = false
	fx := newSweepFixture(t, disabled)
	fx.seedTicket(t, "stale", 4*24*time.Hour)

	require.NoError(t, fx.scheduler.Sweep(context.Background(), sweepGuild))
	assert.Zero(t, fx.platform.warningCount())

	// unconfigured guilds are a no-op, not an error
	require.NoError(t, fx.scheduler.Sweep(context.Background(), "unknown-guild"))
}

func TestSweepSkipsWhenNoRuleEnabled(t *testing.T) {
	cfg := domain.GuildConfig{
		Enabled:   true,
		AutoClose: []domain.AutoCloseRule{{Enabled: false, Threshold: "3d"}},
	}
	fx := newSweepFixture(t, cfg)
	fx.seedTicket(t, "stale", 4*24*time.Hour)

	require.NoError(t, fx.scheduler.Sweep(context.Background(), sweepGuild))
	assert.Zero(t, fx.platform.warningCount())
}

func TestSweepRetriesWarningAfterSendFailure(t *testing.T) {
	fx := newSweepFixture(t, autoCloseConfig("3d"))
	ctx := context.Background()
	fx.seedTicket(t, "stale", 4*24*time.Hour)

	fx.platform.failSend = errors.New("channel gone")
	require.NoError(t, fx.scheduler.Sweep(ctx, sweepGuild))
	assert.Zero(t, fx.platform.warningCount())

	// the warning was not recorded, so the next pass warns instead of closing
	fx.platform.failSend = nil
	fx.advance(2 * time.Hour)
	require.NoError(t, fx.scheduler.Sweep(ctx, sweepGuild))
	assert.Equal(t, 1, fx.platform.warningCount())
	assert.Equal(t, domain.TicketStatusOpen, fx.ticketStatus(t, "stale"))
}
