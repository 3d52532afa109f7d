package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"goim-channel/apps/channel-service/dao"
	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/keylock"
	"goim-channel/pkg/logger"
)

type recordedEvent struct {
	channelID string
	event     string
	payload   interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) Publish(channelID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{channelID: channelID, event: event, payload: payload})
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) last() recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return recordedEvent{}
	}
	return b.events[len(b.events)-1]
}

type fixture struct {
	svc   *Service
	store *dao.MemoryStore
	bus   *recordingBroadcaster
}

type fixtureOption func(*Dependencies, *Options)

func withMessages(messages dao.MessageDAO) fixtureOption {
	return func(d *Dependencies, _ *Options) { d.Messages = messages }
}

func withChannels(channels dao.ChannelDAO) fixtureOption {
	return func(d *Dependencies, _ *Options) { d.Channels = channels }
}

func withThreshold(n int) fixtureOption {
	return func(_ *Dependencies, o *Options) { o.ReportThreshold = n }
}

func withLocker(locker keylock.Locker) fixtureOption {
	return func(d *Dependencies, _ *Options) { d.Locker = locker }
}

func withSuperAdmin(id string) fixtureOption {
	return func(_ *Dependencies, o *Options) { o.SuperAdminID = id }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	return newFixtureOn(t, dao.NewMemoryStore(), opts...)
}

// newFixtureOn 基于给定存储构建服务，选项可以替换其中的DAO
func newFixtureOn(t *testing.T, store *dao.MemoryStore, opts ...fixtureOption) *fixture {
	t.Helper()
	bus := &recordingBroadcaster{}
	log := logger.NewNop()

	deps := Dependencies{
		Channels:    store,
		Messages:    store,
		Notifier:    NewNotifier(store, nil, "", log),
		Users:       NewUserDirectory(store, nil, time.Minute, log),
		Audit:       store,
		Broadcaster: bus,
		Locker:      keylock.NewLocalLocker(),
	}
	options := Options{ReportThreshold: model.DefaultReportThreshold, OpTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&deps, &options)
	}
	return &fixture{svc: NewService(deps, options, log), store: store, bus: bus}
}

func faculty(id string) model.Actor { return model.Actor{UserID: id, Role: model.RoleFaculty} }
func student(id string) model.Actor { return model.Actor{UserID: id, Role: model.RoleStudent} }
func admin(id string) model.Actor   { return model.Actor{UserID: id, Role: model.RoleAdmin} }

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s error, got %s (%v)", want, got, err)
	}
}

// newChannel 创建频道并让 members 通过申请加审批加入
func (f *fixture) newChannel(t *testing.T, creator model.Actor, general bool, members ...string) *model.Channel {
	t.Helper()
	ctx := context.Background()
	ch, err := f.svc.CreateChannel(ctx, creator, "algorithms", "weekly discussion", general)
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	for _, id := range members {
		if _, err := f.svc.RequestJoin(ctx, student(id), ch.ID); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
		if !general {
			if _, err := f.svc.Approve(ctx, creator, ch.ID, id); err != nil {
				t.Fatalf("approve %s: %v", id, err)
			}
		}
	}
	return f.channel(t, ch.ID)
}

func (f *fixture) channel(t *testing.T, channelID string) *model.Channel {
	t.Helper()
	ch, err := f.store.GetChannel(context.Background(), channelID)
	if err != nil {
		t.Fatalf("get channel %s: %v", channelID, err)
	}
	return ch
}

// assertCreatorIntact 创建者始终是成员，且不在待审批和封禁列表中
func assertCreatorIntact(t *testing.T, ch *model.Channel) {
	t.Helper()
	if !ch.IsMember(ch.CreatorID) || ch.IsPending(ch.CreatorID) || ch.IsBanned(ch.CreatorID) {
		t.Fatalf("creator membership broken: %+v", ch)
	}
}

// conflictingChannels 前 failures 次 AddMember 返回冲突
type conflictingChannels struct {
	dao.ChannelDAO
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *conflictingChannels) AddMember(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.failures
	c.mu.Unlock()
	if fail {
		return nil, dao.ErrConflict
	}
	return c.ChannelDAO.AddMember(ctx, channelID, userID)
}

func TestWithRetry_RetriesConflicts(t *testing.T) {
	store := dao.NewMemoryStore()
	flaky := &conflictingChannels{ChannelDAO: store, failures: 2}
	f := newFixture(t, withChannels(flaky))

	ch, err := f.svc.CreateChannel(context.Background(), faculty("F"), "general", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := f.svc.RequestJoin(context.Background(), student("S"), ch.ID)
	if err != nil {
		t.Fatalf("join after conflicts: %v", err)
	}
	if result.Status != model.JoinStatusJoined || !result.Channel.IsMember("S") {
		t.Fatalf("unexpected join result: %+v", result)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", flaky.calls)
	}
}

func TestWithRetry_PermanentErrorNotRetried(t *testing.T) {
	f := newFixture(t)
	calls := 0
	err := f.svc.withRetry(func() error {
		calls++
		return dao.ErrNotFound
	})
	if err != dao.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestFromDAO(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{dao.ErrNotFound, KindNotFound},
		{dao.ErrBanned, KindForbidden},
		{dao.ErrCreatorImmutable, KindInvalidState},
		{dao.ErrAlreadyMember, KindInvalidState},
		{dao.ErrAlreadyRequested, KindInvalidState},
		{dao.ErrAlreadyReported, KindAlreadyReported},
		{dao.ErrConflict, KindConflict},
		{context.DeadlineExceeded, KindInternal},
	}
	for _, c := range cases {
		if got := KindOf(fromDAO(c.err, "x")); got != c.want {
			t.Errorf("fromDAO(%v) = %s, want %s", c.err, got, c.want)
		}
	}
	if fromDAO(nil, "x") != nil {
		t.Error("fromDAO(nil) should be nil")
	}
}

func TestErrorHTTPStatus(t *testing.T) {
	if got := newError(KindNotFound, "").HTTPStatus(); got != 404 {
		t.Errorf("NotFound status = %d", got)
	}
	if got := newError(KindAlreadyReported, "").HTTPStatus(); got != 409 {
		t.Errorf("AlreadyReported status = %d", got)
	}
	internal := wrapError(KindInternal, "db down", context.Canceled)
	if internal.PublicMessage() == "db down" {
		t.Error("internal error message should not be exposed")
	}
	if !errors.Is(internal, ErrInternal) {
		t.Error("errors.Is should match by kind")
	}
}
