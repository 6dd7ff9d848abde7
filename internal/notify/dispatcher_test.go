package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ainotifier/internal/clock"
	"ainotifier/internal/storage"
	"ainotifier/internal/tracker"
	"ainotifier/pkg/model"
)

type fakePresenter struct {
	visible map[string]Options
	created []string
	cleared []string
	fail    error
}

func (p *fakePresenter) Create(_ context.Context, id string, opts Options) error {
	if p.fail != nil {
		return p.fail
	}
	p.visible[id] = opts
	p.created = append(p.created, id)
	return nil
}

func (p *fakePresenter) Clear(_ context.Context, id string) error {
	delete(p.visible, id)
	p.cleared = append(p.cleared, id)
	return nil
}

type fakePlayer struct {
	mu      sync.Mutex
	calls   []float64
	failErr error
}

func (p *fakePlayer) Play(_ context.Context, v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, v)
	return p.failErr
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeTabs struct {
	open      map[model.TabID]bool
	activated []model.TabID
	opened    []string
}

func (t *fakeTabs) Exists(_ context.Context, tab model.TabID) bool { return t.open[tab] }

func (t *fakeTabs) Activate(_ context.Context, tab model.TabID) error {
	t.activated = append(t.activated, tab)
	return nil
}

func (t *fakeTabs) Open(_ context.Context, url string) error {
	t.opened = append(t.opened, url)
	return nil
}

type fakeSettings struct {
	values map[string]any
	err    error
}

func (s *fakeSettings) Get(_ context.Context, defaults map[string]any) (map[string]any, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]any{}
	for k, v := range defaults {
		out[k] = v
		if sv, ok := s.values[k]; ok {
			out[k] = sv
		}
	}
	return out, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	recs []*storage.NotificationRecord
}

func (h *fakeHistory) Add(_ context.Context, rec *storage.NotificationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recs = append(h.recs, rec)
	return nil
}

type fixture struct {
	d        *Dispatcher
	clock    *clock.Fake
	pres     *fakePresenter
	player   *fakePlayer
	tabs     *fakeTabs
	settings *fakeSettings
	history  *fakeHistory
	notified []model.ActiveNotification
}

func newFixture() *fixture {
	f := &fixture{
		clock:    clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		pres:     &fakePresenter{visible: map[string]Options{}},
		player:   &fakePlayer{},
		tabs:     &fakeTabs{open: map[model.TabID]bool{}},
		settings: &fakeSettings{values: map[string]any{}},
		history:  &fakeHistory{},
	}
	f.d = New(Config{
		Presenter: f.pres,
		Player:    f.player,
		Tabs:      f.tabs,
		Settings:  f.settings,
		Throttle:  tracker.New(f.clock, nil),
		History:   f.history,
		Clock:     f.clock,
		IconRef:   "icon128.png",
		OnNotified: func(n model.ActiveNotification, _ Request) {
			f.notified = append(f.notified, n)
		},
	})
	return f
}

func chatgptReq(tab model.TabID) Request {
	return Request{
		Platform:    "chatgpt",
		EnabledKey:  "chatgptEnabled",
		ThrottleKey: tracker.ThrottleKey("chatgpt", tab),
		Throttle:    4 * time.Second,
		Title:       "ChatGPT 生成完成",
		Message:     "检测到 ChatGPT 的生成流已结束。",
		TabID:       tab,
		TargetURL:   "https://chatgpt.com/",
		Source:      "tracked",
	}
}

func TestAtMostOneActiveNotification(t *testing.T) {
	f := newFixture()
	require.True(t, f.d.Notify(chatgptReq("1")))
	first, ok := f.d.Active()
	require.True(t, ok)
	assert.Contains(t, first.ID, idPrefix)

	require.True(t, f.d.Notify(chatgptReq("2")))
	second, _ := f.d.Active()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, f.pres.visible, 1)
	assert.Equal(t, []string{first.ID}, f.pres.cleared)

	opts := f.pres.visible[second.ID]
	assert.True(t, opts.Silent)
	assert.Equal(t, 1, opts.Priority)
	assert.Equal(t, "icon128.png", opts.IconRef)
	f.d.Wait()
}

func TestThrottle(t *testing.T) {
	f := newFixture()
	assert.True(t, f.d.Notify(chatgptReq("1")))
	f.clock.Advance(3999 * time.Millisecond)
	assert.False(t, f.d.Notify(chatgptReq("1")))
	assert.Len(t, f.pres.created, 1)

	f.clock.Advance(time.Millisecond)
	assert.True(t, f.d.Notify(chatgptReq("1")))
	assert.Len(t, f.pres.created, 2)
	f.d.Wait()
}

func TestDisabledPlatformSkipsBeforeThrottle(t *testing.T) {
	f := newFixture()
	f.settings.values["chatgptEnabled"] = false
	assert.False(t, f.d.Notify(chatgptReq("1")))
	assert.Empty(t, f.pres.created)
	assert.Zero(t, f.player.count())

	f.settings.values["chatgptEnabled"] = true
	assert.True(t, f.d.Notify(chatgptReq("1")), "a disabled attempt must not stamp the throttle")
	f.d.Wait()
}

func TestSubEventFlag(t *testing.T) {
	f := newFixture()
	req := chatgptReq("1")
	req.SubEnabledKey = "chatgptReasoningEndEnabled"
	req.ThrottleKey = tracker.StreamThrottleKey("chatgpt", "reasoning_end", "1")
	f.settings.values["chatgptReasoningEndEnabled"] = false
	assert.False(t, f.d.Notify(req))

	delete(f.settings.values, "chatgptReasoningEndEnabled")
	assert.True(t, f.d.Notify(req))
	f.d.Wait()
}

func TestSettingsErrorUsesDefaults(t *testing.T) {
	f := newFixture()
	f.settings.err = errors.New("db locked")
	assert.True(t, f.d.Notify(chatgptReq("1")))
	f.d.Wait()
	assert.Equal(t, []float64{storage.DefaultSoundVolume}, f.player.calls)
}

func TestAutoDismissOnlyClearsOwnNotification(t *testing.T) {
	f := newFixture()
	f.d.Notify(chatgptReq("1"))
	f.clock.Advance(5 * time.Second)
	f.d.Notify(chatgptReq("2"))
	second, _ := f.d.Active()

	f.clock.Advance(3 * time.Second)
	active, ok := f.d.Active()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)

	f.clock.Advance(5 * time.Second)
	_, ok = f.d.Active()
	assert.False(t, ok)
	assert.Empty(t, f.pres.visible)
	f.d.Wait()
}

func TestClickActivatesExistingTab(t *testing.T) {
	f := newFixture()
	f.tabs.open["7"] = true
	f.d.Notify(chatgptReq("7"))
	n, _ := f.d.Active()

	f.d.HandleClicked(n.ID)
	assert.Equal(t, []model.TabID{"7"}, f.tabs.activated)
	assert.Empty(t, f.tabs.opened)
	_, ok := f.d.Active()
	assert.False(t, ok)
	assert.Equal(t, 0, f.clock.Pending(), "dismiss timer cancelled")
	f.d.Wait()
}

func TestClickOpensTargetWhenTabGone(t *testing.T) {
	f := newFixture()
	f.d.Notify(chatgptReq("7"))
	n, _ := f.d.Active()

	f.d.HandleClicked(n.ID)
	assert.Empty(t, f.tabs.activated)
	assert.Equal(t, []string{"https://chatgpt.com/"}, f.tabs.opened)

	// 过期通知的点击不再跳转
	f.d.HandleClicked(n.ID)
	assert.Len(t, f.tabs.opened, 1)
	f.d.Wait()
}

func TestClosedClearsRecord(t *testing.T) {
	f := newFixture()
	f.d.Notify(chatgptReq("7"))
	n, _ := f.d.Active()
	f.d.HandleClosed("other")
	_, ok := f.d.Active()
	assert.True(t, ok)

	f.d.HandleClosed(n.ID)
	_, ok = f.d.Active()
	assert.False(t, ok)
	f.clock.Advance(DefaultDismiss)
	assert.Empty(t, f.pres.cleared)
	f.d.Wait()
}

func TestAudioFailureDoesNotBlockNotification(t *testing.T) {
	f := newFixture()
	f.player.failErr = errors.New("device busy")
	assert.True(t, f.d.Notify(chatgptReq("1")))
	_, ok := f.d.Active()
	assert.True(t, ok)
	f.d.Wait()
	assert.Equal(t, 1+audioRetries, f.player.count())
}

func TestAudioUnavailableIsNotRetried(t *testing.T) {
	f := newFixture()
	f.player.failErr = ErrUnavailable
	f.d.Notify(chatgptReq("1"))
	f.d.Wait()
	assert.Equal(t, 1, f.player.count())
}

func TestPresenterFailureStillPlaysAudio(t *testing.T) {
	f := newFixture()
	f.pres.fail = errors.New("no dbus")
	assert.True(t, f.d.Notify(chatgptReq("1")))
	_, ok := f.d.Active()
	assert.False(t, ok)
	assert.Empty(t, f.notified)
	f.d.Wait()
	assert.Equal(t, 1, f.player.count())
}

func TestVolumeAndHistory(t *testing.T) {
	f := newFixture()
	f.settings.values[storage.KeySoundVolume] = 2.5
	f.d.Notify(chatgptReq("1"))
	f.d.Wait()
	assert.Equal(t, []float64{storage.MaxSoundVolume}, f.player.calls)
	require.Len(t, f.history.recs, 1)
	assert.Equal(t, "chatgpt", f.history.recs[0].Platform)
	assert.Equal(t, "tracked", f.history.recs[0].Source)
	require.Len(t, f.notified, 1)
}

func TestPlayTest(t *testing.T) {
	f := newFixture()
	v := 0.3
	require.NoError(t, f.d.PlayTest(context.Background(), &v))
	f.settings.values[storage.KeySoundVolume] = 0.8
	require.NoError(t, f.d.PlayTest(context.Background(), nil))
	assert.Equal(t, []float64{0.3, 0.8}, f.player.calls)
	assert.Empty(t, f.pres.created)
}
