package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ainotifier/internal/session"
	"ainotifier/pkg/model"
	"ainotifier/pkg/traffic"
)

type fakeBrowser struct {
	mu        sync.Mutex
	targets   []map[string]string
	activated []string
	created   []string
}

func (b *fakeBrowser) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case r.URL.Path == "/json/list" || r.URL.Path == "/json":
		_ = json.NewEncoder(w).Encode(b.targets)
	case r.URL.Path == "/json/version":
		_ = json.NewEncoder(w).Encode(map[string]string{"Browser": "Chrome/126.0.0.0", "Protocol-Version": "1.3"})
	case strings.HasPrefix(r.URL.Path, "/json/activate/"):
		b.activated = append(b.activated, strings.TrimPrefix(r.URL.Path, "/json/activate/"))
		_, _ = w.Write([]byte("Target activated"))
	case r.URL.Path == "/json/new":
		b.created = append(b.created, r.URL.RawQuery)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "NEW", "type": "page", "url": r.URL.RawQuery})
	default:
		http.NotFound(w, r)
	}
}

func newFakeBrowser(t *testing.T) (*fakeBrowser, *httptest.Server) {
	t.Helper()
	b := &fakeBrowser{targets: []map[string]string{
		{"id": "P1", "type": "page", "url": "https://chatgpt.com/", "title": "ChatGPT", "webSocketDebuggerUrl": "ws://127.0.0.1:1/devtools/page/P1"},
		{"id": "S1", "type": "service_worker", "url": "https://chatgpt.com/sw.js"},
	}}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

type nopSink struct{}

func (nopSink) HandleBeforeSend(traffic.Event)          {}
func (nopSink) HandleHeaders(traffic.Event)             {}
func (nopSink) HandleCompleted(traffic.Event)           {}
func (nopSink) HandleError(traffic.Event)               {}
func (nopSink) HandleStreamPayload([]byte, model.TabID) {}

func inlinePost(f func()) bool {
	f()
	return true
}

func TestTabs(t *testing.T) {
	b, srv := newFakeBrowser(t)
	tabs := NewTabs(srv.URL, nil)
	ctx := context.Background()

	list, err := tabs.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, "P1", list[0].ID)
	assert.Equal(t, "ChatGPT", list[0].Title)

	assert.True(t, tabs.Exists(ctx, "P1"))
	assert.False(t, tabs.Exists(ctx, "S1"))
	assert.False(t, tabs.Exists(ctx, "P9"))

	require.NoError(t, tabs.Activate(ctx, "P1"))
	assert.Equal(t, []string{"P1"}, b.activated)

	require.NoError(t, tabs.Open(ctx, "https://chatgpt.com/"))
	assert.Len(t, b.created, 1)
}

func TestTabsUnreachableBrowser(t *testing.T) {
	tabs := NewTabs("http://127.0.0.1:1", nil)
	assert.False(t, tabs.Exists(context.Background(), "P1"))
}

func TestSyncDropsVanishedTargets(t *testing.T) {
	_, srv := newFakeBrowser(t)
	m := New(Options{DevToolsURL: srv.URL}, nopSink{}, inlinePost)
	gone := session.New(context.Background(), "GONE", "https://chatgpt.com/", nil)
	m.sessions.Add(gone)

	// P1 的 websocket 地址不可达，附加失败但不影响同步
	require.NoError(t, m.sync(context.Background()))
	assert.False(t, m.sessions.Has("GONE"))
	assert.False(t, m.sessions.Has("P1"))
	assert.Error(t, gone.Context().Err())

	assert.ErrorIs(t, m.Detach("P1"), ErrNotAttached)
}

func TestSyncFailsWhenBrowserUnreachable(t *testing.T) {
	m := New(Options{DevToolsURL: "http://127.0.0.1:1"}, nopSink{}, inlinePost)
	assert.Error(t, m.sync(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	m := New(Options{DevToolsURL: "http://127.0.0.1:1"}, nopSink{}, inlinePost)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Run(ctx))
}
