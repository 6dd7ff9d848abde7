package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ainotifier/internal/clock"
	"ainotifier/internal/notify"
	"ainotifier/internal/rules"
	"ainotifier/internal/tracker"
	"ainotifier/pkg/model"
	"ainotifier/pkg/traffic"
)

type countingPresenter struct {
	created []notify.Options
}

func (p *countingPresenter) Create(_ context.Context, _ string, opts notify.Options) error {
	p.created = append(p.created, opts)
	return nil
}

func (p *countingPresenter) Clear(context.Context, string) error { return nil }

type env struct {
	h       *Handler
	clock   *clock.Fake
	tracker *tracker.Tracker
	pres    *countingPresenter
	events  chan model.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	tr := tracker.New(c, nil)
	pres := &countingPresenter{}
	d := notify.New(notify.Config{Presenter: pres, Throttle: tr, Clock: c})
	events := make(chan model.Event, 64)
	h := New(Config{
		Registry: rules.Default(),
		Tracker:  tr,
		Notifier: d,
		Clock:    c,
		Events:   events,
	})
	t.Cleanup(d.Wait)
	return &env{h: h, clock: c, tracker: tr, pres: pres, events: events}
}

func (e *env) eventTypes() []string {
	var out []string
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func chatgptConversation(id model.RequestID, tab model.TabID) traffic.Event {
	return traffic.Event{
		RequestID: id,
		TabID:     tab,
		URL:       "https://chatgpt.com/backend-api/f/conversation",
		Method:    "POST",
	}
}

func withContentType(ev traffic.Event, ct string) traffic.Event {
	ev.Phase = traffic.PhaseHeaders
	ev.Headers = traffic.Header{}
	ev.Headers.Set("Content-Type", ct)
	return ev
}

func latencyReport(id model.RequestID, tab model.TabID) traffic.Event {
	return traffic.Event{
		Phase:     traffic.PhaseCompleted,
		RequestID: id,
		TabID:     tab,
		URL:       "https://chatgpt.com/backend-api/lat/r",
		Method:    "POST",
	}
}

func TestStreamCompletionNotifiesOnce(t *testing.T) {
	e := newEnv(t)
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleHeaders(withContentType(ev, "text/event-stream; charset=utf-8"))
	_, ok := e.tracker.Guard("chatgpt", "7")
	require.True(t, ok)

	e.h.HandleCompleted(ev)
	require.Len(t, e.pres.created, 1)
	assert.Equal(t, "ChatGPT 生成完成", e.pres.created[0].Title)

	_, ok = e.tracker.Request("r1")
	assert.False(t, ok)
	_, ok = e.tracker.Guard("chatgpt", "7")
	assert.False(t, ok)
	assert.Equal(t, []string{
		model.EventTracked, model.EventConfirmed, model.EventCompleted, model.EventNotified,
	}, e.eventTypes())

	// 同一请求重复完成不再通知
	e.h.HandleCompleted(ev)
	assert.Len(t, e.pres.created, 1)
}

func TestNonStreamResponseIsDiscarded(t *testing.T) {
	e := newEnv(t)
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleHeaders(withContentType(ev, "application/json"))
	_, ok := e.tracker.Request("r1")
	assert.False(t, ok)
	_, ok = e.tracker.FollowupStart("chatgpt", "7")
	assert.False(t, ok)

	e.h.HandleCompleted(ev)
	assert.Empty(t, e.pres.created)
	assert.Equal(t, []string{model.EventTracked, model.EventRejected}, e.eventTypes())
}

func TestLongRunningTimeoutCleansUpSilently(t *testing.T) {
	e := newEnv(t)
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleHeaders(withContentType(ev, "text/event-stream"))

	e.clock.Advance(tracker.LongRunningTimeout)
	_, ok := e.tracker.Request("r1")
	assert.False(t, ok)
	_, ok = e.tracker.Guard("chatgpt", "7")
	assert.False(t, ok)
	assert.Empty(t, e.pres.created)
	assert.Equal(t, []string{model.EventTracked, model.EventConfirmed, model.EventTimeout}, e.eventTypes())

	// 超时之后迟到的完成信号不再通知
	e.h.HandleCompleted(ev)
	assert.Empty(t, e.pres.created)
}

func TestFollowupRespectsMinDelay(t *testing.T) {
	e := newEnv(t)
	e.h.HandleBeforeSend(chatgptConversation("r1", "7"))

	e.clock.Advance(5 * time.Second)
	e.h.HandleCompleted(latencyReport("lat1", "7"))
	assert.Empty(t, e.pres.created)
	_, ok := e.tracker.FollowupStart("chatgpt", "7")
	assert.True(t, ok, "early follow-up keeps the generation start")

	e.clock.Advance(7 * time.Second)
	e.h.HandleCompleted(latencyReport("lat2", "7"))
	require.Len(t, e.pres.created, 1)
	assert.Equal(t, "检测到延迟报告请求，任务已完成。", e.pres.created[0].Message)
	_, ok = e.tracker.FollowupStart("chatgpt", "7")
	assert.False(t, ok)
	_, ok = e.tracker.Request("r1")
	assert.False(t, ok)
}

func TestFollowupExactlyAtMinDelayIsGated(t *testing.T) {
	e := newEnv(t)
	e.h.HandleBeforeSend(chatgptConversation("r1", "7"))
	e.clock.Advance(10 * time.Second)
	e.h.HandleCompleted(latencyReport("lat1", "7"))
	assert.Empty(t, e.pres.created)
}

func TestFollowupSuppressedAfterStreamCompletion(t *testing.T) {
	e := newEnv(t)
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleHeaders(withContentType(ev, "text/event-stream"))
	e.clock.Advance(20 * time.Second)
	e.h.HandleCompleted(ev)
	require.Len(t, e.pres.created, 1)

	e.clock.Advance(10 * time.Second)
	e.h.HandleCompleted(latencyReport("lat1", "7"))
	assert.Len(t, e.pres.created, 1)
}

func TestErroredStreamDoesNotNotify(t *testing.T) {
	e := newEnv(t)
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleHeaders(withContentType(ev, "text/event-stream"))
	ev.ErrorText = "net::ERR_ABORTED"
	e.h.HandleError(ev)

	_, ok := e.tracker.Guard("chatgpt", "7")
	assert.False(t, ok)
	assert.Empty(t, e.pres.created)
	assert.Equal(t, []string{model.EventTracked, model.EventConfirmed, model.EventErrored}, e.eventTypes())

	e.h.HandleCompleted(ev)
	assert.Empty(t, e.pres.created)
}

func TestPendingRequestCompletedIsDiscarded(t *testing.T) {
	e := newEnv(t)
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleCompleted(ev)
	assert.Empty(t, e.pres.created)
	_, ok := e.tracker.Request("r1")
	assert.False(t, ok)
}

func TestGeminiDirectCompletion(t *testing.T) {
	e := newEnv(t)
	ev := traffic.Event{
		RequestID: "g1",
		TabID:     "3",
		URL:       "https://gemini.google.com/_/BardChatUi/data/assistant.lamda.BardFrontendService/StreamGenerate?bl=x",
		Method:    "POST",
	}
	e.h.HandleBeforeSend(ev)
	assert.Equal(t, tracker.Counts{}, e.tracker.Counts())
	e.h.HandleCompleted(ev)
	require.Len(t, e.pres.created, 1)
	assert.Equal(t, "Gemini 生成完成", e.pres.created[0].Title)

	// 节流窗口内同一标签页不重复通知
	e.clock.Advance(time.Second)
	ev.RequestID = "g2"
	e.h.HandleCompleted(ev)
	assert.Len(t, e.pres.created, 1)

	ev.Method = "GET"
	ev.RequestID = "g3"
	e.clock.Advance(5 * time.Second)
	e.h.HandleCompleted(ev)
	assert.Len(t, e.pres.created, 1)
}

func TestStreamEventNotification(t *testing.T) {
	e := newEnv(t)
	payload := []byte(`{"type":"streamEvent","eventType":"reasoning_end","eventData":{"durationSec":9,"model":"o3"},"url":"https://chatgpt.com/c/abc"}`)
	e.h.HandleStreamPayload(payload, "7")
	require.Len(t, e.pres.created, 1)
	assert.Equal(t, "ChatGPT 推理已结束，正在输出回答。（思考 9 秒）", e.pres.created[0].Message)

	// 流事件与完成通知使用不同的节流键
	ev := chatgptConversation("r1", "7")
	e.h.HandleBeforeSend(ev)
	e.h.HandleHeaders(withContentType(ev, "text/event-stream"))
	e.h.HandleCompleted(ev)
	assert.Len(t, e.pres.created, 2)

	e.h.HandleStreamPayload(payload, "7")
	assert.Len(t, e.pres.created, 2)
}

func TestStreamEventIgnored(t *testing.T) {
	e := newEnv(t)
	e.h.HandleStreamPayload([]byte(`not json`), "7")
	e.h.HandleStreamPayload([]byte(`{"type":"streamEvent","eventType":"first_token","url":"https://chatgpt.com/"}`), "7")
	e.h.HandleStreamPayload([]byte(`{"type":"streamEvent","eventType":"reasoning_end","url":"https://example.com/"}`), "7")
	assert.Empty(t, e.pres.created)
}
