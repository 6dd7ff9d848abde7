// Package tracker 维护在途请求、长任务兜底、后续信号起点和节流时间戳。
//
// Tracker 不加锁，只能在事件循环协程内调用；定时器回调也必须由传入的
// Clock 投递回同一协程。
package tracker

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"

	"ainotifier/internal/clock"
	"ainotifier/internal/logger"
	"ainotifier/pkg/model"
)

const (
	// LongRunningTimeout 已确认流的最长存活时间
	LongRunningTimeout = 45 * time.Minute
	// FollowupTTL 生成起点记录的有效期
	FollowupTTL = time.Hour
	// SnapshotMaxAge 快照最大可接受年龄
	SnapshotMaxAge = time.Hour
)

// ErrStaleSnapshot 快照已过期
var ErrStaleSnapshot = errors.New("snapshot is stale")

// ThrottleKey 平台 + 标签页
func ThrottleKey(p model.PlatformID, tab model.TabID) string {
	return string(p) + ":" + string(tab)
}

// StreamThrottleKey 平台 + 子事件 + 标签页
func StreamThrottleKey(p model.PlatformID, event string, tab model.TabID) string {
	return string(p) + ":" + event + ":" + string(tab)
}

type guard struct {
	model.LongRunningGuard
	timer clock.Timer
	token uint64
}

type followup struct {
	start int64
	timer clock.Timer
	token uint64
}

// Counts 各类状态数量
type Counts struct {
	Requests  int
	Guards    int
	Followups int
	Throttles int
}

// Tracker 完成追踪器
type Tracker struct {
	clock clock.Clock
	log   logger.Logger

	requests  map[model.RequestID]*model.TrackedRequest
	guards    map[model.GuardKey]*guard
	followups map[model.GuardKey]*followup
	throttles map[string]int64

	seq       uint64
	onChange  func()
	onTimeout func(model.TrackedRequest)
}

// New 创建追踪器
func New(c clock.Clock, l logger.Logger) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Tracker{
		clock:     c,
		log:       l,
		requests:  make(map[model.RequestID]*model.TrackedRequest),
		guards:    make(map[model.GuardKey]*guard),
		followups: make(map[model.GuardKey]*followup),
		throttles: make(map[string]int64),
	}
}

// OnChange 设置状态变更回调（用于触发持久化）
func (t *Tracker) OnChange(f func()) { t.onChange = f }

// OnTimeout 设置长任务超时回调
func (t *Tracker) OnTimeout(f func(model.TrackedRequest)) { t.onTimeout = f }

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}

func (t *Tracker) nowMS() int64 { return t.clock.Now().UnixMilli() }

func (t *Tracker) nextToken() uint64 {
	t.seq++
	return t.seq
}

// Request 按 requestId 查询
func (t *Tracker) Request(id model.RequestID) (model.TrackedRequest, bool) {
	r, ok := t.requests[id]
	if !ok {
		return model.TrackedRequest{}, false
	}
	return *r, true
}

// FollowupStart 查询生成起点
func (t *Tracker) FollowupStart(p model.PlatformID, tab model.TabID) (time.Time, bool) {
	f, ok := t.followups[model.GuardKey{PlatformID: p, TabID: tab}]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(f.start).In(t.clock.Now().Location()), true
}

// Guard 查询长任务兜底
func (t *Tracker) Guard(p model.PlatformID, tab model.TabID) (model.LongRunningGuard, bool) {
	g, ok := t.guards[model.GuardKey{PlatformID: p, TabID: tab}]
	if !ok {
		return model.LongRunningGuard{}, false
	}
	return g.LongRunningGuard, true
}

// Counts 返回当前状态数量
func (t *Tracker) Counts() Counts {
	return Counts{
		Requests:  len(t.requests),
		Guards:    len(t.guards),
		Followups: len(t.followups),
		Throttles: len(t.throttles),
	}
}

// RecordStart 记录一个待确认的流请求，trackStart 时同时记录生成起点
func (t *Tracker) RecordStart(id model.RequestID, p model.PlatformID, tab model.TabID, trackStart bool) {
	if old, ok := t.requests[id]; ok {
		t.dropGuardIfOwned(old)
	}
	now := t.nowMS()
	t.requests[id] = &model.TrackedRequest{RequestID: id, PlatformID: p, TabID: tab, StartTime: now}
	if trackStart {
		t.setFollowup(model.GuardKey{PlatformID: p, TabID: tab}, now, FollowupTTL)
	}
	t.log.Debug("记录请求", "requestID", string(id), "platform", string(p), "tab", string(tab))
	t.changed()
}

// ConfirmStream 确认为事件流并布置 45 分钟兜底
func (t *Tracker) ConfirmStream(id model.RequestID) bool {
	r, ok := t.requests[id]
	if !ok || r.IsStream {
		return false
	}
	r.IsStream = true
	key := model.GuardKey{PlatformID: r.PlatformID, TabID: r.TabID}
	if old, ok := t.guards[key]; ok {
		old.timer.Stop()
		delete(t.guards, key)
		if old.RequestID != id {
			// 同一标签页开始了新的生成，旧流不再跟踪
			delete(t.requests, old.RequestID)
			t.log.Info("旧的长任务被新生成取代", "requestID", string(old.RequestID), "tab", string(r.TabID))
		}
	}
	now := t.nowMS()
	t.armGuard(model.LongRunningGuard{
		RequestID:  id,
		PlatformID: r.PlatformID,
		TabID:      r.TabID,
		StartTime:  now,
		Deadline:   now + LongRunningTimeout.Milliseconds(),
	}, LongRunningTimeout)
	t.log.Debug("确认事件流", "requestID", string(id), "platform", string(r.PlatformID), "tab", string(r.TabID))
	t.changed()
	return true
}

// RejectStream 非事件流响应：丢弃请求及其生成起点
func (t *Tracker) RejectStream(id model.RequestID) bool {
	r, ok := t.requests[id]
	if !ok {
		return false
	}
	delete(t.requests, id)
	t.dropGuardIfOwned(r)
	t.dropFollowup(model.GuardKey{PlatformID: r.PlatformID, TabID: r.TabID})
	t.log.Debug("非事件流，丢弃请求", "requestID", string(id))
	t.changed()
	return true
}

// RecordCompletion 流正常结束：清理请求、兜底和生成起点
func (t *Tracker) RecordCompletion(id model.RequestID) (model.TrackedRequest, bool) {
	r, ok := t.requests[id]
	if !ok {
		return model.TrackedRequest{}, false
	}
	delete(t.requests, id)
	t.dropGuardIfOwned(r)
	t.dropFollowup(model.GuardKey{PlatformID: r.PlatformID, TabID: r.TabID})
	t.changed()
	return *r, true
}

// RecordError 请求出错：清理请求和兜底，不触发通知
func (t *Tracker) RecordError(id model.RequestID) (model.TrackedRequest, bool) {
	r, ok := t.requests[id]
	if !ok {
		return model.TrackedRequest{}, false
	}
	delete(t.requests, id)
	t.dropGuardIfOwned(r)
	t.changed()
	return *r, true
}

// ForceTimeout 兜底超时：仅当兜底仍指向该请求时清理
func (t *Tracker) ForceTimeout(id model.RequestID) bool {
	r, ok := t.requests[id]
	if !ok {
		return false
	}
	key := model.GuardKey{PlatformID: r.PlatformID, TabID: r.TabID}
	g, ok := t.guards[key]
	if !ok || g.RequestID != id {
		return false
	}
	g.timer.Stop()
	t.timeout(key, g)
	return true
}

func (t *Tracker) timeout(key model.GuardKey, g *guard) {
	delete(t.guards, key)
	r, ok := t.requests[g.RequestID]
	if ok {
		delete(t.requests, g.RequestID)
	}
	t.log.Info("长任务超时，强制清理", "requestID", string(g.RequestID), "platform", string(key.PlatformID), "tab", string(key.TabID))
	t.changed()
	if ok && t.onTimeout != nil {
		t.onTimeout(*r)
	}
}

// ConsumeFollowup 后续信号生效：清理该标签页在此平台的全部跟踪状态
func (t *Tracker) ConsumeFollowup(p model.PlatformID, tab model.TabID) {
	for id, r := range t.requests {
		if r.PlatformID == p && r.TabID == tab {
			delete(t.requests, id)
		}
	}
	key := model.GuardKey{PlatformID: p, TabID: tab}
	if g, ok := t.guards[key]; ok {
		g.timer.Stop()
		delete(t.guards, key)
	}
	t.dropFollowup(key)
	t.changed()
}

// CheckAndStamp 节流检查：窗口外返回 true 并更新时间戳
func (t *Tracker) CheckAndStamp(key string, window time.Duration) bool {
	now := t.nowMS()
	if last, ok := t.throttles[key]; ok && now-last < window.Milliseconds() {
		return false
	}
	t.throttles[key] = now
	t.changed()
	return true
}

func (t *Tracker) armGuard(lg model.LongRunningGuard, d time.Duration) {
	key := model.GuardKey{PlatformID: lg.PlatformID, TabID: lg.TabID}
	g := &guard{LongRunningGuard: lg, token: t.nextToken()}
	token := g.token
	g.timer = t.clock.AfterFunc(d, func() {
		cur, ok := t.guards[key]
		if !ok || cur.token != token {
			return
		}
		t.timeout(key, cur)
	})
	t.guards[key] = g
}

func (t *Tracker) dropGuardIfOwned(r *model.TrackedRequest) {
	key := model.GuardKey{PlatformID: r.PlatformID, TabID: r.TabID}
	if g, ok := t.guards[key]; ok && g.RequestID == r.RequestID {
		g.timer.Stop()
		delete(t.guards, key)
	}
}

func (t *Tracker) setFollowup(key model.GuardKey, start int64, ttl time.Duration) {
	t.dropFollowup(key)
	f := &followup{start: start, token: t.nextToken()}
	token := f.token
	f.timer = t.clock.AfterFunc(ttl, func() {
		cur, ok := t.followups[key]
		if !ok || cur.token != token {
			return
		}
		delete(t.followups, key)
		t.log.Debug("生成起点过期", "platform", string(key.PlatformID), "tab", string(key.TabID))
		t.changed()
	})
	t.followups[key] = f
}

func (t *Tracker) dropFollowup(key model.GuardKey) {
	if f, ok := t.followups[key]; ok {
		f.timer.Stop()
		delete(t.followups, key)
	}
}

// Snapshot 导出可序列化状态（不含定时器）
func (t *Tracker) Snapshot() model.Snapshot {
	return model.Snapshot{
		Requests: lo.MapValues(t.requests, func(r *model.TrackedRequest, _ model.RequestID) model.TrackedRequest {
			return *r
		}),
		LongRunning: lo.MapEntries(t.guards, func(k model.GuardKey, g *guard) (string, model.LongRunningGuard) {
			return k.String(), g.LongRunningGuard
		}),
		Followups: lo.MapEntries(t.followups, func(k model.GuardKey, f *followup) (string, int64) {
			return k.String(), f.start
		}),
		Throttles: lo.Assign(t.throttles),
		Timestamp: t.nowMS(),
	}
}

// Restore 用快照替换当前状态；过期快照整体拒绝并清空现有状态，
// 已过截止时间的兜底连同其请求静默丢弃，其余按剩余时间重新布置
func (t *Tracker) Restore(s model.Snapshot) error {
	now := t.nowMS()
	t.reset()
	if now-s.Timestamp >= SnapshotMaxAge.Milliseconds() {
		return ErrStaleSnapshot
	}

	for id, r := range s.Requests {
		r := r
		if r.RequestID == "" {
			r.RequestID = id
		}
		t.requests[r.RequestID] = &r
	}
	for _, lg := range s.LongRunning {
		if lg.Deadline == 0 {
			lg.Deadline = lg.StartTime + LongRunningTimeout.Milliseconds()
		}
		remaining := lg.Deadline - now
		if remaining <= 0 {
			delete(t.requests, lg.RequestID)
			t.log.Info("兜底已过期，丢弃", "requestID", string(lg.RequestID), "tab", string(lg.TabID))
			continue
		}
		t.armGuard(lg, time.Duration(remaining)*time.Millisecond)
	}
	for k, start := range s.Followups {
		p, tab, ok := strings.Cut(k, "|")
		if !ok {
			continue
		}
		age := now - start
		if age >= FollowupTTL.Milliseconds() {
			continue
		}
		t.setFollowup(model.GuardKey{PlatformID: model.PlatformID(p), TabID: model.TabID(tab)}, start, FollowupTTL-time.Duration(age)*time.Millisecond)
	}
	for k, v := range s.Throttles {
		t.throttles[k] = v
	}
	t.log.Info("恢复追踪状态", "requests", len(t.requests), "guards", len(t.guards), "followups", len(t.followups))
	return nil
}

func (t *Tracker) reset() {
	for _, g := range t.guards {
		g.timer.Stop()
	}
	for _, f := range t.followups {
		f.timer.Stop()
	}
	t.requests = make(map[model.RequestID]*model.TrackedRequest)
	t.guards = make(map[model.GuardKey]*guard)
	t.followups = make(map[model.GuardKey]*followup)
	t.throttles = make(map[string]int64)
}
