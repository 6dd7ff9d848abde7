package session

import (
	"sort"
	"sync"

	"ainotifier/internal/logger"
	"ainotifier/pkg/model"
)

// Manager 已附加目标的会话表
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.TabID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.TabID]*Session),
		log:      l,
	}
}

// Add 注册会话，同一目标已有的会话会被关闭并替换
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	old := m.sessions[s.ID]
	m.sessions[s.ID] = s
	m.mu.Unlock()

	if old != nil && old != s {
		_ = old.Close()
	}
	m.log.Info("附加目标会话", "target", string(s.ID), "url", s.URL)
}

// Get 获取会话
func (m *Manager) Get(id model.TabID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Has 是否已附加
func (m *Manager) Has(id model.TabID) bool {
	_, ok := m.Get(id)
	return ok
}

// Remove 关闭并移除会话；只有当前登记的正是 s 时才移除
func (m *Manager) Remove(s *Session) bool {
	m.mu.Lock()
	cur, ok := m.sessions[s.ID]
	if ok && cur == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()

	_ = s.Close()
	if ok && cur == s {
		m.log.Info("移除目标会话", "target", string(s.ID))
		return true
	}
	return false
}

// List 返回所有活动会话，按目标 ID 排序
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// CloseAll 关闭全部会话
func (m *Manager) CloseAll() {
	m.mu.Lock()
	list := m.sessions
	m.sessions = make(map[model.TabID]*Session)
	m.mu.Unlock()

	for _, s := range list {
		_ = s.Close()
	}
}
