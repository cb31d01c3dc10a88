package store

import (
	"container/heap"
	"sync"
	"time"
)

// MemorySessionStore 是进程内的 SessionStore 实现。
// 会话按 LastAccessed 组织成最小堆，过期清理只访问已过期的会话。
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	idle     idleHeap
}

type sessionEntry struct {
	session *Session
	index   int
}

// NewMemorySessionStore 创建内存会话存储。
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*sessionEntry)}
}

// Get 返回会话的拷贝。
func (m *MemorySessionStore) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// Put 创建或替换会话。
func (m *MemorySessionStore) Put(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[s.ID]; ok {
		e.session = s.Clone()
		heap.Fix(&m.idle, e.index)
		return
	}
	e := &sessionEntry{session: s.Clone()}
	m.sessions[s.ID] = e
	heap.Push(&m.idle, e)
}

// Touch 更新会话的最后访问时间。
func (m *MemorySessionStore) Touch(id string, at time.Time) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.session.LastAccessed = at
	heap.Fix(&m.idle, e.index)
	return e.session.Clone(), true
}

// Delete 删除会话。
func (m *MemorySessionStore) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	heap.Remove(&m.idle, e.index)
	delete(m.sessions, id)
	return true
}

// EvictIdle 删除 LastAccessed 早于 before 的会话。
func (m *MemorySessionStore) EvictIdle(before time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []string
	for m.idle.Len() > 0 && m.idle[0].session.LastAccessed.Before(before) {
		e := heap.Pop(&m.idle).(*sessionEntry)
		delete(m.sessions, e.session.ID)
		evicted = append(evicted, e.session.ID)
	}
	return evicted
}

// Len 返回会话数量。
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// idleHeap 按 LastAccessed 升序的最小堆。
type idleHeap []*sessionEntry

func (h idleHeap) Len() int { return len(h) }

func (h idleHeap) Less(i, j int) bool {
	return h[i].session.LastAccessed.Before(h[j].session.LastAccessed)
}

func (h idleHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *idleHeap) Push(x any) {
	e := x.(*sessionEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *idleHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

var _ SessionStore = (*MemorySessionStore)(nil)
