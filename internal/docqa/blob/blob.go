// Package blob 保存上传的原始文档。
package blob

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound 表示对象不存在。
var ErrNotFound = errors.New("blob not found")

// Object 描述一个已保存的对象。
type Object struct {
	// ID 对象标识，删除和读取时使用。
	ID string `json:"id"`
	// URL 对象的访问地址。
	URL string `json:"url"`
	// Size 对象大小（字节）。
	Size int64 `json:"size"`
}

// Store 定义对象存储接口。
type Store interface {
	// Put 以 name 为标识保存对象，已存在时覆盖。
	Put(ctx context.Context, name, contentType string, data []byte) (*Object, error)
	// Get 读取对象内容。
	Get(ctx context.Context, id string) ([]byte, error)
	// Delete 删除对象。
	Delete(ctx context.Context, id string) error
}

// MemoryStore 是进程内的对象存储。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore 创建内存对象存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put 保存对象。
func (m *MemoryStore) Put(_ context.Context, name, _ string, data []byte) (*Object, error) {
	if name == "" {
		return nil, errors.New("blob name is empty")
	}
	m.mu.Lock()
	m.objects[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return &Object{ID: name, URL: "memory://" + name, Size: int64(len(data))}, nil
}

// Get 读取对象。
func (m *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete 删除对象。
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return ErrNotFound
	}
	delete(m.objects, id)
	return nil
}

// Len 返回对象数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Store = (*MemoryStore)(nil)
