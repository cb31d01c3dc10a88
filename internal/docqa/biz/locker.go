package biz

import (
	"context"
	"sync"
)

// keyedLocker 按 key 提供互斥锁，等待者按到达顺序获得锁，等待可被 ctx 取消。
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	held    bool
	waiters []chan struct{}
	// refs 持有者和等待者的总数，为 0 时删除条目。
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

// Lock 获取 key 的锁。ctx 取消时返回 ctx.Err() 且不持有锁。
func (l *keyedLocker) Lock(ctx context.Context, key string) error {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	if !kl.held {
		kl.held = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	kl.waiters = append(kl.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	for i, w := range kl.waiters {
		if w == ch {
			kl.waiters = append(kl.waiters[:i], kl.waiters[i+1:]...)
			kl.refs--
			l.mu.Unlock()
			return ctx.Err()
		}
	}
	l.mu.Unlock()

	// 锁已移交给本等待者，释放后再返回
	l.Unlock(key)
	return ctx.Err()
}

// Unlock 释放 key 的锁，有等待者时直接移交给最早的等待者。
func (l *keyedLocker) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.locks[key]
	if !ok || !kl.held {
		panic("biz: unlock of unlocked key " + key)
	}
	kl.refs--
	if len(kl.waiters) > 0 {
		ch := kl.waiters[0]
		kl.waiters = kl.waiters[1:]
		close(ch)
		return
	}
	kl.held = false
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// size 返回当前条目数。
func (l *keyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
