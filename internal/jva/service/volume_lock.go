package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// VolumeLocks 按卷 ID 串行化同一个卷上的变更操作
// 锁在驱动调用期间保持，获取锁可以被 ctx 取消
type VolumeLocks struct {
	mu    sync.Mutex
	locks map[string]*volumeLock
}

type volumeLock struct {
	sem     *semaphore.Weighted
	waiters int
}

// NewVolumeLocks 创建卷锁表
func NewVolumeLocks() *VolumeLocks {
	return &VolumeLocks{locks: make(map[string]*volumeLock)}
}

// Lock 获取卷锁，返回释放函数
func (l *VolumeLocks) Lock(ctx context.Context, volumeID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[volumeID]
	if !ok {
		lk = &volumeLock{sem: semaphore.NewWeighted(1)}
		l.locks[volumeID] = lk
	}
	lk.waiters++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.release(volumeID, lk)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.release(volumeID, lk)
		})
	}, nil
}

// release 没有等待者时回收锁，避免锁表无限增长
func (l *VolumeLocks) release(volumeID string, lk *volumeLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.waiters--
	if lk.waiters == 0 {
		delete(l.locks, volumeID)
	}
}

// size 当前持有或等待中的卷锁数量
func (l *VolumeLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
