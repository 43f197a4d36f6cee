package masquerade

import (
	"log/slog"
	"sync"
	"time"
)

// TabStorage はタブ1つ分のメモリ上のストレージ。永続化されない。
type TabStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Storage = (*TabStorage)(nil)

// NewTabStorage は空のTabStorageを生成する。
func NewTabStorage() *TabStorage {
	return &TabStorage{values: make(map[string]string)}
}

func (t *TabStorage) Get(key string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[key]
	return v, ok
}

func (t *TabStorage) Set(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

func (t *TabStorage) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.values, key)
}

type tabEntry struct {
	storage    *TabStorage
	lastAccess time.Time
}

// TabStore はタブIDごとのTabStorageを保持する。
// 一定時間アクセスのないタブはバックグラウンドで破棄される。
type TabStore struct {
	idleTimeout time.Duration

	mu   sync.RWMutex
	tabs map[string]*tabEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTabStore は新しいTabStoreを生成し、クリーンアップを開始する。
func NewTabStore(idleTimeout, cleanupInterval time.Duration) *TabStore {
	s := &TabStore{
		idleTimeout: idleTimeout,
		tabs:        make(map[string]*tabEntry),
		stopCh:      make(chan struct{}),
	}
	go s.cleanupLoop(cleanupInterval)
	return s
}

// Tab は指定タブのストレージを返す。存在しなければ作成する。
func (s *TabStore) Tab(tabID string) *TabStorage {
	s.mu.RLock()
	e, exists := s.tabs[tabID]
	s.mu.RUnlock()

	if exists {
		s.mu.Lock()
		e.lastAccess = time.Now()
		s.mu.Unlock()
		return e.storage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// ダブルチェック
	if e, exists := s.tabs[tabID]; exists {
		e.lastAccess = time.Now()
		return e.storage
	}
	storage := NewTabStorage()
	s.tabs[tabID] = &tabEntry{storage: storage, lastAccess: time.Now()}
	return storage
}

// Len は保持しているタブ数を返す。
func (s *TabStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs)
}

// Stop はクリーンアップを停止する。
func (s *TabStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *TabStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *TabStore) cleanup(now time.Time) {
	threshold := now.Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.tabs {
		if e.lastAccess.Before(threshold) {
			delete(s.tabs, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("evicted idle tabs", slog.Int("count", removed))
	}
}
