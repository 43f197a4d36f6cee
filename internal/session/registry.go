package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory はクライアントIDと永続化されたリフレッシュトークンから新しいManagerを生成する。
type Factory func(clientID, refreshToken string) *Manager

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	IdleTimeout     time.Duration // 最終アクセスからこの時間を過ぎたManagerは破棄される
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRegistryConfig はデフォルトの設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTimeout:     2 * time.Hour,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientEntry struct {
	manager    *Manager
	lastAccess time.Time
}

// Registry はブラウザクライアントごとのManagerを保持する。
// バックグラウンドでアイドル状態のManagerを閉じて破棄する。
type Registry struct {
	config  RegistryConfig
	factory Factory

	mu      sync.RWMutex
	clients map[string]*clientEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry は新しいRegistryを生成し、クリーンアップを開始する。
func NewRegistry(factory Factory, config RegistryConfig) *Registry {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRegistryConfig().IdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRegistryConfig().CleanupInterval
	}
	r := &Registry{
		config:  config,
		factory: factory,
		clients: make(map[string]*clientEntry),
		stopCh:  make(chan struct{}),
	}

	go r.cleanupLoop()

	return r
}

// Get はクライアントのManagerを取得する。存在しなければ生成して開始する。
// refreshTokenは生成時にのみ使われる。
func (r *Registry) Get(ctx context.Context, clientID, refreshToken string) *Manager {
	r.mu.RLock()
	e, exists := r.clients[clientID]
	r.mu.RUnlock()

	if exists {
		r.mu.Lock()
		e.lastAccess = time.Now()
		r.mu.Unlock()
		return e.manager
	}

	r.mu.Lock()
	// ダブルチェック
	if e, exists := r.clients[clientID]; exists {
		e.lastAccess = time.Now()
		r.mu.Unlock()
		return e.manager
	}
	m := r.factory(clientID, refreshToken)
	r.clients[clientID] = &clientEntry{manager: m, lastAccess: time.Now()}
	r.mu.Unlock()

	if err := m.Start(ctx); err != nil {
		slog.Warn("session restore failed",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
	}
	return m
}

// Remove はクライアントのManagerを閉じて破棄する。
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	e, exists := r.clients[clientID]
	delete(r.clients, clientID)
	r.mu.Unlock()

	if exists {
		e.manager.Close()
	}
}

// Len は保持しているManagerの数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Stop はクリーンアップを停止し、全Managerを閉じる。
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.mu.Lock()
		clients := r.clients
		r.clients = make(map[string]*clientEntry)
		r.mu.Unlock()

		for _, e := range clients {
			e.manager.Close()
		}
	})
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// cleanup はIdleTimeoutを過ぎたManagerを閉じて破棄する。
func (r *Registry) cleanup(now time.Time) {
	threshold := now.Add(-r.config.IdleTimeout)

	var expired []*Manager
	r.mu.Lock()
	for id, e := range r.clients {
		if e.lastAccess.Before(threshold) {
			expired = append(expired, e.manager)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, m := range expired {
		m.Close()
	}
	if len(expired) > 0 {
		slog.Debug("evicted idle clients", slog.Int("count", len(expired)))
	}
}
