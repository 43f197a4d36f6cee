// Package realtime はPostgreSQLのLISTEN/NOTIFYで届く行変更を購読者に配信する。
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Channel は変更通知のNOTIFYチャネル名。
const Channel = "academy_changes"

// OpReload は再接続後など、変更を取りこぼした可能性があることを示す操作名。
const OpReload = "RELOAD"

// Change は1件の行変更。
type Change struct {
	Table           string `json:"table"`
	Op              string `json:"op"`
	ApprenticeEmail string `json:"apprentice_email"`
}

// Handler は変更を受け取るコールバック。
type Handler func(Change)

type subscription struct {
	email   string
	handler Handler
}

// Hub は変更通知を見習いのメールアドレスで絞り込んで配信する。
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]subscription
	nextID int
}

// NewHub はHubを生成する。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[int]subscription)}
}

// Subscribe は指定見習いの変更を購読し、購読解除関数を返す。
// apprenticeEmailが空なら全変更を受け取る。
func (h *Hub) Subscribe(apprenticeEmail string, handler Handler) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = subscription{email: strings.ToLower(apprenticeEmail), handler: handler}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Subscribers は購読者数を返す。
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish は条件に合う購読者へ変更を配信する。RELOADは全購読者に配信される。
func (h *Hub) Publish(c Change) {
	email := strings.ToLower(c.ApprenticeEmail)

	h.mu.RLock()
	var targets []Handler
	for _, s := range h.subs {
		if c.Op == OpReload || s.email == "" || s.email == email {
			targets = append(targets, s.handler)
		}
	}
	h.mu.RUnlock()

	for _, handler := range targets {
		handler(c)
	}
}

// Run は通知チャネルから読み取った変更を配信する。ctxの終了またはチャネルのクローズで戻る。
// nilの通知は接続断を意味し、取りこぼしに備えてRELOADを配信する。
func (h *Hub) Run(ctx context.Context, notifications <-chan *pq.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				h.Publish(Change{Op: OpReload})
				continue
			}
			var c Change
			if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
				h.logger.Warn("invalid change notification",
					slog.String("payload", n.Extra),
					slog.String("error", err.Error()),
				)
				continue
			}
			h.Publish(c)
		}
	}
}

// Listen はPostgreSQLのチャネルを購読し、ctxが終了するまで変更を配信する。
func (h *Hub) Listen(ctx context.Context, databaseURL string) error {
	report := func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			h.logger.Warn("realtime connection attempt failed", slog.Any("error", err))
		case pq.ListenerEventDisconnected:
			h.logger.Warn("realtime listener disconnected", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			h.logger.Info("realtime listener reconnected")
		}
	}

	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute, report)
	defer listener.Close()

	if err := listener.Listen(Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}
	h.logger.Info("realtime listener started", slog.String("channel", Channel))

	go func() {
		ticker := time.NewTicker(90 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					h.logger.Warn("realtime listener ping failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	h.Run(ctx, listener.Notify)
	return nil
}
