// Package profile はログインユーザーのプロフィールをキャッシュし、
// 取得・初回作成を1本化するコーディネーターを提供する。
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/academy/internal/metrics"
	"github.com/hitoshi/academy/internal/model"
)

// 既定値
const (
	DefaultStaleAfter = time.Hour
	DefaultTimeout    = 10 * time.Second
)

// Store はプロフィールの取得と作成を行う永続化層。
// FindByIDは見つからない場合に (nil, nil) または「行なし」を示すエラーを返す。
type Store interface {
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	Insert(ctx context.Context, p *model.Profile) (*model.Profile, error)
}

// Identity はプロフィール取得に必要な認証ユーザー情報。
type Identity struct {
	UserID   string
	Email    string
	Metadata model.UserMetadata
}

// Config はCoordinatorの設定。ゼロ値の項目は既定値になる。
type Config struct {
	StaleAfter time.Duration
	Timeout    time.Duration
}

// flight は実行中の取得1件。doneは取得の終了時に閉じられる。
type flight struct {
	userID string
	gen    uint64
	done   chan struct{}
}

// Coordinator はプロフィールキャッシュと取得の排他制御を行う。
// 同時に実行される取得は高々1つ。同じユーザーの重複呼び出しは待たずに即座に戻り、
// 別ユーザーの呼び出しは実行中の取得の終了を待ってから取得する。
type Coordinator struct {
	store   Store
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	config  Config
	now     func() time.Time

	mu            sync.Mutex
	value         *model.Profile
	lastFetchedAt time.Time
	flight        *flight
	identity      *Identity
	// gen はInvalidateのたびに進む。開始時と世代が異なる取得結果はキャッシュに書かない。
	gen uint64
}

// NewCoordinator はCoordinatorを生成する。
func NewCoordinator(store Store, m metrics.MetricsCollector, logger *slog.Logger, config Config) *Coordinator {
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		metrics: m,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// Fetch はプロフィールを返す。
//
//  1. 同じユーザーの取得が実行中なら、重複クエリを発行せずキャッシュ値を返す
//  2. 別ユーザーの取得が実行中なら、その終了を待つ
//  3. forceでなく、同一ユーザーのキャッシュが鮮度内ならキャッシュ値を返す
//  4. タイムアウト付きでストアを照会する
//  5. 行が存在しなければサインアップ時のメタデータからプロフィールを作成する
//  6. それ以外のエラー（タイムアウトを含む）はキャッシュを変更せずに返す
//
// 呼び出し後にInvalidateされた場合、取得結果は呼び出し元には返すがキャッシュには書かない。
func (c *Coordinator) Fetch(ctx context.Context, id Identity, force bool) (*model.Profile, error) {
	return c.FetchAt(ctx, id, force, c.Generation())
}

// Generation は現在のキャッシュ世代を返す。
func (c *Coordinator) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// FetchAt は世代genの時点の識別子としてFetchする。
// gen以降にInvalidateされていれば、照会せずにnilを返す。
func (c *Coordinator) FetchAt(ctx context.Context, id Identity, force bool, gen uint64) (*model.Profile, error) {
	c.mu.Lock()
	for c.flight != nil && gen == c.gen {
		f := c.flight
		if f.userID == id.UserID && f.gen == gen {
			cached := c.cachedFor(id.UserID)
			c.mu.Unlock()
			c.metrics.RecordProfileFetch(metrics.ProfileInFlight)
			c.logger.Debug("profile fetch already in flight", slog.String("user_id", id.UserID))
			return cached, nil
		}
		c.mu.Unlock()
		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to wait for profile fetch: %w", ctx.Err())
		}
		c.mu.Lock()
	}
	if gen != c.gen {
		c.mu.Unlock()
		c.logger.Debug("skipping profile fetch from before invalidation", slog.String("user_id", id.UserID))
		return nil, nil
	}
	if !force {
		if cached := c.cachedFor(id.UserID); cached != nil && c.now().Sub(c.lastFetchedAt) < c.config.StaleAfter {
			c.mu.Unlock()
			c.metrics.RecordProfileFetch(metrics.ProfileHit)
			return cached, nil
		}
	}
	f := &flight{userID: id.UserID, gen: gen, done: make(chan struct{})}
	c.flight = f
	identity := id
	c.identity = &identity
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.flight = nil
		close(f.done)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	p, err := c.store.FindByID(ctx, id.UserID)
	if err != nil && !isNoRows(err) {
		c.metrics.RecordProfileFetch(metrics.ProfileError)
		c.logger.Error("failed to fetch profile",
			slog.String("user_id", id.UserID),
			slog.String("error", err.Error()),
		)
		return c.Cached(), fmt.Errorf("failed to fetch profile: %w", err)
	}

	outcome := metrics.ProfileFetched
	if p == nil {
		p, err = c.store.Insert(ctx, NewFromSignup(id))
		if err != nil {
			c.metrics.RecordProfileFetch(metrics.ProfileError)
			c.logger.Error("failed to create profile",
				slog.String("user_id", id.UserID),
				slog.String("error", err.Error()),
			)
			return c.Cached(), fmt.Errorf("failed to create profile: %w", err)
		}
		outcome = metrics.ProfileCreated
		c.logger.Info("profile created on first login",
			slog.String("user_id", id.UserID),
			slog.String("role", string(p.Role)),
		)
	}

	c.mu.Lock()
	stale := gen != c.gen
	if !stale {
		c.value = p
		c.lastFetchedAt = c.now()
	}
	c.mu.Unlock()

	if stale {
		c.logger.Debug("discarding profile fetched before invalidation", slog.String("user_id", id.UserID))
	}
	c.metrics.RecordProfileFetch(outcome)
	return copyProfile(p), nil
}

// Refresh は直近に取得したユーザーのプロフィールを強制再取得する。
// まだ一度も取得していない場合はnilを返す。
func (c *Coordinator) Refresh(ctx context.Context) (*model.Profile, error) {
	c.mu.Lock()
	var id *Identity
	if c.identity != nil {
		cp := *c.identity
		id = &cp
	}
	c.mu.Unlock()

	if id == nil {
		return nil, nil
	}
	return c.Fetch(ctx, *id, true)
}

// Invalidate はキャッシュを破棄する。実行中の取得の結果もキャッシュされなくなる。
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.gen++
	c.value = nil
	c.lastFetchedAt = time.Time{}
	c.identity = nil
	c.mu.Unlock()
}

// Cached はキャッシュ中のプロフィールを返す。未取得ならnil。
func (c *Coordinator) Cached() *model.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyProfile(c.value)
}

// InFlight は取得が実行中かどうかを返す。
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flight != nil
}

// cachedFor は指定ユーザーのキャッシュ値を返す。c.muを保持して呼ぶこと。
func (c *Coordinator) cachedFor(userID string) *model.Profile {
	if c.value == nil || c.value.ID != userID {
		return nil
	}
	return copyProfile(c.value)
}

// NewFromSignup はサインアップ時のメタデータから新規プロフィールを組み立てる。
// 名前の最初の語を名、残りを姓とし、名前がなければどちらもnil。ロールの既定はapprentice。
func NewFromSignup(id Identity) *model.Profile {
	name := strings.TrimSpace(id.Metadata.Name)
	p := &model.Profile{
		ID:    id.UserID,
		Email: id.Email,
		Name:  name,
		Role:  id.Metadata.Role,
	}
	if !p.Role.Valid() {
		p.Role = model.RoleApprentice
	}

	parts := strings.Fields(name)
	if len(parts) > 0 {
		first := parts[0]
		p.FirstName = &first
	}
	if len(parts) > 1 {
		last := strings.Join(parts[1:], " ")
		p.LastName = &last
	}
	return p
}

// isNoRows はエラーが「該当行なし」を意味するかを判定する。
func isNoRows(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no rows") ||
		strings.Contains(msg, "0 rows") ||
		strings.Contains(msg, "pgrst116")
}

func copyProfile(p *model.Profile) *model.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
