package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/recall/internal/model"
)

// 制限の種別。ログとエラーメッセージに使う。
const (
	limitGeneral = "general"
	limitChat    = "chat"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 認証済みAPI全般のレート（req/sec）
	GeneralBurst    int           // API全般のバーストサイズ
	ChatRate        rate.Limit    // POST /api/chat のレート（req/sec）
	ChatBurst       int           // チャット送信のバーストサイズ
	CleanupInterval time.Duration // 使われなくなったリミッターの掃除間隔
}

// DefaultRateLimiterConfig はRATE_LIMIT_GENERAL, RATE_LIMIT_CHATのデフォルト値
// (120, 30 req/min/user) で設定を返す。
func DefaultRateLimiterConfig() RateLimiterConfig {
	return NewRateLimiterConfig(120, 30)
}

// NewRateLimiterConfig は1分あたりのリクエスト数から設定を生成する。
// バーストは1分あたりの上限と同じにする。
func NewRateLimiterConfig(generalPerMinute, chatPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     perMinute(generalPerMinute),
		GeneralBurst:    generalPerMinute,
		ChatRate:        perMinute(chatPerMinute),
		ChatBurst:       chatPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// limiterSet はユーザーIDごとのトークンバケットを1種類分保持する。
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		name:    name,
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// allow はuserIDのバケットからトークンを1つ消費できるかを返す。
func (s *limiterSet) allow(userID string, now time.Time) bool {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[userID] = e
	}
	e.lastAccess = now
	s.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// sweep はttlより長くアクセスのないエントリを削除する。
func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, e := range s.entries {
		if now.Sub(e.lastAccess) > ttl {
			delete(s.entries, userID)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// retryAfter は1トークン補充されるまでの秒数。最低1秒。
func (s *limiterSet) retryAfter() int {
	if s.limit <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1.0/float64(s.limit))))
}

// RateLimiter は認証済みユーザーごとのレート制限を管理する。
// API全般とチャット送信の2つのバケットは独立している。
type RateLimiter struct {
	general *limiterSet
	chat    *limiterSet

	cleanupInterval time.Duration
	now             func() time.Time
	stopOnce        sync.Once
	stopCh          chan struct{}
}

// NewRateLimiter はRateLimiterを生成し、バックグラウンドの掃除を開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		general:         newLimiterSet(limitGeneral, config.GeneralRate, config.GeneralBurst),
		chat:            newLimiterSet(limitChat, config.ChatRate, config.ChatBurst),
		cleanupInterval: config.CleanupInterval,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
	if rl.cleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Stop は掃除のgoroutineを停止する。複数回呼んでもよい。
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware は認証済みAPI全般のレート制限を行う。AuthMiddlewareの後に置く。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.general)
}

// ChatMiddleware はチャット送信専用のレート制限を行う。API全般の制限とは独立。
func (rl *RateLimiter) ChatMiddleware() func(next http.Handler) http.Handler {
	return rl.middleware(rl.chat)
}

// GeneralLimiterCount は保持しているAPI全般リミッターの数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.len() }

// ChatLimiterCount は保持しているチャット送信リミッターの数を返す。
func (rl *RateLimiter) ChatLimiterCount() int { return rl.chat.len() }

func (rl *RateLimiter) middleware(set *limiterSet) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				writeUnauthorized(w, model.NewMissingCredentialsError())
				return
			}
			if !set.allow(userID, rl.now()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", set.name),
				)
				w.Header().Set("Retry-After", strconv.Itoa(set.retryAfter()))
				WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError(set.name))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は掃除間隔の2倍を超えて使われていないリミッターを削除する。
func (rl *RateLimiter) cleanup() {
	now := rl.now()
	ttl := rl.cleanupInterval * 2
	rl.general.sweep(now, ttl)
	rl.chat.sweep(now, ttl)
}
