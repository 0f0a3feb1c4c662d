package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recall/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	UserFinder        middleware.UserFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPRecorder      middleware.HTTPRecorder

	// 認証
	AuthService   AuthServiceInterface
	LoginRecorder LoginRecorder
	AuthConfig    AuthHandlerConfig

	// チャット
	ChatService ChatServiceInterface

	// 運用
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Recovery → Metrics → SecurityHeaders → CORS
//	  → (認証が必要なルートのみ) Auth → RateLimit(General) → RateLimit(Chat, POST /api/chat のみ)
//
// /healthz, /metrics とOAuthフロー（/api/auth/login, /api/auth/callback, /api/auth/logout）は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.LoginRecorder, deps.AuthConfig)
	chatHandler := NewChatHandler(deps.ChatService)

	// --- 認証不要のルート ---
	r.Get("/healthz", Healthz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/login/{provider}", authHandler.Login)
		r.Get("/auth/callback/{provider}", authHandler.Callback)
		r.Post("/auth/logout", authHandler.Logout)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, deps.UserFinder))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/auth/me", authHandler.Me)
			r.With(deps.RateLimiter.ChatMiddleware()).Post("/chat", chatHandler.Send)
			r.Get("/context/{sessionId}", chatHandler.Context)
			r.Post("/entity/resolve", ResolveEntity)
		})
	})

	return r
}

// Healthz は死活監視用のエンドポイント。
// GET /healthz
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
