package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recall/internal/auth"
	"github.com/hitoshi/recall/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(provider, state string) (string, error)
	HandleCallback(ctx context.Context, provider, code string) (*auth.LoginResult, error)
}

// LoginRecorder はログイン結果を記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(provider string, success bool)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL  string // ログイン完了後のリダイレクト先
	CookieSecure bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder LoginRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。recorderはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, recorder LoginRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		recorder: recorder,
		config:   config,
	}
}

// Login はOAuthフローを開始する。
// GET /api/auth/login/{provider}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	state, err := auth.GenerateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		handleServiceError(w, err, provider)
		return
	}

	loginURL, err := h.service.LoginURL(provider, state)
	if err != nil {
		handleServiceError(w, err, provider)
		return
	}

	// stateをCookieに保存（CSRF対策）
	h.setStateCookie(w, state, oauthStateMaxAge)
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理し、トークン付きでフロントエンドへリダイレクトする。
// GET /api/auth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("provider", provider))
		h.writeCallbackError(w, provider, model.NewInvalidRequestError("invalid state parameter"))
		return
	}
	h.setStateCookie(w, "", -1)

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		h.writeCallbackError(w, provider, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. プロフィール取得・ユーザー突合・トークン発行
	result, err := h.service.HandleCallback(r.Context(), provider, code)
	if err != nil {
		h.recordLogin(provider, false)
		slog.Warn("oauth callback failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err, provider)
		return
	}
	h.recordLogin(provider, true)

	// 4. フロントエンドにリダイレクト
	http.Redirect(w, r, h.callbackRedirectURL(result.Token), http.StatusTemporaryRedirect)
}

// Logout はログアウトを受け付ける。トークンはステートレスなためサーバー側では何もしない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// userResponse はユーザー情報のレスポンス。
type userResponse struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   *string   `json:"full_name"`
	IsActive   bool      `json:"is_active"`
	Provider   *string   `json:"provider"`
	ProviderID *string   `json:"provider_id"`
	AvatarURL  *string   `json:"avatar_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   optional(u.FullName),
		IsActive:   u.IsActive,
		Provider:   optional(u.Provider),
		ProviderID: optional(u.ProviderID),
		AvatarURL:  optional(u.AvatarURL),
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

// optional は空文字列をJSONのnullとして出力するためにポインタへ変換する。
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *AuthHandler) callbackRedirectURL(token string) string {
	return strings.TrimRight(h.config.FrontendURL, "/") + "/auth/callback?token=" + url.QueryEscape(token)
}

func (h *AuthHandler) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/api/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) writeCallbackError(w http.ResponseWriter, provider string, apiErr *model.APIError) {
	h.recordLogin(provider, false)
	handleServiceError(w, apiErr, provider)
}

// recordLogin はログイン結果を記録する。未知のプロバイダー名はラベルに使わない。
func (h *AuthHandler) recordLogin(provider string, success bool) {
	if h.recorder == nil {
		return
	}
	if provider != auth.ProviderGoogle && provider != auth.ProviderGitHub {
		provider = "unknown"
	}
	h.recorder.RecordLogin(provider, success)
}
