package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/recall/internal/chat"
	"github.com/hitoshi/recall/internal/middleware"
	"github.com/hitoshi/recall/internal/model"
)

// ChatServiceInterface はチャットハンドラーが必要とするサービスインターフェース。
type ChatServiceInterface interface {
	Send(ctx context.Context, userID string, in chat.SendInput) (*model.ChatMessage, error)
	Enrich(msg *model.ChatMessage)
}

// ChatHandler はチャット関連のHTTPハンドラー。
type ChatHandler struct {
	service ChatServiceInterface
}

// NewChatHandler はChatHandlerを生成する。
func NewChatHandler(service ChatServiceInterface) *ChatHandler {
	return &ChatHandler{service: service}
}

// chatRequest はチャット送信のリクエストボディ。
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Role      string `json:"role"`
}

// chatResponse はチャット送信のレスポンス。
// エンリッチメントは非同期のため常にprocessingを返す。
type chatResponse struct {
	Status      string `json:"status"`
	LLMResponse string `json:"llm_response"`
}

// contextResponse はセッションコンテキスト取得のレスポンス。
type contextResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Context   []any  `json:"context"`
}

// Send はメッセージを保存し、レスポンスを送信してからエンリッチメントを予約する。
// POST /api/chat
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.Send(r.Context(), user.ID, chat.SendInput{
		SessionID: req.SessionID,
		Message:   req.Message,
		Role:      req.Role,
	})
	if err != nil {
		if isValidationError(err) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
			return
		}
		handleServiceError(w, err, "")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Status: "processing", LLMResponse: "pending"})
	if err := http.NewResponseController(w).Flush(); err != nil {
		slog.Debug("レスポンスのフラッシュに失敗しました", slog.String("error", err.Error()))
	}
	h.service.Enrich(msg)
}

// Context はセッションのコンテキストを返す。コンテキストの組み立ては未実装のため常に空。
// GET /api/context/{sessionId}
func (h *ChatHandler) Context(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{
		SessionID: chi.URLParam(r, "sessionId"),
		UserID:    user.ID,
		Context:   []any{},
	})
}

func isValidationError(err error) bool {
	return errors.Is(err, chat.ErrEmptySessionID) ||
		errors.Is(err, chat.ErrSessionIDTooLong) ||
		errors.Is(err, chat.ErrEmptyMessage) ||
		errors.Is(err, chat.ErrInvalidRole)
}
