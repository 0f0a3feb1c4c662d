// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/recall/internal/entity"
	"github.com/hitoshi/recall/internal/middleware"
	"github.com/hitoshi/recall/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("request body must be valid JSON"))
		return false
	}
	return true
}

// currentUser は認証ミドルウェアが注入したユーザーを返す。
// 認証ルートの外で呼ばれた場合は401を書き込みfalseを返す。
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewMissingCredentialsError())
		return nil, false
	}
	return user, true
}

// handleServiceError はサービス層から返されたセンチネルエラーをHTTPレスポンスに変換する。
// 内部の詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error, provider string) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
	case errors.Is(err, model.ErrUnsupportedProvider):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedProviderError())
	case errors.Is(err, model.ErrProviderNotConfigured):
		middleware.WriteErrorResponse(w, http.StatusInternalServerError,
			model.NewProviderNotConfiguredError(entity.Canonicalize(provider)))
	case errors.Is(err, model.ErrMissingEmail):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMissingEmailError())
	case errors.Is(err, model.ErrConflict):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewAccountConflictError())
	case errors.Is(err, model.ErrUpstream):
		slog.Warn("upstream provider error", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewAuthFailedError())
	case errors.Is(err, model.ErrPersistence):
		slog.Error("persistence error", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewPersistenceError())
	default:
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}
