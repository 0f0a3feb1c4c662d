package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/recall/internal/model"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(token string) (string, error)
}

func (m *mockVerifier) Verify(token string) (string, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return "", errors.New("invalid token")
}

type mockUserFinder struct {
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserFinder) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

// validTokenVerifier は"good-token"のみを受け付ける。
func validTokenVerifier() *mockVerifier {
	return &mockVerifier{verifyFn: func(token string) (string, error) {
		if token == "good-token" {
			return "user-1", nil
		}
		return "", errors.New("invalid token")
	}}
}

func activeUserFinder() *mockUserFinder {
	return &mockUserFinder{findByIDFn: func(_ context.Context, id string) (*model.User, error) {
		if id == "user-1" {
			return &model.User{ID: "user-1", Email: "a@example.com", IsActive: true}, nil
		}
		return nil, nil
	}}
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestAuthMiddleware_ValidToken_InjectsUser(t *testing.T) {
	mw := NewAuthMiddleware(validTokenVerifier(), activeUserFinder())

	var captured *model.User
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured == nil || captured.ID != "user-1" || captured.Email != "a@example.com" {
		t.Errorf("コンテキストにユーザー全体が注入されるべき, got %+v", captured)
	}
}

func TestAuthMiddleware_SchemeIsCaseInsensitive(t *testing.T) {
	mw := NewAuthMiddleware(validTokenVerifier(), activeUserFinder())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	storeErr := errors.New("connection refused")

	tests := []struct {
		name       string
		header     string
		users      *mockUserFinder
		wantStatus int
		wantCode   string
	}{
		{
			name:       "ヘッダーなし",
			header:     "",
			users:      activeUserFinder(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeMissingCredentials,
		},
		{
			name:       "Bearer以外のスキーム",
			header:     "Basic dXNlcjpwYXNz",
			users:      activeUserFinder(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeMissingCredentials,
		},
		{
			name:       "トークンが空",
			header:     "Bearer ",
			users:      activeUserFinder(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeMissingCredentials,
		},
		{
			name:       "不正なトークン",
			header:     "Bearer forged",
			users:      activeUserFinder(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeInvalidCredentials,
		},
		{
			name:   "ユーザーが存在しない",
			header: "Bearer good-token",
			users: &mockUserFinder{findByIDFn: func(context.Context, string) (*model.User, error) {
				return nil, nil
			}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeInvalidCredentials,
		},
		{
			name:   "ストア障害",
			header: "Bearer good-token",
			users: &mockUserFinder{findByIDFn: func(context.Context, string) (*model.User, error) {
				return nil, storeErr
			}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeInvalidCredentials,
		},
		{
			name:   "無効化されたユーザー",
			header: "Bearer good-token",
			users: &mockUserFinder{findByIDFn: func(_ context.Context, id string) (*model.User, error) {
				return &model.User{ID: id, IsActive: false}, nil
			}},
			wantStatus: http.StatusBadRequest,
			wantCode:   model.ErrCodeInactiveUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewAuthMiddleware(validTokenVerifier(), tt.users)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Errorf("WWW-Authenticate = %q, want Bearer", w.Header().Get("WWW-Authenticate"))
			}
			body := decodeErrorBody(t, w)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestAuthMiddleware_StoreErrorIsNotLeaked(t *testing.T) {
	users := &mockUserFinder{findByIDFn: func(context.Context, string) (*model.User, error) {
		return nil, errors.New("pq: password authentication failed for user recall")
	}}
	mw := NewAuthMiddleware(validTokenVerifier(), users)
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	body := decodeErrorBody(t, w)
	if body.Message != "invalid credentials" {
		t.Errorf("message = %q, want %q", body.Message, "invalid credentials")
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("ユーザーがない場合はエラーを返すべき")
	}
	ctx := ContextWithUser(context.Background(), &model.User{ID: "u-9"})
	id, err := UserIDFromContext(ctx)
	if err != nil || id != "u-9" {
		t.Errorf("UserIDFromContext() = %q, %v", id, err)
	}
}
