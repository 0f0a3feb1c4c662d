// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ドメイン層のセンチネルエラー。
// 呼び出し側はfmt.Errorfの%wでラップし、errors.Isで判定する。
var (
	// ErrConflict はIDの突合が曖昧な場合（同一メールアドレスが別プロバイダーに紐付いている等）のエラー。
	ErrConflict = errors.New("identity conflict")
	// ErrUnsupportedProvider は許可リストにないOAuthプロバイダーが指定された場合のエラー。
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrProviderNotConfigured はOAuthプロバイダーのクライアント情報が未設定の場合のエラー。
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrMissingEmail はOAuthプロバイダーからメールアドレスを取得できなかった場合のエラー。
	ErrMissingEmail = errors.New("email not provided by oauth provider")
	// ErrUpstream はOAuthプロバイダーとの通信に失敗した場合のエラー。
	ErrUpstream = errors.New("upstream provider error")
	// ErrPersistence はストアへの読み書きに失敗した場合のエラー。
	ErrPersistence = errors.New("persistence error")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chat, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingCredentials    = "MISSING_CREDENTIALS"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeInactiveUser          = "INACTIVE_USER"
	ErrCodeUnsupportedProvider   = "UNSUPPORTED_PROVIDER"
	ErrCodeProviderNotConfigured = "PROVIDER_NOT_CONFIGURED"
	ErrCodeMissingEmail          = "MISSING_EMAIL"
	ErrCodeAuthFailed            = "AUTHENTICATION_FAILED"
	ErrCodeAccountConflict       = "ACCOUNT_CONFLICT"
	ErrCodeInvalidRequest        = "INVALID_REQUEST"
	ErrCodePersistence           = "PERSISTENCE_ERROR"
	ErrCodeRateLimited           = "RATE_LIMIT_EXCEEDED"
)

// NewMissingCredentialsError はBearerトークン未指定エラーを生成する。
func NewMissingCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredentials,
		Message:  "missing credentials",
		Category: "auth",
		Action:   "Authorization: Bearer ヘッダーにトークンを指定してください。",
	}
}

// NewInvalidCredentialsError は無効な資格情報エラーを生成する。
// 署名不正・期限切れ・ユーザー不在のいずれであっても同一のエラーを返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "invalid credentials",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInactiveUserError は無効化されたユーザーのエラーを生成する。
func NewInactiveUserError() *APIError {
	return &APIError{
		Code:     ErrCodeInactiveUser,
		Message:  "inactive user",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewUnsupportedProviderError は未対応プロバイダーエラーを生成する。
func NewUnsupportedProviderError() *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  "Unsupported provider",
		Category: "auth",
		Action:   "google または github を指定してください。",
	}
}

// NewProviderNotConfiguredError はプロバイダー未設定エラーを生成する。
func NewProviderNotConfiguredError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderNotConfigured,
		Message:  fmt.Sprintf("%s OAuth not configured", provider),
		Category: "system",
		Action:   "管理者に連絡してください。",
	}
}

// NewMissingEmailError はメールアドレス未取得エラーを生成する。
func NewMissingEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingEmail,
		Message:  "Email not provided by OAuth provider",
		Category: "auth",
		Action:   "プロバイダー側でメールアドレスを公開設定にしてから再度ログインしてください。",
	}
}

// NewAuthFailedError はOAuthコールバック処理失敗のエラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "authentication failed",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewAccountConflictError は既存アカウントとの衝突エラーを生成する。
func NewAccountConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountConflict,
		Message:  "an account with this email is linked to another provider",
		Category: "auth",
		Action:   "以前に使用したプロバイダーでログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("invalid request: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewPersistenceError はストア障害エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewPersistenceError() *APIError {
	return &APIError{
		Code:     ErrCodePersistence,
		Message:  "failed to store data",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
// limitTypeは超過した制限の種別（general, chat）。
func NewRateLimitedError(limitType string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "too many " + limitType + " requests",
		Category: "system",
		Action:   "Retry-Afterの秒数だけ待ってから再度お試しください。",
	}
}
