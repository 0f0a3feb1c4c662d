package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/recall/internal/model"
)

// LinkPolicy はメールアドレスが一致する既存ユーザーが別のプロバイダーIDを持つ場合の扱いを表す。
type LinkPolicy string

const (
	// LinkPolicyLink は既存ユーザーのプロバイダー情報を上書きしてログインさせる。
	LinkPolicyLink LinkPolicy = "link"
	// LinkPolicyReject は model.ErrConflict としてログインを拒否する。
	LinkPolicyReject LinkPolicy = "reject"
)

// ParseLinkPolicy は文字列をLinkPolicyに変換する。空文字列はLinkPolicyLinkとして扱う。
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch LinkPolicy(s) {
	case "", LinkPolicyLink:
		return LinkPolicyLink, nil
	case LinkPolicyReject:
		return LinkPolicyReject, nil
	default:
		return "", fmt.Errorf("unknown account link policy: %q", s)
	}
}

// ProfileExchanger は認可コードをプロフィールに交換するOAuthブリッジのインターフェース。
type ProfileExchanger interface {
	LoginURL(provider, state string) (string, error)
	Exchange(ctx context.Context, provider, code string) (*model.Profile, error)
}

// IdentityStore はログイン時の突合に必要なユーザーストアのインターフェース。
type IdentityStore interface {
	FindByProviderIdentity(ctx context.Context, provider, subjectID string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, profile model.Profile) (*model.User, error)
	Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
}

// TokenIssuer はアクセストークンを発行するインターフェース。
type TokenIssuer interface {
	Issue(userID string, ttl time.Duration) (string, time.Time, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	TokenTTL   time.Duration
	LinkPolicy LinkPolicy
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User      *model.User
	Token     string
	ExpiresAt time.Time
}

// Service はOAuthログインのビジネスロジックを提供する。
type Service struct {
	oauth  ProfileExchanger
	users  IdentityStore
	tokens TokenIssuer
	config ServiceConfig
}

// NewService はServiceを生成する。
func NewService(oauth ProfileExchanger, users IdentityStore, tokens TokenIssuer, config ServiceConfig) *Service {
	if config.LinkPolicy == "" {
		config.LinkPolicy = LinkPolicyLink
	}
	return &Service{
		oauth:  oauth,
		users:  users,
		tokens: tokens,
		config: config,
	}
}

// LoginURL はプロバイダーの同意画面URLを返す。
func (s *Service) LoginURL(provider, state string) (string, error) {
	return s.oauth.LoginURL(provider, state)
}

// HandleCallback は認可コードからプロフィールを取得し、ユーザーと突合してトークンを発行する。
// 突合の順序: プロバイダーID → メールアドレス（LinkPolicyに従う）→ 新規作成。
func (s *Service) HandleCallback(ctx context.Context, provider, code string) (*LoginResult, error) {
	profile, err := s.oauth.Exchange(ctx, provider, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.reconcile(ctx, profile)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(user.ID, s.config.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// reconcile はプロフィールに対応するユーザーを特定または作成する。
func (s *Service) reconcile(ctx context.Context, profile *model.Profile) (*model.User, error) {
	user, err := s.users.FindByProviderIdentity(ctx, profile.Provider, profile.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}
	if user != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
		return user, nil
	}

	user, err = s.users.FindByEmail(ctx, profile.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user != nil {
		return s.link(ctx, user, profile)
	}

	user, err = s.users.Create(ctx, *profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// link はメールアドレスが一致した既存ユーザーにプロバイダー情報を紐付ける。
// プロバイダー未連携のユーザーはポリシーに関わらず紐付ける。
func (s *Service) link(ctx context.Context, user *model.User, profile *model.Profile) (*model.User, error) {
	if s.config.LinkPolicy == LinkPolicyReject && user.HasProviderIdentity() {
		slog.Warn("account link rejected",
			slog.String("user_id", user.ID),
			slog.String("linked_provider", user.Provider),
			slog.String("provider", profile.Provider),
		)
		return nil, fmt.Errorf("email is linked to %s: %w", user.Provider, model.ErrConflict)
	}

	patch := model.UserPatch{
		Provider:   &profile.Provider,
		ProviderID: &profile.SubjectID,
	}
	if profile.AvatarURL != "" {
		patch.AvatarURL = &profile.AvatarURL
	}

	updated, err := s.users.Update(ctx, user.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to link provider identity: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("user %s disappeared while linking: %w", user.ID, model.ErrPersistence)
	}

	slog.Info("provider identity linked to existing user",
		slog.String("user_id", updated.ID),
		slog.String("previous_provider", user.Provider),
		slog.String("provider", profile.Provider),
	)
	return updated, nil
}

// GenerateState はOAuthのstateパラメータ用の乱数文字列を生成する。
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
