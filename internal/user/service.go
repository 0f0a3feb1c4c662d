// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/recall/internal/model"
	"github.com/hitoshi/recall/internal/repository"
)

// Service はIdentity Storeのサービス層。
// リポジトリ呼び出しごとにタイムアウトを設定し、ストア障害はmodel.ErrPersistenceに変換する。
type Service struct {
	userRepo     repository.UserRepository
	storeTimeout time.Duration
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// storeTimeoutが0以下の場合はタイムアウトを設定しない。
func NewService(userRepo repository.UserRepository, storeTimeout time.Duration) *Service {
	return &Service{
		userRepo:     userRepo,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// FindByID は指定IDのユーザーを返す。見つからない場合はnilを返す。
func (s *Service) FindByID(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return u, nil
}

// FindByEmail はメールアドレスでユーザーを返す。見つからない場合はnilを返す。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return u, nil
}

// FindByProviderIdentity はプロバイダーIDでユーザーを返す。見つからない場合はnilを返す。
func (s *Service) FindByProviderIdentity(ctx context.Context, provider, subjectID string) (*model.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.userRepo.FindByProviderIdentity(ctx, provider, subjectID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return u, nil
}

// Create はプロフィールからユーザーを作成する。
// 同じメールアドレスのユーザーが同じプロバイダーIDで既に存在する場合はそのユーザーを返し、
// 別のプロバイダーIDに紐付いている場合は model.ErrConflict を返す。
func (s *Service) Create(ctx context.Context, profile model.Profile) (*model.User, error) {
	email := normalizeEmail(profile.Email)
	if email == "" {
		return nil, model.ErrMissingEmail
	}

	existing, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resolveExisting(existing, profile)
	}

	now := s.now().UTC()
	u := &model.User{
		ID:         uuid.New().String(),
		Email:      email,
		FullName:   profile.DisplayName,
		IsActive:   true,
		Provider:   profile.Provider,
		ProviderID: profile.SubjectID,
		AvatarURL:  profile.AvatarURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	createCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.userRepo.Create(createCtx, u); err != nil {
		if !errors.Is(err, model.ErrConflict) {
			return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w: %w", model.ErrPersistence, err)
		}
		// 同時ログインで先に作成された行を再判定する
		existing, findErr := s.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
		}
		return s.resolveExisting(existing, profile)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", u.ID),
		slog.String("provider", u.Provider),
	)
	return u, nil
}

// Update は可変フィールドを部分更新する。見つからない場合はnilを返す。
func (s *Service) Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	if patch.IsEmpty() {
		return s.FindByID(ctx, id)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.userRepo.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return u, nil
}

// resolveExisting はメールアドレスが一致した既存ユーザーとプロフィールを突合する。
func (s *Service) resolveExisting(existing *model.User, profile model.Profile) (*model.User, error) {
	if existing.Provider == profile.Provider && existing.ProviderID == profile.SubjectID {
		return existing, nil
	}
	return nil, fmt.Errorf("email %s is linked to another identity: %w", existing.Email, model.ErrConflict)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// normalizeEmail は前後の空白を除去し小文字化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
