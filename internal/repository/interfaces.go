// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/recall/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 読み書きはすべて単一行で完結し、コンポーネントをまたぐトランザクションは持たない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProviderIdentity はproviderとprovider_idでユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderIdentity(ctx context.Context, provider, providerID string) (*model.User, error)

	// Create はユーザーを作成する。
	// email または (provider, provider_id) の一意制約違反は model.ErrConflict を返す。
	Create(ctx context.Context, user *model.User) error

	// Update は指定ユーザーの可変フィールドを部分更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
}

// MessageRepository はチャットメッセージの永続化インターフェース。
// メッセージは追記のみで、更新・削除の経路は持たない。
type MessageRepository interface {
	// Create はメッセージを1件挿入する。IDとCreatedAtは呼び出し側で設定済みであること。
	Create(ctx context.Context, msg *model.ChatMessage) error

	// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ChatMessage, error)

	// ListBySession はユーザーのセッション内メッセージをcreated_at昇順で最大limit件返す。
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.ChatMessage, error)
}

// EntityRepository はエンティティ辞書の永続化インターフェース。
type EntityRepository interface {
	// Upsert はエンティティを冪等に登録する。
	// (canonical_form, entity_type, user_id) が既に存在する場合は何もしない。
	Upsert(ctx context.Context, entity *model.Entity) error
}

