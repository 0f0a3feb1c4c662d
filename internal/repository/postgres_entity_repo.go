package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/recall/internal/model"
)

// PostgresEntityRepo はPostgreSQLを使用したエンティティ辞書リポジトリ。
type PostgresEntityRepo struct {
	db *sql.DB
}

// NewPostgresEntityRepo はPostgresEntityRepoを生成する。
func NewPostgresEntityRepo(db *sql.DB) *PostgresEntityRepo {
	return &PostgresEntityRepo{db: db}
}

// Upsert はエンティティを冪等に登録する。
// user_idがNULLの共通エンティティも一意に扱うため、式インデックスに対してON CONFLICTを指定する。
func (r *PostgresEntityRepo) Upsert(ctx context.Context, entity *model.Entity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entity_dictionary (id, name, canonical_form, entity_type, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (canonical_form, entity_type, (COALESCE(user_id::text, ''))) DO NOTHING`,
		entity.ID, entity.Name, entity.CanonicalForm, entity.EntityType,
		nullString(entity.UserID), entity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

// compile-time interface check
var _ EntityRepository = (*PostgresEntityRepo)(nil)
