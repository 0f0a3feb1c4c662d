package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/recall/internal/model"
)

const messageColumns = `id, user_id, session_id, role, message_text, embedding, source_metadata, created_at`

// PostgresMessageRepo はPostgreSQLを使用したチャットメッセージリポジトリ。
// chat_historyテーブルへの追記と参照のみを提供する。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// Create はメッセージを1件挿入する。
func (r *PostgresMessageRepo) Create(ctx context.Context, msg *model.ChatMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_history (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.UserID, msg.SessionID, string(msg.Role), msg.Text,
		nullString(msg.Embedding), nullString(string(msg.SourceMetadata)), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chat message: %w", err)
	}
	return nil
}

// FindByID は指定IDのメッセージを取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string) (*model.ChatMessage, error) {
	msg, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM chat_history WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find chat message: %w", err)
	}
	return msg, nil
}

// ListBySession はユーザーのセッション内メッセージをcreated_at昇順で最大limit件返す。
func (r *PostgresMessageRepo) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM chat_history
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY created_at ASC
		 LIMIT $3`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}
	return messages, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanMessage は1行分のメッセージを読み取る。
func scanMessage(row rowScanner) (*model.ChatMessage, error) {
	var (
		msg       model.ChatMessage
		role      string
		embedding sql.NullString
		metadata  []byte
	)
	err := row.Scan(
		&msg.ID, &msg.UserID, &msg.SessionID, &role, &msg.Text,
		&embedding, &metadata, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Role = model.Role(role)
	msg.Embedding = embedding.String
	if len(metadata) > 0 {
		msg.SourceMetadata = metadata
	}
	return &msg, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
