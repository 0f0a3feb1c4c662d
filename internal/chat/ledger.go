// Package chat はチャットメッセージの記録と、保存後のエンリッチメント予約を提供する。
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/recall/internal/model"
	"github.com/hitoshi/recall/internal/repository"
)

// timestampResolution はストアが保持できるタイムスタンプの精度。
const timestampResolution = time.Microsecond

// Ledger はチャットメッセージの追記専用ストア。
// IDとタイムスタンプはサーバー側で割り当て、同一プロセス内では単調増加を保証する。
type Ledger struct {
	repo         repository.MessageRepository
	storeTimeout time.Duration
	now          func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewLedger はLedgerを生成する。storeTimeoutが0以下の場合はタイムアウトを設定しない。
func NewLedger(repo repository.MessageRepository, storeTimeout time.Duration) *Ledger {
	return &Ledger{
		repo:         repo,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Append はメッセージを1件記録し、割り当てたIDとタイムスタンプを含むメッセージを返す。
// 入力値の検証は呼び出し側で済ませておくこと。
func (l *Ledger) Append(ctx context.Context, sessionID, userID, text string, role model.Role) (*model.ChatMessage, error) {
	msg := &model.ChatMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		CreatedAt: l.nextTimestamp(),
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if err := l.repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの保存に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return msg, nil
}

// FindByID は指定IDのメッセージを返す。見つからない場合はnilを返す。
func (l *Ledger) FindByID(ctx context.Context, id string) (*model.ChatMessage, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	msg, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return msg, nil
}

// ListBySession はユーザーのセッション内メッセージを古い順に最大limit件返す。
func (l *Ledger) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]*model.ChatMessage, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	msgs, err := l.repo.ListBySession(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w: %w", model.ErrPersistence, err)
	}
	return msgs, nil
}

// nextTimestamp は直前に割り当てた値より必ず後のタイムスタンプを返す。
// 時計が進んでいない、または巻き戻った場合は直前の値に最小単位を加える。
func (l *Ledger) nextTimestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC().Truncate(timestampResolution)
	if !ts.After(l.last) {
		ts = l.last.Add(timestampResolution)
	}
	l.last = ts
	return ts
}

func (l *Ledger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.storeTimeout)
}
