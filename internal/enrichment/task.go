// Package enrichment はチャットメッセージ保存後の非同期エンリッチメント処理を提供する。
// ディスパッチャ、処理本体、抽出器、Redisキューを含む。
package enrichment

import (
	"context"
	"time"

	"github.com/hitoshi/recall/internal/model"
)

// Task は保存済みメッセージ1件分のエンリッチメント要求。
// Redisキュー経由で別プロセスに渡すためJSONタグを持つ。
type Task struct {
	MessageID  string     `json:"message_id"`
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	Text       string     `json:"text"`
	Role       model.Role `json:"role"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// NewTask は保存済みメッセージからTaskを生成する。
func NewTask(msg *model.ChatMessage) Task {
	return Task{
		MessageID:  msg.ID,
		SessionID:  msg.SessionID,
		UserID:     msg.UserID,
		Text:       msg.Text,
		Role:       msg.Role,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Handler はTaskを処理するインターフェース。
type Handler interface {
	Handle(ctx context.Context, task Task) error
}

// HandlerFunc は関数をHandlerとして扱うためのアダプター。
type HandlerFunc func(ctx context.Context, task Task) error

// Handle はf(ctx, task)を呼び出す。
func (f HandlerFunc) Handle(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// Recorder はディスパッチャの処理結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordEnrichmentScheduled()
	RecordEnrichmentDropped()
	RecordEnrichmentResult(err error, duration time.Duration)
}

// nopRecorder は記録先が指定されていない場合に使う。
type nopRecorder struct{}

func (nopRecorder) RecordEnrichmentScheduled()                  {}
func (nopRecorder) RecordEnrichmentDropped()                    {}
func (nopRecorder) RecordEnrichmentResult(error, time.Duration) {}
