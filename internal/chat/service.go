package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/recall/internal/enrichment"
	"github.com/hitoshi/recall/internal/model"
)

// MaxSessionIDLength はsession_idの最大文字数。chat_history.session_idの列幅と一致させる。
const MaxSessionIDLength = 255

// 入力検証エラー
var (
	ErrEmptySessionID   = errors.New("session_id is required")
	ErrSessionIDTooLong = errors.New("session_id must be at most 255 characters")
	ErrEmptyMessage   = errors.New("message is required")
	ErrInvalidRole    = errors.New("role must be one of user, assistant, system")
)

// MessageRecorder はメッセージ保存件数を記録するインターフェース。
type MessageRecorder interface {
	RecordMessageAppended()
}

// SendInput はチャット送信の入力値。
type SendInput struct {
	SessionID string
	Message   string
	Role      string
}

// Validate は入力値を検証し、正規化したroleを返す。
func (in SendInput) Validate() (model.Role, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return "", ErrEmptySessionID
	}
	if utf8.RuneCountInString(in.SessionID) > MaxSessionIDLength {
		return "", ErrSessionIDTooLong
	}
	if strings.TrimSpace(in.Message) == "" {
		return "", ErrEmptyMessage
	}
	role, ok := model.ParseRole(in.Role)
	if !ok {
		return "", ErrInvalidRole
	}
	return role, nil
}

// Service はチャット送信のユースケース。
// メッセージの記録とエンリッチメントの予約を分けて提供する。
// 予約は呼び出し側がレスポンスを送信した後に行う。
type Service struct {
	ledger    *Ledger
	scheduler enrichment.Scheduler
	recorder  MessageRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(ledger *Ledger, scheduler enrichment.Scheduler, recorder MessageRecorder) *Service {
	return &Service{ledger: ledger, scheduler: scheduler, recorder: recorder}
}

// Send はメッセージを検証して保存する。エンリッチメントは予約しない。
func (s *Service) Send(ctx context.Context, userID string, in SendInput) (*model.ChatMessage, error) {
	role, err := in.Validate()
	if err != nil {
		return nil, err
	}

	msg, err := s.ledger.Append(ctx, in.SessionID, userID, in.Message, role)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.RecordMessageAppended()
	}

	slog.Debug("メッセージを保存しました",
		slog.String("message_id", msg.ID),
		slog.String("session_id", msg.SessionID),
		slog.String("user_id", userID),
	)
	return msg, nil
}

// Enrich は保存済みメッセージのエンリッチメントを予約し、完了を待たずに戻る。
func (s *Service) Enrich(msg *model.ChatMessage) {
	if msg == nil {
		return
	}
	s.scheduler.Schedule(enrichment.NewTask(msg))
}
