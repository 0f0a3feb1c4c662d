package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/recall/internal/entity"
	"github.com/hitoshi/recall/internal/graph"
	"github.com/hitoshi/recall/internal/model"
	"github.com/hitoshi/recall/internal/repository"
)

// Sanitizer はメッセージ本文をプレーンテキストに変換する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Processor はエンリッチメント1件分の処理本体。
// 本文の整形 → 抽出 → 正規化 → エンティティ辞書登録 → グラフ書き込み の順に実行する。
type Processor struct {
	sanitizer Sanitizer
	extractor Extractor
	entities  repository.EntityRepository
	graph     graph.Writer
	logger    *slog.Logger
}

// NewProcessor はProcessorを生成する。
func NewProcessor(
	sanitizer Sanitizer,
	extractor Extractor,
	entities repository.EntityRepository,
	graphWriter graph.Writer,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		sanitizer: sanitizer,
		extractor: extractor,
		entities:  entities,
		graph:     graphWriter,
		logger:    logger,
	}
}

// Handle はTaskを処理する。抽出結果が空の場合はストアに触れずに成功する。
func (p *Processor) Handle(ctx context.Context, task Task) error {
	text := p.sanitizer.Sanitize(task.Text)
	if text == "" {
		return nil
	}

	extraction, err := p.extractor.Extract(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to extract entities: %w", err)
	}
	if len(extraction.Mentions) == 0 && len(extraction.Relations) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for _, m := range extraction.Mentions {
		canonical := entity.Canonicalize(m.Name)
		if canonical == "" {
			continue
		}
		if err := p.entities.Upsert(ctx, &model.Entity{
			ID:            uuid.New().String(),
			Name:          m.Name,
			CanonicalForm: canonical,
			EntityType:    m.Type,
			UserID:        task.UserID,
			CreatedAt:     now,
		}); err != nil {
			return fmt.Errorf("failed to upsert entity %q: %w", canonical, err)
		}
	}

	facts := make([]model.Fact, 0, len(extraction.Relations))
	for _, r := range extraction.Relations {
		source, target := entity.Canonicalize(r.Source), entity.Canonicalize(r.Target)
		if source == "" || target == "" {
			continue
		}
		facts = append(facts, model.Fact{
			Source:    source,
			Relation:  r.Verb,
			Target:    target,
			Weight:    1.0,
			UserID:    task.UserID,
			SessionID: task.SessionID,
		})
	}
	if err := p.graph.WriteFacts(ctx, facts); err != nil {
		return fmt.Errorf("failed to write facts: %w", err)
	}

	p.logger.Debug("エンリッチメントが完了しました",
		slog.String("message_id", task.MessageID),
		slog.Int("entities", len(extraction.Mentions)),
		slog.Int("facts", len(facts)),
	)
	return nil
}

// compile-time interface check
var _ Handler = (*Processor)(nil)
