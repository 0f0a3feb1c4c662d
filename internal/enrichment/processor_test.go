package enrichment

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/recall/internal/model"
	"github.com/hitoshi/recall/internal/security"
)

// --- モック定義 ---

// mockEntityRepo はEntityRepositoryのテスト用モック。
type mockEntityRepo struct {
	upserted   []*model.Entity
	upsertFunc func(ctx context.Context, entity *model.Entity) error
}

func (m *mockEntityRepo) Upsert(ctx context.Context, entity *model.Entity) error {
	m.upserted = append(m.upserted, entity)
	if m.upsertFunc != nil {
		return m.upsertFunc(ctx, entity)
	}
	return nil
}

// mockGraphWriter はgraph.Writerのテスト用モック。
type mockGraphWriter struct {
	facts          []model.Fact
	calls          int
	writeFactsFunc func(ctx context.Context, facts []model.Fact) error
}

func (m *mockGraphWriter) WriteFacts(ctx context.Context, facts []model.Fact) error {
	m.calls++
	m.facts = append(m.facts, facts...)
	if m.writeFactsFunc != nil {
		return m.writeFactsFunc(ctx, facts)
	}
	return nil
}

func (m *mockGraphWriter) Close(context.Context) error { return nil }

// stubExtractor は固定の抽出結果を返すExtractor。
type stubExtractor struct {
	extraction Extraction
	err        error
	gotText    string
}

func (s *stubExtractor) Extract(_ context.Context, text string) (Extraction, error) {
	s.gotText = text
	return s.extraction, s.err
}

func newTestProcessor(ext Extractor, repo *mockEntityRepo, gw *mockGraphWriter) *Processor {
	return NewProcessor(security.NewTextSanitizer(), ext, repo, gw, discardLogger())
}

func TestProcessor_Handle_WritesEntitiesAndFacts(t *testing.T) {
	repo := &mockEntityRepo{}
	gw := &mockGraphWriter{}
	p := newTestProcessor(CapitalizedExtractor{}, repo, gw)

	err := p.Handle(context.Background(), Task{
		MessageID: "m1",
		SessionID: "s1",
		UserID:    "u1",
		Text:      "<p>Alan Turing met Grace Hopper.</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.upserted) != 2 {
		t.Fatalf("2件のエンティティが登録されるべき, got %d", len(repo.upserted))
	}
	for _, e := range repo.upserted {
		if e.ID == "" {
			t.Error("エンティティIDが割り当てられるべき")
		}
		if e.UserID != "u1" {
			t.Errorf("UserID = %q, want u1", e.UserID)
		}
		if e.EntityType != "Thing" {
			t.Errorf("EntityType = %q, want Thing", e.EntityType)
		}
	}
	if repo.upserted[0].CanonicalForm != "Alan Turing" {
		t.Errorf("CanonicalForm = %q, want Alan Turing", repo.upserted[0].CanonicalForm)
	}

	if len(gw.facts) != 1 {
		t.Fatalf("1件のFactが書き込まれるべき, got %d", len(gw.facts))
	}
	want := model.Fact{
		Source:    "Alan Turing",
		Relation:  "co_occurs_with",
		Target:    "Grace Hopper",
		Weight:    1.0,
		UserID:    "u1",
		SessionID: "s1",
	}
	if gw.facts[0] != want {
		t.Errorf("fact = %+v, want %+v", gw.facts[0], want)
	}
}

func TestProcessor_Handle_SanitizesBeforeExtraction(t *testing.T) {
	ext := &stubExtractor{}
	p := newTestProcessor(ext, &mockEntityRepo{}, &mockGraphWriter{})

	if err := p.Handle(context.Background(), Task{Text: "<b>hello</b>   <script>x()</script>world"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.gotText != "hello world" {
		t.Errorf("抽出器にはプレーンテキストが渡されるべき, got %q", ext.gotText)
	}
}

func TestProcessor_Handle_LineBreaksSeparateSentences(t *testing.T) {
	repo := &mockEntityRepo{}
	gw := &mockGraphWriter{}
	p := newTestProcessor(CapitalizedExtractor{}, repo, gw)

	err := p.Handle(context.Background(), Task{
		UserID: "u1",
		Text:   "<p>Alan Turing met Grace Hopper</p>\nAda Lovelace wrote notes",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, e := range repo.upserted {
		names = append(names, e.CanonicalForm)
	}
	want := []string{"Alan Turing", "Grace Hopper", "Ada Lovelace"}
	if len(names) != len(want) {
		t.Fatalf("entities = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entities[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if len(gw.facts) != 1 || gw.facts[0].Target != "Grace Hopper" {
		t.Errorf("改行をまたいだ関係は作られるべきではない: %+v", gw.facts)
	}
}

func TestProcessor_Handle_CanonicalizesMentions(t *testing.T) {
	ext := &stubExtractor{extraction: Extraction{
		Mentions: []Mention{{Name: "  alan turing ", Type: "Person"}, {Name: "   ", Type: "Thing"}},
		Relations: []Relation{
			{Source: "alan turing", Verb: "works_at", Target: "bletchley park"},
			{Source: "", Verb: "knows", Target: "x"},
		},
	}}
	repo := &mockEntityRepo{}
	gw := &mockGraphWriter{}
	p := newTestProcessor(ext, repo, gw)

	if err := p.Handle(context.Background(), Task{UserID: "u1", Text: "anything"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("空白のみの表記は登録されるべきではない, got %d", len(repo.upserted))
	}
	if got := repo.upserted[0]; got.CanonicalForm != "Alan Turing" || got.Name != "  alan turing " || got.EntityType != "Person" {
		t.Errorf("entity = %+v", got)
	}
	if len(gw.facts) != 1 || gw.facts[0].Source != "Alan Turing" || gw.facts[0].Target != "Bletchley Park" {
		t.Errorf("facts = %+v", gw.facts)
	}
}

func TestProcessor_Handle_EmptyTextSkipsStores(t *testing.T) {
	ext := &stubExtractor{}
	gw := &mockGraphWriter{}
	p := newTestProcessor(ext, &mockEntityRepo{}, gw)

	if err := p.Handle(context.Background(), Task{Text: "<p>  </p>"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.calls != 0 {
		t.Error("空のテキストではグラフに書き込むべきではない")
	}
}

func TestProcessor_Handle_PropagatesErrors(t *testing.T) {
	storeErr := errors.New("connection refused")

	t.Run("extractor", func(t *testing.T) {
		p := newTestProcessor(&stubExtractor{err: storeErr}, &mockEntityRepo{}, &mockGraphWriter{})
		if err := p.Handle(context.Background(), Task{Text: "x"}); !errors.Is(err, storeErr) {
			t.Errorf("error = %v, want wrapping %v", err, storeErr)
		}
	})

	t.Run("entity repository", func(t *testing.T) {
		repo := &mockEntityRepo{upsertFunc: func(context.Context, *model.Entity) error { return storeErr }}
		gw := &mockGraphWriter{}
		p := newTestProcessor(CapitalizedExtractor{}, repo, gw)
		if err := p.Handle(context.Background(), Task{Text: "we met Alice"}); !errors.Is(err, storeErr) {
			t.Errorf("error = %v, want wrapping %v", err, storeErr)
		}
		if gw.calls != 0 {
			t.Error("辞書登録に失敗した場合はグラフに書き込むべきではない")
		}
	})

	t.Run("graph writer", func(t *testing.T) {
		gw := &mockGraphWriter{writeFactsFunc: func(context.Context, []model.Fact) error { return storeErr }}
		p := newTestProcessor(CapitalizedExtractor{}, &mockEntityRepo{}, gw)
		if err := p.Handle(context.Background(), Task{Text: "we met Alice and Bob"}); !errors.Is(err, storeErr) {
			t.Errorf("error = %v, want wrapping %v", err, storeErr)
		}
	})
}
