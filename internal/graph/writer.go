// Package graph はエンティティ間の関係をグラフストアに書き込む。
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/hitoshi/recall/internal/model"
)

// defaultEntityType はノード作成時に型が指定されていない場合のエンティティ種別。
const defaultEntityType = "Thing"

const (
	upsertEntityQuery = `
MERGE (e:Entity {name: $name})
ON CREATE SET e.type = $entity_type`

	upsertRelationQuery = `
MATCH (a:Entity {name: $source}), (b:Entity {name: $target})
MERGE (a)-[r:RELATED {verb: $relation}]->(b)
ON CREATE SET r.weight = $weight, r.user_id = $user_id, r.session_id = $session_id
ON MATCH SET r.weight = r.weight + $weight`
)

// Writer はFactをグラフストアへ書き込むインターフェース。
type Writer interface {
	// WriteFacts はFactを書き込む。同じ(source, relation, target)は重みが加算される。
	WriteFacts(ctx context.Context, facts []model.Fact) error
	Close(ctx context.Context) error
}

// Neo4jWriter はNeo4jを使用したWriterの実装。
type Neo4jWriter struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jWriter はNeo4jへの接続を確立し、疎通を確認する。
func NewNeo4jWriter(ctx context.Context, uri, username, password string) (*Neo4jWriter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Neo4jWriter{driver: driver}, nil
}

// WriteFacts は1トランザクションで全Factのノードと関係をMERGEする。
func (w *Neo4jWriter) WriteFacts(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}

	session := w.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, f := range facts {
			for _, name := range []string{f.Source, f.Target} {
				if _, err := tx.Run(ctx, upsertEntityQuery, map[string]any{
					"name":        name,
					"entity_type": defaultEntityType,
				}); err != nil {
					return nil, err
				}
			}
			if _, err := tx.Run(ctx, upsertRelationQuery, relationParams(f)); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write facts: %w", err)
	}
	return nil
}

// Close はドライバーを閉じる。
func (w *Neo4jWriter) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}

// relationParams はFactを関係MERGE用のパラメータに変換する。
// 重みが0以下の場合は1.0として扱う。
func relationParams(f model.Fact) map[string]any {
	weight := f.Weight
	if weight <= 0 {
		weight = 1.0
	}
	return map[string]any{
		"source":     f.Source,
		"target":     f.Target,
		"relation":   f.Relation,
		"weight":     weight,
		"user_id":    nullable(f.UserID),
		"session_id": nullable(f.SessionID),
	}
}

// nullable は空文字列をnilに変換する。Cypherではnullとして扱われる。
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// NoopWriter はグラフストア未設定時に使うWriter。何も書き込まない。
type NoopWriter struct{}

// WriteFacts は何もしない。
func (NoopWriter) WriteFacts(context.Context, []model.Fact) error { return nil }

// Close は何もしない。
func (NoopWriter) Close(context.Context) error { return nil }

// compile-time interface check
var (
	_ Writer = (*Neo4jWriter)(nil)
	_ Writer = NoopWriter{}
)
