package model

import "time"

// Entity はメッセージから抽出されたエンティティの辞書レコードを表す。
// UserIDが空の場合は全ユーザー共通のエンティティとして扱う。
type Entity struct {
	ID            string
	Name          string
	CanonicalForm string
	EntityType    string
	UserID        string
	CreatedAt     time.Time
}

// Fact はエンティティ間の関係を表す。グラフストアに書き込まれる。
type Fact struct {
	Source    string
	Relation  string
	Target    string
	Weight    float64
	UserID    string
	SessionID string
}
