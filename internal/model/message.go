package model

import (
	"encoding/json"
	"time"
)

// Role はチャットメッセージの発言者の種別を表す。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole は文字列をRoleに変換する。
// 空文字列はRoleUserとして扱い、未知の値はfalseを返す。
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case "":
		return RoleUser, true
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), true
	default:
		return "", false
	}
}

// ChatMessage は1件のチャット発言を表す。
// 書き込み時にIDとタイムスタンプがサーバー側で割り当てられ、以後変更されない。
// SessionIDは会話をまとめるためのキーであり、独立したエンティティではない。
type ChatMessage struct {
	ID             string
	UserID         string
	SessionID      string
	Role           Role
	Text           string
	Embedding      string          // 将来の埋め込みベクトル参照（現在は未使用）
	SourceMetadata json.RawMessage // 任意の構造化メタデータ
	CreatedAt      time.Time
}
