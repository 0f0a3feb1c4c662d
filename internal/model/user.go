package model

import "time"

// User はサービス利用ユーザーを表す。
// 初回のOAuthログイン時に作成され、このサービスからは削除されない。
type User struct {
	ID          string
	Email       string
	FullName    string
	IsActive    bool
	IsSuperuser bool
	Provider    string // "google", "github" 等。未連携の場合は空
	ProviderID  string // プロバイダー側のsubject ID
	AvatarURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasProviderIdentity はproviderとprovider_idの両方が設定されているかを返す。
func (u *User) HasProviderIdentity() bool {
	return u.Provider != "" && u.ProviderID != ""
}

// Profile はOAuthプロバイダーから取得し正規化したユーザー情報を表す。
// プロバイダーごとのレスポンス形式の差異はOAuthブリッジ内で吸収する。
type Profile struct {
	Provider    string
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// UserPatch はユーザーの部分更新内容を表す。
// nilのフィールドは変更しない。
type UserPatch struct {
	FullName   *string
	IsActive   *bool
	AvatarURL  *string
	Provider   *string
	ProviderID *string
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p UserPatch) IsEmpty() bool {
	return p.FullName == nil && p.IsActive == nil && p.AvatarURL == nil &&
		p.Provider == nil && p.ProviderID == nil
}
