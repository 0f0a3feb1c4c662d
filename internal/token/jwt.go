// Package token はユーザーIDとアクセストークンの相互変換を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken は検証に失敗したトークンのエラー。
// 署名不正・形式不正・期限切れを区別せず、常にこの1種類のみを返す。
var ErrInvalidToken = errors.New("invalid token")

// ErrEmptySecret は署名鍵が未指定の場合のエラー。
var ErrEmptySecret = errors.New("token secret must not be empty")

// Service はHS256署名のJWTを発行・検証する。
// 状態を持たないため、複数のgoroutineから同時に利用できる。
type Service struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService はServiceを生成する。
// defaultTTLはIssueにttl<=0が渡された場合の有効期間として使われる。
func NewService(secret string, defaultTTL time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	s := &Service{
		secret:     []byte(secret),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// claims はアクセストークンのクレーム。
// expは秒精度のため切り上げて書き込み、正確な失効時刻はexp_nsに持つ。
type claims struct {
	jwt.RegisteredClaims
	ExpiresAtNano int64 `json:"exp_ns"`
}

// Issue はuserIDをsubjectとするトークンを発行し、その有効期限を返す。
// 有効期限は発行時刻+ttlそのもので、秒への丸めは行わない。
func (s *Service) Issue(userID string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("failed to issue token: empty user id")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now().UTC()
	expiresAt := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(expiresAt)),
		},
		ExpiresAtNano: expiresAt.UnixNano(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はトークンを検証し、subjectのユーザーIDを返す。
// 現在時刻が発行時刻+ttl以上の場合は期限切れとして扱う。
func (s *Service) Verify(tokenString string) (string, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, c,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if c.Subject == "" || c.ExpiresAtNano == 0 {
		return "", ErrInvalidToken
	}
	if !s.now().Before(time.Unix(0, c.ExpiresAtNano)) {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// ceilSecond はtを次の秒境界に切り上げる。秒ちょうどの場合はそのまま返す。
func ceilSecond(t time.Time) time.Time {
	if tr := t.Truncate(time.Second); !tr.Equal(t) {
		return tr.Add(time.Second)
	}
	return t
}
