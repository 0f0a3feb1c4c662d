// Package auth はOAuthによるログインフローとアクセストークン発行を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/recall/internal/model"
)

// 対応プロバイダー名
const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

const (
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	defaultGitHubAPIURL      = "https://api.github.com"

	// maxProviderResponseSize はプロバイダーAPIレスポンスの読み取り上限。
	maxProviderResponseSize = 1 << 20
)

// ProviderConfig はOAuthプロバイダー1件分の設定。
type ProviderConfig struct {
	ClientID     string
	ClientSecret string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string // Googleはuserinfoエンドポイント、GitHubはAPIのベースURL
}

func (c ProviderConfig) configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// BridgeConfig はBridgeの設定。
type BridgeConfig struct {
	Google ProviderConfig
	GitHub ProviderConfig

	// CallbackBaseURL はコールバックURLの接頭辞。{CallbackBaseURL}/{provider} がredirect_uriになる。
	CallbackBaseURL string

	// HTTPClient はプロバイダーとの通信に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// Timeout はコード交換とプロフィール取得全体の制限時間。0以下の場合は設定しない。
	Timeout time.Duration

	// AvatarValidator はアバターURLを検証する。エラーを返したURLは破棄される。
	AvatarValidator func(rawURL string) error
}

// Bridge は認可コードを検証済みプロフィールに交換する。
// プロバイダーごとのレスポンス形式の差異はここで model.Profile に正規化する。
type Bridge struct {
	configs         map[string]ProviderConfig
	callbackBaseURL string
	httpClient      *http.Client
	timeout         time.Duration
	validateAvatar  func(string) error
}

// NewBridge はBridgeを生成する。
func NewBridge(cfg BridgeConfig) *Bridge {
	google := cfg.Google
	if google.AuthURL == "" {
		google.AuthURL = endpoints.Google.AuthURL
	}
	if google.TokenURL == "" {
		google.TokenURL = endpoints.Google.TokenURL
	}
	if google.APIURL == "" {
		google.APIURL = defaultGoogleUserInfoURL
	}

	github := cfg.GitHub
	if github.AuthURL == "" {
		github.AuthURL = endpoints.GitHub.AuthURL
	}
	if github.TokenURL == "" {
		github.TokenURL = endpoints.GitHub.TokenURL
	}
	if github.APIURL == "" {
		github.APIURL = defaultGitHubAPIURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &Bridge{
		configs: map[string]ProviderConfig{
			ProviderGoogle: google,
			ProviderGitHub: github,
		},
		callbackBaseURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		httpClient:      client,
		timeout:         cfg.Timeout,
		validateAvatar:  cfg.AvatarValidator,
	}
}

// LoginURL はプロバイダーの同意画面URLを返す。
// 未対応のプロバイダーは model.ErrUnsupportedProvider、
// クライアント情報が未設定の場合は model.ErrProviderNotConfigured を返す。
func (b *Bridge) LoginURL(provider, state string) (string, error) {
	oc, err := b.oauthConfig(provider)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(state), nil
}

// Exchange は認可コードをアクセストークンに交換し、プロフィールを取得する。
// メールアドレスを取得できない場合は model.ErrMissingEmail、
// 通信やHTTPステータスの異常は model.ErrUpstream をラップして返す。
func (b *Bridge) Exchange(ctx context.Context, provider, code string) (*model.Profile, error) {
	oc, err := b.oauthConfig(provider)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("missing authorization code: %w", model.ErrUpstream)
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)

	tok, err := oc.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange %s code: %w: %w", provider, model.ErrUpstream, err)
	}
	client := oc.Client(ctx, tok)

	var profile *model.Profile
	switch provider {
	case ProviderGoogle:
		profile, err = b.fetchGoogleProfile(ctx, client)
	case ProviderGitHub:
		profile, err = b.fetchGitHubProfile(ctx, client)
	}
	if err != nil {
		return nil, err
	}

	profile.Email = strings.TrimSpace(profile.Email)
	if profile.Email == "" {
		return nil, model.ErrMissingEmail
	}
	if profile.AvatarURL != "" && b.validateAvatar != nil {
		if err := b.validateAvatar(profile.AvatarURL); err != nil {
			profile.AvatarURL = ""
		}
	}
	return profile, nil
}

// oauthConfig は許可リストと設定有無を確認し、oauth2.Configを組み立てる。
func (b *Bridge) oauthConfig(provider string) (*oauth2.Config, error) {
	pc, ok := b.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%q: %w", provider, model.ErrUnsupportedProvider)
	}
	if !pc.configured() {
		return nil, fmt.Errorf("%s: %w", provider, model.ErrProviderNotConfigured)
	}

	oc := &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthURL,
			TokenURL: pc.TokenURL,
		},
		RedirectURL: b.callbackBaseURL + "/" + provider,
	}
	switch provider {
	case ProviderGoogle:
		oc.Scopes = []string{"openid", "email", "profile"}
	case ProviderGitHub:
		oc.Scopes = []string{"user:email"}
	}
	return oc, nil
}

// googleUserInfo はGoogleのuserinfoエンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (b *Bridge) fetchGoogleProfile(ctx context.Context, client *http.Client) (*model.Profile, error) {
	var info googleUserInfo
	if err := getJSON(ctx, client, b.configs[ProviderGoogle].APIURL, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch google user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in google user info: %w", model.ErrUpstream)
	}
	// 未検証のメールアドレスはアカウント照合に使わない
	email := info.Email
	if !info.EmailVerified {
		email = ""
	}
	return &model.Profile{
		Provider:    ProviderGoogle,
		SubjectID:   info.Sub,
		Email:       email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	}, nil
}

// githubUser はGitHubの /user レスポンス。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmail はGitHubの /user/emails レスポンスの要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (b *Bridge) fetchGitHubProfile(ctx context.Context, client *http.Client) (*model.Profile, error) {
	base := strings.TrimRight(b.configs[ProviderGitHub].APIURL, "/")

	var u githubUser
	if err := getJSON(ctx, client, base+"/user", &u); err != nil {
		return nil, fmt.Errorf("failed to fetch github user: %w", err)
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("empty id in github user: %w", model.ErrUpstream)
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, base+"/user/emails", &emails); err != nil {
		return nil, fmt.Errorf("failed to fetch github emails: %w", err)
	}
	email := verifiedGitHubEmail(u.Email, emails)

	name := u.Name
	if name == "" {
		name = u.Login
	}

	return &model.Profile{
		Provider:    ProviderGitHub,
		SubjectID:   strconv.FormatInt(u.ID, 10),
		Email:       email,
		DisplayName: name,
		AvatarURL:   u.AvatarURL,
	}, nil
}

// verifiedGitHubEmail は検証済みのメールアドレスを選ぶ。
// 公開メールアドレスが検証済みならそれを、なければ検証済みのprimaryを返す。
// どちらもない場合は空文字を返す。
func verifiedGitHubEmail(public string, emails []githubEmail) string {
	if public != "" {
		for _, e := range emails {
			if e.Verified && strings.EqualFold(e.Email, public) {
				return e.Email
			}
		}
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	return ""
}

// getJSON はGETリクエストを送り、200応答のJSONをdstにデコードする。
func getJSON(ctx context.Context, client *http.Client, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w: %w", model.ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w: %w", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w: %w", model.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %w", resp.StatusCode, model.ErrUpstream)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to parse response: %w: %w", model.ErrUpstream, err)
	}
	return nil
}
