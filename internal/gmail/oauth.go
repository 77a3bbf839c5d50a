package gmail

import (
	"context"
	"fmt"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/storage/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// OAuthManager 管理Gmail的授权码流程和token刷新
type OAuthManager struct {
	config *oauth2.Config
}

// NewOAuthManager 根据应用配置创建OAuth管理器，只申请只读邮件权限
func NewOAuthManager(cfg *config.GmailConfig) (*OAuthManager, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Gmail OAuth 凭据未配置")
	}
	return &OAuthManager{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				gmailapi.GmailReadonlyScope,
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
	}, nil
}

// AuthURL 生成带state的授权跳转地址。
// access_type=offline 和 prompt=consent 保证Google每次都下发refresh token。
func (m *OAuthManager) AuthURL(state string) string {
	return m.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange 用授权码换取token
func (m *OAuthManager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("授权码换取token失败: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("Google未下发refresh token，请撤销授权后重试")
	}
	return token, nil
}

// TokenFromConnection 把数据库中的连接记录还原成oauth2.Token
func TokenFromConnection(conn *models.UserGmailConnection) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiry != nil {
		token.Expiry = *conn.TokenExpiry
	}
	return token
}

// FreshToken 返回有效的token，过期时自动刷新。
// 第二个返回值表示token被刷新过，调用方需要把新token写回数据库。
func (m *OAuthManager) FreshToken(ctx context.Context, conn *models.UserGmailConnection) (*oauth2.Token, bool, error) {
	stored := TokenFromConnection(conn)

	// token还有余量时直接用，避免每次同步都打刷新接口
	if stored.Valid() && time.Until(stored.Expiry) > 2*time.Minute {
		return stored, false, nil
	}

	fresh, err := m.config.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, false, fmt.Errorf("刷新Gmail token失败: %w", err)
	}

	refreshed := fresh.AccessToken != stored.AccessToken
	return fresh, refreshed, nil
}

// TokenSource 返回一个自动续期的token源，交给Gmail API客户端使用
func (m *OAuthManager) TokenSource(ctx context.Context, token *oauth2.Token) oauth2.TokenSource {
	return m.config.TokenSource(ctx, token)
}
