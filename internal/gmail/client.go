package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"job-agent-go/internal/types"

	"golang.org/x/oauth2"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Client 封装Gmail API的只读访问
type Client struct {
	service *gmailapi.Service
}

// NewClient 用已授权的token源创建Gmail客户端
func NewClient(ctx context.Context, ts oauth2.TokenSource) (*Client, error) {
	service, err := gmailapi.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("创建Gmail服务失败: %w", err)
	}
	return &Client{service: service}, nil
}

// Profile 返回授权账号的邮箱地址
func (c *Client) Profile(ctx context.Context) (string, error) {
	profile, err := c.service.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("获取Gmail账号信息失败: %w", err)
	}
	return profile.EmailAddress, nil
}

// FetchRecentMessages 拉取最近lookbackDays天收件箱里的邮件，最多limit封。
// 社交和推广分类的邮件直接在查询里排除，减少后续分类的LLM调用。
func (c *Client) FetchRecentMessages(ctx context.Context, lookbackDays, limit int) ([]types.InboundEmail, error) {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf("in:inbox newer_than:%dd -category:social -category:promotions", lookbackDays)
	listResp, err := c.service.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("拉取Gmail邮件列表失败: %w", err)
	}

	emails := make([]types.InboundEmail, 0, len(listResp.Messages))
	for _, ref := range listResp.Messages {
		msg, err := c.service.Users.Messages.Get("me", ref.Id).
			Format("full").
			Context(ctx).
			Do()
		if err != nil {
			// 单封邮件拉取失败不中断整个批次
			continue
		}
		emails = append(emails, messageToInboundEmail(msg))
	}

	return emails, nil
}

// messageToInboundEmail 把Gmail API的消息结构转成内部类型
func messageToInboundEmail(msg *gmailapi.Message) types.InboundEmail {
	email := types.InboundEmail{
		MessageID:  msg.Id,
		Snippet:    msg.Snippet,
		ReceivedAt: msg.InternalDate / 1000, // InternalDate是毫秒
		HistoryID:  msg.HistoryId,
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			switch header.Name {
			case "From":
				email.SenderName, email.Sender = splitFromHeader(header.Value)
			case "Subject":
				email.Subject = header.Value
			case "Date":
				if email.ReceivedAt == 0 {
					if t, err := time.Parse(time.RFC1123Z, header.Value); err == nil {
						email.ReceivedAt = t.Unix()
					}
				}
			}
		}
		email.Body = extractPlainTextBody(msg.Payload)
	}

	if email.Body == "" {
		email.Body = email.Snippet
	}
	return email
}

// splitFromHeader 拆出 "Display Name <addr@host>" 中的名字和地址
func splitFromHeader(from string) (name, address string) {
	from = strings.TrimSpace(from)
	lt := strings.LastIndex(from, "<")
	gt := strings.LastIndex(from, ">")
	if lt != -1 && gt > lt {
		name = strings.Trim(strings.TrimSpace(from[:lt]), `"`)
		address = strings.TrimSpace(from[lt+1 : gt])
		return name, address
	}
	return "", from
}

// extractPlainTextBody 递归遍历MIME结构，优先取text/plain部分
func extractPlainTextBody(part *gmailapi.MessagePart) string {
	if part == nil {
		return ""
	}

	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		if decoded := decodeBody(part.Body.Data); decoded != "" {
			return decoded
		}
	}

	for _, child := range part.Parts {
		if text := extractPlainTextBody(child); text != "" {
			return text
		}
	}

	// 实在没有text/plain时退而求其次用text/html的原文
	if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}

	return ""
}

// decodeBody Gmail返回的正文是无填充的base64url，但也兼容带填充的情况
func decodeBody(data string) string {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}
