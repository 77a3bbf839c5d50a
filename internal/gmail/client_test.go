package gmail

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmailapi "google.golang.org/api/gmail/v1"
)

func TestSplitFromHeader(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectName  string
		expectEmail string
	}{
		{"带显示名", `Greenhouse <no-reply@us.greenhouse-mail.io>`, "Greenhouse", "no-reply@us.greenhouse-mail.io"},
		{"引号包裹的显示名", `"Glean Recruiting" <recruiting@glean.com>`, "Glean Recruiting", "recruiting@glean.com"},
		{"纯地址", `hr@initech.com`, "", "hr@initech.com"},
		{"显示名含尖括号字符", `Team <a> <team@example.com>`, "Team <a>", "team@example.com"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			name, email := splitFromHeader(tc.input)
			assert.Equal(t, tc.expectName, name, "显示名应正确拆出")
			assert.Equal(t, tc.expectEmail, email, "地址应正确拆出")
		})
	}
}

func TestMessageToInboundEmail(t *testing.T) {
	body := base64.RawURLEncoding.EncodeToString([]byte("Thank you for applying to Glean."))

	msg := &gmailapi.Message{
		Id:           "msg-001",
		Snippet:      "Thank you for applying…",
		InternalDate: 1735689600000,
		Payload: &gmailapi.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "Greenhouse <no-reply@us.greenhouse-mail.io>"},
				{Name: "Subject", Value: "Thank you for applying to Glean"},
			},
			Parts: []*gmailapi.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmailapi.MessagePartBody{Data: body},
				},
			},
		},
	}

	email := messageToInboundEmail(msg)
	assert.Equal(t, "msg-001", email.MessageID)
	assert.Equal(t, "no-reply@us.greenhouse-mail.io", email.Sender)
	assert.Equal(t, "Thank you for applying to Glean", email.Subject)
	assert.Equal(t, int64(1735689600), email.ReceivedAt, "InternalDate毫秒应转成秒")
	assert.Equal(t, "Thank you for applying to Glean.", email.Body)
}

func TestMessageToInboundEmailFallsBackToSnippet(t *testing.T) {
	msg := &gmailapi.Message{
		Id:      "msg-002",
		Snippet: "只有摘要的邮件",
		Payload: &gmailapi.MessagePart{
			MimeType: "text/html",
			Headers: []*gmailapi.MessagePartHeader{
				{Name: "From", Value: "noreply@example.com"},
			},
		},
	}

	email := messageToInboundEmail(msg)
	require.Equal(t, "只有摘要的邮件", email.Body, "没有正文时应回退到snippet")
}
