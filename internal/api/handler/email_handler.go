package handler

import (
	"context"
	"strconv"
	"time"

	"job-agent-go/internal/gmail"
	"job-agent-go/internal/logger"
	"job-agent-go/internal/processor"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// EmailHandler Gmail授权与邮件事件相关的HTTP处理器
type EmailHandler struct {
	db        *storage.MySQL
	oauth     *gmail.OAuthManager
	processor *processor.EmailProcessor
}

// NewEmailHandler 创建邮件处理器
func NewEmailHandler(db *storage.MySQL, oauth *gmail.OAuthManager, proc *processor.EmailProcessor) *EmailHandler {
	return &EmailHandler{db: db, oauth: oauth, processor: proc}
}

// Connect GET /email/connect?user_id=xxx 返回Gmail OAuth授权地址
// state参数携带user_id，回调时据此关联用户
func (h *EmailHandler) Connect(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"auth_url": h.oauth.AuthURL(userID)})
}

// OAuthCallback GET /email/oauth/callback OAuth回调，换取令牌并保存连接
func (h *EmailHandler) OAuthCallback(c context.Context, ctx *app.RequestContext) {
	code := ctx.Query("code")
	userID := ctx.Query("state")
	if code == "" || userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "缺少code或state参数"})
		return
	}

	token, err := h.oauth.Exchange(c, code)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("OAuth授权码换取令牌失败")
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "授权码无效或已过期"})
		return
	}

	client, err := gmail.NewClient(c, h.oauth.TokenSource(c, token))
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "创建Gmail客户端失败"})
		return
	}
	emailAddress, err := client.Profile(c)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("获取Gmail账户信息失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "获取Gmail账户信息失败"})
		return
	}

	expiry := token.Expiry
	conn := &models.UserGmailConnection{
		UserID:       userID,
		EmailAddress: emailAddress,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  &expiry,
		// 完成授权码流程即视为重新授权，重置授权位并默认打开同步
		IsAuthorized:      true,
		SyncEnabled:       true,
		AutoUpdateEnabled: true,
	}
	if err := h.db.SaveGmailConnection(c, conn); err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("保存Gmail连接失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "保存Gmail连接失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"user_id": userID, "email_address": emailAddress, "connected": true})
}

// Status GET /email/status?user_id=xxx 查询Gmail连接状态
func (h *EmailHandler) Status(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}
	conn, err := h.db.GetGmailConnection(c, userID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusOK, utils.H{"connected": false})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询Gmail连接失败"})
		return
	}
	resp := utils.H{
		"connected":     true,
		"email_address": conn.EmailAddress,
	}
	if conn.LastSyncAt != nil {
		resp["last_sync_at"] = conn.LastSyncAt.Format(time.RFC3339)
	}
	ctx.JSON(consts.StatusOK, resp)
}

// Disconnect DELETE /email/connection?user_id=xxx 断开Gmail授权
func (h *EmailHandler) Disconnect(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}
	if err := h.db.DeleteGmailConnection(c, userID); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "Gmail连接不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "断开Gmail连接失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"user_id": userID, "disconnected": true})
}

// SyncNow POST /email/sync?user_id=xxx 立即执行一次邮件同步
func (h *EmailHandler) SyncNow(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}
	result, err := h.processor.SyncUser(c, userID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "用户未连接Gmail"})
			return
		}
		logger.Error().Err(err).Str("user_id", userID).Msg("手动邮件同步失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "邮件同步失败"})
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

// ListEvents GET /email/events?user_id=xxx&limit=50 列出已处理的邮件事件
func (h *EmailHandler) ListEvents(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	events, err := h.db.ListEmailEventsByUser(c, userID, limit)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("查询邮件事件失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询邮件事件失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"events": events, "total": len(events)})
}

// Summary GET /email/summary?user_id=xxx 返回邮件事件的分类统计
func (h *EmailHandler) Summary(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}
	summary, err := h.db.SummarizeEmailEvents(c, userID)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("统计邮件事件失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "统计邮件事件失败"})
		return
	}
	ctx.JSON(consts.StatusOK, summary)
}

// reviewRequest 人工复核的请求体
type reviewRequest struct {
	Reviewed bool `json:"reviewed"`
}

// ReviewEvent PUT /email/events/:id/review 标记邮件事件已人工复核
func (h *EmailHandler) ReviewEvent(c context.Context, ctx *app.RequestContext) {
	eventID, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "非法的事件ID"})
		return
	}
	var req reviewRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	if err := h.db.MarkEmailEventReviewed(c, eventID, req.Reviewed); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "邮件事件不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新复核状态失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"event_id": eventID, "reviewed": req.Reviewed})
}
