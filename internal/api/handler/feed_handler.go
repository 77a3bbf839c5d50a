package handler

import (
	"context"
	"net/url"
	"strings"

	"job-agent-go/internal/aggregator"
	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
)

// FeedStore 订阅源处理器依赖的存储操作子集，*storage.MySQL 是默认实现
type FeedStore interface {
	ListFeeds(ctx context.Context, enabledOnly bool) ([]models.FeedSubscription, error)
	CreateFeed(ctx context.Context, feed *models.FeedSubscription) error
	GetFeedByID(ctx context.Context, feedID string) (*models.FeedSubscription, error)
	UpdateFeedFields(ctx context.Context, feedID string, updates map[string]interface{}) error
	DeleteFeed(ctx context.Context, feedID string) error
	SummarizeFeedHealth(ctx context.Context) (*storage.FeedHealthSummary, error)
}

var _ FeedStore = (*storage.MySQL)(nil)

// FeedHandler 订阅源管理的HTTP处理器
type FeedHandler struct {
	db         FeedStore
	aggregator *aggregator.Aggregator
}

// NewFeedHandler 创建订阅源处理器
func NewFeedHandler(db FeedStore, agg *aggregator.Aggregator) *FeedHandler {
	return &FeedHandler{db: db, aggregator: agg}
}

// feedRequest 创建/更新订阅源的请求体
type feedRequest struct {
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	Format         string  `json:"format"`
	Enabled        *bool   `json:"enabled"`
	KeywordFilter  *string `json:"keyword_filter"`
	LocationFilter *string `json:"location_filter"`
}

// ListFeeds GET /feeds?enabled=true
func (h *FeedHandler) ListFeeds(c context.Context, ctx *app.RequestContext) {
	feeds, err := h.db.ListFeeds(c, ctx.Query("enabled") == "true")
	if err != nil {
		logger.Error().Err(err).Msg("查询订阅源列表失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询订阅源列表失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"feeds": feeds, "total": len(feeds)})
}

// CreateFeed POST /feeds
func (h *FeedHandler) CreateFeed(c context.Context, ctx *app.RequestContext) {
	var req feedRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	if req.Name == "" || req.URL == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "name和url为必填字段"})
		return
	}
	if parsed, err := url.Parse(req.URL); err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "url必须是合法的http(s)地址"})
		return
	}

	format := req.Format
	switch format {
	case "":
		format = "rss"
	case "rss", "atom", "json":
	default:
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "format仅支持 rss / atom / json"})
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "生成订阅源ID失败"})
		return
	}
	feed := &models.FeedSubscription{
		FeedID:  id.String(),
		Name:    req.Name,
		URL:     req.URL,
		Format:  format,
		Enabled: true,
	}
	if req.Enabled != nil {
		feed.Enabled = *req.Enabled
	}
	if req.KeywordFilter != nil {
		feed.KeywordFilter = *req.KeywordFilter
	}
	if req.LocationFilter != nil {
		feed.LocationFilter = *req.LocationFilter
	}
	if err := h.db.CreateFeed(c, feed); err != nil {
		// url唯一索引冲突
		logger.Warn().Err(err).Str("url", req.URL).Msg("创建订阅源失败")
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "订阅源URL已存在"})
		return
	}
	ctx.JSON(consts.StatusCreated, feed)
}

// GetFeed GET /feeds/:id
func (h *FeedHandler) GetFeed(c context.Context, ctx *app.RequestContext) {
	feedID := ctx.Param("id")
	feed, err := h.db.GetFeedByID(c, feedID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "订阅源不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询订阅源失败"})
		return
	}
	ctx.JSON(consts.StatusOK, feed)
}

// UpdateFeed PUT /feeds/:id 更新订阅源的可编辑字段
func (h *FeedHandler) UpdateFeed(c context.Context, ctx *app.RequestContext) {
	feedID := ctx.Param("id")
	var req feedRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.URL != "" {
		if parsed, err := url.Parse(req.URL); err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "url必须是合法的http(s)地址"})
			return
		}
		updates["url"] = req.URL
	}
	if req.Format != "" {
		switch req.Format {
		case "rss", "atom", "json":
			updates["format"] = req.Format
		default:
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "format仅支持 rss / atom / json"})
			return
		}
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if req.KeywordFilter != nil {
		updates["keyword_filter"] = *req.KeywordFilter
	}
	if req.LocationFilter != nil {
		updates["location_filter"] = *req.LocationFilter
	}
	if len(updates) == 0 {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "没有可更新的字段"})
		return
	}

	if err := h.db.UpdateFeedFields(c, feedID, updates); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "订阅源不存在"})
			return
		}
		logger.Error().Err(err).Str("feed_id", feedID).Msg("更新订阅源失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新订阅源失败"})
		return
	}

	feed, err := h.db.GetFeedByID(c, feedID)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询订阅源失败"})
		return
	}
	ctx.JSON(consts.StatusOK, feed)
}

// HealthSummary GET /feeds/health 订阅源整体健康度
func (h *FeedHandler) HealthSummary(c context.Context, ctx *app.RequestContext) {
	summary, err := h.db.SummarizeFeedHealth(c)
	if err != nil {
		logger.Error().Err(err).Msg("汇总订阅源健康度失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "汇总订阅源健康度失败"})
		return
	}
	ctx.JSON(consts.StatusOK, summary)
}

// RefreshFeed POST /feeds/:id/refresh 立即抓取单个订阅源
func (h *FeedHandler) RefreshFeed(c context.Context, ctx *app.RequestContext) {
	feedID := ctx.Param("id")
	feed, err := h.db.GetFeedByID(c, feedID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "订阅源不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询订阅源失败"})
		return
	}
	result := h.aggregator.RefreshFeed(c, feed)
	ctx.JSON(consts.StatusOK, result)
}

// DeleteFeed DELETE /feeds/:id
func (h *FeedHandler) DeleteFeed(c context.Context, ctx *app.RequestContext) {
	feedID := ctx.Param("id")
	if err := h.db.DeleteFeed(c, feedID); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "订阅源不存在"})
			return
		}
		logger.Error().Err(err).Str("feed_id", feedID).Msg("删除订阅源失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "删除订阅源失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"feed_id": feedID, "deleted": true})
}
