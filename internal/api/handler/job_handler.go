package handler

import (
	"context"
	"strconv"
	"time"

	"job-agent-go/internal/aggregator"
	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
)

// JobStore 岗位处理器依赖的存储操作子集，*storage.MySQL 是默认实现
type JobStore interface {
	ListJobs(ctx context.Context, filter storage.JobListFilter) ([]models.JobListing, int64, error)
	GetJobByID(ctx context.Context, jobID string) (*models.JobListing, error)
	CreateJobListing(ctx context.Context, job *models.JobListing) error
	UpdateJobFields(ctx context.Context, jobID string, updates map[string]interface{}) error
	DeleteJob(ctx context.Context, jobID string) error
	CreateApplication(ctx context.Context, app *models.JobApplication) error
	GetApplicationByUserAndJob(ctx context.Context, userID, jobID string) (*models.JobApplication, error)
	UpdateApplicationFields(ctx context.Context, applicationID string, updates map[string]interface{}) error
}

var _ JobStore = (*storage.MySQL)(nil)

// JobHandler 岗位相关的HTTP处理器
type JobHandler struct {
	db         JobStore
	aggregator *aggregator.Aggregator
}

// NewJobHandler 创建岗位处理器
func NewJobHandler(db JobStore, agg *aggregator.Aggregator) *JobHandler {
	return &JobHandler{db: db, aggregator: agg}
}

// createJobRequest 手动录入岗位的请求体
type createJobRequest struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	Description string `json:"description"`
	SalaryRange string `json:"salary_range"`
	URL         string `json:"url"`
}

// ListJobs GET /jobs 分页列出岗位，支持公司/地点/关键词过滤
func (h *JobHandler) ListJobs(c context.Context, ctx *app.RequestContext) {
	page, _ := strconv.Atoi(ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(ctx.DefaultQuery("page_size", "20"))

	filter := storage.JobListFilter{
		Company:  ctx.Query("company"),
		Location: ctx.Query("location"),
		Keyword:  ctx.Query("keyword"),
		Source:   ctx.Query("source"),
		FeedID:   ctx.Query("feed_id"),
		Page:     page,
		PageSize: pageSize,
	}

	jobs, total, err := h.db.ListJobs(c, filter)
	if err != nil {
		logger.Error().Err(err).Msg("查询岗位列表失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位列表失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{
		"jobs":      jobs,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

// GetJob GET /jobs/:id
func (h *JobHandler) GetJob(c context.Context, ctx *app.RequestContext) {
	jobID := ctx.Param("id")
	job, err := h.db.GetJobByID(c, jobID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		logger.Error().Err(err).Str("job_id", jobID).Msg("查询岗位失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位失败"})
		return
	}
	ctx.JSON(consts.StatusOK, job)
}

// CreateJob POST /jobs 手动录入岗位
func (h *JobHandler) CreateJob(c context.Context, ctx *app.RequestContext) {
	var req createJobRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	if req.Title == "" || req.Company == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "title和company为必填字段"})
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "生成岗位ID失败"})
		return
	}
	now := time.Now()
	job := &models.JobListing{
		JobID:       id.String(),
		Title:       req.Title,
		Company:     req.Company,
		Location:    req.Location,
		Description: req.Description,
		SalaryRange: req.SalaryRange,
		URL:         req.URL,
		Source:      "manual",
		DedupKey:    aggregator.JobDedupKey(req.Title, req.Company, req.Location),
		PostedAt:    &now,
	}
	if err := h.db.CreateJobListing(c, job); err != nil {
		logger.Error().Err(err).Msg("创建岗位失败")
		ctx.JSON(consts.StatusConflict, utils.H{"error": "岗位已存在或创建失败"})
		return
	}
	ctx.JSON(consts.StatusCreated, job)
}

// UpdateJob PUT /jobs/:id 更新岗位的可编辑字段
func (h *JobHandler) UpdateJob(c context.Context, ctx *app.RequestContext) {
	jobID := ctx.Param("id")
	var req createJobRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Company != "" {
		updates["company"] = req.Company
	}
	if req.Location != "" {
		updates["location"] = req.Location
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.SalaryRange != "" {
		updates["salary_range"] = req.SalaryRange
	}
	if req.URL != "" {
		updates["url"] = req.URL
	}
	if len(updates) == 0 {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "没有可更新的字段"})
		return
	}

	if _, err := h.db.GetJobByID(c, jobID); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位失败"})
		return
	}
	if err := h.db.UpdateJobFields(c, jobID, updates); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("更新岗位失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新岗位失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"job_id": jobID, "updated": true})
}

// DeleteJob DELETE /jobs/:id
func (h *JobHandler) DeleteJob(c context.Context, ctx *app.RequestContext) {
	jobID := ctx.Param("id")
	if err := h.db.DeleteJob(c, jobID); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		logger.Error().Err(err).Str("job_id", jobID).Msg("删除岗位失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "删除岗位失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"job_id": jobID, "deleted": true})
}

// markAppliedRequest 标记已投递的请求体
type markAppliedRequest struct {
	UserID string `json:"user_id"`
	Notes  string `json:"notes"`
}

// MarkApplied POST /jobs/:id/apply 为岗位创建APPLIED状态的申请记录。
// 幂等：同一用户对同一岗位只保留一条申请，重复调用更新已有记录。
func (h *JobHandler) MarkApplied(c context.Context, ctx *app.RequestContext) {
	jobID := ctx.Param("id")
	var req markAppliedRequest
	if err := ctx.BindJSON(&req); err != nil || req.UserID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填字段"})
		return
	}

	if _, err := h.db.GetJobByID(c, jobID); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "岗位不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询岗位失败"})
		return
	}

	existing, err := h.db.GetApplicationByUserAndJob(c, req.UserID, jobID)
	if err != nil && !storage.IsRecordNotFound(err) {
		logger.Error().Err(err).Str("job_id", jobID).Msg("查询已有申请记录失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请记录失败"})
		return
	}
	if existing != nil {
		if existing.Status != models.ApplicationStatusApplied {
			now := time.Now()
			if err := existing.AppendStatusTransition(models.ApplicationStatusApplied, "manual", now); err != nil {
				ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新状态历史失败"})
				return
			}
			updates := map[string]interface{}{
				"status":         models.ApplicationStatusApplied,
				"applied_at":     &now,
				"status_history": existing.StatusHistory,
			}
			if req.Notes != "" {
				updates["notes"] = req.Notes
				existing.Notes = req.Notes
			}
			if err := h.db.UpdateApplicationFields(c, existing.ApplicationID, updates); err != nil {
				logger.Error().Err(err).Str("application_id", existing.ApplicationID).Msg("更新申请记录失败")
				ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新申请记录失败"})
				return
			}
			existing.Status = models.ApplicationStatusApplied
			existing.AppliedAt = &now
		}
		ctx.JSON(consts.StatusOK, existing)
		return
	}

	id, err := uuid.NewV7()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "生成申请ID失败"})
		return
	}
	now := time.Now()
	application := &models.JobApplication{
		ApplicationID: id.String(),
		JobID:         jobID,
		UserID:        req.UserID,
		Status:        models.ApplicationStatusApplied,
		AppliedAt:     &now,
		Notes:         req.Notes,
	}
	if err := application.AppendStatusTransition(models.ApplicationStatusApplied, "manual", now); err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "初始化状态历史失败"})
		return
	}
	if err := h.db.CreateApplication(c, application); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("创建申请记录失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "创建申请记录失败"})
		return
	}
	ctx.JSON(consts.StatusCreated, application)
}

// RefreshFeeds POST /jobs/refresh 立即抓取所有启用的订阅源
func (h *JobHandler) RefreshFeeds(c context.Context, ctx *app.RequestContext) {
	results, err := h.aggregator.RefreshAllFeeds(c)
	if err != nil {
		logger.Error().Err(err).Msg("手动触发订阅源抓取失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "抓取订阅源失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"results": results})
}

// CleanupJobs POST /jobs/cleanup 立即清理过期未投递岗位
func (h *JobHandler) CleanupJobs(c context.Context, ctx *app.RequestContext) {
	deleted, err := h.aggregator.CleanupUnappliedJobs(c)
	if err != nil {
		logger.Error().Err(err).Msg("手动触发岗位清理失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "清理岗位失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"deleted": deleted})
}
