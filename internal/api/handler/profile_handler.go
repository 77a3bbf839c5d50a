package handler

import (
	"context"
	"encoding/json"
	"io"
	"strconv"

	"job-agent-go/internal/logger"
	"job-agent-go/internal/processor"
	"job-agent-go/internal/storage"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// ProfileHandler 用户档案与评分相关的HTTP处理器
type ProfileHandler struct {
	db       *storage.MySQL
	pipeline *processor.ResumePipeline
	scorer   *processor.ScoreProcessor
}

// NewProfileHandler 创建档案处理器
func NewProfileHandler(db *storage.MySQL, pipeline *processor.ResumePipeline, scorer *processor.ScoreProcessor) *ProfileHandler {
	return &ProfileHandler{db: db, pipeline: pipeline, scorer: scorer}
}

// 简历文件大小上限
const maxResumeUploadBytes = 10 << 20

// UploadResume POST /profiles/:user_id/resume 上传简历文件(pdf/docx)
func (h *ProfileHandler) UploadResume(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}
	if fileHeader.Size > maxResumeUploadBytes {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "简历文件不能超过10MB"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
		return
	}

	profileID, err := h.pipeline.HandleUpload(c, userID, fileHeader.Filename, data)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("简历上传失败")
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusAccepted, utils.H{
		"profile_id": profileID,
		"status":     processor.ProfileStatusPendingParsing,
	})
}

// parseTextRequest 纯文本简历的请求体
type parseTextRequest struct {
	Text string `json:"text"`
}

// ParseResumeText POST /profiles/:user_id/resume/text 直接解析粘贴的简历文本
func (h *ProfileHandler) ParseResumeText(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	var req parseTextRequest
	if err := ctx.BindJSON(&req); err != nil || req.Text == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "text为必填字段"})
		return
	}

	profileID, err := h.pipeline.ParseText(c, userID, req.Text)
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("简历文本解析失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "简历文本解析失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"profile_id": profileID, "status": processor.ProfileStatusParsed})
}

// GetProfile GET /profiles/:user_id
func (h *ProfileHandler) GetProfile(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	profile, err := h.db.GetProfileByUserID(c, userID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "档案不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询档案失败"})
		return
	}
	ctx.JSON(consts.StatusOK, profile)
}

// updateProfileRequest 更新档案可编辑字段的请求体
type updateProfileRequest struct {
	FullName    string          `json:"full_name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Location    string          `json:"location"`
	Summary     string          `json:"summary"`
	Preferences json.RawMessage `json:"preferences"`
}

// UpdateProfile PUT /profiles/:user_id 更新档案基本信息与求职偏好
func (h *ProfileHandler) UpdateProfile(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	var req updateProfileRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}

	profile, err := h.db.GetProfileByUserID(c, userID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "档案不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询档案失败"})
		return
	}

	updates := map[string]interface{}{}
	if req.FullName != "" {
		updates["full_name"] = req.FullName
	}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.Phone != "" {
		updates["phone"] = req.Phone
	}
	if req.Location != "" {
		updates["location"] = req.Location
	}
	if req.Summary != "" {
		updates["summary"] = req.Summary
	}
	if len(req.Preferences) > 0 {
		updates["preferences_json"] = []byte(req.Preferences)
	}
	if len(updates) == 0 {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "没有可更新的字段"})
		return
	}
	if err := h.db.UpdateProfileFields(c, profile.ProfileID, updates); err != nil {
		logger.Error().Err(err).Str("profile_id", profile.ProfileID).Msg("更新档案失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新档案失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"profile_id": profile.ProfileID, "updated": true})
}

// TriggerScoring POST /profiles/:user_id/score 触发未评分岗位的批量评分
func (h *ProfileHandler) TriggerScoring(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	count, err := h.scorer.EnqueueUnscoredJobs(c, userID, "rescore")
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "档案不存在，请先上传简历"})
			return
		}
		logger.Error().Err(err).Str("user_id", userID).Msg("触发批量评分失败")
		ctx.JSON(consts.StatusConflict, utils.H{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusAccepted, utils.H{"enqueued": count})
}

// ScoringStatus GET /profiles/:user_id/score/status 查询评分进度
func (h *ProfileHandler) ScoringStatus(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	profile, err := h.db.GetProfileByUserID(c, userID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "档案不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询档案失败"})
		return
	}

	unscoredIDs, err := h.db.ListUnscoredJobIDs(c, profile.ProfileID, 1000)
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询评分进度失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{
		"profile_id":        profile.ProfileID,
		"processing_status": profile.ProcessingStatus,
		"unscored_jobs":     len(unscoredIDs),
	})
}

// ListMatches GET /profiles/:user_id/matches?min_score=60&limit=50 按评分倒序返回推荐岗位
func (h *ProfileHandler) ListMatches(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Param("user_id")
	profile, err := h.db.GetProfileByUserID(c, userID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "档案不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询档案失败"})
		return
	}

	minScore, _ := strconv.Atoi(ctx.DefaultQuery("min_score", "0"))
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))
	scores, err := h.db.ListScoredJobs(c, profile.ProfileID, minScore, limit)
	if err != nil {
		logger.Error().Err(err).Str("profile_id", profile.ProfileID).Msg("查询推荐岗位失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询推荐岗位失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"matches": scores, "total": len(scores)})
}
