package handler

import (
	"context"
	"time"

	"job-agent-go/internal/logger"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"
)

// ApplicationHandler 申请记录相关的HTTP处理器
type ApplicationHandler struct {
	db *storage.MySQL
}

// NewApplicationHandler 创建申请处理器
func NewApplicationHandler(db *storage.MySQL) *ApplicationHandler {
	return &ApplicationHandler{db: db}
}

// validStatuses 申请状态机允许的状态集合
var validStatuses = map[string]bool{
	models.ApplicationStatusInterested:  true,
	models.ApplicationStatusApplied:     true,
	models.ApplicationStatusInterviewed: true,
	models.ApplicationStatusRejected:    true,
	models.ApplicationStatusHired:       true,
}

// ListApplications GET /applications?user_id=xxx&active=true
func (h *ApplicationHandler) ListApplications(c context.Context, ctx *app.RequestContext) {
	userID := ctx.Query("user_id")
	if userID == "" {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "user_id为必填参数"})
		return
	}

	var apps []models.JobApplication
	var err error
	if ctx.Query("active") == "true" {
		apps, err = h.db.ListActiveApplicationsByUser(c, userID)
	} else {
		apps, err = h.db.ListApplicationsByUser(c, userID)
	}
	if err != nil {
		logger.Error().Err(err).Str("user_id", userID).Msg("查询申请列表失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请列表失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"applications": apps, "total": len(apps)})
}

// GetApplication GET /applications/:id
func (h *ApplicationHandler) GetApplication(c context.Context, ctx *app.RequestContext) {
	appID := ctx.Param("id")
	application, err := h.db.GetApplicationByID(c, appID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "申请记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请记录失败"})
		return
	}
	ctx.JSON(consts.StatusOK, application)
}

// updateStatusRequest 手动更新申请状态的请求体
type updateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// UpdateStatus PUT /applications/:id/status 手动流转申请状态
func (h *ApplicationHandler) UpdateStatus(c context.Context, ctx *app.RequestContext) {
	appID := ctx.Param("id")
	var req updateStatusRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	if !validStatuses[req.Status] {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "非法的申请状态: " + req.Status})
		return
	}

	application, err := h.db.GetApplicationByID(c, appID)
	if err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "申请记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询申请记录失败"})
		return
	}

	err = h.db.WithTransaction(c, func(tx *gorm.DB) error {
		if err := h.db.UpdateApplicationStatusTx(tx, application, req.Status, "manual", time.Now()); err != nil {
			return err
		}
		if req.Notes != "" {
			return tx.Model(&models.JobApplication{}).
				Where("application_id = ?", appID).Update("notes", req.Notes).Error
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Str("application_id", appID).Msg("更新申请状态失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新申请状态失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"application_id": appID, "status": req.Status})
}

// UpdateNotes PUT /applications/:id 更新申请备注
func (h *ApplicationHandler) UpdateNotes(c context.Context, ctx *app.RequestContext) {
	appID := ctx.Param("id")
	var req updateStatusRequest
	if err := ctx.BindJSON(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	if err := h.db.UpdateApplicationFields(c, appID, map[string]interface{}{"notes": req.Notes}); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "申请记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "更新申请备注失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"application_id": appID, "updated": true})
}

// DeleteApplication DELETE /applications/:id
func (h *ApplicationHandler) DeleteApplication(c context.Context, ctx *app.RequestContext) {
	appID := ctx.Param("id")
	if err := h.db.DeleteApplication(c, appID); err != nil {
		if storage.IsRecordNotFound(err) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "申请记录不存在"})
			return
		}
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "删除申请记录失败"})
		return
	}
	ctx.JSON(consts.StatusOK, utils.H{"application_id": appID, "deleted": true})
}
