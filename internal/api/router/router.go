package router

import (
	"context"
	"time"

	"job-agent-go/internal/api/handler"
	"job-agent-go/internal/logger"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// Handlers 路由依赖的全部处理器
type Handlers struct {
	Job         *handler.JobHandler
	Application *handler.ApplicationHandler
	Feed        *handler.FeedHandler
	Profile     *handler.ProfileHandler
	Email       *handler.EmailHandler
}

// RequestLogger 记录每个请求的方法、路径、状态码与耗时
func RequestLogger() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		logger.Info().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("http请求")
	}
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, handlers *Handlers) {
	h.Use(RequestLogger())

	api := h.Group("/api/v1")

	// 岗位
	jobs := api.Group("/jobs")
	jobs.GET("", handlers.Job.ListJobs)
	jobs.POST("", handlers.Job.CreateJob)
	jobs.POST("/refresh", handlers.Job.RefreshFeeds)
	jobs.POST("/cleanup", handlers.Job.CleanupJobs)
	jobs.GET("/:id", handlers.Job.GetJob)
	jobs.PUT("/:id", handlers.Job.UpdateJob)
	jobs.DELETE("/:id", handlers.Job.DeleteJob)
	jobs.POST("/:id/apply", handlers.Job.MarkApplied)

	// 申请
	apps := api.Group("/applications")
	apps.GET("", handlers.Application.ListApplications)
	apps.GET("/:id", handlers.Application.GetApplication)
	apps.PUT("/:id", handlers.Application.UpdateNotes)
	apps.PUT("/:id/status", handlers.Application.UpdateStatus)
	apps.DELETE("/:id", handlers.Application.DeleteApplication)

	// 订阅源
	feeds := api.Group("/feeds")
	feeds.GET("", handlers.Feed.ListFeeds)
	feeds.POST("", handlers.Feed.CreateFeed)
	feeds.GET("/health", handlers.Feed.HealthSummary)
	feeds.GET("/:id", handlers.Feed.GetFeed)
	feeds.PUT("/:id", handlers.Feed.UpdateFeed)
	feeds.POST("/:id/refresh", handlers.Feed.RefreshFeed)
	feeds.DELETE("/:id", handlers.Feed.DeleteFeed)

	// 档案与评分
	profiles := api.Group("/profiles")
	profiles.GET("/:user_id", handlers.Profile.GetProfile)
	profiles.PUT("/:user_id", handlers.Profile.UpdateProfile)
	profiles.POST("/:user_id/resume", handlers.Profile.UploadResume)
	profiles.POST("/:user_id/resume/text", handlers.Profile.ParseResumeText)
	profiles.POST("/:user_id/score", handlers.Profile.TriggerScoring)
	profiles.GET("/:user_id/score/status", handlers.Profile.ScoringStatus)
	profiles.GET("/:user_id/matches", handlers.Profile.ListMatches)

	// Gmail与邮件事件
	email := api.Group("/email")
	email.GET("/connect", handlers.Email.Connect)
	email.GET("/oauth/callback", handlers.Email.OAuthCallback)
	email.GET("/status", handlers.Email.Status)
	email.DELETE("/connection", handlers.Email.Disconnect)
	email.POST("/sync", handlers.Email.SyncNow)
	email.GET("/events", handlers.Email.ListEvents)
	email.GET("/summary", handlers.Email.Summary)
	email.PUT("/events/:id/review", handlers.Email.ReviewEvent)

	// 健康检查
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
}
