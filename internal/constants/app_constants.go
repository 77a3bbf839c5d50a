package constants

import "time"

const (
	// 邮件分类的最低置信度，低于该值按 not_job_related 处理
	JobRelatedConfidenceThreshold = 0.6
	// 状态更新类邮件的最低置信度，低于该值不触发状态流转
	StatusUpdateConfidenceThreshold = 0.7

	// 邮件与申请记录的最低匹配分，低于该值视为未匹配
	MinMatchScore = 0.6
	// 自动更新申请状态所需的匹配分
	AutoUpdateMatchScore = 0.8

	// 未投递岗位的保留期，超期由清理任务删除
	UnappliedJobRetention = 20 * 24 * time.Hour

	// 缓存有效期
	JobDetailCacheDuration = 24 * time.Hour
	ResumeTextCacheDuration = 7 * 24 * time.Hour

	// Gmail 增量同步单次拉取上限
	GmailSyncBatchLimit = 50
)
