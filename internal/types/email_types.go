package types

// EmailCategory 邮件分类类别
type EmailCategory string

const (
	// CategoryApplicationConfirmation 投递确认
	CategoryApplicationConfirmation EmailCategory = "application_confirmation"
	// CategoryApplicationRejection 拒信
	CategoryApplicationRejection EmailCategory = "application_rejection"
	// CategoryInterviewInvitation 面试邀请
	CategoryInterviewInvitation EmailCategory = "interview_invitation"
	// CategoryOfferLetter 录用通知
	CategoryOfferLetter EmailCategory = "offer_letter"
	// CategoryStatusUpdate 其他流程状态更新（如"仍在审核中"）
	CategoryStatusUpdate EmailCategory = "status_update"
	// CategoryNotJobRelated 与求职无关
	CategoryNotJobRelated EmailCategory = "not_job_related"
	// CategoryUnknown 分类失败时的兜底类别
	CategoryUnknown EmailCategory = "unknown"
)

// IsStatusBearing 判断该类别是否属于四种承载状态变更的类别
func (c EmailCategory) IsStatusBearing() bool {
	switch c {
	case CategoryApplicationConfirmation, CategoryApplicationRejection,
		CategoryInterviewInvitation, CategoryOfferLetter:
		return true
	}
	return false
}

// InboundEmail 待分类的入站邮件
type InboundEmail struct {
	MessageID  string `json:"message_id"` // Gmail message id，幂等键
	Sender     string `json:"sender"`
	SenderName string `json:"sender_name,omitempty"`
	Subject    string `json:"subject"`
	Snippet    string `json:"snippet"`
	Body       string `json:"body"`
	ReceivedAt int64  `json:"received_at"`           // unix秒
	HistoryID  uint64 `json:"history_id,omitempty"` // Gmail history游标，用于增量同步推进
}

// EmailClassification 邮件分类器的结构化输出
type EmailClassification struct {
	Category   EmailCategory `json:"email_type"`
	Confidence float64       `json:"confidence_score"` // 0.0-1.0

	// 从邮件中抽取的实体，可能为空
	Company  string `json:"company_name,omitempty"`
	JobTitle string `json:"job_title,omitempty"`

	// 邮件情绪倾向：positive / negative / neutral
	Sentiment string `json:"sentiment,omitempty"`

	// 分类依据摘要
	Reasoning string `json:"reasoning,omitempty"`
}

// MatchCandidate 匹配器的单个候选结果
type MatchCandidate struct {
	ApplicationID string  `json:"application_id"`
	JobID         string  `json:"job_id"`
	Score         float64 `json:"score"`

	// 分项得分，便于调试与测试
	CompanyScore  float64 `json:"company_score"`
	TitleScore    float64 `json:"title_score"`
	TemporalScore float64 `json:"temporal_score"`
	LocationScore float64 `json:"location_score"`
}

// EmailProcessResult 单封邮件的处理结果
type EmailProcessResult struct {
	MessageID     string        `json:"message_id"`
	Category      EmailCategory `json:"category"`
	Confidence    float64       `json:"confidence"`
	Matched       bool          `json:"matched"`
	ApplicationID string        `json:"application_id,omitempty"`
	MatchScore    float64       `json:"match_score,omitempty"`
	StatusUpdated bool          `json:"status_updated"`
	NewStatus     string        `json:"new_status,omitempty"`
	Skipped       bool          `json:"skipped"` // 已处理过的重复邮件
}

// EmailSyncResult 单个用户一次邮件同步的汇总结果
type EmailSyncResult struct {
	UserID            string               `json:"user_id"`
	MessagesFetched   int                  `json:"messages_fetched"`
	MessagesProcessed int                  `json:"messages_processed"`
	StatusUpdates     int                  `json:"status_updates"`
	ErrorCount        int                  `json:"error_count"`
	Skipped           bool                 `json:"skipped,omitempty"` // 未授权或用户关闭同步
	Results           []EmailProcessResult `json:"results,omitempty"`
}
