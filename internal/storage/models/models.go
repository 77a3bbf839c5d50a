package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 申请状态常量，状态流转由邮件处理器和HTTP接口共同驱动
const (
	ApplicationStatusInterested  = "INTERESTED"
	ApplicationStatusApplied     = "APPLIED"
	ApplicationStatusInterviewed = "INTERVIEWED"
	ApplicationStatusRejected    = "REJECTED"
	ApplicationStatusHired       = "HIRED"
)

// OpenApplicationStatuses 邮件匹配器的候选集合只包含这些未终结状态
var OpenApplicationStatuses = []string{
	ApplicationStatusInterested,
	ApplicationStatusApplied,
	ApplicationStatusInterviewed,
}

// JobListing 岗位信息表，来自RSS聚合或手动录入
type JobListing struct {
	JobID       string     `gorm:"type:char(36);primaryKey"`
	Title       string     `gorm:"type:varchar(255);not null"`
	Company     string     `gorm:"type:varchar(255);not null;index:idx_jobs_company"`
	Location    string     `gorm:"type:varchar(255)"`
	Description string     `gorm:"type:text"`
	SalaryRange string     `gorm:"type:varchar(100)"`
	URL         string     `gorm:"type:varchar(1024)"`
	Source      string     `gorm:"type:varchar(50);default:'rss'"` // rss / manual
	FeedID      *string    `gorm:"type:char(36);index:idx_jobs_feed_id"`
	DedupKey    string     `gorm:"type:char(64);uniqueIndex:idx_jobs_dedup_key"` // 规范化 title|company|location 的SHA-256
	PostedAt    *time.Time `gorm:"type:datetime(6)"`
	CreatedAt   time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_jobs_created_at"`
	UpdatedAt   time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Feed *FeedSubscription `gorm:"foreignKey:FeedID;references:FeedID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (JobListing) TableName() string {
	return "job_listings"
}

// JobApplication 岗位申请记录表
type JobApplication struct {
	ApplicationID string         `gorm:"type:char(36);primaryKey"`
	JobID         string         `gorm:"type:char(36);not null;index:idx_apps_job_id;uniqueIndex:idx_apps_user_job,priority:2"`
	UserID        string         `gorm:"type:char(36);not null;index:idx_apps_user_status,priority:1;uniqueIndex:idx_apps_user_job,priority:1"`
	Status        string         `gorm:"type:varchar(50);default:'APPLIED';index:idx_apps_user_status,priority:2"`
	AppliedAt     *time.Time     `gorm:"type:datetime(6)"`
	Notes         string         `gorm:"type:text"`
	StatusHistory datatypes.JSON `gorm:"type:json"` // [{status, source, at}] 记录每次流转
	CreatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Job *JobListing `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (JobApplication) TableName() string {
	return "job_applications"
}

// StatusTransition 状态流转历史中的单条记录
type StatusTransition struct {
	Status string    `json:"status"`
	Source string    `json:"source"` // manual / email / api
	At     time.Time `json:"at"`
}

// AppendStatusTransition 向申请的状态历史追加一条流转记录
func (a *JobApplication) AppendStatusTransition(status, source string, at time.Time) error {
	var history []StatusTransition
	if len(a.StatusHistory) > 0 {
		if err := json.Unmarshal(a.StatusHistory, &history); err != nil {
			history = nil
		}
	}
	history = append(history, StatusTransition{Status: status, Source: source, At: at})
	bytes, err := json.Marshal(history)
	if err != nil {
		return err
	}
	a.StatusHistory = bytes
	return nil
}

// UserProfile 用户档案表，含简历解析结果
type UserProfile struct {
	ProfileID         string         `gorm:"type:char(36);primaryKey"`
	UserID            string         `gorm:"type:char(36);not null;uniqueIndex:idx_profiles_user_id"`
	FullName          string         `gorm:"type:varchar(255)"`
	Email             string         `gorm:"type:varchar(255)"`
	Phone             string         `gorm:"type:varchar(50)"`
	Location          string         `gorm:"type:varchar(255)"`
	Summary           string         `gorm:"type:text"`
	SkillsJSON        datatypes.JSON `gorm:"type:json"`
	ExperienceJSON    datatypes.JSON `gorm:"type:json"`
	EducationJSON     datatypes.JSON `gorm:"type:json"`
	PreferencesJSON   datatypes.JSON `gorm:"type:json"` // 目标岗位/地点/薪资偏好
	ResumeFilePathOSS string         `gorm:"type:varchar(1024)"`
	ParsedTextPathOSS string         `gorm:"type:varchar(1024)"`
	RawFileMD5        string         `gorm:"type:char(32);index:idx_profiles_raw_md5"`
	ProcessingStatus  string         `gorm:"type:varchar(50);default:'PENDING_PARSING';index:idx_profiles_status"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

// JobScore 岗位与用户档案的LLM评分表
type JobScore struct {
	ScoreID      uint64     `gorm:"primaryKey;autoIncrement"`
	JobID        string     `gorm:"type:char(36);not null;uniqueIndex:idx_scores_job_profile,priority:1"`
	ProfileID    string     `gorm:"type:char(36);not null;uniqueIndex:idx_scores_job_profile,priority:2"`
	Score        int        `gorm:"type:int;not null;index:idx_scores_score"` // 0-100
	Confidence   int        `gorm:"type:int;not null"`                       // 0-100
	Reasoning    string     `gorm:"type:text"`
	ModelVersion string     `gorm:"type:varchar(100)"`
	ScoredAt     *time.Time `gorm:"type:datetime(6)"`
	CreatedAt    time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt    time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Job     *JobListing  `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Profile *UserProfile `gorm:"foreignKey:ProfileID;references:ProfileID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (JobScore) TableName() string {
	return "job_scores"
}

// EmailEvent 已处理邮件事件表，gmail_message_id 唯一索引保证幂等
type EmailEvent struct {
	EventID              uint64         `gorm:"primaryKey;autoIncrement"`
	UserID               string         `gorm:"type:char(36);not null;index:idx_emails_user_id"`
	GmailMessageID       string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_emails_gmail_message_id"`
	Sender               string         `gorm:"type:varchar(255)"`
	Subject              string         `gorm:"type:varchar(512)"`
	Snippet              string         `gorm:"type:text"`
	Category             string         `gorm:"type:varchar(50);index:idx_emails_category"`
	Confidence           float64        `gorm:"type:double"`
	ExtractedCompany     string         `gorm:"type:varchar(255)"`
	ExtractedPosition    string         `gorm:"type:varchar(255)"`
	Sentiment            string         `gorm:"type:varchar(20)"`
	ExtractionJSON       datatypes.JSON `gorm:"type:json"` // 分类器的完整结构化输出
	MatchedApplicationID *string        `gorm:"type:char(36);index:idx_emails_matched_app"`
	MatchScore           *float64       `gorm:"type:double"`
	StatusUpdated        bool           `gorm:"default:false"` // 是否触发了申请状态自动流转
	UserReviewed         bool           `gorm:"default:false"`
	ReceivedAt           *time.Time     `gorm:"type:datetime(6)"`
	ProcessedAt          time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	MatchedApplication *JobApplication `gorm:"foreignKey:MatchedApplicationID;references:ApplicationID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (EmailEvent) TableName() string {
	return "email_events"
}

// UserGmailConnection 用户Gmail授权连接表
type UserGmailConnection struct {
	UserID       string     `gorm:"type:char(36);primaryKey"`
	EmailAddress string     `gorm:"type:varchar(255);not null"`
	AccessToken  string     `gorm:"type:text"`
	RefreshToken string     `gorm:"type:text;not null"`
	TokenExpiry  *time.Time `gorm:"type:datetime(6)"`
	// 授权失效（refresh token被撤销）后置false，同步时跳过
	IsAuthorized bool `gorm:"default:true"`
	// 用户级开关：是否参与定时同步、是否允许邮件自动流转申请状态
	SyncEnabled          bool       `gorm:"default:true"`
	AutoUpdateEnabled    bool       `gorm:"default:true"`
	TotalEmailsProcessed int64      `gorm:"default:0"`
	LastHistoryID        uint64     `gorm:"default:0"` // Gmail history API 的增量同步游标
	LastSyncAt           *time.Time `gorm:"type:datetime(6)"`
	CreatedAt            time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (UserGmailConnection) TableName() string {
	return "user_gmail_connections"
}

// FeedSubscription RSS订阅源配置表
type FeedSubscription struct {
	FeedID  string `gorm:"type:char(36);primaryKey"`
	Name    string `gorm:"type:varchar(255);not null"`
	URL     string `gorm:"type:varchar(1024);not null;uniqueIndex:idx_feeds_url,length:255"`
	Format  string `gorm:"type:varchar(20);default:'rss'"` // rss / atom / json
	Enabled bool   `gorm:"default:true;index:idx_feeds_enabled"`
	// 逗号分隔的关键词，命中任意一个即保留条目；为空则不过滤
	KeywordFilter  string     `gorm:"type:varchar(512)"`
	LocationFilter string     `gorm:"type:varchar(255)"`
	LastFetchedAt  *time.Time `gorm:"type:datetime(6)"`
	LastError      string     `gorm:"type:text"`
	LastJobCount   int        `gorm:"default:0"` // 最近一次抓取入库的岗位数，抓取失败记0
	CreatedAt      time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (FeedSubscription) TableName() string {
	return "feed_subscriptions"
}

// EmailSyncLog 邮件同步批次流水表
type EmailSyncLog struct {
	SyncID            uint64     `gorm:"primaryKey;autoIncrement"`
	UserID            string     `gorm:"type:char(36);not null;index:idx_sync_logs_user_id"`
	StartedAt         time.Time  `gorm:"type:datetime(6);not null"`
	FinishedAt        *time.Time `gorm:"type:datetime(6)"`
	MessagesFetched   int        `gorm:"default:0"`
	MessagesProcessed int        `gorm:"default:0"`
	ErrorCount        int        `gorm:"default:0"`
	Status            string     `gorm:"type:varchar(20);default:'RUNNING'"` // RUNNING / COMPLETED / FAILED
	ErrorMessage      string     `gorm:"type:text"`
}

func (EmailSyncLog) TableName() string {
	return "email_sync_logs"
}

// StringToJSON Helper function to convert string to datatypes.JSON
func StringToJSON(s string) datatypes.JSON {
	return datatypes.JSON(s)
}

// MapToJSON Helper function to convert map[string]interface{} to datatypes.JSON
func MapToJSON(m map[string]interface{}) (datatypes.JSON, error) {
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// StringSliceToJSON Helper function to convert []string to datatypes.JSON
func StringSliceToJSON(s []string) (datatypes.JSON, error) {
	bytes, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}
