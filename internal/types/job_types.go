package types

import "time"

// FeedItem 从订阅源解析出的单条岗位条目
type FeedItem struct {
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Position    string     `json:"position"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	Link        string     `json:"link"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// FeedFetchResult 单个订阅源一次抓取的统计结果
type FeedFetchResult struct {
	FeedID        string `json:"feed_id"`
	ItemsSeen     int    `json:"items_seen"`
	ItemsNew      int    `json:"items_new"`
	ItemsDuped    int    `json:"items_duped"`
	ItemsFiltered int    `json:"items_filtered"` // 未命中订阅源过滤器
	ItemsSkipped  int    `json:"items_skipped"`  // 解析失败或字段缺失
	Error         string `json:"error,omitempty"`
}

// JobScoreResult 岗位评分器的结构化输出
type JobScoreResult struct {
	// 匹配分数 (0-100)
	Score int `json:"score"`

	// 置信度 (0-100)
	Confidence int `json:"confidence"`

	// 评分依据
	Reasoning string `json:"reasoning"`

	// 评分时间
	ScoredAt int64 `json:"scored_at,omitempty"`
}

// ParsedResume 简历LLM解析的结构化输出
type ParsedResume struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	Summary  string `json:"summary"`

	Skills []string `json:"skills"`

	Experience []ResumeExperience `json:"experience"`
	Education  []ResumeEducation  `json:"education"`
}

// ResumeExperience 单段工作经历
type ResumeExperience struct {
	Company     string `json:"company"`
	Title       string `json:"title"`
	StartDate   string `json:"start_date,omitempty"` // YYYY-MM
	EndDate     string `json:"end_date,omitempty"`   // YYYY-MM 或 "present"
	Description string `json:"description,omitempty"`
}

// ResumeEducation 单段教育经历
type ResumeEducation struct {
	School    string `json:"school"`
	Degree    string `json:"degree,omitempty"`
	Major     string `json:"major,omitempty"`
	StartYear string `json:"start_year,omitempty"`
	EndYear   string `json:"end_year,omitempty"`
}

// PaginatedJobsResponse 岗位分页响应
type PaginatedJobsResponse struct {
	Cursor     int64            `json:"cursor"`
	NextCursor int64            `json:"next_cursor"`
	Size       int64            `json:"size"`
	TotalCount int64            `json:"total_count"`
	Jobs       []JobWithScore   `json:"jobs"`
}

// JobWithScore 附带评分的岗位
type JobWithScore struct {
	JobID      string     `json:"job_id"`
	Title      string     `json:"title"`
	Company    string     `json:"company"`
	Location   string     `json:"location"`
	URL        string     `json:"url,omitempty"`
	PostedAt   *time.Time `json:"posted_at,omitempty"`
	Score      *int       `json:"score,omitempty"`
	Confidence *int       `json:"confidence,omitempty"`
}
