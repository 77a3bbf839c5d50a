package storage

// ScoreJobMessage 岗位评分任务消息，由outbox中继投递到评分队列
type ScoreJobMessage struct {
	JobID     string `json:"job_id"`
	ProfileID string `json:"profile_id"`
	// 触发来源: aggregate（新岗位入库）/ rescore（档案更新后批量重评）
	Trigger   string `json:"trigger,omitempty"`
	EnqueueAt int64  `json:"enqueue_at,omitempty"` // Unix时间戳
}

// ResumeUploadMessage 简历上传消息，触发异步解析
type ResumeUploadMessage struct {
	ProfileID         string `json:"profile_id"`
	UserID            string `json:"user_id"`
	OriginalFilename  string `json:"original_filename"`
	ResumeFilePathOSS string `json:"resume_file_path_oss"` // MinIO中的对象路径
	RawFileMD5        string `json:"raw_file_md5,omitempty"`
	UploadTime        int64  `json:"upload_time,omitempty"` // Unix时间戳
}
