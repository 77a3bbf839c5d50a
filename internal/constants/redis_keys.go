package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// JobModulePrefix 岗位模块
	JobModulePrefix = "job"
	// EmailModulePrefix 邮件模块
	EmailModulePrefix = "email"
	// FeedModulePrefix 订阅源模块
	FeedModulePrefix = "feed"
	// ResumeModulePrefix 简历模块
	ResumeModulePrefix = "resume"
	// ScoreModulePrefix 评分模块
	ScoreModulePrefix = "score"
	// SchedModulePrefix 调度模块
	SchedModulePrefix = "sched"

	// EntityLock 分布式锁实体
	EntityLock = "lock"
	// EntityText 文本实体
	EntityText = "text"
	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"
	// EntityDetail 详情缓存实体
	EntityDetail = "detail"
	// EntityHistory 历史记录实体
	EntityHistory = "history"

	// KeyJobDedupSet 岗位去重集合 (SET)
	// 成员为规范化后的 title|company|location 组合
	// 格式: app:job:dedup_set
	KeyJobDedupSet = AppPrefix + ":" + JobModulePrefix + ":" + EntityDedupSet

	// KeyJobDetail 岗位详情缓存 (STRING, JSON)
	// 格式: app:job:detail:{jobID}
	KeyJobDetail = AppPrefix + ":" + JobModulePrefix + ":" + EntityDetail + ":%s"

	// KeyFeedItemDedupSet 单个订阅源已见条目集合 (SET)
	// 格式: app:feed:dedup_set:{feedID}
	KeyFeedItemDedupSet = AppPrefix + ":" + FeedModulePrefix + ":" + EntityDedupSet + ":%s"

	// KeyEmailHistory Gmail 历史游标缓存 (STRING)
	// 格式: app:email:history:{userID}
	KeyEmailHistory = AppPrefix + ":" + EmailModulePrefix + ":" + EntityHistory + ":%s"

	// KeyResumeText 简历解析文本缓存 (STRING)
	// 格式: app:resume:text:{profileID}
	KeyResumeText = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityText + ":%s"

	// KeySchedLock 定时任务分布式锁 (STRING)
	// 格式: app:sched:lock:{taskName}
	KeySchedLock = AppPrefix + ":" + SchedModulePrefix + ":" + EntityLock + ":%s"

	// KeyScoreLock 批量重评分锁，避免同一用户并发重评分 (STRING)
	// 格式: app:score:lock:{userID}
	KeyScoreLock = AppPrefix + ":" + ScoreModulePrefix + ":" + EntityLock + ":%s"
)
