package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/storage/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var mysqlTracer = otel.Tracer("job-agent-go/storage/mysql")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	dbSystem       string
	disableErrSkip bool
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	// 为所有CRUD操作注册Before和After回调
	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}

		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		// 获取操作表名，如果为空则使用"unknown"
		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		}

		sqlStatement := db.Statement.SQL.String()
		if sqlStatement != "" {
			opts = append(opts, trace.WithAttributes(
				attribute.String("db.statement", sqlStatement),
			))
		}

		newCtx, span := p.tracer.Start(ctx, spanName, opts...)

		// 将span保存在DB上下文中，以便在after回调中使用
		db.Statement.Context = context.WithValue(newCtx, "otel-span", span)
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value("otel-span").(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		if db.Statement.RowsAffected > 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		} else {
			span.SetAttributes(attribute.Int64("db.rows_affected", 0))
		}

		// 记录错误（如果有），但正确处理ErrRecordNotFound
		if db.Error != nil {
			if db.Error == gorm.ErrRecordNotFound {
				// ErrRecordNotFound 是业务逻辑正常情况的一部分，不应作为错误处理
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.SetAttributes(attribute.String("error.message", db.Error.Error()))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		dbSystem:       "mysql",
		disableErrSkip: true,
	}
}

// WithDisableErrSkip 设置是否禁用错误跳过
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

// Database 关系数据库接口
type Database interface {
	// DB 返回GORM数据库连接实例
	DB() *gorm.DB

	// Close 关闭数据库连接
	Close() error
}

// 确保MySQL实现了Database接口
var _ Database = (*MySQL)(nil)

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	// 构建DSN，添加超时设置
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	// 配置GORM日志级别
	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	// 注册OpenTelemetry追踪插件
	tracingPlugin := NewGormTracingPlugin(cfg.Database).WithDisableErrSkip(true)
	if err := db.Use(tracingPlugin); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	// 使用 GORM 的 AutoMigrate 功能自动迁移表结构
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	log.Println("成功连接到MySQL并自动迁移数据库结构")
	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	currentLogger := m.db.Logger

	// 创建一个静默的logger以关闭SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.FeedSubscription{},
		&models.JobListing{},
		&models.JobApplication{},
		&models.UserProfile{},
		&models.JobScore{},
		&models.EmailEvent{},
		&models.UserGmailConnection{},
		&models.EmailSyncLog{},
		&models.OutboxMessage{},
	)

	m.db = m.db.Session(&gorm.Session{Logger: currentLogger})

	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	log.Println("GORM数据库结构迁移成功")
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// BatchUpsertJobListings 批量插入岗位，dedup_key 冲突时静默跳过，返回实际新增的条数
func (m *MySQL) BatchUpsertJobListings(ctx context.Context, jobs []models.JobListing) (int64, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.BatchUpsertJobListings",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("db.operation", "INSERT_IGNORE"),
		attribute.String("db.sql.table", "job_listings"),
		attribute.Int("batch.size", len(jobs)),
	)

	if len(jobs) == 0 {
		span.SetStatus(codes.Ok, "no jobs to insert")
		return 0, nil
	}

	// dedup_key 唯一索引冲突时不做任何更新，实现幂等插入
	result := m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		}).Create(&jobs)

	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return 0, result.Error
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", result.RowsAffected))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected, nil
}

// GetJobByID 通过 JobID 获取岗位记录
func (m *MySQL) GetJobByID(ctx context.Context, jobID string) (*models.JobListing, error) {
	var job models.JobListing
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// JobListFilter 岗位列表查询条件
type JobListFilter struct {
	Company  string
	Location string
	Keyword  string // 匹配标题或描述
	Source   string
	FeedID   string
	Page     int
	PageSize int
}

// ListJobs 按条件分页列出岗位，按入库时间倒序。返回岗位列表和满足条件的总数。
func (m *MySQL) ListJobs(ctx context.Context, filter JobListFilter) ([]models.JobListing, int64, error) {
	query := m.db.WithContext(ctx).Model(&models.JobListing{})
	if filter.Company != "" {
		query = query.Where("company LIKE ?", "%"+filter.Company+"%")
	}
	if filter.Location != "" {
		query = query.Where("location LIKE ?", "%"+filter.Location+"%")
	}
	if filter.Keyword != "" {
		kw := "%" + filter.Keyword + "%"
		query = query.Where("title LIKE ? OR description LIKE ?", kw, kw)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.FeedID != "" {
		query = query.Where("feed_id = ?", filter.FeedID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	var jobs []models.JobListing
	err := query.Order("created_at desc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CreateJobListing 创建单条岗位记录（手动录入路径）
func (m *MySQL) CreateJobListing(ctx context.Context, job *models.JobListing) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// UpdateJobFields 更新岗位的部分字段
func (m *MySQL) UpdateJobFields(ctx context.Context, jobID string, updates map[string]interface{}) error {
	return m.db.WithContext(ctx).Model(&models.JobListing{}).
		Where("job_id = ?", jobID).Updates(updates).Error
}

// DeleteJob 删除岗位，关联的申请和评分按外键级联删除
func (m *MySQL) DeleteJob(ctx context.Context, jobID string) error {
	result := m.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&models.JobListing{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListScoredJobs 按评分倒序列出某档案的已评分岗位
func (m *MySQL) ListScoredJobs(ctx context.Context, profileID string, minScore, limit int) ([]models.JobScore, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var scores []models.JobScore
	err := m.db.WithContext(ctx).Preload("Job").
		Where("profile_id = ? AND score >= ?", profileID, minScore).
		Order("score desc").
		Limit(limit).
		Find(&scores).Error
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// JobExistsByDedupKey 判断指定去重键的岗位是否已存在
func (m *MySQL) JobExistsByDedupKey(ctx context.Context, dedupKey string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.JobListing{}).Where("dedup_key = ?", dedupKey).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteUnappliedJobsBefore 删除在指定时间之前发现、且没有任何申请记录的岗位
// 返回删除的条数
func (m *MySQL) DeleteUnappliedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.DeleteUnappliedJobsBefore",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	result := m.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("job_id NOT IN (?)", m.db.Model(&models.JobApplication{}).Select("job_id")).
		Delete(&models.JobListing{})

	if result.Error != nil {
		span.RecordError(result.Error)
		span.SetStatus(codes.Error, result.Error.Error())
		return 0, result.Error
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", result.RowsAffected))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected, nil
}

// CreateApplication 创建申请记录
func (m *MySQL) CreateApplication(ctx context.Context, app *models.JobApplication) error {
	return m.db.WithContext(ctx).Create(app).Error
}

// GetApplicationByUserAndJob 获取用户对某岗位的申请记录，(user_id, job_id)唯一
func (m *MySQL) GetApplicationByUserAndJob(ctx context.Context, userID, jobID string) (*models.JobApplication, error) {
	var app models.JobApplication
	err := m.db.WithContext(ctx).Where("user_id = ? AND job_id = ?", userID, jobID).First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// GetApplicationByID 通过 ApplicationID 获取申请记录，附带岗位信息
func (m *MySQL) GetApplicationByID(ctx context.Context, applicationID string) (*models.JobApplication, error) {
	var app models.JobApplication
	err := m.db.WithContext(ctx).Preload("Job").Where("application_id = ?", applicationID).First(&app).Error
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// ListApplicationsByUser 列出某用户的全部申请记录，附带岗位信息
func (m *MySQL) ListApplicationsByUser(ctx context.Context, userID string) ([]models.JobApplication, error) {
	var apps []models.JobApplication
	err := m.db.WithContext(ctx).Preload("Job").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// ListActiveApplicationsByUser 列出某用户未进入终态的申请记录，附带岗位信息
// 邮件匹配只在这些记录中寻找候选
func (m *MySQL) ListActiveApplicationsByUser(ctx context.Context, userID string) ([]models.JobApplication, error) {
	var apps []models.JobApplication
	err := m.db.WithContext(ctx).Preload("Job").
		Where("user_id = ?", userID).
		Where("status IN ?", models.OpenApplicationStatuses).
		Find(&apps).Error
	if err != nil {
		return nil, err
	}
	return apps, nil
}

// UpdateApplicationStatusTx 在事务中更新申请状态并追加流转历史
func (m *MySQL) UpdateApplicationStatusTx(tx *gorm.DB, app *models.JobApplication, newStatus, source string, at time.Time) error {
	if err := app.AppendStatusTransition(newStatus, source, at); err != nil {
		return fmt.Errorf("追加状态历史失败: %w", err)
	}
	updates := map[string]interface{}{
		"status":         newStatus,
		"status_history": app.StatusHistory,
	}
	if newStatus == models.ApplicationStatusApplied && app.AppliedAt == nil {
		updates["applied_at"] = at
	}
	result := tx.Model(&models.JobApplication{}).Where("application_id = ?", app.ApplicationID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	app.Status = newStatus
	return nil
}

// WithTransaction 在单个数据库事务中执行fn，fn返回错误时整体回滚
func (m *MySQL) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}

// CreateOutboxMessageTx 在事务中写入outbox消息，与业务写操作保持原子
func (m *MySQL) CreateOutboxMessageTx(tx *gorm.DB, msg *models.OutboxMessage) error {
	return tx.Create(msg).Error
}

// UpdateApplicationFields 更新申请的部分字段（备注等）
func (m *MySQL) UpdateApplicationFields(ctx context.Context, applicationID string, updates map[string]interface{}) error {
	result := m.db.WithContext(ctx).Model(&models.JobApplication{}).
		Where("application_id = ?", applicationID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteApplication 删除申请记录
func (m *MySQL) DeleteApplication(ctx context.Context, applicationID string) error {
	result := m.db.WithContext(ctx).Where("application_id = ?", applicationID).Delete(&models.JobApplication{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkEmailEventReviewed 标记邮件事件的人工复核状态
func (m *MySQL) MarkEmailEventReviewed(ctx context.Context, eventID uint64, reviewed bool) error {
	var event models.EmailEvent
	if err := m.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return err
	}
	return m.db.WithContext(ctx).Model(&event).Update("user_reviewed", reviewed).Error
}

// DeleteGmailConnection 删除用户的Gmail授权连接
func (m *MySQL) DeleteGmailConnection(ctx context.Context, userID string) error {
	result := m.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.UserGmailConnection{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// EmailEventExists 判断指定Gmail消息是否已处理过
func (m *MySQL) EmailEventExists(ctx context.Context, gmailMessageID string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&models.EmailEvent{}).
		Where("gmail_message_id = ?", gmailMessageID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateEmailEventTx 在事务中写入邮件事件
func (m *MySQL) CreateEmailEventTx(tx *gorm.DB, event *models.EmailEvent) error {
	return tx.Create(event).Error
}

// ListEmailEventsByUser 按时间倒序列出某用户的邮件事件
func (m *MySQL) ListEmailEventsByUser(ctx context.Context, userID string, limit int) ([]models.EmailEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.EmailEvent
	err := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("processed_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// EmailEventSummary 某用户邮件事件的分类统计
type EmailEventSummary struct {
	Total         int64            `json:"total"`
	StatusUpdates int64            `json:"status_updates"`
	ByCategory    map[string]int64 `json:"by_category"`
}

// SummarizeEmailEvents 按分类汇总某用户的邮件事件
func (m *MySQL) SummarizeEmailEvents(ctx context.Context, userID string) (*EmailEventSummary, error) {
	summary := &EmailEventSummary{ByCategory: make(map[string]int64)}

	var rows []struct {
		EmailType string
		Count     int64
	}
	err := m.db.WithContext(ctx).Model(&models.EmailEvent{}).
		Select("email_type, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("email_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		summary.ByCategory[row.EmailType] = row.Count
		summary.Total += row.Count
	}

	err = m.db.WithContext(ctx).Model(&models.EmailEvent{}).
		Where("user_id = ? AND status_updated = ?", userID, true).
		Count(&summary.StatusUpdates).Error
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// SaveGmailConnection 保存或更新用户的Gmail授权连接
func (m *MySQL) SaveGmailConnection(ctx context.Context, conn *models.UserGmailConnection) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email_address", "access_token", "refresh_token", "token_expiry", "is_authorized",
		}),
	}).Create(conn).Error
}

// UpdateGmailConnectionFields 更新Gmail连接的部分字段（授权状态、同步开关等）
func (m *MySQL) UpdateGmailConnectionFields(ctx context.Context, userID string, updates map[string]interface{}) error {
	result := m.db.WithContext(ctx).Model(&models.UserGmailConnection{}).
		Where("user_id = ?", userID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetGmailConnection 获取用户的Gmail授权连接
func (m *MySQL) GetGmailConnection(ctx context.Context, userID string) (*models.UserGmailConnection, error) {
	var conn models.UserGmailConnection
	if err := m.db.WithContext(ctx).Where("user_id = ?", userID).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// ListGmailConnections 列出所有已授权的Gmail连接，供定时同步遍历
func (m *MySQL) ListGmailConnections(ctx context.Context) ([]models.UserGmailConnection, error) {
	var conns []models.UserGmailConnection
	if err := m.db.WithContext(ctx).Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateGmailSyncCursor 更新增量同步游标与同步时间
func (m *MySQL) UpdateGmailSyncCursor(ctx context.Context, userID string, historyID uint64, processed int64, syncedAt time.Time) error {
	updates := map[string]interface{}{
		// 游标只前进不后退，防止并发同步把高位游标覆盖回去
		"last_history_id": gorm.Expr("GREATEST(last_history_id, ?)", historyID),
		"last_sync_at":    syncedAt,
	}
	if processed > 0 {
		updates["total_emails_processed"] = gorm.Expr("total_emails_processed + ?", processed)
	}
	return m.db.WithContext(ctx).Model(&models.UserGmailConnection{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
}

// UpsertJobScore 保存或更新岗位评分，(job_id, profile_id) 唯一
func (m *MySQL) UpsertJobScore(ctx context.Context, score *models.JobScore) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}, {Name: "profile_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"score", "confidence", "reasoning", "model_version", "scored_at",
		}),
	}).Create(score).Error
}

// GetJobScore 获取指定岗位与档案的评分
func (m *MySQL) GetJobScore(ctx context.Context, jobID, profileID string) (*models.JobScore, error) {
	var score models.JobScore
	err := m.db.WithContext(ctx).
		Where("job_id = ? AND profile_id = ?", jobID, profileID).
		First(&score).Error
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// ListUnscoredJobIDs 列出指定档案尚无评分的岗位ID
func (m *MySQL) ListUnscoredJobIDs(ctx context.Context, profileID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobIDs []string
	err := m.db.WithContext(ctx).Model(&models.JobListing{}).
		Where("job_id NOT IN (?)",
			m.db.Model(&models.JobScore{}).Select("job_id").Where("profile_id = ?", profileID)).
		Order("created_at DESC").
		Limit(limit).
		Pluck("job_id", &jobIDs).Error
	if err != nil {
		return nil, err
	}
	return jobIDs, nil
}

// GetProfileByUserID 通过 UserID 获取用户档案
func (m *MySQL) GetProfileByUserID(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := m.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetProfileByID 通过 ProfileID 获取用户档案
func (m *MySQL) GetProfileByID(ctx context.Context, profileID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := m.db.WithContext(ctx).Where("profile_id = ?", profileID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListParsedProfiles 列出所有简历已解析完成的档案，供批量评分补齐使用
func (m *MySQL) ListParsedProfiles(ctx context.Context) ([]models.UserProfile, error) {
	var profiles []models.UserProfile
	if err := m.db.WithContext(ctx).
		Where("processing_status = ?", "PARSED").
		Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// SaveProfile 保存用户档案，user_id 冲突时更新全部可变字段
func (m *MySQL) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "email", "phone", "location", "summary",
			"skills_json", "experience_json", "education_json", "preferences_json",
			"resume_file_path_oss", "parsed_text_path_oss", "raw_file_md5", "processing_status",
		}),
	}).Create(profile).Error
}

// UpdateProfileFields 更新档案的部分字段
func (m *MySQL) UpdateProfileFields(ctx context.Context, profileID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("profile_id = ?", profileID).Updates(updates).Error
}

// CreateFeed 创建订阅源配置
func (m *MySQL) CreateFeed(ctx context.Context, feed *models.FeedSubscription) error {
	return m.db.WithContext(ctx).Create(feed).Error
}

// GetFeedByID 通过 FeedID 获取订阅源配置
func (m *MySQL) GetFeedByID(ctx context.Context, feedID string) (*models.FeedSubscription, error) {
	var feed models.FeedSubscription
	if err := m.db.WithContext(ctx).Where("feed_id = ?", feedID).First(&feed).Error; err != nil {
		return nil, err
	}
	return &feed, nil
}

// ListFeeds 列出订阅源配置，enabledOnly 为 true 时只返回启用的
func (m *MySQL) ListFeeds(ctx context.Context, enabledOnly bool) ([]models.FeedSubscription, error) {
	var feeds []models.FeedSubscription
	query := m.db.WithContext(ctx)
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Order("created_at ASC").Find(&feeds).Error; err != nil {
		return nil, err
	}
	return feeds, nil
}

// UpdateFeedFetchResult 抓取结束后更新订阅源的状态字段。
// jobCount 为本次入库的岗位数，抓取失败时传0。
func (m *MySQL) UpdateFeedFetchResult(ctx context.Context, feedID string, fetchedAt time.Time, fetchErr string, jobCount int) error {
	return m.db.WithContext(ctx).Model(&models.FeedSubscription{}).
		Where("feed_id = ?", feedID).
		Updates(map[string]interface{}{
			"last_fetched_at": fetchedAt,
			"last_error":      fetchErr,
			"last_job_count":  jobCount,
		}).Error
}

// UpdateFeedFields 更新订阅源的可编辑字段
func (m *MySQL) UpdateFeedFields(ctx context.Context, feedID string, updates map[string]interface{}) error {
	result := m.db.WithContext(ctx).Model(&models.FeedSubscription{}).
		Where("feed_id = ?", feedID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FeedHealthSummary 订阅源整体健康度统计
type FeedHealthSummary struct {
	TotalFeeds      int64      `json:"total_feeds"`
	EnabledFeeds    int64      `json:"enabled_feeds"`
	DisabledFeeds   int64      `json:"disabled_feeds"`
	JobsLastRefresh int64      `json:"jobs_last_refresh"`
	FeedsWithIssues int64      `json:"feeds_with_issues"` // 最近一次抓取报错或入库为0的源
	LastRefreshAt   *time.Time `json:"last_refresh_at"`
}

// SummarizeFeedHealth 汇总所有订阅源的抓取健康度
func (m *MySQL) SummarizeFeedHealth(ctx context.Context) (*FeedHealthSummary, error) {
	var summary FeedHealthSummary

	base := m.db.WithContext(ctx).Model(&models.FeedSubscription{})
	if err := base.Session(&gorm.Session{}).Count(&summary.TotalFeeds).Error; err != nil {
		return nil, err
	}
	if err := base.Session(&gorm.Session{}).Where("enabled = ?", true).Count(&summary.EnabledFeeds).Error; err != nil {
		return nil, err
	}
	summary.DisabledFeeds = summary.TotalFeeds - summary.EnabledFeeds

	row := base.Session(&gorm.Session{}).
		Select("COALESCE(SUM(last_job_count), 0) AS jobs, MAX(last_fetched_at) AS last_refresh").
		Where("last_fetched_at IS NOT NULL").Row()
	var lastRefresh *time.Time
	if err := row.Scan(&summary.JobsLastRefresh, &lastRefresh); err != nil {
		return nil, err
	}
	summary.LastRefreshAt = lastRefresh

	if err := base.Session(&gorm.Session{}).
		Where("last_fetched_at IS NOT NULL AND (last_error <> '' OR last_job_count = 0)").
		Count(&summary.FeedsWithIssues).Error; err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteFeed 删除订阅源配置
func (m *MySQL) DeleteFeed(ctx context.Context, feedID string) error {
	result := m.db.WithContext(ctx).Where("feed_id = ?", feedID).Delete(&models.FeedSubscription{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateSyncLog 创建邮件同步流水
func (m *MySQL) CreateSyncLog(ctx context.Context, syncLog *models.EmailSyncLog) error {
	return m.db.WithContext(ctx).Create(syncLog).Error
}

// FinishSyncLog 更新同步流水的结束状态
func (m *MySQL) FinishSyncLog(ctx context.Context, syncID uint64, updates map[string]interface{}) error {
	return m.db.WithContext(ctx).Model(&models.EmailSyncLog{}).
		Where("sync_id = ?", syncID).Updates(updates).Error
}

// IsRecordNotFound 判断错误是否为记录不存在
func IsRecordNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
