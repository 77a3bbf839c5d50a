package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/constants"
	"job-agent-go/internal/gmail"
	"job-agent-go/internal/matcher"
	"job-agent-go/internal/parser"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/tracing"
	"job-agent-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const (
	// 状态自动流转事件的路由键，经由outbox投递
	statusChangedRoutingKey = "application.status_changed"
	// 邮件同步默认回看窗口(天)
	defaultSyncLookbackDays = 7
)

// EmailFetcher 抽象Gmail拉取，便于测试时注入假实现
type EmailFetcher interface {
	FetchRecentMessages(ctx context.Context, lookbackDays, limit int) ([]types.InboundEmail, error)
}

// EmailClassifier 抽象邮件分类器
type EmailClassifier interface {
	Classify(ctx context.Context, email *types.InboundEmail) *types.EmailClassification
}

// EmailStore 邮件处理流水线依赖的存储操作子集，*storage.MySQL 是默认实现
type EmailStore interface {
	GetGmailConnection(ctx context.Context, userID string) (*models.UserGmailConnection, error)
	SaveGmailConnection(ctx context.Context, conn *models.UserGmailConnection) error
	ListGmailConnections(ctx context.Context) ([]models.UserGmailConnection, error)
	UpdateGmailConnectionFields(ctx context.Context, userID string, updates map[string]interface{}) error
	UpdateGmailSyncCursor(ctx context.Context, userID string, historyID uint64, processed int64, syncedAt time.Time) error
	CreateSyncLog(ctx context.Context, syncLog *models.EmailSyncLog) error
	FinishSyncLog(ctx context.Context, syncID uint64, updates map[string]interface{}) error
	EmailEventExists(ctx context.Context, gmailMessageID string) (bool, error)
	CreateEmailEventTx(tx *gorm.DB, event *models.EmailEvent) error
	CreateOutboxMessageTx(tx *gorm.DB, msg *models.OutboxMessage) error
	ListActiveApplicationsByUser(ctx context.Context, userID string) ([]models.JobApplication, error)
	UpdateApplicationStatusTx(tx *gorm.DB, app *models.JobApplication, newStatus, source string, at time.Time) error
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var _ EmailStore = (*storage.MySQL)(nil)

// statusChangedEvent 状态自动流转事件的消息体
type statusChangedEvent struct {
	ApplicationID  string  `json:"application_id"`
	UserID         string  `json:"user_id"`
	OldStatus      string  `json:"old_status"`
	NewStatus      string  `json:"new_status"`
	GmailMessageID string  `json:"gmail_message_id"`
	MatchScore     float64 `json:"match_score"`
	ChangedAt      int64   `json:"changed_at"`
}

// EmailProcessor 邮件处理流水线：拉取 -> 分类 -> 匹配 -> 状态流转。
// 每封邮件在独立事务中处理，单封失败不影响批次内其余邮件。
type EmailProcessor struct {
	db         EmailStore
	oauth      *gmail.OAuthManager
	classifier EmailClassifier
	gmailCfg   *config.GmailConfig
	mqCfg      *config.RabbitMQConfig
	logger     *log.Logger
	tracer     trace.Tracer

	// 测试时可替换，默认使用真实Gmail客户端
	newFetcher func(ctx context.Context, ts oauth2.TokenSource) (EmailFetcher, error)
}

// EmailProcessorOption 邮件处理器的配置选项
type EmailProcessorOption func(*EmailProcessor)

// WithEmailFetcherFactory 替换Gmail客户端工厂
func WithEmailFetcherFactory(factory func(ctx context.Context, ts oauth2.TokenSource) (EmailFetcher, error)) EmailProcessorOption {
	return func(p *EmailProcessor) {
		p.newFetcher = factory
	}
}

// NewEmailProcessor 创建邮件处理器
func NewEmailProcessor(db EmailStore, oauth *gmail.OAuthManager, classifier EmailClassifier,
	gmailCfg *config.GmailConfig, mqCfg *config.RabbitMQConfig, logger *log.Logger, options ...EmailProcessorOption) *EmailProcessor {
	if logger == nil {
		logger = log.Default()
	}
	p := &EmailProcessor{
		db:         db,
		oauth:      oauth,
		classifier: classifier,
		gmailCfg:   gmailCfg,
		mqCfg:      mqCfg,
		logger:     logger,
		tracer:     otel.Tracer("job-agent-go/internal/processor"),
	}
	p.newFetcher = func(ctx context.Context, ts oauth2.TokenSource) (EmailFetcher, error) {
		return gmail.NewClient(ctx, ts)
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// SyncAllUsers 遍历所有已授权的Gmail连接，逐用户同步。
// 单个用户失败不会中断其他用户的同步。
func (p *EmailProcessor) SyncAllUsers(ctx context.Context) []types.EmailSyncResult {
	conns, err := p.db.ListGmailConnections(ctx)
	if err != nil {
		p.logger.Printf("列出Gmail连接失败: %v", err)
		return nil
	}

	results := make([]types.EmailSyncResult, 0, len(conns))
	for i := range conns {
		result, err := p.SyncUser(ctx, conns[i].UserID)
		if err != nil {
			p.logger.Printf("用户 %s 邮件同步失败: %v", conns[i].UserID, err)
			continue
		}
		results = append(results, *result)
	}
	return results
}

// SyncUser 同步单个用户的Gmail收件箱并驱动申请状态流转
func (p *EmailProcessor) SyncUser(ctx context.Context, userID string) (*types.EmailSyncResult, error) {
	ctx, span := p.tracer.Start(ctx, "processor.SyncUser",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	conn, err := p.db.GetGmailConnection(ctx, userID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("获取用户 %s 的Gmail连接失败: %w", userID, err)
	}

	if !conn.IsAuthorized || !conn.SyncEnabled {
		span.SetAttributes(attribute.Bool("sync.skipped", true))
		p.logger.Printf("跳过用户 %s 的邮件同步 (authorized=%v, sync_enabled=%v)",
			userID, conn.IsAuthorized, conn.SyncEnabled)
		return &types.EmailSyncResult{UserID: userID, Skipped: true}, nil
	}

	token, refreshed, err := p.oauth.FreshToken(ctx, conn)
	if err != nil {
		// refresh token被撤销时关闭授权位，后续同步不再反复打刷新接口
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			if markErr := p.db.UpdateGmailConnectionFields(ctx, userID,
				map[string]interface{}{"is_authorized": false}); markErr != nil {
				p.logger.Printf("标记用户 %s 授权失效失败: %v", userID, markErr)
			}
		}
		tracing.RecordError(span, err, tracing.ErrorTypeGmail)
		return nil, fmt.Errorf("刷新用户 %s 的访问令牌失败: %w", userID, err)
	}
	if refreshed {
		conn.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			conn.RefreshToken = token.RefreshToken
		}
		expiry := token.Expiry
		conn.TokenExpiry = &expiry
		if err := p.db.SaveGmailConnection(ctx, conn); err != nil {
			// 刷新后的令牌保存失败只记日志，本次同步仍可继续
			p.logger.Printf("保存刷新后的令牌失败 (用户 %s): %v", userID, err)
		}
	}

	fetcher, err := p.newFetcher(ctx, p.oauth.TokenSource(ctx, token))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeGmail)
		return nil, fmt.Errorf("创建Gmail客户端失败: %w", err)
	}

	lookbackDays := p.gmailCfg.SyncLookbackDays
	if lookbackDays <= 0 {
		lookbackDays = defaultSyncLookbackDays
	}
	batchLimit := p.gmailCfg.SyncBatchLimit
	if batchLimit <= 0 {
		batchLimit = constants.GmailSyncBatchLimit
	}

	syncLog := &models.EmailSyncLog{UserID: userID, StartedAt: time.Now(), Status: "RUNNING"}
	if err := p.db.CreateSyncLog(ctx, syncLog); err != nil {
		p.logger.Printf("创建同步流水失败 (用户 %s): %v", userID, err)
	}

	emails, err := fetcher.FetchRecentMessages(ctx, lookbackDays, batchLimit)
	if err != nil {
		p.finishSyncLog(ctx, syncLog.SyncID, 0, 0, 1, "FAILED", err.Error())
		tracing.RecordError(span, err, tracing.ErrorTypeGmail)
		return nil, fmt.Errorf("拉取用户 %s 的邮件失败: %w", userID, err)
	}

	result := &types.EmailSyncResult{UserID: userID, MessagesFetched: len(emails)}
	maxHistoryID := conn.LastHistoryID
	for i := range emails {
		if emails[i].HistoryID > maxHistoryID {
			maxHistoryID = emails[i].HistoryID
		}
		pr, err := p.processEmail(ctx, userID, &emails[i], conn.AutoUpdateEnabled)
		if err != nil {
			result.ErrorCount++
			p.logger.Printf("处理邮件 %s 失败 (用户 %s): %v", emails[i].MessageID, userID, err)
			continue
		}
		if !pr.Skipped {
			result.MessagesProcessed++
		}
		if pr.StatusUpdated {
			result.StatusUpdates++
		}
		result.Results = append(result.Results, *pr)
	}

	status := "COMPLETED"
	if result.ErrorCount > 0 && result.MessagesProcessed == 0 && result.MessagesFetched > 0 {
		status = "FAILED"
	}
	p.finishSyncLog(ctx, syncLog.SyncID, result.MessagesFetched, result.MessagesProcessed, result.ErrorCount, status, "")

	if err := p.db.UpdateGmailSyncCursor(ctx, userID, maxHistoryID, int64(result.MessagesProcessed), time.Now()); err != nil {
		p.logger.Printf("更新同步游标失败 (用户 %s): %v", userID, err)
	}

	span.SetAttributes(
		attribute.Int("email.fetched", result.MessagesFetched),
		attribute.Int("email.processed", result.MessagesProcessed),
		attribute.Int("email.status_updates", result.StatusUpdates),
	)
	return result, nil
}

// ProcessEmail 处理单封邮件。幂等：已处理过的gmail_message_id直接跳过。
// 分类为非求职邮件时不落库；状态类邮件尝试匹配申请记录并按阈值自动流转。
func (p *EmailProcessor) ProcessEmail(ctx context.Context, userID string, email *types.InboundEmail) (*types.EmailProcessResult, error) {
	return p.processEmail(ctx, userID, email, true)
}

// processEmail autoUpdate为false时只记录匹配结果，不触发状态自动流转
func (p *EmailProcessor) processEmail(ctx context.Context, userID string, email *types.InboundEmail, autoUpdate bool) (*types.EmailProcessResult, error) {
	exists, err := p.db.EmailEventExists(ctx, email.MessageID)
	if err != nil {
		return nil, fmt.Errorf("检查邮件 %s 是否已处理失败: %w", email.MessageID, err)
	}
	if exists {
		return &types.EmailProcessResult{MessageID: email.MessageID, Skipped: true}, nil
	}

	// 分类器自身不返回错误，失败时降级为unknown/0
	classification := p.classifier.Classify(ctx, email)

	result := &types.EmailProcessResult{
		MessageID:  email.MessageID,
		Category:   classification.Category,
		Confidence: classification.Confidence,
	}

	// 非求职相关或置信度不足：不产生任何持久化记录
	if !parser.IsJobRelated(classification.Category, classification.Confidence) {
		return result, nil
	}

	receivedAt := time.Unix(email.ReceivedAt, 0)
	event := &models.EmailEvent{
		UserID:            userID,
		GmailMessageID:    email.MessageID,
		Sender:            email.Sender,
		Subject:           email.Subject,
		Snippet:           email.Snippet,
		Category:          string(classification.Category),
		Confidence:        classification.Confidence,
		ExtractedCompany:  classification.Company,
		ExtractedPosition: classification.JobTitle,
		Sentiment:         classification.Sentiment,
		ReceivedAt:        &receivedAt,
	}
	if raw, err := json.Marshal(classification); err == nil {
		event.ExtractionJSON = raw
	}

	err = p.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		if parser.ShouldUpdateJobStatus(classification.Category, classification.Confidence) {
			if err := p.matchAndUpdate(ctx, tx, userID, email, classification, event, result, autoUpdate); err != nil {
				return err
			}
		}
		return p.db.CreateEmailEventTx(tx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("处理邮件 %s 的事务失败: %w", email.MessageID, err)
	}
	return result, nil
}

// matchAndUpdate 在事务内完成申请匹配与可选的状态自动流转
func (p *EmailProcessor) matchAndUpdate(ctx context.Context, tx *gorm.DB, userID string,
	email *types.InboundEmail, classification *types.EmailClassification,
	event *models.EmailEvent, result *types.EmailProcessResult, autoUpdate bool) error {

	candidates, err := p.db.ListActiveApplicationsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("列出用户 %s 的进行中申请失败: %w", userID, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	receivedAt := time.Unix(email.ReceivedAt, 0)
	best := matcher.FindBestMatch(candidates, classification.Company, classification.JobTitle, receivedAt)
	if best == nil {
		return nil
	}

	appID := best.ApplicationID
	score := best.Score
	event.MatchedApplicationID = &appID
	event.MatchScore = &score
	result.Matched = true
	result.ApplicationID = appID
	result.MatchScore = score

	if !autoUpdate {
		// 用户关闭了自动流转，只记录匹配结果供人工复核
		return nil
	}
	if !matcher.ShouldAutoUpdateStatus(score) {
		// 匹配分不足以自动流转，仅记录匹配结果供用户复核
		return nil
	}
	newStatus, ok := matcher.StatusForEmailType(classification.Category)
	if !ok {
		return nil
	}

	var app *models.JobApplication
	for i := range candidates {
		if candidates[i].ApplicationID == appID {
			app = &candidates[i]
			break
		}
	}
	if app == nil {
		return nil
	}
	oldStatus := app.Status
	if oldStatus == newStatus {
		// 状态已一致，流转是幂等的
		return nil
	}

	now := time.Now()
	if err := p.db.UpdateApplicationStatusTx(tx, app, newStatus, "email", now); err != nil {
		return fmt.Errorf("更新申请 %s 状态失败: %w", appID, err)
	}
	event.StatusUpdated = true
	result.StatusUpdated = true
	result.NewStatus = newStatus

	// 事务内写outbox，由MessageRelay异步投递状态变更事件
	payload, err := json.Marshal(statusChangedEvent{
		ApplicationID:  appID,
		UserID:         userID,
		OldStatus:      oldStatus,
		NewStatus:      newStatus,
		GmailMessageID: email.MessageID,
		MatchScore:     score,
		ChangedAt:      now.Unix(),
	})
	if err != nil {
		return fmt.Errorf("序列化状态变更事件失败: %w", err)
	}
	outboxMsg := &models.OutboxMessage{
		AggregateID:      appID,
		EventType:        "ApplicationStatusChanged",
		Payload:          string(payload),
		TargetExchange:   p.mqCfg.JobEventsExchange,
		TargetRoutingKey: statusChangedRoutingKey,
		Status:           "PENDING",
	}
	if err := p.db.CreateOutboxMessageTx(tx, outboxMsg); err != nil {
		return fmt.Errorf("写入outbox消息失败: %w", err)
	}

	p.logger.Printf("申请 %s 状态自动流转: %s -> %s (匹配分 %.2f, 邮件 %s)",
		appID, oldStatus, newStatus, score, email.MessageID)
	return nil
}

func (p *EmailProcessor) finishSyncLog(ctx context.Context, syncID uint64, fetched, processed, errCount int, status, errMsg string) {
	if syncID == 0 {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"messages_fetched":   fetched,
		"messages_processed": processed,
		"error_count":        errCount,
		"status":             status,
		"finished_at":        &now,
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	if err := p.db.FinishSyncLog(ctx, syncID, updates); err != nil {
		p.logger.Printf("更新同步流水 %d 失败: %v", syncID, err)
	}
}
