package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/constants"
	"job-agent-go/internal/parser"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/tracing"
	"job-agent-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// 档案处理状态机
const (
	ProfileStatusPendingParsing = "PENDING_PARSING"
	ProfileStatusParsing        = "PARSING"
	ProfileStatusParsed         = "PARSED"
	ProfileStatusParseFailed    = "PARSE_FAILED"
)

// PDFTextExtractor 抽象PDF文本提取
type PDFTextExtractor interface {
	ExtractFromBytes(ctx context.Context, data []byte, uri string) (string, map[string]interface{}, error)
}

// ResumeParser 抽象简历结构化解析
type ResumeParser interface {
	Parse(ctx context.Context, resumeText string) (*types.ParsedResume, error)
}

// Rescorer 档案更新后触发岗位批量重评分
type Rescorer interface {
	EnqueueUnscoredJobs(ctx context.Context, userID, trigger string) (int, error)
}

// ResumeStore 简历流水线依赖的存储操作子集，*storage.MySQL 是默认实现
type ResumeStore interface {
	GetProfileByID(ctx context.Context, profileID string) (*models.UserProfile, error)
	GetProfileByUserID(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	UpdateProfileFields(ctx context.Context, profileID string, updates map[string]interface{}) error
	CreateOutboxMessageTx(tx *gorm.DB, msg *models.OutboxMessage) error
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var _ ResumeStore = (*storage.MySQL)(nil)

// ResumePipeline 简历处理流水线：上传 -> 文本提取 -> LLM结构化解析 -> 档案更新 -> 触发重评分。
// 上传与解析解耦，解析经由RabbitMQ异步执行。
type ResumePipeline struct {
	db           ResumeStore
	minio        *storage.MinIO
	redis        *storage.Redis
	mq           *storage.RabbitMQ
	pdfExtractor PDFTextExtractor
	resumeParser ResumeParser
	rescorer     Rescorer
	mqCfg        *config.RabbitMQConfig
	logger       *log.Logger
	tracer       trace.Tracer
}

// NewResumePipeline 创建简历流水线。minio/redis/mq/rescorer允许为nil（单测或降级场景）。
func NewResumePipeline(db ResumeStore, minio *storage.MinIO, redis *storage.Redis, mq *storage.RabbitMQ,
	pdfExtractor PDFTextExtractor, resumeParser ResumeParser, rescorer Rescorer,
	mqCfg *config.RabbitMQConfig, logger *log.Logger) *ResumePipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &ResumePipeline{
		db:           db,
		minio:        minio,
		redis:        redis,
		mq:           mq,
		pdfExtractor: pdfExtractor,
		resumeParser: resumeParser,
		rescorer:     rescorer,
		mqCfg:        mqCfg,
		logger:       logger,
		tracer:       otel.Tracer("job-agent-go/internal/processor"),
	}
}

// supportedResumeExt 支持的简历文件扩展名
func supportedResumeExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".pdf", ".docx":
		return true
	}
	return false
}

// HandleUpload 接收简历文件：上传到MinIO、更新档案、写outbox触发异步解析。
// 返回档案ID。同一用户重复上传相同文件(MD5一致)时跳过重复解析。
func (p *ResumePipeline) HandleUpload(ctx context.Context, userID, filename string, data []byte) (string, error) {
	ctx, span := p.tracer.Start(ctx, "processor.HandleResumeUpload",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	ext := filepath.Ext(filename)
	if !supportedResumeExt(ext) {
		return "", fmt.Errorf("不支持的简历文件格式: %s (仅支持 .pdf / .docx)", ext)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("简历文件内容为空")
	}

	profile, err := p.db.GetProfileByUserID(ctx, userID)
	if err != nil {
		if !storage.IsRecordNotFound(err) {
			return "", fmt.Errorf("获取用户 %s 的档案失败: %w", userID, err)
		}
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("生成档案ID失败: %w", err)
		}
		profile = &models.UserProfile{ProfileID: id.String(), UserID: userID}
	}

	objectName, md5Hex, err := p.minio.UploadResumeFile(ctx, profile.ProfileID, ext, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return "", fmt.Errorf("上传简历文件失败: %w", err)
	}

	if profile.RawFileMD5 == md5Hex && profile.ProcessingStatus == ProfileStatusParsed {
		p.logger.Printf("用户 %s 重复上传相同简历 (md5=%s)，跳过解析", userID, md5Hex)
		return profile.ProfileID, nil
	}

	profile.ResumeFilePathOSS = objectName
	profile.RawFileMD5 = md5Hex
	profile.ProcessingStatus = ProfileStatusPendingParsing
	if err := p.db.SaveProfile(ctx, profile); err != nil {
		return "", fmt.Errorf("保存档案失败: %w", err)
	}

	payload, err := json.Marshal(storage.ResumeUploadMessage{
		ProfileID:         profile.ProfileID,
		UserID:            userID,
		OriginalFilename:  filename,
		ResumeFilePathOSS: objectName,
		RawFileMD5:        md5Hex,
		UploadTime:        time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("序列化简历解析消息失败: %w", err)
	}
	err = p.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		return p.db.CreateOutboxMessageTx(tx, &models.OutboxMessage{
			AggregateID:      profile.ProfileID,
			EventType:        "ResumeUploaded",
			Payload:          string(payload),
			TargetExchange:   p.mqCfg.JobEventsExchange,
			TargetRoutingKey: p.mqCfg.ResumeRoutingKey,
			Status:           "PENDING",
		})
	})
	if err != nil {
		return "", fmt.Errorf("写入简历解析outbox消息失败: %w", err)
	}
	return profile.ProfileID, nil
}

// StartResumeConsumer 启动简历解析队列消费者
func (p *ResumePipeline) StartResumeConsumer() (<-chan struct{}, error) {
	if p.mq == nil {
		return nil, fmt.Errorf("rabbitmq未初始化，无法启动简历解析消费者")
	}
	prefetch := p.mqCfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	return p.mq.StartConsumer(p.mqCfg.ResumeParsingQueue, prefetch, p.handleResumeMessage)
}

// handleResumeMessage 处理一条简历解析消息，返回true表示ack
func (p *ResumePipeline) handleResumeMessage(body []byte) bool {
	var msg storage.ResumeUploadMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		p.logger.Printf("简历解析消息解析失败，丢弃: %v", err)
		return true
	}
	if msg.ProfileID == "" {
		p.logger.Printf("简历解析消息缺少profile_id，丢弃: %s", string(body))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := p.ProcessResume(ctx, &msg); err != nil {
		if storage.IsRecordNotFound(err) {
			p.logger.Printf("简历解析目标档案已不存在，跳过: %s", msg.ProfileID)
			return true
		}
		p.logger.Printf("简历解析失败，消息重回队列: profile=%s err=%v", msg.ProfileID, err)
		return false
	}
	return true
}

// ProcessResume 执行实际的简历解析：下载、提取文本、LLM结构化、回写档案。
// 解析失败时把档案标记为PARSE_FAILED后返回错误。
func (p *ResumePipeline) ProcessResume(ctx context.Context, msg *storage.ResumeUploadMessage) error {
	ctx, span := p.tracer.Start(ctx, "processor.ProcessResume",
		trace.WithAttributes(attribute.String("profile.id", msg.ProfileID)))
	defer span.End()

	profile, err := p.db.GetProfileByID(ctx, msg.ProfileID)
	if err != nil {
		return fmt.Errorf("获取档案 %s 失败: %w", msg.ProfileID, err)
	}
	if err := p.db.UpdateProfileFields(ctx, profile.ProfileID, map[string]interface{}{
		"processing_status": ProfileStatusParsing,
	}); err != nil {
		p.logger.Printf("标记档案 %s 为解析中失败: %v", profile.ProfileID, err)
	}

	text, err := p.extractText(ctx, msg)
	if err != nil {
		p.markParseFailed(ctx, profile.ProfileID)
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return fmt.Errorf("提取简历文本失败: %w", err)
	}

	if p.minio != nil {
		if objectName, err := p.minio.UploadParsedText(ctx, profile.ProfileID, text); err != nil {
			p.logger.Printf("上传解析文本失败 (档案 %s): %v", profile.ProfileID, err)
		} else {
			profile.ParsedTextPathOSS = objectName
		}
	}
	if p.redis != nil {
		if err := p.redis.SetResumeText(ctx, profile.ProfileID, text, constants.ResumeTextCacheDuration); err != nil {
			p.logger.Printf("缓存简历文本失败 (档案 %s): %v", profile.ProfileID, err)
		}
	}

	parsed, err := p.resumeParser.Parse(ctx, text)
	if err != nil {
		p.markParseFailed(ctx, profile.ProfileID)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return fmt.Errorf("LLM解析简历失败: %w", err)
	}

	if err := p.applyParsedResume(ctx, profile, parsed); err != nil {
		p.markParseFailed(ctx, profile.ProfileID)
		return fmt.Errorf("回写档案失败: %w", err)
	}

	// 档案内容已变化，未评分岗位需要按新档案打分
	if p.rescorer != nil {
		if count, err := p.rescorer.EnqueueUnscoredJobs(ctx, msg.UserID, "resume_updated"); err != nil {
			p.logger.Printf("触发重评分失败 (用户 %s): %v", msg.UserID, err)
		} else if count > 0 {
			p.logger.Printf("档案 %s 更新后入队 %d 个岗位待评分", profile.ProfileID, count)
		}
	}
	return nil
}

// ParseText 直接解析纯文本简历并更新档案，供粘贴文本的API路径使用
func (p *ResumePipeline) ParseText(ctx context.Context, userID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("简历文本为空")
	}

	profile, err := p.db.GetProfileByUserID(ctx, userID)
	if err != nil {
		if !storage.IsRecordNotFound(err) {
			return "", fmt.Errorf("获取用户 %s 的档案失败: %w", userID, err)
		}
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("生成档案ID失败: %w", err)
		}
		profile = &models.UserProfile{ProfileID: id.String(), UserID: userID}
		if err := p.db.SaveProfile(ctx, profile); err != nil {
			return "", fmt.Errorf("创建档案失败: %w", err)
		}
	}

	parsed, err := p.resumeParser.Parse(ctx, text)
	if err != nil {
		p.markParseFailed(ctx, profile.ProfileID)
		return "", fmt.Errorf("LLM解析简历失败: %w", err)
	}
	if err := p.applyParsedResume(ctx, profile, parsed); err != nil {
		return "", fmt.Errorf("回写档案失败: %w", err)
	}

	if p.redis != nil {
		if err := p.redis.SetResumeText(ctx, profile.ProfileID, text, constants.ResumeTextCacheDuration); err != nil {
			p.logger.Printf("缓存简历文本失败 (档案 %s): %v", profile.ProfileID, err)
		}
	}
	if p.rescorer != nil {
		if _, err := p.rescorer.EnqueueUnscoredJobs(ctx, userID, "resume_updated"); err != nil {
			p.logger.Printf("触发重评分失败 (用户 %s): %v", userID, err)
		}
	}
	return profile.ProfileID, nil
}

// extractText 按扩展名选择提取器，从MinIO拉取原始文件
func (p *ResumePipeline) extractText(ctx context.Context, msg *storage.ResumeUploadMessage) (string, error) {
	if p.minio == nil {
		return "", fmt.Errorf("对象存储未初始化")
	}
	data, err := p.minio.GetResumeFile(ctx, msg.ResumeFilePathOSS)
	if err != nil {
		return "", fmt.Errorf("下载简历文件 %s 失败: %w", msg.ResumeFilePathOSS, err)
	}

	ext := strings.ToLower(filepath.Ext(msg.ResumeFilePathOSS))
	switch ext {
	case ".pdf":
		if p.pdfExtractor == nil {
			return "", fmt.Errorf("PDF提取器未初始化")
		}
		text, _, err := p.pdfExtractor.ExtractFromBytes(ctx, data, msg.ResumeFilePathOSS)
		if err != nil {
			return "", err
		}
		return text, nil
	case ".docx":
		return parser.ExtractTextFromDOCX(data)
	default:
		return "", fmt.Errorf("不支持的文件扩展名: %s", ext)
	}
}

// applyParsedResume 把LLM结构化结果回写到档案
func (p *ResumePipeline) applyParsedResume(ctx context.Context, profile *models.UserProfile, parsed *types.ParsedResume) error {
	updates := map[string]interface{}{
		"processing_status": ProfileStatusParsed,
	}
	if parsed.FullName != "" {
		updates["full_name"] = parsed.FullName
	}
	if parsed.Email != "" {
		updates["email"] = parsed.Email
	}
	if parsed.Phone != "" {
		updates["phone"] = parsed.Phone
	}
	if parsed.Location != "" {
		updates["location"] = parsed.Location
	}
	if parsed.Summary != "" {
		updates["summary"] = parsed.Summary
	}
	if profile.ParsedTextPathOSS != "" {
		updates["parsed_text_path_oss"] = profile.ParsedTextPathOSS
	}
	if len(parsed.Skills) > 0 {
		raw, err := json.Marshal(parsed.Skills)
		if err != nil {
			return fmt.Errorf("序列化技能列表失败: %w", err)
		}
		updates["skills_json"] = raw
	}
	if len(parsed.Experience) > 0 {
		raw, err := json.Marshal(parsed.Experience)
		if err != nil {
			return fmt.Errorf("序列化工作经历失败: %w", err)
		}
		updates["experience_json"] = raw
	}
	if len(parsed.Education) > 0 {
		raw, err := json.Marshal(parsed.Education)
		if err != nil {
			return fmt.Errorf("序列化教育经历失败: %w", err)
		}
		updates["education_json"] = raw
	}
	return p.db.UpdateProfileFields(ctx, profile.ProfileID, updates)
}

func (p *ResumePipeline) markParseFailed(ctx context.Context, profileID string) {
	if err := p.db.UpdateProfileFields(ctx, profileID, map[string]interface{}{
		"processing_status": ProfileStatusParseFailed,
	}); err != nil {
		p.logger.Printf("标记档案 %s 解析失败状态时出错: %v", profileID, err)
	}
}
