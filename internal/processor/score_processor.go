package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/constants"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/tracing"
	"job-agent-go/internal/types"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	// 单次批量入队的未评分岗位上限
	defaultRescoreBatchSize = 200
	// 批量重评分锁的有效期
	rescoreLockTTL = 10 * time.Minute
)

// JobScorer 抽象岗位评分器
type JobScorer interface {
	Score(ctx context.Context, jobTitle, company, location, description, profileText string) (*types.JobScoreResult, error)
	ModelVersion() string
}

// ScoreStore 评分流水线依赖的存储操作子集，*storage.MySQL 是默认实现
type ScoreStore interface {
	GetJobByID(ctx context.Context, jobID string) (*models.JobListing, error)
	GetProfileByID(ctx context.Context, profileID string) (*models.UserProfile, error)
	GetProfileByUserID(ctx context.Context, userID string) (*models.UserProfile, error)
	ListUnscoredJobIDs(ctx context.Context, profileID string, limit int) ([]string, error)
	UpsertJobScore(ctx context.Context, score *models.JobScore) error
	CreateOutboxMessageTx(tx *gorm.DB, msg *models.OutboxMessage) error
	WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var _ ScoreStore = (*storage.MySQL)(nil)

// ScoreProcessor 岗位评分流水线：消费评分消息，调用LLM打分并落库。
// 评分失败时落库降级分数，保证每个岗位最终都有分可排序。
type ScoreProcessor struct {
	db     ScoreStore
	redis  *storage.Redis
	mq     *storage.RabbitMQ
	scorer JobScorer
	mqCfg  *config.RabbitMQConfig
	logger *log.Logger
	tracer trace.Tracer
}

// NewScoreProcessor 创建评分处理器。redis和mq可为nil（单测场景）。
func NewScoreProcessor(db ScoreStore, redis *storage.Redis, mq *storage.RabbitMQ,
	scorer JobScorer, mqCfg *config.RabbitMQConfig, logger *log.Logger) *ScoreProcessor {
	if logger == nil {
		logger = log.Default()
	}
	return &ScoreProcessor{
		db:     db,
		redis:  redis,
		mq:     mq,
		scorer: scorer,
		mqCfg:  mqCfg,
		logger: logger,
		tracer: otel.Tracer("job-agent-go/internal/processor"),
	}
}

// ScoreJob 对单个岗位×档案组合执行LLM评分并落库。
// LLM失败时评分器返回降级结果，降级结果同样落库，错误仅用于观测。
func (p *ScoreProcessor) ScoreJob(ctx context.Context, jobID, profileID string) (*models.JobScore, error) {
	ctx, span := p.tracer.Start(ctx, "processor.ScoreJob",
		trace.WithAttributes(attribute.String("job.id", jobID), attribute.String("profile.id", profileID)))
	defer span.End()

	job, err := p.db.GetJobByID(ctx, jobID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("获取岗位 %s 失败: %w", jobID, err)
	}
	profile, err := p.db.GetProfileByID(ctx, profileID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("获取档案 %s 失败: %w", profileID, err)
	}

	profileText := p.profileText(ctx, profile)
	if profileText == "" {
		return nil, fmt.Errorf("档案 %s 没有可用于评分的简历内容", profileID)
	}

	result, scoreErr := p.scorer.Score(ctx, job.Title, job.Company, job.Location, job.Description, profileText)
	if scoreErr != nil {
		// 降级结果照常落库，失败仅记日志
		p.logger.Printf("岗位 %s 评分降级: %v", jobID, scoreErr)
		tracing.RecordErrorWithInfo(span, scoreErr, tracing.ErrorTypeLLM, attribute.Bool("score.fallback", true))
	}

	now := time.Now()
	score := &models.JobScore{
		JobID:        jobID,
		ProfileID:    profileID,
		Score:        result.Score,
		Confidence:   result.Confidence,
		Reasoning:    result.Reasoning,
		ModelVersion: p.scorer.ModelVersion(),
		ScoredAt:     &now,
	}
	if err := p.db.UpsertJobScore(ctx, score); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("保存岗位 %s 的评分失败: %w", jobID, err)
	}
	span.SetAttributes(attribute.Int("score.value", score.Score))
	return score, nil
}

// EnqueueUnscoredJobs 把某用户尚未评分的岗位批量写入outbox，由中继投递到评分队列。
// 通过Redis锁避免同一用户的重评分并发入队。返回入队数量。
func (p *ScoreProcessor) EnqueueUnscoredJobs(ctx context.Context, userID, trigger string) (int, error) {
	profile, err := p.db.GetProfileByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("获取用户 %s 的档案失败: %w", userID, err)
	}

	if p.redis != nil {
		lockKey := fmt.Sprintf(constants.KeyScoreLock, userID)
		lockValue, err := p.redis.AcquireLock(ctx, lockKey, rescoreLockTTL)
		if err != nil {
			return 0, fmt.Errorf("用户 %s 已有重评分任务在进行: %w", userID, err)
		}
		defer func() {
			if _, err := p.redis.ReleaseLock(ctx, lockKey, lockValue); err != nil {
				p.logger.Printf("释放重评分锁失败 (用户 %s): %v", userID, err)
			}
		}()
	}

	jobIDs, err := p.db.ListUnscoredJobIDs(ctx, profile.ProfileID, defaultRescoreBatchSize)
	if err != nil {
		return 0, fmt.Errorf("列出未评分岗位失败: %w", err)
	}
	if len(jobIDs) == 0 {
		return 0, nil
	}

	enqueueAt := time.Now().Unix()
	err = p.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		for _, jobID := range jobIDs {
			payload, err := json.Marshal(storage.ScoreJobMessage{
				JobID:     jobID,
				ProfileID: profile.ProfileID,
				Trigger:   trigger,
				EnqueueAt: enqueueAt,
			})
			if err != nil {
				return fmt.Errorf("序列化评分消息失败: %w", err)
			}
			msg := &models.OutboxMessage{
				AggregateID:      jobID,
				EventType:        "ScoreJobRequested",
				Payload:          string(payload),
				TargetExchange:   p.mqCfg.JobEventsExchange,
				TargetRoutingKey: p.mqCfg.ScoreRoutingKey,
				Status:           "PENDING",
			}
			if err := p.db.CreateOutboxMessageTx(tx, msg); err != nil {
				return fmt.Errorf("写入评分outbox消息失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Printf("用户 %s 入队 %d 个待评分岗位 (触发来源: %s)", userID, len(jobIDs), trigger)
	return len(jobIDs), nil
}

// StartScoringConsumer 启动评分队列消费者，返回用于停止消费的通道
func (p *ScoreProcessor) StartScoringConsumer() (<-chan struct{}, error) {
	if p.mq == nil {
		return nil, fmt.Errorf("rabbitmq未初始化，无法启动评分消费者")
	}
	prefetch := p.mqCfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	return p.mq.StartConsumer(p.mqCfg.ScoringQueue, prefetch, p.handleScoreMessage)
}

// handleScoreMessage 处理一条评分消息，返回true表示ack
func (p *ScoreProcessor) handleScoreMessage(body []byte) bool {
	var msg storage.ScoreJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		// 消息体损坏，重回队列也无意义，直接ack丢弃
		p.logger.Printf("评分消息解析失败，丢弃: %v", err)
		return true
	}
	if msg.JobID == "" || msg.ProfileID == "" {
		p.logger.Printf("评分消息缺少job_id或profile_id，丢弃: %s", string(body))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := p.ScoreJob(ctx, msg.JobID, msg.ProfileID); err != nil {
		if storage.IsRecordNotFound(err) {
			// 岗位可能已被清理任务删除，ack跳过
			p.logger.Printf("评分目标已不存在，跳过: job=%s profile=%s", msg.JobID, msg.ProfileID)
			return true
		}
		p.logger.Printf("评分失败，消息重回队列: job=%s profile=%s err=%v", msg.JobID, msg.ProfileID, err)
		return false
	}
	return true
}

// profileText 组装用于评分的档案文本，优先使用Redis缓存的简历全文
func (p *ScoreProcessor) profileText(ctx context.Context, profile *models.UserProfile) string {
	if p.redis != nil {
		if text, err := p.redis.GetResumeText(ctx, profile.ProfileID); err == nil && text != "" {
			return text
		}
	}

	var b strings.Builder
	if profile.FullName != "" {
		fmt.Fprintf(&b, "姓名: %s\n", profile.FullName)
	}
	if profile.Location != "" {
		fmt.Fprintf(&b, "所在地: %s\n", profile.Location)
	}
	if profile.Summary != "" {
		fmt.Fprintf(&b, "概述: %s\n", profile.Summary)
	}
	appendJSONSection(&b, "技能", profile.SkillsJSON)
	appendJSONSection(&b, "工作经历", profile.ExperienceJSON)
	appendJSONSection(&b, "教育经历", profile.EducationJSON)
	appendJSONSection(&b, "求职偏好", profile.PreferencesJSON)
	return strings.TrimSpace(b.String())
}

func appendJSONSection(b *strings.Builder, label string, raw []byte) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, string(raw))
}
