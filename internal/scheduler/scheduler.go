package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/constants"
	"job-agent-go/internal/storage"

	"github.com/robfig/cron/v3"
)

const defaultLockTTL = 10 * time.Minute

// 默认cron表达式，配置缺省时使用
const (
	defaultAggregateSpec = "0 */6 * * *"  // 每6小时抓取订阅源
	defaultEmailSyncSpec = "*/15 * * * *" // 每15分钟同步Gmail
	defaultCleanupSpec   = "30 3 * * *"   // 每天凌晨3:30清理过期岗位
	defaultScoringSpec   = "0 4 * * *"    // 每天凌晨4点补齐未评分岗位
)

// Task 一个可被调度的任务
type Task struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler 基于cron的定时任务调度器。
// 每次触发前先抢Redis分布式锁，多实例部署时同一任务只跑一份。
type Scheduler struct {
	cron   *cron.Cron
	redis  *storage.Redis
	cfg    *config.SchedulerConfig
	logger *log.Logger
	tasks  []Task
}

// NewScheduler 创建调度器
func NewScheduler(redis *storage.Redis, cfg *config.SchedulerConfig, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		redis:  redis,
		cfg:    cfg,
		logger: logger,
	}
}

// RegisterAggregation 注册订阅源抓取任务
func (s *Scheduler) RegisterAggregation(run func(ctx context.Context) error) {
	spec := s.cfg.AggregateSpec
	if spec == "" {
		spec = defaultAggregateSpec
	}
	s.tasks = append(s.tasks, Task{Name: "feed_aggregate", Spec: spec, Run: run})
}

// RegisterEmailSync 注册Gmail同步任务
func (s *Scheduler) RegisterEmailSync(run func(ctx context.Context) error) {
	spec := s.cfg.EmailSyncSpec
	if spec == "" {
		spec = defaultEmailSyncSpec
	}
	s.tasks = append(s.tasks, Task{Name: "email_sync", Spec: spec, Run: run})
}

// RegisterCleanup 注册过期岗位清理任务
func (s *Scheduler) RegisterCleanup(run func(ctx context.Context) error) {
	spec := s.cfg.CleanupSpec
	if spec == "" {
		spec = defaultCleanupSpec
	}
	s.tasks = append(s.tasks, Task{Name: "job_cleanup", Spec: spec, Run: run})
}

// RegisterScoring 注册批量评分补齐任务
func (s *Scheduler) RegisterScoring(run func(ctx context.Context) error) {
	spec := s.cfg.ScoringSpec
	if spec == "" {
		spec = defaultScoringSpec
	}
	s.tasks = append(s.tasks, Task{Name: "job_scoring", Spec: spec, Run: run})
}

// Start 注册所有任务并启动cron循环
func (s *Scheduler) Start() error {
	for _, task := range s.tasks {
		task := task
		_, err := s.cron.AddFunc(task.Spec, func() {
			s.runWithLock(task)
		})
		if err != nil {
			return fmt.Errorf("注册定时任务 %s (%s) 失败: %w", task.Name, task.Spec, err)
		}
		s.logger.Printf("定时任务已注册: %s (%s)", task.Name, task.Spec)
	}
	s.cron.Start()
	return nil
}

// Stop 停止调度并等待进行中的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Printf("调度器已停止")
}

// runWithLock 抢到分布式锁才执行任务，锁由TTL兜底释放
func (s *Scheduler) runWithLock(task Task) {
	ttl := defaultLockTTL
	if s.cfg.LockTTLSeconds > 0 {
		ttl = time.Duration(s.cfg.LockTTLSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	defer cancel()

	lockKey := fmt.Sprintf(constants.KeySchedLock, task.Name)
	lockValue, err := s.redis.AcquireLock(ctx, lockKey, ttl)
	if err != nil {
		// 锁被其他实例持有，本轮跳过
		s.logger.Printf("任务 %s 未抢到锁，跳过本轮: %v", task.Name, err)
		return
	}
	defer func() {
		if _, err := s.redis.ReleaseLock(ctx, lockKey, lockValue); err != nil {
			s.logger.Printf("任务 %s 释放锁失败: %v", task.Name, err)
		}
	}()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		s.logger.Printf("任务 %s 执行失败 (耗时 %s): %v", task.Name, time.Since(start), err)
		return
	}
	s.logger.Printf("任务 %s 执行完成 (耗时 %s)", task.Name, time.Since(start))
}
