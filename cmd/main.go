package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"job-agent-go/internal/agent"
	"job-agent-go/internal/aggregator"
	"job-agent-go/internal/api/handler"
	"job-agent-go/internal/api/router"
	"job-agent-go/internal/config"
	"job-agent-go/internal/gmail"
	appLogger "job-agent-go/internal/logger"
	"job-agent-go/internal/outbox"
	"job-agent-go/internal/parser"
	"job-agent-go/internal/processor"
	"job-agent-go/internal/ratelimit"
	"job-agent-go/internal/scheduler"
	"job-agent-go/internal/storage"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"        //nolint:gochecknoglobals
	serviceName = "job-agent-go" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	glog.Infof("%s %s 启动中", serviceName, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	if storageManager.MySQL == nil {
		glog.Fatalf("MySQL未初始化，服务无法启动")
	}
	glog.Info("存储服务初始化成功")

	// outbox消息中继，业务写入与消息发布在同一事务内落库，由中继异步投递
	var messageRelay *outbox.MessageRelay
	if storageManager.RabbitMQ != nil {
		if err := setupMessageTopology(&cfg.RabbitMQ, storageManager.RabbitMQ); err != nil {
			glog.Fatalf("初始化RabbitMQ拓扑失败: %v", err)
		}
		relayLogger := log.New(appLogger.Logger, "[MessageRelay] ", log.LstdFlags|log.Lshortfile)
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ, relayLogger)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	} else {
		glog.Warn("RabbitMQ未初始化，outbox中继与异步消费者不可用")
	}

	componentLogger := func(prefix string) *log.Logger {
		if cfg.Logger.Level == "debug" {
			return log.New(appLogger.Logger, prefix, log.LstdFlags|log.Lshortfile)
		}
		return log.New(io.Discard, "", 0)
	}

	emailClassifier := parser.NewLLMEmailClassifier(
		buildTaskModel(cfg, "email_classifier", cfg.EmailClassifier.QPM, cfg.EmailClassifier.MaxRetries, 0),
		componentLogger("[EmailClassifier] "))
	jobScorer := parser.NewLLMJobScorer(
		buildTaskModel(cfg, "job_scorer", cfg.JobScorer.QPM, cfg.JobScorer.MaxRetries, cfg.JobScorer.RetryWaitSeconds),
		componentLogger("[JobScorer] "),
		parser.WithModelVersion(cfg.GetModelForTask("job_scorer")))
	resumeParser := parser.NewLLMResumeParser(
		buildTaskModel(cfg, "resume_parser", cfg.ResumeParser.QPM, cfg.ResumeParser.MaxRetries, cfg.ResumeParser.RetryWaitSeconds),
		componentLogger("[ResumeParser] "))
	glog.Info("LLM组件初始化成功")

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx, parser.WithEinoLogger(componentLogger("[PDFExtractor] ")))
	if err != nil {
		glog.Fatalf("创建PDF提取器失败: %v", err)
	}

	oauthManager, err := gmail.NewOAuthManager(&cfg.Gmail)
	if err != nil {
		glog.Fatalf("初始化Gmail OAuth失败: %v", err)
	}

	agg := aggregator.NewAggregator(storageManager.MySQL, storageManager.Redis, &cfg.Aggregator)

	scoreProcessor := processor.NewScoreProcessor(storageManager.MySQL, storageManager.Redis,
		storageManager.RabbitMQ, jobScorer, &cfg.RabbitMQ, componentLogger("[ScoreProcessor] "))
	resumePipeline := processor.NewResumePipeline(storageManager.MySQL, storageManager.MinIO,
		storageManager.Redis, storageManager.RabbitMQ, pdfExtractor, resumeParser, scoreProcessor,
		&cfg.RabbitMQ, componentLogger("[ResumePipeline] "))
	emailProcessor := processor.NewEmailProcessor(storageManager.MySQL, oauthManager, emailClassifier,
		&cfg.Gmail, &cfg.RabbitMQ, componentLogger("[EmailProcessor] "))
	glog.Info("处理器初始化成功")

	if storageManager.RabbitMQ != nil {
		if _, err := scoreProcessor.StartScoringConsumer(); err != nil {
			glog.Fatalf("启动评分消费者失败: %v", err)
		}
		if _, err := resumePipeline.StartResumeConsumer(); err != nil {
			glog.Fatalf("启动简历解析消费者失败: %v", err)
		}
		glog.Info("消息消费者已启动")
	}

	sched := scheduler.NewScheduler(storageManager.Redis, &cfg.Scheduler, componentLogger("[Scheduler] "))
	sched.RegisterAggregation(func(ctx context.Context) error {
		_, err := agg.RefreshAllFeeds(ctx)
		return err
	})
	sched.RegisterEmailSync(func(ctx context.Context) error {
		emailProcessor.SyncAllUsers(ctx)
		return nil
	})
	sched.RegisterCleanup(func(ctx context.Context) error {
		_, err := agg.CleanupUnappliedJobs(ctx)
		return err
	})
	sched.RegisterScoring(func(ctx context.Context) error {
		profiles, err := storageManager.MySQL.ListParsedProfiles(ctx)
		if err != nil {
			return err
		}
		for i := range profiles {
			if _, err := scoreProcessor.EnqueueUnscoredJobs(ctx, profiles[i].UserID, "scheduled"); err != nil {
				glog.Warnf("用户 %s 批量评分入队失败: %v", profiles[i].UserID, err)
			}
		}
		return nil
	})
	if storageManager.Redis != nil {
		if err := sched.Start(); err != nil {
			glog.Fatalf("启动调度器失败: %v", err)
		}
		glog.Info("定时任务调度器已启动")
	} else {
		glog.Warn("Redis未初始化，定时任务调度器不可用")
	}

	handlers := &router.Handlers{
		Job:         handler.NewJobHandler(storageManager.MySQL, agg),
		Application: handler.NewApplicationHandler(storageManager.MySQL),
		Feed:        handler.NewFeedHandler(storageManager.MySQL, agg),
		Profile:     handler.NewProfileHandler(storageManager.MySQL, resumePipeline, scoreProcessor),
		Email:       handler.NewEmailHandler(storageManager.MySQL, oauthManager, emailProcessor),
	}

	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)
	router.RegisterRoutes(h, handlers)
	glog.Infof("HTTP服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	if storageManager.Redis != nil {
		sched.Stop()
	}
	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// initLogger 初始化zerolog并通过adapter桥接到Hertz的hlog
func initLogger(cfg *config.Config) {
	appLogger.Init(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	if cfg.Logger.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	}
}

// setupMessageTopology 声明exchange与各消费队列并完成绑定
func setupMessageTopology(mqCfg *config.RabbitMQConfig, mq *storage.RabbitMQ) error {
	if err := mq.EnsureExchange(mqCfg.JobEventsExchange, "topic", true); err != nil {
		return err
	}
	bindings := []struct {
		queue      string
		routingKey string
	}{
		{mqCfg.ScoringQueue, mqCfg.ScoreRoutingKey},
		{mqCfg.ResumeParsingQueue, mqCfg.ResumeRoutingKey},
	}
	for _, b := range bindings {
		if err := mq.EnsureQueue(b.queue, true); err != nil {
			return err
		}
		if err := mq.BindQueue(b.queue, mqCfg.JobEventsExchange, b.routingKey); err != nil {
			return err
		}
	}
	return nil
}

// buildTaskModel 为指定任务构建带QPM限流与重试的LLM模型
func buildTaskModel(cfg *config.Config, taskName string, qpm, maxRetries, retryWaitSeconds int) model.ToolCallingChatModel {
	modelName := cfg.GetModelForTask(taskName)
	base, err := agent.NewOpenAIChatModel(cfg.LLM.APIKey, modelName, cfg.LLM.APIURL)
	if err != nil {
		glog.Fatalf("初始化LLM模型失败 (task=%s, model=%s): %v", taskName, modelName, err)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryWait := 2 * time.Second
	if retryWaitSeconds > 0 {
		retryWait = time.Duration(retryWaitSeconds) * time.Second
	}
	return ratelimit.NewLLMWithRateLimit(base, modelName, cfg.ModelQPMLimits, qpm, maxRetries, retryWait)
}
