package parser

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"job-agent-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
)

// 评分失败时的本地兜底结果，调用方据此识别需要重评的记录
const (
	fallbackScore      = 50
	fallbackConfidence = 30
	fallbackReasoning  = "analysis_failed"
)

// LLMJobScorer 基于LLM的岗位-用户档案匹配度评分器
type LLMJobScorer struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	modelVersion   string
	logger         *log.Logger
}

// JobScorerOption 评分器的配置选项
type JobScorerOption func(*LLMJobScorer)

// WithScorerPromptTemplate 设置自定义提示词模板
func WithScorerPromptTemplate(template string) JobScorerOption {
	return func(s *LLMJobScorer) {
		s.promptTemplate = template
	}
}

// WithModelVersion 记录在评分结果上的模型版本标识
func WithModelVersion(version string) JobScorerOption {
	return func(s *LLMJobScorer) {
		s.modelVersion = version
	}
}

// NewLLMJobScorer 创建一个新的岗位评分器实例
func NewLLMJobScorer(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...JobScorerOption) *LLMJobScorer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	scorer := &LLMJobScorer{
		llmModel: llmModel,
		logger:   logger,
	}

	scorer.generatePromptTemplate()

	for _, opt := range options {
		opt(scorer)
	}

	return scorer
}

func (s *LLMJobScorer) generatePromptTemplate() {
	s.promptTemplate = `你是一位资深的职业规划顾问。你的任务是评估下面的【岗位信息】与【求职者档案】的匹配程度，并严格按照指定的JSON格式输出。

**输出JSON格式：**
{
  "score": 0到100之间的整数，表示岗位与求职者的整体匹配度,
  "confidence": 0到100之间的整数，表示你对这个评分的确信程度,
  "reasoning": "两三句话说明评分依据，指出最关键的匹配点和差距"
}

**评分原则：**
- 核心技能与岗位要求的吻合程度是最重要的因素；
- 工作年限和经历的相关性其次；
- 地点、行业偏好等软性因素作为调节项；
- 岗位信息严重缺失（如没有描述）时降低confidence而不是臆测score；
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

**评分参考区间：**
- 85-100: 高度匹配，核心要求几乎全部满足。
- 70-84: 良好匹配，大部分核心要求满足。
- 50-69: 一般匹配，存在明显差距。
- 30-49: 匹配度较低，关键要求不符。
- 0-29: 基本不相关。

【岗位信息】:
"""
标题: %s
公司: %s
地点: %s
描述:
%s
"""

【求职者档案】:
"""
%s
"""

请输出JSON评分结果。`
}

// Score 评估单个岗位与求职者档案的匹配度。
// 任何LLM调用或解析失败都返回本地兜底结果和非nil错误，
// 调用方可以将兜底结果照常入库并依靠错误做监控。
func (s *LLMJobScorer) Score(ctx context.Context, jobTitle, company, location, description, profileText string) (*types.JobScoreResult, error) {
	fallback := &types.JobScoreResult{
		Score:      fallbackScore,
		Confidence: fallbackConfidence,
		Reasoning:  fallbackReasoning,
		ScoredAt:   time.Now().Unix(),
	}

	if s.llmModel == nil {
		return fallback, fmt.Errorf("LLMJobScorer: llmModel 未初始化")
	}

	userMsgContent := fmt.Sprintf(s.promptTemplate, jobTitle, company, location, description, profileText)

	systemMsg := einoschema.SystemMessage("你是一个严谨的岗位匹配度评估助手，只输出合法的JSON。")
	userMsg := einoschema.UserMessage(userMsgContent)

	response, err := s.llmModel.Generate(ctx, []*einoschema.Message{systemMsg, userMsg})
	if err != nil {
		s.logger.Printf("[LLMJobScorer] LLM调用失败 (job=%s): %v", jobTitle, err)
		return fallback, fmt.Errorf("LLMJobScorer: LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		return fallback, fmt.Errorf("LLMJobScorer: LLM返回空响应")
	}

	var result types.JobScoreResult
	if err := unmarshalLLMJSON(response.Content, &result); err != nil {
		s.logger.Printf("[LLMJobScorer] 解析LLM响应失败 (job=%s): %v", jobTitle, err)
		return fallback, fmt.Errorf("LLMJobScorer: 解析LLM响应失败: %w", err)
	}

	// 分数越界时收敛到[0,100]
	result.Score = clampScore(result.Score)
	result.Confidence = clampScore(result.Confidence)
	result.ScoredAt = time.Now().Unix()

	return &result, nil
}

// ModelVersion 返回评分器当前使用的模型版本标识
func (s *LLMJobScorer) ModelVersion() string {
	return s.modelVersion
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
