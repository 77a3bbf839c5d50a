package parser

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"job-agent-go/internal/constants"
	"job-agent-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
)

// LLMEmailClassifier 基于LLM的求职邮件分类器
type LLMEmailClassifier struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	logger         *log.Logger
}

// EmailClassifierOption 分类器的配置选项
type EmailClassifierOption func(*LLMEmailClassifier)

// WithClassifierPromptTemplate 设置自定义提示词模板
func WithClassifierPromptTemplate(template string) EmailClassifierOption {
	return func(c *LLMEmailClassifier) {
		c.promptTemplate = template
	}
}

// NewLLMEmailClassifier 创建一个新的邮件分类器实例
func NewLLMEmailClassifier(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...EmailClassifierOption) *LLMEmailClassifier {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	classifier := &LLMEmailClassifier{
		llmModel: llmModel,
		logger:   logger,
	}

	classifier.generatePromptTemplate()

	for _, opt := range options {
		opt(classifier)
	}

	return classifier
}

func (c *LLMEmailClassifier) generatePromptTemplate() {
	c.promptTemplate = `你是一个求职邮件分类助手。你的任务是判断下面这封邮件是否与收件人的求职过程相关，如果相关则进一步归类，并严格按照指定的JSON格式输出。

**分类体系（email_type 必须是以下值之一）：**
- "application_confirmation": 投递确认。公司或招聘系统（如 Greenhouse、Lever、Workday）确认已收到候选人的求职申请。
- "application_rejection": 拒信。明确告知候选人未通过筛选或流程终止。
- "interview_invitation": 面试邀请。邀请候选人参加电话、视频或现场面试，或请求预约面试时间。
- "offer_letter": 录用通知。正式发出offer或告知候选人已被录用。
- "status_update": 其他流程状态更新。如"您的申请仍在审核中"、"流程进入下一阶段"等不属于上述四类的进展通知。
- "not_job_related": 与求职完全无关的邮件（账单、营销、社交通知等）。

**输出JSON格式：**
{
  "email_type": "上述枚举值之一",
  "confidence_score": 0.0到1.0之间的小数，表示你对分类的确信程度,
  "company_name": "从邮件中识别出的公司名，识别不出则为空字符串",
  "job_title": "从邮件中识别出的职位名称，识别不出则为空字符串",
  "sentiment": "positive、negative 或 neutral",
  "reasoning": "一句话说明分类依据"
}

**判断要点：**
- 发件人域名是重要信号：greenhouse-mail.io、lever.co、myworkday.com 等通常是招聘系统；
- "Thank you for applying"、"We received your application" 指向 application_confirmation；
- "we have decided to move forward with other candidates"、"not to proceed" 指向 application_rejection；
- "schedule a call"、"interview availability" 指向 interview_invitation；
- 公司名优先从邮件正文和主题中提取，其次从发件人域名推断；
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

【发件人】: %s
【主题】: %s
【正文】:
"""
%s
"""

请输出JSON分类结果。`
}

// Classify 对一封入站邮件进行分类。
// 任何LLM调用失败或解析失败都返回零置信度的 unknown 分类，绝不向调用方返回错误，
// 分类失败不能阻断整个邮件批次的处理。
func (c *LLMEmailClassifier) Classify(ctx context.Context, email *types.InboundEmail) *types.EmailClassification {
	if c.llmModel == nil {
		c.logger.Printf("[LLMEmailClassifier] llmModel 未初始化，返回 unknown 分类")
		return unknownClassification("classifier not initialized")
	}

	body := email.Body
	if strings.TrimSpace(body) == "" {
		body = email.Snippet
	}

	userMsgContent := fmt.Sprintf(c.promptTemplate, email.Sender, email.Subject, body)

	systemMsg := einoschema.SystemMessage("你是一个精确的求职邮件分类助手，只输出合法的JSON。")
	userMsg := einoschema.UserMessage(userMsgContent)

	response, err := c.llmModel.Generate(ctx, []*einoschema.Message{systemMsg, userMsg})
	if err != nil {
		c.logger.Printf("[LLMEmailClassifier] LLM调用失败 (message_id=%s): %v", email.MessageID, err)
		return unknownClassification(fmt.Sprintf("llm call failed: %v", err))
	}
	if response == nil || response.Content == "" {
		c.logger.Printf("[LLMEmailClassifier] LLM返回空响应 (message_id=%s)", email.MessageID)
		return unknownClassification("empty llm response")
	}

	var result types.EmailClassification
	if err := unmarshalLLMJSON(response.Content, &result); err != nil {
		c.logger.Printf("[LLMEmailClassifier] 解析LLM响应失败 (message_id=%s): %v", email.MessageID, err)
		return unknownClassification("malformed llm response")
	}

	if !isKnownCategory(result.Category) {
		c.logger.Printf("[LLMEmailClassifier] LLM返回未知类别 %q (message_id=%s)", result.Category, email.MessageID)
		return unknownClassification(fmt.Sprintf("unknown category %q", result.Category))
	}

	// 置信度越界时收敛到[0,1]
	if result.Confidence < 0 {
		result.Confidence = 0
	} else if result.Confidence > 1 {
		result.Confidence = 1
	}

	return &result
}

func unknownClassification(reason string) *types.EmailClassification {
	return &types.EmailClassification{
		Category:   types.CategoryUnknown,
		Confidence: 0,
		Reasoning:  reason,
	}
}

func isKnownCategory(c types.EmailCategory) bool {
	switch c {
	case types.CategoryApplicationConfirmation, types.CategoryApplicationRejection,
		types.CategoryInterviewInvitation, types.CategoryOfferLetter,
		types.CategoryStatusUpdate, types.CategoryNotJobRelated:
		return true
	}
	return false
}

// IsJobRelated 判断分类结果是否与求职相关：
// 置信度达到下限且类别既不是 not_job_related 也不是 unknown。
func IsJobRelated(category types.EmailCategory, confidence float64) bool {
	if confidence < constants.JobRelatedConfidenceThreshold {
		return false
	}
	return isKnownCategory(category) && category != types.CategoryNotJobRelated
}

// ShouldUpdateJobStatus 判断分类结果是否可以尝试驱动申请状态流转：
// 置信度达到更高的下限且类别属于四种承载状态的类别。
func ShouldUpdateJobStatus(category types.EmailCategory, confidence float64) bool {
	if confidence < constants.StatusUpdateConfidenceThreshold {
		return false
	}
	return category.IsStatusBearing()
}
