package parser

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"job-agent-go/internal/types"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
)

// LLMResumeParser 基于LLM的简历结构化解析器
type LLMResumeParser struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	logger         *log.Logger
}

// ResumeParserOption 解析器的配置选项
type ResumeParserOption func(*LLMResumeParser)

// WithResumePromptTemplate 设置自定义提示词模板
func WithResumePromptTemplate(template string) ResumeParserOption {
	return func(p *LLMResumeParser) {
		p.promptTemplate = template
	}
}

// NewLLMResumeParser 创建一个新的简历解析器实例
func NewLLMResumeParser(llmModel model.ToolCallingChatModel, logger *log.Logger, options ...ResumeParserOption) *LLMResumeParser {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	parser := &LLMResumeParser{
		llmModel: llmModel,
		logger:   logger,
	}

	parser.generatePromptTemplate()

	for _, opt := range options {
		opt(parser)
	}

	return parser
}

func (p *LLMResumeParser) generatePromptTemplate() {
	p.promptTemplate = `你是一个专业的简历解析助手。你的任务是从下面的【简历文本】中抽取结构化信息，并严格按照指定的JSON格式输出。

**输出JSON格式：**
{
  "full_name": "候选人姓名，识别不出则为空字符串",
  "email": "邮箱地址",
  "phone": "电话号码",
  "location": "所在城市或期望地点",
  "summary": "一段100字以内的职业概要，基于简历内容归纳",
  "skills": ["技能1", "技能2"],
  "experience": [
    {
      "company": "公司名",
      "title": "职位",
      "start_date": "YYYY-MM，识别不出则为空字符串",
      "end_date": "YYYY-MM 或 present",
      "description": "该段经历的一到两句概括"
    }
  ],
  "education": [
    {
      "school": "学校名",
      "degree": "学位",
      "major": "专业",
      "start_year": "YYYY",
      "end_year": "YYYY"
    }
  ]
}

**抽取要点：**
- 只抽取简历中实际存在的信息，不要编造；
- 技能列表去重，保留简历中的原始写法；
- 经历按时间倒序排列；
- 字符串值内部的双引号必须用反斜杠转义；
- 禁止在JSON结构之外输出任何额外文本、解释或Markdown标记。

【简历文本】:
"""
%s
"""

请输出JSON解析结果。`
}

// Parse 将简历纯文本解析为结构化档案
func (p *LLMResumeParser) Parse(ctx context.Context, resumeText string) (*types.ParsedResume, error) {
	if p.llmModel == nil {
		return nil, fmt.Errorf("LLMResumeParser: llmModel 未初始化")
	}
	if strings.TrimSpace(resumeText) == "" {
		return nil, fmt.Errorf("LLMResumeParser: 简历文本为空")
	}

	userMsgContent := fmt.Sprintf(p.promptTemplate, resumeText)

	systemMsg := einoschema.SystemMessage("你是一个精确的简历信息抽取助手，只输出合法的JSON。")
	userMsg := einoschema.UserMessage(userMsgContent)

	response, err := p.llmModel.Generate(ctx, []*einoschema.Message{systemMsg, userMsg})
	if err != nil {
		p.logger.Printf("[LLMResumeParser] LLM调用失败: %v", err)
		return nil, fmt.Errorf("LLMResumeParser: LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		return nil, fmt.Errorf("LLMResumeParser: LLM返回空响应")
	}

	var result types.ParsedResume
	if err := unmarshalLLMJSON(response.Content, &result); err != nil {
		p.logger.Printf("[LLMResumeParser] 解析LLM响应失败: %v", err)
		return nil, fmt.Errorf("LLMResumeParser: 解析LLM响应失败: %w", err)
	}

	if err := validateParsedResume(&result); err != nil {
		return nil, fmt.Errorf("LLMResumeParser: 解析结果不合法: %w", err)
	}

	return &result, nil
}

// validateParsedResume 校验解析结果至少包含可用的信息
func validateParsedResume(resume *types.ParsedResume) error {
	if resume.FullName == "" && resume.Email == "" &&
		len(resume.Skills) == 0 && len(resume.Experience) == 0 {
		return fmt.Errorf("解析结果为空，未抽取到任何字段")
	}
	return nil
}
