package parser

import (
	"context"
	"errors"
	"testing"

	"job-agent-go/internal/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResumeText = `王浩宇
后端开发工程师 | 5年工作经验 | wang.haoyu@example.com

专业技能:
- Go, MySQL, Redis, Kafka

工作经历:
某科技公司 | 高级后端工程师 | 2020.06-至今`

func TestResumeParserValidResponse(t *testing.T) {
	mockLLM := agent.NewMockChatClient(`{
		"full_name": "王浩宇",
		"email": "wang.haoyu@example.com",
		"phone": "",
		"location": "",
		"summary": "五年经验的Go后端工程师",
		"skills": ["Go", "MySQL", "Redis", "Kafka"],
		"experience": [
			{"company": "某科技公司", "title": "高级后端工程师", "start_date": "2020-06", "end_date": "present"}
		],
		"education": []
	}`, nil)

	parser := NewLLMResumeParser(mockLLM, nil)
	result, err := parser.Parse(context.Background(), sampleResumeText)

	require.NoError(t, err, "解析不应返回错误")
	require.NotNil(t, result)
	assert.Equal(t, "王浩宇", result.FullName)
	assert.Equal(t, "wang.haoyu@example.com", result.Email)
	assert.Len(t, result.Skills, 4, "应抽取出全部技能")
	require.Len(t, result.Experience, 1)
	assert.Equal(t, "某科技公司", result.Experience[0].Company)
	assert.Equal(t, "present", result.Experience[0].EndDate)
}

func TestResumeParserEmptyText(t *testing.T) {
	parser := NewLLMResumeParser(agent.NewMockChatClient("{}", nil), nil)
	_, err := parser.Parse(context.Background(), "   ")
	assert.Error(t, err, "空简历文本应返回错误")
}

func TestResumeParserLLMError(t *testing.T) {
	mockLLM := agent.NewMockChatClient("", errors.New("deadline exceeded"))

	parser := NewLLMResumeParser(mockLLM, nil)
	_, err := parser.Parse(context.Background(), sampleResumeText)
	assert.Error(t, err, "LLM失败应返回错误")
}

func TestResumeParserEmptyResult(t *testing.T) {
	// LLM返回了合法但空洞的JSON，应判为不合法
	mockLLM := agent.NewMockChatClient(`{"full_name": "", "email": "", "skills": [], "experience": []}`, nil)

	parser := NewLLMResumeParser(mockLLM, nil)
	_, err := parser.Parse(context.Background(), sampleResumeText)
	assert.Error(t, err, "空洞的解析结果应返回错误")
}
