package parser

import (
	"context"
	"errors"
	"testing"

	"job-agent-go/internal/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobScorerValidResponse(t *testing.T) {
	mockLLM := agent.NewMockChatClient(`{
		"score": 82,
		"confidence": 90,
		"reasoning": "核心技能高度匹配，年限略有差距。"
	}`, nil)

	scorer := NewLLMJobScorer(mockLLM, nil, WithModelVersion("qwen-plus-2025"))
	result, err := scorer.Score(context.Background(),
		"Backend Engineer", "Glean", "Remote", "Go/MySQL/Redis 后端开发", "五年Go后端经验……")

	require.NoError(t, err, "正常响应不应返回错误")
	require.NotNil(t, result)
	assert.Equal(t, 82, result.Score)
	assert.Equal(t, 90, result.Confidence)
	assert.NotEmpty(t, result.Reasoning)
	assert.NotZero(t, result.ScoredAt, "应记录评分时间")
	assert.Equal(t, "qwen-plus-2025", scorer.ModelVersion())
}

func TestJobScorerClampsOutOfRangeScore(t *testing.T) {
	mockLLM := agent.NewMockChatClient(`{"score": 130, "confidence": -5, "reasoning": "异常输出"}`, nil)

	scorer := NewLLMJobScorer(mockLLM, nil)
	result, err := scorer.Score(context.Background(), "岗位", "公司", "", "描述", "档案")

	require.NoError(t, err)
	assert.Equal(t, 100, result.Score, "越界分数应收敛到100")
	assert.Equal(t, 0, result.Confidence, "越界置信度应收敛到0")
}

func TestJobScorerFallbackOnLLMError(t *testing.T) {
	mockLLM := agent.NewMockChatClient("", errors.New("429 Too Many Requests"))

	scorer := NewLLMJobScorer(mockLLM, nil)
	result, err := scorer.Score(context.Background(), "岗位", "公司", "", "描述", "档案")

	// 兜底结果照常返回，错误供调用方监控
	require.Error(t, err, "LLM失败应返回错误")
	require.NotNil(t, result, "兜底结果不应为nil")
	assert.Equal(t, 50, result.Score, "兜底分数应为50")
	assert.Equal(t, 30, result.Confidence, "兜底置信度应为30")
	assert.Equal(t, "analysis_failed", result.Reasoning, "兜底理由应为analysis_failed")
}

func TestJobScorerFallbackOnMalformedResponse(t *testing.T) {
	mockLLM := agent.NewMockChatClient("这个岗位看起来不错，推荐80分。", nil)

	scorer := NewLLMJobScorer(mockLLM, nil)
	result, err := scorer.Score(context.Background(), "岗位", "公司", "", "描述", "档案")

	require.Error(t, err, "无法解析的响应应返回错误")
	require.NotNil(t, result)
	assert.Equal(t, "analysis_failed", result.Reasoning)
}
