package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"纯JSON", `{"a": 1}`, `{"a": 1}`},
		{"带前后缀文本", "结果如下：\n{\"a\": 1}\n以上。", `{"a": 1}`},
		{"Markdown代码块", "```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`},
		{"嵌套对象", `{"a": {"b": {"c": 3}}}`, `{"a": {"b": {"c": 3}}}`},
		{"没有JSON", "这里没有任何对象", ""},
		{"未闭合的对象", `{"a": 1`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractJSONObject(tc.input), "提取结果应符合预期")
		})
	}
}

func TestSanitizeJSONRepairsInnerQuotes(t *testing.T) {
	// 字符串内部未转义的引号应被修复
	broken := `{"reasoning": "邮件提到"Glean"公司的申请确认"}`

	var result struct {
		Reasoning string `json:"reasoning"`
	}
	err := unmarshalLLMJSON(broken, &result)
	require.NoError(t, err, "修复后应能正常解析")
	assert.Contains(t, result.Reasoning, "Glean", "修复不应丢失内容")
}

func TestUnmarshalLLMJSONStripsBOM(t *testing.T) {
	var result struct {
		A int `json:"a"`
	}
	err := unmarshalLLMJSON("\uFEFF{\"a\": 7}", &result)
	require.NoError(t, err, "应能处理带BOM的响应")
	assert.Equal(t, 7, result.A)
}

func TestUnmarshalLLMJSONNoObject(t *testing.T) {
	var result map[string]interface{}
	err := unmarshalLLMJSON("没有对象", &result)
	assert.ErrorIs(t, err, ErrNoJSONObject, "找不到JSON对象应返回ErrNoJSONObject")
}
