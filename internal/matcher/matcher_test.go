package matcher

import (
	"testing"
	"time"

	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCompanyName(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"小写化", "Glean", "glean"},
		{"去除Inc后缀", "Acme Inc.", "acme"},
		{"去除Corp后缀", "Initech Corp", "initech"},
		{"去除LLC后缀", "Widgets, LLC", "widgets"},
		{"叠加后缀", "Acme Co Ltd", "acme"},
		{"去除标点并压缩空白", "  O'Brien   &  Sons  ", "o brien sons"},
		{"空字符串", "", ""},
		{"纯后缀不剥离为空", "Co", "co"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeCompanyName(tc.input), "规范化结果应符合预期")
		})
	}
}

func TestMatchCompanyNameIdenticalAfterNormalization(t *testing.T) {
	// 规范化后相同的公司名必须得满分
	pairs := [][2]string{
		{"Glean", "glean"},
		{"Acme Inc.", "ACME"},
		{"Stripe, Inc", "Stripe Incorporated"},
		{"DataDog Corp", "datadog"},
	}

	for _, pair := range pairs {
		score := MatchCompanyName(pair[0], pair[1])
		assert.Equal(t, 1.0, score, "规范化后相同的公司名 %q / %q 应得1.0", pair[0], pair[1])
	}
}

func TestMatchCompanyNameContainment(t *testing.T) {
	score := MatchCompanyName("Google Cloud", "Google")
	assert.Equal(t, 0.9, score, "包含关系应得0.9")
}

func TestMatchCompanyNameByDomain(t *testing.T) {
	// 邮件侧是发件地址时，应尝试域名匹配
	score := MatchCompanyName("no-reply@glean.com", "Glean")
	assert.GreaterOrEqual(t, score, 0.8, "域名命中公司名应至少得0.8")

	// 完全无关的域名不应凑出高分
	score = MatchCompanyName("billing@electricity-provider.com", "Glean")
	assert.Less(t, score, 0.6, "无关域名不应达到匹配下限")
}

func TestMatchCompanyNameEmpty(t *testing.T) {
	assert.Equal(t, 0.0, MatchCompanyName("", "Glean"), "空的邮件侧公司名应得0")
	assert.Equal(t, 0.0, MatchCompanyName("Glean", ""), "空的岗位侧公司名应得0")
}

func TestMatchJobTitle(t *testing.T) {
	testCases := []struct {
		name       string
		emailTitle string
		jobTitle   string
		expectMin  float64
		expectMax  float64
	}{
		{"完全一致", "Software Engineer", "software engineer", 1.0, 1.0},
		{"包含关系", "Software Engineer, Backend", "Software Engineer", 0.9, 0.9},
		{"token重叠", "Backend Software Engineer", "Software Engineer Backend Infra", 0.4, 0.9},
		{"完全无关", "Accountant", "Software Engineer", 0.0, 0.5},
		{"空标题", "", "Software Engineer", 0.0, 0.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			score := MatchJobTitle(tc.emailTitle, tc.jobTitle)
			assert.GreaterOrEqual(t, score, tc.expectMin, "标题相似度不应低于 %v", tc.expectMin)
			assert.LessOrEqual(t, score, tc.expectMax, "标题相似度不应高于 %v", tc.expectMax)
		})
	}
}

func TestTemporalProximityBuckets(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		offset   time.Duration
		expected float64
	}{
		{"1天内", 12 * time.Hour, 1.0},
		{"一周内", 5 * 24 * time.Hour, 0.9},
		{"一月内", 20 * 24 * time.Hour, 0.7},
		{"三月内", 60 * 24 * time.Hour, 0.5},
		{"95天封顶在0.2", 95 * 24 * time.Hour, 0.2},
		{"一年以上", 400 * 24 * time.Hour, 0.2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, TemporalProximity(base, base.Add(tc.offset)), "时间接近度分桶应符合预期")
			// 方向无关，邮件早于岗位创建也一样
			assert.Equal(t, tc.expected, TemporalProximity(base.Add(tc.offset), base), "时间差取绝对值")
		})
	}
}

func newCandidate(appID, company, title string, createdAt time.Time) models.JobApplication {
	return models.JobApplication{
		ApplicationID: appID,
		JobID:         "job-" + appID,
		UserID:        "user-1",
		Status:        models.ApplicationStatusApplied,
		Job: &models.JobListing{
			JobID:     "job-" + appID,
			Title:     title,
			Company:   company,
			CreatedAt: createdAt,
		},
	}
}

func TestFindBestMatchSelectsHighestScore(t *testing.T) {
	now := time.Now()
	candidates := []models.JobApplication{
		newCandidate("a", "Initech", "Accountant", now.Add(-200*24*time.Hour)),
		newCandidate("b", "Glean", "Software Engineer, Backend", now.Add(-2*24*time.Hour)),
		newCandidate("c", "Globex", "Sales Manager", now.Add(-100*24*time.Hour)),
	}

	best := FindBestMatch(candidates, "Glean", "Software Engineer, Backend", now)
	require.NotNil(t, best, "应找到匹配")
	assert.Equal(t, "b", best.ApplicationID, "应选中得分最高的候选")
	assert.GreaterOrEqual(t, best.Score, 0.6, "匹配分应达到下限")
	assert.Equal(t, 1.0, best.CompanyScore, "公司名完全一致应得满分")
}

func TestFindBestMatchRejectsBelowThreshold(t *testing.T) {
	// 即便是候选中的最高分，低于0.6也不能被选中
	now := time.Now()
	candidates := []models.JobApplication{
		newCandidate("a", "Initech", "Accountant", now.Add(-400*24*time.Hour)),
		newCandidate("b", "Globex", "Sales Manager", now.Add(-400*24*time.Hour)),
	}

	best := FindBestMatch(candidates, "Hooli", "Staff Engineer", now)
	assert.Nil(t, best, "所有候选都低于下限时不应返回匹配")
}

func TestFindBestMatchEmptyCompany(t *testing.T) {
	now := time.Now()
	candidates := []models.JobApplication{
		newCandidate("a", "Glean", "Software Engineer", now),
	}

	best := FindBestMatch(candidates, "", "Software Engineer", now)
	assert.Nil(t, best, "邮件中没有公司名时不应匹配")
}

func TestFindBestMatchNoCandidates(t *testing.T) {
	best := FindBestMatch(nil, "Glean", "Software Engineer", time.Now())
	assert.Nil(t, best, "没有候选时应返回nil")
}

func TestShouldAutoUpdateStatus(t *testing.T) {
	assert.True(t, ShouldAutoUpdateStatus(0.8), "0.8应允许自动更新")
	assert.True(t, ShouldAutoUpdateStatus(0.95), "高分应允许自动更新")
	assert.False(t, ShouldAutoUpdateStatus(0.79), "低于0.8不应允许自动更新")
	assert.False(t, ShouldAutoUpdateStatus(0.6), "达到匹配下限但未达到自动更新线")
}

func TestStatusForEmailType(t *testing.T) {
	testCases := []struct {
		category   types.EmailCategory
		expected   string
		shouldFind bool
	}{
		{types.CategoryApplicationConfirmation, models.ApplicationStatusApplied, true},
		{types.CategoryApplicationRejection, models.ApplicationStatusRejected, true},
		{types.CategoryInterviewInvitation, models.ApplicationStatusInterviewed, true},
		{types.CategoryOfferLetter, models.ApplicationStatusHired, true},
		{types.CategoryStatusUpdate, "", false},
		{types.CategoryNotJobRelated, "", false},
		{types.CategoryUnknown, "", false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.category), func(t *testing.T) {
			status, ok := StatusForEmailType(tc.category)
			assert.Equal(t, tc.shouldFind, ok, "映射存在性应符合预期")
			assert.Equal(t, tc.expected, status, "映射目标状态应符合预期")
		})
	}
}

// offer_letter 必须永远映射到 HIRED，这是状态映射表的纯函数性质
func TestOfferLetterAlwaysMapsToHired(t *testing.T) {
	for i := 0; i < 10; i++ {
		status, ok := StatusForEmailType(types.CategoryOfferLetter)
		require.True(t, ok)
		require.Equal(t, models.ApplicationStatusHired, status)
	}
}

// 端到端匹配场景：Greenhouse发出的Glean投递确认邮件
func TestGreenhouseGleanScenario(t *testing.T) {
	now := time.Now()
	candidates := []models.JobApplication{
		newCandidate("glean-app", "Glean", "Software Engineer, Backend", now.Add(-3*24*time.Hour)),
		newCandidate("other-app", "Initech", "Data Analyst", now.Add(-50*24*time.Hour)),
	}

	// 分类器从邮件正文抽出的公司名
	best := FindBestMatch(candidates, "Glean", "Software Engineer, Backend", now)
	require.NotNil(t, best, "Glean投递确认应匹配到已有申请")
	assert.Equal(t, "glean-app", best.ApplicationID)
	assert.GreaterOrEqual(t, best.Score, 0.6, "匹配分应超过下限")

	status, ok := StatusForEmailType(types.CategoryApplicationConfirmation)
	require.True(t, ok)
	assert.Equal(t, models.ApplicationStatusApplied, status, "投递确认应将状态流转为APPLIED")
}
