package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeedStore 内存版FeedStore，记录入库和状态更新调用
type fakeFeedStore struct {
	feeds     []models.FeedSubscription
	upserted  []models.JobListing
	lastError string
	lastCount int
}

func (f *fakeFeedStore) ListFeeds(ctx context.Context, enabledOnly bool) ([]models.FeedSubscription, error) {
	return f.feeds, nil
}

func (f *fakeFeedStore) BatchUpsertJobListings(ctx context.Context, jobs []models.JobListing) (int64, error) {
	f.upserted = append(f.upserted, jobs...)
	return int64(len(jobs)), nil
}

func (f *fakeFeedStore) UpdateFeedFetchResult(ctx context.Context, feedID string, fetchedAt time.Time, fetchErr string, jobCount int) error {
	f.lastError = fetchErr
	f.lastCount = jobCount
	return nil
}

func (f *fakeFeedStore) DeleteUnappliedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Jobs</title>
<item><title>Glean hiring Backend Engineer in Remote</title><guid>item-1</guid><link>https://example.com/jobs/1</link><description>Build services in Go and Kubernetes. $150,000 - $180,000 per year.</description></item>
<item><title>Initech hiring Senior Accountant in Austin, TX</title><guid>item-2</guid><link>https://example.com/jobs/2</link><description>Spreadsheets all day.</description></item>
</channel></rss>`

func newFeedServer(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// Redis不可用时聚合器直接跳过Redis去重，靠数据库唯一索引兜底，不能崩溃
func TestRefreshFeedWithoutRedis(t *testing.T) {
	srv := newFeedServer(t, "application/rss+xml", sampleRSS)

	store := &fakeFeedStore{}
	agg := NewAggregator(store, nil, &config.AggregatorConfig{FetchTimeoutSeconds: 5})

	feed := &models.FeedSubscription{FeedID: "feed-1", URL: srv.URL}
	result := agg.RefreshFeed(context.Background(), feed)

	assert.Empty(t, result.Error, "Redis缺席时抓取不应报错")
	assert.Equal(t, 2, result.ItemsNew, "两个条目都应入库")
	require.Len(t, store.upserted, 2)
	assert.Equal(t, "Glean", store.upserted[0].Company)
	assert.Equal(t, 2, store.lastCount, "抓取状态里应记录入库岗位数")
}

// 订阅源配置了关键词/地点过滤器时，未命中的条目不入库
func TestRefreshFeedAppliesFilters(t *testing.T) {
	srv := newFeedServer(t, "application/rss+xml", sampleRSS)

	store := &fakeFeedStore{}
	agg := NewAggregator(store, nil, &config.AggregatorConfig{FetchTimeoutSeconds: 5})

	feed := &models.FeedSubscription{
		FeedID:         "feed-1",
		URL:            srv.URL,
		KeywordFilter:  "kubernetes,golang",
		LocationFilter: "remote",
	}
	result := agg.RefreshFeed(context.Background(), feed)

	assert.Equal(t, 1, result.ItemsNew, "只有命中过滤器的条目入库")
	assert.Equal(t, 1, result.ItemsFiltered, "未命中过滤器的条目应被计数")
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Backend Engineer", store.upserted[0].Title)
}

// 抓取失败时岗位数记0，供健康度统计识别异常源
func TestRefreshFeedFailureRecordsZeroCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 让抓取必然失败

	store := &fakeFeedStore{lastCount: -1}
	agg := NewAggregator(store, nil, &config.AggregatorConfig{FetchTimeoutSeconds: 1})

	feed := &models.FeedSubscription{FeedID: "feed-1", URL: srv.URL}
	result := agg.RefreshFeed(context.Background(), feed)

	assert.NotEmpty(t, result.Error, "连接失败应带回错误")
	assert.NotEmpty(t, store.lastError, "错误应写入抓取状态")
	assert.Equal(t, 0, store.lastCount, "失败时岗位数应记0")
}

const sampleJSONFeed = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "Remote Jobs",
  "items": [
    {
      "id": "json-1",
      "url": "https://example.com/jobs/3",
      "title": "Globex: Platform Engineer",
      "content_text": "Run the platform. $140k-$170k."
    }
  ]
}`

// JSON Feed v1.1 与RSS走同一条解析入库路径
func TestRefreshFeedParsesJSONFeed(t *testing.T) {
	srv := newFeedServer(t, "application/feed+json", sampleJSONFeed)

	store := &fakeFeedStore{}
	agg := NewAggregator(store, nil, &config.AggregatorConfig{FetchTimeoutSeconds: 5})

	feed := &models.FeedSubscription{FeedID: "feed-json", URL: srv.URL, Format: "json"}
	result := agg.RefreshFeed(context.Background(), feed)

	assert.Empty(t, result.Error, "JSON Feed应正常解析")
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Globex", store.upserted[0].Company)
	assert.Equal(t, "Platform Engineer", store.upserted[0].Title)
}

func TestMatchesFeedFilters(t *testing.T) {
	item := types.FeedItem{
		Position:    "Backend Engineer",
		Location:    "Remote",
		Description: "Build services in Go and Kubernetes.",
	}

	testCases := []struct {
		name     string
		feed     models.FeedSubscription
		expected bool
	}{
		{"无过滤器全通过", models.FeedSubscription{}, true},
		{"关键词命中描述", models.FeedSubscription{KeywordFilter: "kubernetes"}, true},
		{"关键词大小写不敏感", models.FeedSubscription{KeywordFilter: "KUBERNETES"}, true},
		{"多关键词任一命中", models.FeedSubscription{KeywordFilter: "rust, kubernetes"}, true},
		{"关键词全不命中", models.FeedSubscription{KeywordFilter: "rust,erlang"}, false},
		{"地点命中", models.FeedSubscription{LocationFilter: "remote"}, true},
		{"地点不命中", models.FeedSubscription{LocationFilter: "berlin"}, false},
		{"关键词命中但地点不命中", models.FeedSubscription{KeywordFilter: "kubernetes", LocationFilter: "berlin"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, matchesFeedFilters(&tc.feed, item), "过滤结果应符合预期")
		})
	}
}

func TestParseTitle(t *testing.T) {
	testCases := []struct {
		name            string
		title           string
		expectCompany   string
		expectPosition  string
		expectLocation  string
	}{
		{
			name:           "rss.app约定带地点",
			title:          "Glean hiring Software Engineer, Backend in Palo Alto, CA",
			expectCompany:  "Glean",
			expectPosition: "Software Engineer, Backend",
			expectLocation: "Palo Alto, CA",
		},
		{
			name:           "rss.app约定无地点",
			title:          "Stripe hiring Staff Engineer",
			expectCompany:  "Stripe",
			expectPosition: "Staff Engineer",
			expectLocation: "",
		},
		{
			name:           "冒号约定",
			title:          "Initech: Senior Accountant",
			expectCompany:  "Initech",
			expectPosition: "Senior Accountant",
			expectLocation: "",
		},
		{
			name:           "无法识别的标题",
			title:          "Great remote opportunities this week",
			expectCompany:  "",
			expectPosition: "Great remote opportunities this week",
			expectLocation: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			company, position, location := parseTitle(tc.title)
			assert.Equal(t, tc.expectCompany, company, "公司名应符合预期")
			assert.Equal(t, tc.expectPosition, position, "职位名应符合预期")
			assert.Equal(t, tc.expectLocation, location, "地点应符合预期")
		})
	}
}

func TestParseItem(t *testing.T) {
	published := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	item := &gofeed.Item{
		GUID:            "guid-1",
		Title:           "Glean hiring Software Engineer, Backend in Palo Alto, CA",
		Description:     "Build the backend. Salary $160,000 - $200,000 per year.",
		Link:            "https://example.com/jobs/1",
		PublishedParsed: &published,
	}

	feedItem, ok := parseItem(item)
	require.True(t, ok, "符合约定的条目应解析成功")
	assert.Equal(t, "Glean", feedItem.Company)
	assert.Equal(t, "Software Engineer, Backend", feedItem.Position)
	assert.Equal(t, "Palo Alto, CA", feedItem.Location)
	assert.Equal(t, "https://example.com/jobs/1", feedItem.Link)
	require.NotNil(t, feedItem.PublishedAt)
	assert.Equal(t, published, *feedItem.PublishedAt)
}

func TestParseItemFallsBackToAuthor(t *testing.T) {
	item := &gofeed.Item{
		Title:  "Senior Platform Engineer",
		Author: &gofeed.Person{Name: "Globex"},
	}

	feedItem, ok := parseItem(item)
	require.True(t, ok, "标题无公司时应回退到author字段")
	assert.Equal(t, "Globex", feedItem.Company)
	assert.Equal(t, "Senior Platform Engineer", feedItem.Position)
}

func TestParseItemRejectsUnusable(t *testing.T) {
	_, ok := parseItem(&gofeed.Item{Title: "   "})
	assert.False(t, ok, "空标题应被拒绝")

	_, ok = parseItem(&gofeed.Item{Title: "Weekly digest of remote jobs"})
	assert.False(t, ok, "识别不出公司的条目应被拒绝")
}

func TestExtractSalary(t *testing.T) {
	testCases := []struct {
		name        string
		description string
		expected    string
	}{
		{"美元区间", "Compensation: $120,000 - $150,000 per year plus equity.", "$120,000 - $150,000 per year"},
		{"k写法", "We offer $90k-$120k and great benefits.", "$90k-$120k"},
		{"无薪资", "Join our fast-growing team!", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractSalary(tc.description), "薪资提取应符合预期")
		})
	}
}

func TestJobDedupKey(t *testing.T) {
	key1 := JobDedupKey("Software Engineer", "Glean", "Palo Alto")
	key2 := JobDedupKey("  software   engineer ", "GLEAN", "palo alto")
	key3 := JobDedupKey("Software Engineer", "Glean", "Remote")

	assert.Equal(t, key1, key2, "规范化后相同的岗位应得到相同的去重键")
	assert.NotEqual(t, key1, key3, "地点不同的岗位应得到不同的去重键")
	assert.Len(t, key1, 64, "去重键应为SHA-256的十六进制形式")
}
