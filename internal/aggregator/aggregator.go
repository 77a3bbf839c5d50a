package aggregator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"job-agent-go/internal/config"
	applogger "job-agent-go/internal/logger"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"

	"github.com/gofrs/uuid/v5"
	"github.com/mmcdole/gofeed"
)

const (
	// Redis中已见条目集合的保留期，覆盖绝大多数feed的条目存活周期
	feedDedupExpiry = 30 * 24 * time.Hour
	jobDedupExpiry  = 30 * 24 * time.Hour
)

// rss.app风格的标题约定："Company hiring Position in Location"
var rssAppTitlePattern = regexp.MustCompile(`^(.+?)\s+hiring\s+(.+?)(?:\s+in\s+(.+))?$`)

// weworkremotely风格的标题约定："Company: Position"
var colonTitlePattern = regexp.MustCompile(`^([^:]+):\s*(.+)$`)

// 描述中常见的薪资写法，如 $120,000 - $150,000 / $90k-$120k
var salaryPattern = regexp.MustCompile(`(?i)[$€£]\s?\d{2,3}(?:,\d{3})*(?:k)?(?:\s*[-–—~]\s*[$€£]?\s?\d{2,3}(?:,\d{3})*(?:k)?)?(?:\s*(?:per\s+year|/\s*year|annually|USD|EUR))?`)

// FeedStore 聚合器依赖的存储操作子集，*storage.MySQL 是默认实现
type FeedStore interface {
	ListFeeds(ctx context.Context, enabledOnly bool) ([]models.FeedSubscription, error)
	BatchUpsertJobListings(ctx context.Context, jobs []models.JobListing) (int64, error)
	UpdateFeedFetchResult(ctx context.Context, feedID string, fetchedAt time.Time, fetchErr string, jobCount int) error
	DeleteUnappliedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var _ FeedStore = (*storage.MySQL)(nil)

// Aggregator 负责轮询订阅源、解析岗位条目、按源过滤并去重入库
type Aggregator struct {
	db     FeedStore
	redis  *storage.Redis
	cfg    *config.AggregatorConfig
	parser *gofeed.Parser
}

// NewAggregator 创建岗位聚合器。redis可为nil，此时去重完全依赖数据库唯一索引。
func NewAggregator(db FeedStore, redis *storage.Redis, cfg *config.AggregatorConfig) *Aggregator {
	fp := gofeed.NewParser()
	if cfg.UserAgent != "" {
		fp.UserAgent = cfg.UserAgent
	}
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fp.Client = &http.Client{Timeout: timeout}

	return &Aggregator{
		db:     db,
		redis:  redis,
		cfg:    cfg,
		parser: fp,
	}
}

// RefreshAllFeeds 轮询所有启用的订阅源，逐源抓取入库。
// 单个源的失败只记录在该源的结果里，不阻断其余源。
func (a *Aggregator) RefreshAllFeeds(ctx context.Context) ([]types.FeedFetchResult, error) {
	feeds, err := a.db.ListFeeds(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("加载订阅源列表失败: %w", err)
	}

	results := make([]types.FeedFetchResult, 0, len(feeds))
	for i := range feeds {
		result := a.RefreshFeed(ctx, &feeds[i])
		results = append(results, result)

		applogger.Info().
			Str("feed_id", result.FeedID).
			Int("seen", result.ItemsSeen).
			Int("new", result.ItemsNew).
			Int("duped", result.ItemsDuped).
			Str("error", result.Error).
			Msg("订阅源刷新完成")
	}
	return results, nil
}

// RefreshFeed 抓取单个订阅源并把新岗位入库
func (a *Aggregator) RefreshFeed(ctx context.Context, feed *models.FeedSubscription) types.FeedFetchResult {
	result := types.FeedFetchResult{FeedID: feed.FeedID}
	now := time.Now()

	parsed, err := a.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		result.Error = err.Error()
		if dbErr := a.db.UpdateFeedFetchResult(ctx, feed.FeedID, now, err.Error(), 0); dbErr != nil {
			applogger.Error().Err(dbErr).Str("feed_id", feed.FeedID).Msg("更新订阅源抓取状态失败")
		}
		return result
	}

	maxItems := a.cfg.MaxItemsPerFeed
	if maxItems <= 0 {
		maxItems = 100
	}

	var newJobs []models.JobListing
	seenInRun := make(map[string]struct{})

	for _, item := range parsed.Items {
		if result.ItemsSeen >= maxItems {
			break
		}
		result.ItemsSeen++

		feedItem, ok := parseItem(item)
		if !ok {
			result.ItemsSkipped++
			continue
		}

		if !matchesFeedFilters(feed, feedItem) {
			result.ItemsFiltered++
			continue
		}

		// 同一订阅源的GUID先在Redis里挡一道，避免重复解析
		guid := feedItem.GUID
		if guid == "" {
			guid = feedItem.Link
		}
		if guid != "" && a.redis != nil {
			exists, err := a.redis.CheckAndAddFeedItem(ctx, feed.FeedID, guid, feedDedupExpiry)
			if err == nil && exists {
				result.ItemsDuped++
				continue
			}
		}

		dedupKey := JobDedupKey(feedItem.Position, feedItem.Company, feedItem.Location)

		// 批内去重
		if _, dup := seenInRun[dedupKey]; dup {
			result.ItemsDuped++
			continue
		}
		seenInRun[dedupKey] = struct{}{}

		// 跨源去重走全局的岗位集合；Redis不可用时由数据库的唯一索引兜底
		if a.redis != nil {
			if exists, err := a.redis.CheckAndAddJobDedupKey(ctx, dedupKey, jobDedupExpiry); err == nil && exists {
				result.ItemsDuped++
				continue
			}
		}

		jobID, err := uuid.NewV7()
		if err != nil {
			result.ItemsSkipped++
			continue
		}

		feedID := feed.FeedID
		newJobs = append(newJobs, models.JobListing{
			JobID:       jobID.String(),
			Title:       feedItem.Position,
			Company:     feedItem.Company,
			Location:    feedItem.Location,
			Description: feedItem.Description,
			SalaryRange: extractSalary(feedItem.Description),
			URL:         feedItem.Link,
			Source:      "rss",
			FeedID:      &feedID,
			DedupKey:    dedupKey,
			PostedAt:    feedItem.PublishedAt,
		})
	}

	if len(newJobs) > 0 {
		// 数据库的dedup_key唯一索引是最终的幂等兜底
		inserted, err := a.db.BatchUpsertJobListings(ctx, newJobs)
		if err != nil {
			result.Error = err.Error()
			if dbErr := a.db.UpdateFeedFetchResult(ctx, feed.FeedID, now, err.Error(), 0); dbErr != nil {
				applogger.Error().Err(dbErr).Str("feed_id", feed.FeedID).Msg("更新订阅源抓取状态失败")
			}
			return result
		}
		result.ItemsNew = int(inserted)
	}

	if err := a.db.UpdateFeedFetchResult(ctx, feed.FeedID, now, "", result.ItemsNew); err != nil {
		applogger.Error().Err(err).Str("feed_id", feed.FeedID).Msg("更新订阅源抓取状态失败")
	}
	return result
}

// matchesFeedFilters 按订阅源配置的关键词/地点过滤条目。
// 关键词为逗号分隔列表，命中任意一个即通过；过滤器为空时全部通过。
func matchesFeedFilters(feed *models.FeedSubscription, item types.FeedItem) bool {
	if kw := strings.TrimSpace(feed.KeywordFilter); kw != "" {
		haystack := strings.ToLower(item.Position + " " + item.Description)
		matched := false
		for _, part := range strings.Split(kw, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" && strings.Contains(haystack, part) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if loc := strings.ToLower(strings.TrimSpace(feed.LocationFilter)); loc != "" {
		location := strings.ToLower(item.Location)
		// 地点缺失的条目按描述兜底匹配，remote类过滤词常写在正文里
		if !strings.Contains(location, loc) &&
			!strings.Contains(strings.ToLower(item.Description), loc) {
			return false
		}
	}
	return true
}

// CleanupUnappliedJobs 删除超过保留期且没有任何申请记录的岗位
func (a *Aggregator) CleanupUnappliedJobs(ctx context.Context) (int64, error) {
	retention := time.Duration(a.cfg.UnappliedRetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 20 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-retention)

	deleted, err := a.db.DeleteUnappliedJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理过期岗位失败: %w", err)
	}
	if deleted > 0 {
		applogger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("清理未投递的过期岗位")
	}
	return deleted, nil
}

// parseItem 把feed条目解析成内部岗位结构，无法识别标题约定时回退为整条标题
func parseItem(item *gofeed.Item) (types.FeedItem, bool) {
	if item == nil || strings.TrimSpace(item.Title) == "" {
		return types.FeedItem{}, false
	}

	feedItem := types.FeedItem{
		GUID:        item.GUID,
		Title:       item.Title,
		Description: item.Description,
		Link:        item.Link,
		PublishedAt: item.PublishedParsed,
	}
	if feedItem.Description == "" {
		feedItem.Description = item.Content
	}

	company, position, location := parseTitle(item.Title)
	if company == "" && item.Author != nil {
		company = strings.TrimSpace(item.Author.Name)
	}
	if company == "" || position == "" {
		return types.FeedItem{}, false
	}

	feedItem.Company = company
	feedItem.Position = position
	feedItem.Location = location
	return feedItem, true
}

// parseTitle 依次尝试已知的标题约定
func parseTitle(title string) (company, position, location string) {
	title = strings.TrimSpace(title)

	if m := rssAppTitlePattern.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), strings.TrimSpace(m[3])
	}
	if m := colonTitlePattern.FindStringSubmatch(title); m != nil {
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), ""
	}
	return "", title, ""
}

// extractSalary 从描述中提取第一段薪资写法
func extractSalary(description string) string {
	if description == "" {
		return ""
	}
	return strings.TrimSpace(salaryPattern.FindString(description))
}

// JobDedupKey 计算岗位去重键：规范化 title|company|location 的SHA-256
func JobDedupKey(title, company, location string) string {
	normalized := normalizeKeyPart(title) + "|" + normalizeKeyPart(company) + "|" + normalizeKeyPart(location)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func normalizeKeyPart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
