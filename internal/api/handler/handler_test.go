package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"testing"
	"time"

	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeJobStore 内存版JobStore，覆盖岗位和申请记录的读写
type fakeJobStore struct {
	jobs map[string]*models.JobListing
	apps []*models.JobApplication
}

func newFakeJobStore(jobs ...*models.JobListing) *fakeJobStore {
	s := &fakeJobStore{jobs: map[string]*models.JobListing{}}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeJobStore) ListJobs(ctx context.Context, filter storage.JobListFilter) ([]models.JobListing, int64, error) {
	var out []models.JobListing
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out, int64(len(out)), nil
}

func (s *fakeJobStore) GetJobByID(ctx context.Context, jobID string) (*models.JobListing, error) {
	if j, ok := s.jobs[jobID]; ok {
		return j, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeJobStore) CreateJobListing(ctx context.Context, job *models.JobListing) error {
	s.jobs[job.JobID] = job
	return nil
}

func (s *fakeJobStore) UpdateJobFields(ctx context.Context, jobID string, updates map[string]interface{}) error {
	return nil
}

func (s *fakeJobStore) DeleteJob(ctx context.Context, jobID string) error {
	delete(s.jobs, jobID)
	return nil
}

func (s *fakeJobStore) CreateApplication(ctx context.Context, app *models.JobApplication) error {
	for _, existing := range s.apps {
		if existing.UserID == app.UserID && existing.JobID == app.JobID {
			return gorm.ErrDuplicatedKey
		}
	}
	s.apps = append(s.apps, app)
	return nil
}

func (s *fakeJobStore) GetApplicationByUserAndJob(ctx context.Context, userID, jobID string) (*models.JobApplication, error) {
	for _, app := range s.apps {
		if app.UserID == userID && app.JobID == jobID {
			return app, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeJobStore) UpdateApplicationFields(ctx context.Context, applicationID string, updates map[string]interface{}) error {
	for _, app := range s.apps {
		if app.ApplicationID == applicationID {
			if status, ok := updates["status"].(string); ok {
				app.Status = status
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func newJobTestEngine(store *fakeJobStore) *route.Engine {
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	jobHandler := NewJobHandler(store, nil)
	h.POST("/jobs/:id/apply", jobHandler.MarkApplied)
	return h.Engine
}

func jsonBody(t *testing.T, v interface{}) *ut.Body {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
}

// 同一用户重复标记同一岗位不会产生第二条申请记录
func TestMarkAppliedIsIdempotent(t *testing.T) {
	store := newFakeJobStore(&models.JobListing{JobID: "job-1", Title: "Backend Engineer", Company: "Glean"})
	engine := newJobTestEngine(store)

	body := map[string]string{"user_id": "user-1"}
	header := ut.Header{Key: "Content-Type", Value: "application/json"}

	resp := ut.PerformRequest(engine, "POST", "/jobs/job-1/apply", jsonBody(t, body), header)
	assert.Equal(t, 201, resp.Result().StatusCode(), "首次标记应创建申请记录")
	require.Len(t, store.apps, 1)
	firstID := store.apps[0].ApplicationID

	resp = ut.PerformRequest(engine, "POST", "/jobs/job-1/apply", jsonBody(t, body), header)
	assert.Equal(t, 200, resp.Result().StatusCode(), "重复标记应返回已有记录")
	require.Len(t, store.apps, 1, "不应产生重复申请记录")
	assert.Equal(t, firstID, store.apps[0].ApplicationID)
}

// 状态被邮件流转到后续阶段后重新标记，同一条记录回到APPLIED
func TestMarkAppliedReappliesExistingRecord(t *testing.T) {
	store := newFakeJobStore(&models.JobListing{JobID: "job-1", Title: "Backend Engineer", Company: "Glean"})
	now := time.Now()
	store.apps = append(store.apps, &models.JobApplication{
		ApplicationID: "app-1",
		JobID:         "job-1",
		UserID:        "user-1",
		Status:        models.ApplicationStatusRejected,
		AppliedAt:     &now,
	})
	engine := newJobTestEngine(store)

	resp := ut.PerformRequest(engine, "POST", "/jobs/job-1/apply",
		jsonBody(t, map[string]string{"user_id": "user-1"}),
		ut.Header{Key: "Content-Type", Value: "application/json"})

	assert.Equal(t, 200, resp.Result().StatusCode())
	require.Len(t, store.apps, 1)
	assert.Equal(t, models.ApplicationStatusApplied, store.apps[0].Status, "已有记录应回到APPLIED")
}

// fakeFeedSubStore 内存版FeedStore
type fakeFeedSubStore struct {
	feeds   map[string]*models.FeedSubscription
	updates map[string]interface{}
	summary *storage.FeedHealthSummary
}

func newFakeFeedSubStore(feeds ...*models.FeedSubscription) *fakeFeedSubStore {
	s := &fakeFeedSubStore{feeds: map[string]*models.FeedSubscription{}}
	for _, f := range feeds {
		s.feeds[f.FeedID] = f
	}
	return s
}

func (s *fakeFeedSubStore) ListFeeds(ctx context.Context, enabledOnly bool) ([]models.FeedSubscription, error) {
	var out []models.FeedSubscription
	for _, f := range s.feeds {
		out = append(out, *f)
	}
	return out, nil
}

func (s *fakeFeedSubStore) CreateFeed(ctx context.Context, feed *models.FeedSubscription) error {
	s.feeds[feed.FeedID] = feed
	return nil
}

func (s *fakeFeedSubStore) GetFeedByID(ctx context.Context, feedID string) (*models.FeedSubscription, error) {
	if f, ok := s.feeds[feedID]; ok {
		return f, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *fakeFeedSubStore) UpdateFeedFields(ctx context.Context, feedID string, updates map[string]interface{}) error {
	f, ok := s.feeds[feedID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.updates = updates
	if name, ok := updates["name"].(string); ok {
		f.Name = name
	}
	if kw, ok := updates["keyword_filter"].(string); ok {
		f.KeywordFilter = kw
	}
	if enabled, ok := updates["enabled"].(bool); ok {
		f.Enabled = enabled
	}
	return nil
}

func (s *fakeFeedSubStore) DeleteFeed(ctx context.Context, feedID string) error {
	delete(s.feeds, feedID)
	return nil
}

func (s *fakeFeedSubStore) SummarizeFeedHealth(ctx context.Context) (*storage.FeedHealthSummary, error) {
	return s.summary, nil
}

func newFeedTestEngine(store *fakeFeedSubStore) *route.Engine {
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	feedHandler := NewFeedHandler(store, nil)
	h.GET("/feeds/health", feedHandler.HealthSummary)
	h.PUT("/feeds/:id", feedHandler.UpdateFeed)
	return h.Engine
}

func TestUpdateFeedAppliesFields(t *testing.T) {
	store := newFakeFeedSubStore(&models.FeedSubscription{FeedID: "feed-1", Name: "old", URL: "https://example.com/rss", Enabled: true})
	engine := newFeedTestEngine(store)

	body := map[string]interface{}{
		"name":           "weworkremotely",
		"keyword_filter": "golang,backend",
		"enabled":        false,
	}
	resp := ut.PerformRequest(engine, "PUT", "/feeds/feed-1", jsonBody(t, body),
		ut.Header{Key: "Content-Type", Value: "application/json"})

	assert.Equal(t, 200, resp.Result().StatusCode())
	assert.Equal(t, "weworkremotely", store.feeds["feed-1"].Name)
	assert.Equal(t, "golang,backend", store.feeds["feed-1"].KeywordFilter, "过滤器应可通过更新接口配置")
	assert.False(t, store.feeds["feed-1"].Enabled)
}

func TestUpdateFeedUnknownIDReturns404(t *testing.T) {
	engine := newFeedTestEngine(newFakeFeedSubStore())

	resp := ut.PerformRequest(engine, "PUT", "/feeds/missing",
		jsonBody(t, map[string]string{"name": "x"}),
		ut.Header{Key: "Content-Type", Value: "application/json"})

	assert.Equal(t, 404, resp.Result().StatusCode())
}

func TestFeedHealthSummaryEndpoint(t *testing.T) {
	refreshed := time.Date(2025, 7, 1, 6, 0, 0, 0, time.UTC)
	store := newFakeFeedSubStore()
	store.summary = &storage.FeedHealthSummary{
		TotalFeeds:      3,
		EnabledFeeds:    2,
		DisabledFeeds:   1,
		JobsLastRefresh: 42,
		FeedsWithIssues: 1,
		LastRefreshAt:   &refreshed,
	}
	engine := newFeedTestEngine(store)

	resp := ut.PerformRequest(engine, "GET", "/feeds/health", nil)

	assert.Equal(t, 200, resp.Result().StatusCode())
	var got storage.FeedHealthSummary
	require.NoError(t, json.Unmarshal(resp.Result().Body(), &got))
	assert.Equal(t, int64(3), got.TotalFeeds)
	assert.Equal(t, int64(42), got.JobsLastRefresh, "健康度应汇总最近一轮的入库岗位数")
	assert.Equal(t, int64(1), got.FeedsWithIssues)
}

// 超过10MB的简历上传在进入解析流水线之前就被拒绝
func TestUploadResumeRejectsOversizeFile(t *testing.T) {
	h := server.New(server.WithHostPorts("127.0.0.1:0"), server.WithMaxRequestBodySize(20<<20))
	profileHandler := NewProfileHandler(nil, nil, nil)
	h.POST("/profiles/:user_id/resume", profileHandler.UploadResume)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "resume.pdf")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("a"), maxResumeUploadBytes+1))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp := ut.PerformRequest(h.Engine, "POST", "/profiles/user-1/resume",
		&ut.Body{Body: bytes.NewReader(buf.Bytes()), Len: buf.Len()},
		ut.Header{Key: "Content-Type", Value: writer.FormDataContentType()})

	assert.Equal(t, 400, resp.Result().StatusCode(), "超限文件应被400拒绝")
	assert.Contains(t, string(resp.Result().Body()), "10MB")
}
