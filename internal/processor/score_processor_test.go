package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"job-agent-go/internal/config"
	"job-agent-go/internal/storage"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeScoreStore 内存版ScoreStore
type fakeScoreStore struct {
	jobs        map[string]*models.JobListing
	profiles    map[string]*models.UserProfile
	unscoredIDs []string
	savedScores []models.JobScore
	outboxMsgs  []models.OutboxMessage
	upsertErr   error
}

func newFakeScoreStore() *fakeScoreStore {
	return &fakeScoreStore{
		jobs:     map[string]*models.JobListing{},
		profiles: map[string]*models.UserProfile{},
	}
}

func (f *fakeScoreStore) GetJobByID(ctx context.Context, jobID string) (*models.JobListing, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return job, nil
}

func (f *fakeScoreStore) GetProfileByID(ctx context.Context, profileID string) (*models.UserProfile, error) {
	profile, ok := f.profiles[profileID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return profile, nil
}

func (f *fakeScoreStore) GetProfileByUserID(ctx context.Context, userID string) (*models.UserProfile, error) {
	for _, p := range f.profiles {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeScoreStore) ListUnscoredJobIDs(ctx context.Context, profileID string, limit int) ([]string, error) {
	return f.unscoredIDs, nil
}

func (f *fakeScoreStore) UpsertJobScore(ctx context.Context, score *models.JobScore) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.savedScores = append(f.savedScores, *score)
	return nil
}

func (f *fakeScoreStore) CreateOutboxMessageTx(tx *gorm.DB, msg *models.OutboxMessage) error {
	f.outboxMsgs = append(f.outboxMsgs, *msg)
	return nil
}

func (f *fakeScoreStore) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// fakeScorer 返回固定评分结果，可携带降级错误
type fakeScorer struct {
	result *types.JobScoreResult
	err    error
}

func (s fakeScorer) Score(ctx context.Context, jobTitle, company, location, description, profileText string) (*types.JobScoreResult, error) {
	return s.result, s.err
}

func (s fakeScorer) ModelVersion() string { return "qwen-plus-test" }

func seedScoreStore(store *fakeScoreStore) {
	store.jobs["job-1"] = &models.JobListing{
		JobID: "job-1", Title: "Software Engineer, Backend", Company: "Glean",
		Location: "Palo Alto, CA", Description: "Go/分布式系统经验优先",
	}
	store.profiles["profile-1"] = &models.UserProfile{
		ProfileID: "profile-1", UserID: "user-1",
		FullName: "王浩宇", Summary: "五年后端开发经验，主攻Go与分布式系统",
	}
}

func mqTestConfig() *config.RabbitMQConfig {
	return &config.RabbitMQConfig{
		JobEventsExchange: "job.events",
		ScoreRoutingKey:   "job.score",
		ScoringQueue:      "job.scoring.queue",
	}
}

func TestScoreJobPersistsResult(t *testing.T) {
	store := newFakeScoreStore()
	seedScoreStore(store)

	proc := NewScoreProcessor(store, nil, nil, fakeScorer{result: &types.JobScoreResult{
		Score: 85, Confidence: 90, Reasoning: "技能与岗位要求高度吻合",
	}}, mqTestConfig(), nil)

	score, err := proc.ScoreJob(context.Background(), "job-1", "profile-1")

	require.NoError(t, err)
	assert.Equal(t, 85, score.Score)
	assert.Equal(t, "qwen-plus-test", score.ModelVersion, "应记录评分模型版本")
	require.Len(t, store.savedScores, 1)
	assert.Equal(t, "job-1", store.savedScores[0].JobID)
	require.NotNil(t, store.savedScores[0].ScoredAt)
}

func TestScoreJobPersistsFallbackOnLLMFailure(t *testing.T) {
	// 评分器降级时返回保底结果和错误，保底结果仍需落库
	store := newFakeScoreStore()
	seedScoreStore(store)

	proc := NewScoreProcessor(store, nil, nil, fakeScorer{
		result: &types.JobScoreResult{Score: 50, Confidence: 30, Reasoning: "analysis_failed"},
		err:    errors.New("llm timeout"),
	}, mqTestConfig(), nil)

	score, err := proc.ScoreJob(context.Background(), "job-1", "profile-1")

	require.NoError(t, err, "降级评分不应向上抛错")
	assert.Equal(t, 50, score.Score, "应落库保底分数")
	assert.Equal(t, "analysis_failed", score.Reasoning)
	require.Len(t, store.savedScores, 1)
}

func TestScoreJobUnknownJob(t *testing.T) {
	store := newFakeScoreStore()
	proc := NewScoreProcessor(store, nil, nil, fakeScorer{result: &types.JobScoreResult{}}, mqTestConfig(), nil)

	_, err := proc.ScoreJob(context.Background(), "job-missing", "profile-1")

	require.Error(t, err)
	assert.True(t, storage.IsRecordNotFound(err), "岗位不存在应可识别为record not found")
}

func TestEnqueueUnscoredJobsWritesOutbox(t *testing.T) {
	store := newFakeScoreStore()
	seedScoreStore(store)
	store.unscoredIDs = []string{"job-1", "job-2", "job-3"}

	proc := NewScoreProcessor(store, nil, nil, fakeScorer{result: &types.JobScoreResult{}}, mqTestConfig(), nil)
	count, err := proc.EnqueueUnscoredJobs(context.Background(), "user-1", "rescore")

	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, store.outboxMsgs, 3, "每个未评分岗位应各有一条outbox消息")

	var msg storage.ScoreJobMessage
	require.NoError(t, json.Unmarshal([]byte(store.outboxMsgs[0].Payload), &msg))
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, "profile-1", msg.ProfileID)
	assert.Equal(t, "rescore", msg.Trigger)
	assert.Equal(t, "job.score", store.outboxMsgs[0].TargetRoutingKey)
}

func TestEnqueueUnscoredJobsEmpty(t *testing.T) {
	store := newFakeScoreStore()
	seedScoreStore(store)

	proc := NewScoreProcessor(store, nil, nil, fakeScorer{result: &types.JobScoreResult{}}, mqTestConfig(), nil)
	count, err := proc.EnqueueUnscoredJobs(context.Background(), "user-1", "rescore")

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, store.outboxMsgs)
}

func TestHandleScoreMessage(t *testing.T) {
	store := newFakeScoreStore()
	seedScoreStore(store)
	proc := NewScoreProcessor(store, nil, nil, fakeScorer{result: &types.JobScoreResult{Score: 70, Confidence: 80}}, mqTestConfig(), nil)

	valid, _ := json.Marshal(storage.ScoreJobMessage{JobID: "job-1", ProfileID: "profile-1", EnqueueAt: time.Now().Unix()})
	deleted, _ := json.Marshal(storage.ScoreJobMessage{JobID: "job-gone", ProfileID: "profile-1"})

	tests := []struct {
		name    string
		body    []byte
		wantAck bool
	}{
		{"正常消息评分后ack", valid, true},
		{"消息体损坏直接丢弃", []byte("{not json"), true},
		{"缺少job_id直接丢弃", []byte(`{"profile_id":"profile-1"}`), true},
		{"岗位已被清理跳过", deleted, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAck, proc.handleScoreMessage(tt.body), "ack行为不符合预期")
		})
	}
	require.Len(t, store.savedScores, 1, "只有正常消息应产生评分记录")
}

func TestHandleScoreMessageRequeuesOnStoreFailure(t *testing.T) {
	store := newFakeScoreStore()
	seedScoreStore(store)
	store.upsertErr = errors.New("mysql connection lost")

	proc := NewScoreProcessor(store, nil, nil, fakeScorer{result: &types.JobScoreResult{Score: 70}}, mqTestConfig(), nil)
	body, _ := json.Marshal(storage.ScoreJobMessage{JobID: "job-1", ProfileID: "profile-1"})

	assert.False(t, proc.handleScoreMessage(body), "落库失败应nack重回队列")
}
