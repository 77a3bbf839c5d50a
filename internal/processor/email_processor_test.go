package processor

import (
	"context"
	"testing"
	"time"

	"job-agent-go/internal/agent"
	"job-agent-go/internal/config"
	"job-agent-go/internal/gmail"
	"job-agent-go/internal/parser"
	"job-agent-go/internal/storage/models"
	"job-agent-go/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

// fakeEmailStore 内存版EmailStore，记录流水线产生的所有写操作
type fakeEmailStore struct {
	apps          []models.JobApplication
	existingIDs   map[string]bool
	events        []models.EmailEvent
	outboxMsgs    []models.OutboxMessage
	statusChanges []string // "appID:old->new"

	conn            *models.UserGmailConnection
	connUpdates     map[string]interface{}
	cursorHistoryID uint64
	cursorProcessed int64
}

func newFakeEmailStore(apps ...models.JobApplication) *fakeEmailStore {
	return &fakeEmailStore{apps: apps, existingIDs: map[string]bool{}}
}

func (f *fakeEmailStore) GetGmailConnection(ctx context.Context, userID string) (*models.UserGmailConnection, error) {
	if f.conn == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.conn, nil
}

func (f *fakeEmailStore) SaveGmailConnection(ctx context.Context, conn *models.UserGmailConnection) error {
	f.conn = conn
	return nil
}

func (f *fakeEmailStore) ListGmailConnections(ctx context.Context) ([]models.UserGmailConnection, error) {
	if f.conn == nil {
		return nil, nil
	}
	return []models.UserGmailConnection{*f.conn}, nil
}

func (f *fakeEmailStore) UpdateGmailConnectionFields(ctx context.Context, userID string, updates map[string]interface{}) error {
	f.connUpdates = updates
	return nil
}

func (f *fakeEmailStore) UpdateGmailSyncCursor(ctx context.Context, userID string, historyID uint64, processed int64, syncedAt time.Time) error {
	f.cursorHistoryID = historyID
	f.cursorProcessed = processed
	return nil
}

func (f *fakeEmailStore) CreateSyncLog(ctx context.Context, syncLog *models.EmailSyncLog) error {
	syncLog.SyncID = 1
	return nil
}

func (f *fakeEmailStore) FinishSyncLog(ctx context.Context, syncID uint64, updates map[string]interface{}) error {
	return nil
}

func (f *fakeEmailStore) EmailEventExists(ctx context.Context, gmailMessageID string) (bool, error) {
	return f.existingIDs[gmailMessageID], nil
}

func (f *fakeEmailStore) CreateEmailEventTx(tx *gorm.DB, event *models.EmailEvent) error {
	f.events = append(f.events, *event)
	f.existingIDs[event.GmailMessageID] = true
	return nil
}

func (f *fakeEmailStore) CreateOutboxMessageTx(tx *gorm.DB, msg *models.OutboxMessage) error {
	f.outboxMsgs = append(f.outboxMsgs, *msg)
	return nil
}

func (f *fakeEmailStore) ListActiveApplicationsByUser(ctx context.Context, userID string) ([]models.JobApplication, error) {
	var open []models.JobApplication
	for _, app := range f.apps {
		for _, s := range models.OpenApplicationStatuses {
			if app.Status == s {
				open = append(open, app)
				break
			}
		}
	}
	return open, nil
}

func (f *fakeEmailStore) UpdateApplicationStatusTx(tx *gorm.DB, app *models.JobApplication, newStatus, source string, at time.Time) error {
	f.statusChanges = append(f.statusChanges, app.ApplicationID+":"+app.Status+"->"+newStatus)
	for i := range f.apps {
		if f.apps[i].ApplicationID == app.ApplicationID {
			f.apps[i].Status = newStatus
		}
	}
	app.Status = newStatus
	return nil
}

func (f *fakeEmailStore) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// staticClassifier 返回固定分类结果
type staticClassifier struct {
	result *types.EmailClassification
}

func (c staticClassifier) Classify(ctx context.Context, email *types.InboundEmail) *types.EmailClassification {
	return c.result
}

func recentApplication(appID, company, title, status string) models.JobApplication {
	created := time.Now().Add(-48 * time.Hour)
	return models.JobApplication{
		ApplicationID: appID,
		JobID:         "job-" + appID,
		UserID:        "user-1",
		Status:        status,
		CreatedAt:     created,
		Job: &models.JobListing{
			JobID:     "job-" + appID,
			Title:     title,
			Company:   company,
			CreatedAt: created,
		},
	}
}

func confirmationEmail(msgID string) *types.InboundEmail {
	return &types.InboundEmail{
		MessageID:  msgID,
		Sender:     "no-reply@us.greenhouse-mail.io",
		Subject:    "Thank you for applying to Glean",
		Snippet:    "We have received your application",
		Body:       "Thank you for your interest in Glean! We have received your application for the Software Engineer, Backend position.",
		ReceivedAt: time.Now().Unix(),
	}
}

func newTestProcessor(store *fakeEmailStore, classifier EmailClassifier) *EmailProcessor {
	return NewEmailProcessor(store, nil, classifier,
		&config.GmailConfig{SyncLookbackDays: 7, SyncBatchLimit: 50},
		&config.RabbitMQConfig{JobEventsExchange: "job.events"}, nil)
}

func TestProcessEmailSkipsAlreadyProcessed(t *testing.T) {
	store := newFakeEmailStore()
	store.existingIDs["msg-dup"] = true

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category: types.CategoryApplicationConfirmation, Confidence: 0.95,
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-dup"))

	require.NoError(t, err)
	assert.True(t, result.Skipped, "重复邮件应被跳过")
	assert.Empty(t, store.events, "重复邮件不应再写入事件")
}

func TestProcessEmailNotJobRelatedPersistsNothing(t *testing.T) {
	store := newFakeEmailStore(recentApplication("app-1", "Glean", "Software Engineer", models.ApplicationStatusInterested))

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category: types.CategoryNotJobRelated, Confidence: 0.99,
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-spam"))

	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Empty(t, store.events, "非求职邮件不应落库")
	assert.Empty(t, store.statusChanges, "非求职邮件不应触发状态流转")
}

func TestProcessEmailLowConfidencePersistsNothing(t *testing.T) {
	store := newFakeEmailStore()

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category: types.CategoryApplicationConfirmation, Confidence: 0.4,
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-lowconf"))

	require.NoError(t, err)
	assert.Empty(t, store.events, "置信度低于阈值时不应落库")
	assert.Equal(t, types.CategoryApplicationConfirmation, result.Category)
}

func TestProcessEmailConfirmationAutoUpdatesStatus(t *testing.T) {
	// 端到端场景：Greenhouse确认邮件命中进行中的Glean申请，自动流转到APPLIED
	store := newFakeEmailStore(recentApplication("app-glean", "Glean", "Software Engineer, Backend", models.ApplicationStatusInterested))

	mockLLM := agent.NewMockChatClient(`{
		"email_type": "application_confirmation",
		"confidence_score": 0.92,
		"company_name": "Glean",
		"job_title": "Software Engineer, Backend",
		"sentiment": "positive",
		"reasoning": "Greenhouse发出的投递确认邮件"
	}`, nil)
	classifier := parser.NewLLMEmailClassifier(mockLLM, nil)

	proc := newTestProcessor(store, classifier)
	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-glean-1"))

	require.NoError(t, err)
	assert.True(t, result.Matched, "应匹配到Glean的申请记录")
	assert.Equal(t, "app-glean", result.ApplicationID)
	assert.True(t, result.StatusUpdated, "高分匹配应触发自动流转")
	assert.Equal(t, models.ApplicationStatusApplied, result.NewStatus)

	require.Len(t, store.events, 1, "应写入一条邮件事件")
	event := store.events[0]
	assert.Equal(t, "msg-glean-1", event.GmailMessageID)
	assert.True(t, event.StatusUpdated)
	require.NotNil(t, event.MatchedApplicationID)
	assert.Equal(t, "app-glean", *event.MatchedApplicationID)

	require.Len(t, store.outboxMsgs, 1, "状态变更应写入outbox")
	assert.Equal(t, "ApplicationStatusChanged", store.outboxMsgs[0].EventType)
	assert.Equal(t, "job.events", store.outboxMsgs[0].TargetExchange)

	require.Len(t, store.statusChanges, 1)
	assert.Equal(t, "app-glean:INTERESTED->APPLIED", store.statusChanges[0])
}

func TestProcessEmailModerateMatchRecordsWithoutUpdate(t *testing.T) {
	// 公司名完全一致但职位完全不同：匹配分落在接受线与自动流转线之间
	store := newFakeEmailStore(recentApplication("app-acct", "Glean", "Accountant", models.ApplicationStatusInterested))

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category:   types.CategoryApplicationConfirmation,
		Confidence: 0.9,
		Company:    "Glean",
		JobTitle:   "Software Engineer, Backend",
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-mid"))

	require.NoError(t, err)
	assert.True(t, result.Matched, "匹配分过线应记录匹配结果")
	assert.False(t, result.StatusUpdated, "匹配分不足不应自动流转")
	assert.Empty(t, store.statusChanges)
	assert.Empty(t, store.outboxMsgs, "未流转不应产生outbox消息")

	require.Len(t, store.events, 1)
	assert.False(t, store.events[0].StatusUpdated)
	require.NotNil(t, store.events[0].MatchScore, "匹配分应随事件一并记录")
}

func TestProcessEmailNoCandidateMatch(t *testing.T) {
	store := newFakeEmailStore(recentApplication("app-other", "Initech", "Payroll Specialist", models.ApplicationStatusApplied))

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category:   types.CategoryInterviewInvitation,
		Confidence: 0.9,
		Company:    "Globex Corporation",
		JobTitle:   "Site Reliability Engineer",
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-nomatch"))

	require.NoError(t, err)
	assert.False(t, result.Matched, "无关公司不应匹配任何申请")
	require.Len(t, store.events, 1, "求职相关邮件即使未匹配也应落库")
	assert.Nil(t, store.events[0].MatchedApplicationID)
}

func TestProcessEmailOfferLetterMovesToHired(t *testing.T) {
	store := newFakeEmailStore(recentApplication("app-offer", "Glean", "Software Engineer, Backend", models.ApplicationStatusInterviewed))

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category:   types.CategoryOfferLetter,
		Confidence: 0.95,
		Company:    "Glean",
		JobTitle:   "Software Engineer, Backend",
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-offer"))

	require.NoError(t, err)
	assert.True(t, result.StatusUpdated)
	assert.Equal(t, models.ApplicationStatusHired, result.NewStatus, "录用通知应流转到HIRED")
}

func TestProcessEmailSameStatusIsIdempotent(t *testing.T) {
	// 申请已是APPLIED，再次收到确认邮件不应产生重复流转
	store := newFakeEmailStore(recentApplication("app-dup", "Glean", "Software Engineer, Backend", models.ApplicationStatusApplied))

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category:   types.CategoryApplicationConfirmation,
		Confidence: 0.92,
		Company:    "Glean",
		JobTitle:   "Software Engineer, Backend",
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-again"))

	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.False(t, result.StatusUpdated, "状态已一致不应重复流转")
	assert.Empty(t, store.statusChanges)
	assert.Empty(t, store.outboxMsgs)
}

// fakeEmailFetcher 返回固定邮件列表，记录是否被调用
type fakeEmailFetcher struct {
	emails []types.InboundEmail
	called bool
}

func (f *fakeEmailFetcher) FetchRecentMessages(ctx context.Context, lookbackDays, limit int) ([]types.InboundEmail, error) {
	f.called = true
	return f.emails, nil
}

func authorizedConn(historyID uint64) *models.UserGmailConnection {
	expiry := time.Now().Add(time.Hour)
	return &models.UserGmailConnection{
		UserID:            "user-1",
		EmailAddress:      "me@example.com",
		AccessToken:       "tok",
		RefreshToken:      "refresh",
		TokenExpiry:       &expiry,
		IsAuthorized:      true,
		SyncEnabled:       true,
		AutoUpdateEnabled: true,
		LastHistoryID:     historyID,
	}
}

func newSyncTestProcessor(t *testing.T, store *fakeEmailStore, classifier EmailClassifier, fetcher EmailFetcher) *EmailProcessor {
	t.Helper()
	oauth, err := gmail.NewOAuthManager(&config.GmailConfig{ClientID: "client", ClientSecret: "secret"})
	require.NoError(t, err)
	return NewEmailProcessor(store, oauth, classifier,
		&config.GmailConfig{SyncLookbackDays: 7, SyncBatchLimit: 50},
		&config.RabbitMQConfig{JobEventsExchange: "job.events"}, nil,
		WithEmailFetcherFactory(func(ctx context.Context, ts oauth2.TokenSource) (EmailFetcher, error) {
			return fetcher, nil
		}))
}

func TestSyncUserSkipsWhenUnauthorized(t *testing.T) {
	store := newFakeEmailStore()
	store.conn = authorizedConn(10)
	store.conn.IsAuthorized = false

	fetcher := &fakeEmailFetcher{}
	proc := newSyncTestProcessor(t, store, staticClassifier{result: &types.EmailClassification{
		Category: types.CategoryNotJobRelated, Confidence: 0.99,
	}}, fetcher)

	result, err := proc.SyncUser(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, result.Skipped, "未授权的连接应被跳过")
	assert.False(t, fetcher.called, "跳过时不应去拉取邮件")
}

func TestSyncUserSkipsWhenSyncDisabled(t *testing.T) {
	store := newFakeEmailStore()
	store.conn = authorizedConn(10)
	store.conn.SyncEnabled = false

	fetcher := &fakeEmailFetcher{}
	proc := newSyncTestProcessor(t, store, staticClassifier{result: &types.EmailClassification{
		Category: types.CategoryNotJobRelated, Confidence: 0.99,
	}}, fetcher)

	result, err := proc.SyncUser(context.Background(), "user-1")

	require.NoError(t, err)
	assert.True(t, result.Skipped, "关闭同步的用户应被跳过")
	assert.False(t, fetcher.called)
}

func TestSyncUserAdvancesHistoryCursor(t *testing.T) {
	store := newFakeEmailStore()
	store.conn = authorizedConn(10)

	email1 := *confirmationEmail("msg-h1")
	email1.HistoryID = 41
	email2 := *confirmationEmail("msg-h2")
	email2.HistoryID = 42
	fetcher := &fakeEmailFetcher{emails: []types.InboundEmail{email1, email2}}

	proc := newSyncTestProcessor(t, store, staticClassifier{result: &types.EmailClassification{
		Category: types.CategoryNotJobRelated, Confidence: 0.99,
	}}, fetcher)

	result, err := proc.SyncUser(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Equal(t, 2, result.MessagesFetched)
	assert.Equal(t, uint64(42), store.cursorHistoryID, "游标应推进到批次内最大的history id")
	assert.Equal(t, int64(2), store.cursorProcessed, "处理计数应随游标一并累加")
}

func TestSyncUserAutoUpdateDisabledOnlyRecordsMatch(t *testing.T) {
	// 用户关闭自动流转：高分匹配照常记录，但申请状态保持不变
	store := newFakeEmailStore(recentApplication("app-glean", "Glean", "Software Engineer, Backend", models.ApplicationStatusInterested))
	store.conn = authorizedConn(10)
	store.conn.AutoUpdateEnabled = false

	email := *confirmationEmail("msg-noauto")
	email.HistoryID = 11
	fetcher := &fakeEmailFetcher{emails: []types.InboundEmail{email}}

	proc := newSyncTestProcessor(t, store, staticClassifier{result: &types.EmailClassification{
		Category:   types.CategoryApplicationConfirmation,
		Confidence: 0.92,
		Company:    "Glean",
		JobTitle:   "Software Engineer, Backend",
	}}, fetcher)

	result, err := proc.SyncUser(context.Background(), "user-1")

	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Matched, "匹配结果应照常记录")
	assert.False(t, result.Results[0].StatusUpdated, "关闭自动流转后不应更新状态")
	assert.Empty(t, store.statusChanges)
	assert.Empty(t, store.outboxMsgs)
	require.Len(t, store.events, 1)
	require.NotNil(t, store.events[0].MatchedApplicationID)
}

func TestProcessEmailStatusUpdateCategoryNeverAutoUpdates(t *testing.T) {
	// status_update 类别没有目标状态，即使匹配分很高也只记录不流转
	store := newFakeEmailStore(recentApplication("app-su", "Glean", "Software Engineer, Backend", models.ApplicationStatusApplied))

	proc := newTestProcessor(store, staticClassifier{result: &types.EmailClassification{
		Category:   types.CategoryStatusUpdate,
		Confidence: 0.95,
		Company:    "Glean",
		JobTitle:   "Software Engineer, Backend",
	}})

	result, err := proc.ProcessEmail(context.Background(), "user-1", confirmationEmail("msg-su"))

	require.NoError(t, err)
	assert.False(t, result.StatusUpdated)
	require.Len(t, store.events, 1)
	assert.Empty(t, store.statusChanges)
}
