package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/model"
	"github.com/qs3c/cv_score_server/internal/pkg/pdftext"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/pkg/scoring"
	"github.com/qs3c/cv_score_server/internal/repository"
	"github.com/qs3c/cv_score_server/internal/testutil"
)

const validScores = `{
  "experienceScore": 80,
  "educationScore": 71,
  "skillsScore": 90,
  "experienceAnalysis": "Six years of backend work",
  "educationAnalysis": "BSc Computer Science",
  "skillsAnalysis": "Strong Go and SQL",
  "overallFeedback": "Good fit for a senior role",
  "yearsOfExperience": 6,
  "educationLevel": "Bachelor",
  "keySkills": ["Go", "MySQL", "Redis"],
  "jobTitles": ["Backend Engineer"],
  "companies": ["Acme"]
}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fileServer 模拟对象存储的下载地址
type fileServer struct {
	mu     sync.Mutex
	files  map[string][]byte
	server *httptest.Server
}

func newFileServer(t *testing.T) *fileServer {
	t.Helper()
	fs := &fileServer{files: make(map[string][]byte)}
	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		data, ok := fs.files[strings.TrimPrefix(r.URL.Path, "/")]
		fs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fileServer) Put(key string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[key] = data
}

func (fs *fileServer) PresignedDownloadURL(objectKey string) (string, error) {
	return fs.server.URL + "/" + objectKey, nil
}

type fakeScorer struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeScorer) Score(ctx context.Context, prompt string) (*scoring.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &scoring.Response{Text: f.text, Model: "fake-model", TokensUsed: 321}, nil
}

func (f *fakeScorer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*pubsub.ProgressMessage
}

func (p *recordingPublisher) PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error {
	msg.Fill()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) Steps(cvID int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var steps []string
	for _, m := range p.messages {
		if m.CVID == cvID {
			steps = append(steps, m.Step)
		}
	}
	return steps
}

type failingLogStore struct{}

func (failingLogStore) Create(entry *model.ProcessingLog) error {
	return errors.New("log table unavailable")
}

// pipeline 基于 SQLite 和内存队列组装的完整流水线
type pipeline struct {
	db          *gorm.DB
	cvs         *repository.CVRepository
	logs        *repository.ProcessingLogRepository
	analyses    *repository.AnalysisRepository
	clock       *fakeClock
	extractionQ *queue.MemoryQueue
	analysisQ   *queue.MemoryQueue
	files       *fileServer
	scorer      *fakeScorer
	publisher   *recordingPublisher
	recorder    *Recorder
	extraction  *ExtractionStage
	analysis    *AnalysisStage
}

func newPipeline(t *testing.T, attempts int) *pipeline {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	clock := newFakeClock()
	opts := queue.DefaultQueueOptions()
	opts.DefaultJobOptions.Attempts = attempts
	opts.DefaultJobOptions.Backoff = queue.Backoff{Type: queue.BackoffExponential, Delay: 2 * time.Second}
	opts.Now = clock.Now

	p := &pipeline{
		db:          db,
		cvs:         repository.NewCVRepository(db),
		logs:        repository.NewProcessingLogRepository(db),
		analyses:    repository.NewAnalysisRepository(db),
		clock:       clock,
		extractionQ: queue.NewMemoryQueue("cv_extraction", opts),
		analysisQ:   queue.NewMemoryQueue("cv_analysis", opts),
		files:       newFileServer(t),
		scorer:      &fakeScorer{text: validScores},
		publisher:   &recordingPublisher{},
	}

	p.recorder = NewRecorder(p.logs, nil)
	p.extraction = p.newExtractionStage(p.cvs, p.files)
	p.analysis = NewAnalysisStage(p.cvs, p.analyses, p.scorer, p.analysisQ,
		p.recorder, p.publisher, &config.ScoringConfig{Model: "gemini-test", MaxInputChars: 30000, TimeoutSeconds: 5}, nil)
	return p
}

// newExtractionStage 用替换后的存储组装提取阶段
func (p *pipeline) newExtractionStage(cvs CVStore, storage Storage) *ExtractionStage {
	return NewExtractionStage(cvs, storage, pdftext.New(), p.extractionQ, p.analysisQ,
		p.recorder, p.publisher, &config.UploadConfig{MaxSize: 1 << 20, DownloadTimeoutSeconds: 5}, nil)
}

// hangingStorage 下载请求一直挂起，直到客户端断开
type hangingStorage struct {
	server  *httptest.Server
	started chan struct{}
	once    sync.Once
}

func newHangingStorage(t *testing.T) *hangingStorage {
	t.Helper()
	h := &hangingStorage{started: make(chan struct{})}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.once.Do(func() { close(h.started) })
		<-r.Context().Done()
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *hangingStorage) PresignedDownloadURL(objectKey string) (string, error) {
	return h.server.URL + "/" + objectKey, nil
}

// faultyCVStore 按配置让部分简历操作返回错误
type faultyCVStore struct {
	CVStore
	getErr   error
	startErr error
}

func (f *faultyCVStore) GetByID(id int64) (*model.CV, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.CVStore.GetByID(id)
}

func (f *faultyCVStore) StartExtraction(id int64, jobID string) error {
	if f.startErr != nil {
		return f.startErr
	}
	return f.CVStore.StartExtraction(id, jobID)
}

// uploadCV 创建一份纯文本简历并放入模拟存储
func (p *pipeline) uploadCV(t *testing.T, userID int64, content string) *model.CV {
	t.Helper()
	cv := testutil.TestCV(t, p.db, userID,
		testutil.WithMimeType(pdftext.MimeText),
		testutil.WithFilename("resume.txt"),
	)
	p.files.Put(cv.StorageKey, []byte(content))
	return cv
}

func (p *pipeline) enqueueExtraction(t *testing.T, cv *model.CV) *queue.Job {
	t.Helper()
	job, err := p.extractionQ.Enqueue(context.Background(), &ExtractionPayload{
		CVID:       cv.ID,
		UserID:     cv.UserID,
		Filename:   cv.OriginalFilename,
		StorageKey: cv.StorageKey,
		FileSize:   cv.FileSize,
		MimeType:   cv.MimeType,
	}, nil)
	require.NoError(t, err)
	return job
}

func (p *pipeline) reload(t *testing.T, id int64) *model.CV {
	t.Helper()
	cv, err := p.cvs.GetByID(id)
	require.NoError(t, err)
	return cv
}

func (p *pipeline) logEntries(t *testing.T, cvID int64) []*model.ProcessingLog {
	t.Helper()
	entries, err := p.logs.ListByCVID(cvID)
	require.NoError(t, err)
	return entries
}

// runNext 领取一个任务并按消费者池的方式确认或记录失败
func runNext(t *testing.T, q queue.Queue, handler Handler) (*queue.Job, error) {
	t.Helper()
	ctx := context.Background()

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job, "expected a ready job in %s", q.Name())

	handleErr := handler(ctx, job)
	if handleErr == nil {
		require.NoError(t, q.Ack(ctx, job))
	} else {
		_, err := q.Fail(ctx, job, handleErr)
		require.NoError(t, err)
	}
	return job, handleErr
}

func logStatuses(entries []*model.ProcessingLog) []string {
	statuses := make([]string, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, e.Status)
	}
	return statuses
}

func countStatus(entries []*model.ProcessingLog, status model.CVStatus) int {
	n := 0
	for _, e := range entries {
		if e.Status == string(status) {
			n++
		}
	}
	return n
}
