package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"interviewly/internal/cv"
	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/errcode"
	"interviewly/internal/llm"
	"interviewly/internal/quota"
	"interviewly/internal/tasks"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) PresignGet(_ context.Context, key string, _ time.Duration, _ string) (string, error) {
	return "https://files.test/" + key, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs map[uint][]TaskNotifyMessage
}

func (n *recordingNotifier) Notify(_ context.Context, userID uint, msg TaskNotifyMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs[userID] = append(n.msgs[userID], msg)
	return nil
}

type renderFunc func(string) ([]byte, error)

func (f renderFunc) Render(_ context.Context, html string) ([]byte, error) { return f(html) }

type fixture struct {
	db       *gorm.DB
	store    *memStore
	notifier *recordingNotifier
	handler  *CVTaskHandler
	user     database.User
}

func newFixture(t *testing.T, renderer cv.Renderer) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	store := &memStore{objects: map[string][]byte{}}
	svc := cv.NewService(db, store, nil, nil, llm.NewService(nil, nil, nil, nil), nil)
	notifier := &recordingNotifier{msgs: map[uint][]TaskNotifyMessage{}}
	return &fixture{
		db:       db,
		store:    store,
		notifier: notifier,
		handler:  NewCVTaskHandler(db, svc, renderer, notifier, nil),
		user:     dbtest.CreateUser(t, db, "worker@example.com", database.RoleCandidate),
	}
}

func (f *fixture) analysis(t *testing.T, filename string, data []byte) *database.CVAnalysis {
	t.Helper()
	key := "cv-uploads/test/" + filename
	f.store.objects[key] = data
	row := &database.CVAnalysis{UserID: f.user.ID, Filename: filename, ObjectKey: key, Status: database.StatusPending}
	if err := f.db.Create(row).Error; err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	return row
}

func TestProcessAnalyzeCompletes(t *testing.T) {
	f := newFixture(t, nil)
	row := f.analysis(t, "cv.txt", []byte("Backend engineer.\nGo, PostgreSQL, Kubernetes and a lot of production experience."))
	task, _ := tasks.NewCVAnalyzeTask(row.ID, "corr-9")

	if err := f.handler.ProcessAnalyze(context.Background(), task); err != nil {
		t.Fatalf("process: %v", err)
	}
	var stored database.CVAnalysis
	f.db.First(&stored, row.ID)
	if stored.Status != database.StatusCompleted || stored.ATSScore == nil || stored.ExtractedText == "" {
		t.Fatalf("unexpected row %+v", stored)
	}
	msgs := f.notifier.msgs[f.user.ID]
	if len(msgs) != 1 || msgs[0].Status != StatusCompleted || msgs[0].EntityID != row.ID || msgs[0].CorrelationID != "corr-9" || msgs[0].Type != tasks.TypeCVAnalyze {
		t.Fatalf("unexpected notifications %+v", msgs)
	}
}

func TestProcessAnalyzeMissingRowIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	task, _ := tasks.NewCVAnalyzeTask(404, "")
	if err := f.handler.ProcessAnalyze(context.Background(), task); err != nil {
		t.Fatalf("expected nil for missing row, got %v", err)
	}
}

func TestProcessAnalyzeExtractionFailureSkipsRetry(t *testing.T) {
	f := newFixture(t, nil)
	row := f.analysis(t, "broken.pdf", []byte("not a pdf"))
	task, _ := tasks.NewCVAnalyzeTask(row.ID, "corr")

	err := f.handler.ProcessAnalyze(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	var stored database.CVAnalysis
	f.db.First(&stored, row.ID)
	if stored.Status != database.StatusFailed || stored.ErrorMessage == "" {
		t.Fatalf("expected failed row, got %+v", stored)
	}
	msgs := f.notifier.msgs[f.user.ID]
	if len(msgs) != 1 || msgs[0].Status != StatusError || msgs[0].ErrorCode != errcode.SystemError {
		t.Fatalf("unexpected notifications %+v", msgs)
	}
}

func TestProcessExport(t *testing.T) {
	var rendered string
	f := newFixture(t, renderFunc(func(html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF"), nil
	}))
	rewrite := database.CVRewrite{UserID: f.user.ID, Style: "modern", Status: database.StatusCompleted, RewrittenText: "SUMMARY\nGo engineer"}
	if err := f.db.Create(&rewrite).Error; err != nil {
		t.Fatalf("create rewrite: %v", err)
	}
	task, _ := tasks.NewCVExportTask(rewrite.ID, "corr")
	if err := f.handler.ProcessExport(context.Background(), task); err != nil {
		t.Fatalf("export: %v", err)
	}
	var stored database.CVRewrite
	f.db.First(&stored, rewrite.ID)
	if stored.PDFObjectKey == "" || string(f.store.objects[stored.PDFObjectKey]) != "%PDF" || rendered == "" {
		t.Fatalf("pdf not stored: %+v", stored)
	}
}

func TestProcessExportRendererErrorIsRetried(t *testing.T) {
	f := newFixture(t, renderFunc(func(string) ([]byte, error) { return nil, errors.New("chromium crashed") }))
	rewrite := database.CVRewrite{UserID: f.user.ID, Style: "modern", Status: database.StatusCompleted, RewrittenText: "text"}
	f.db.Create(&rewrite)
	task, _ := tasks.NewCVExportTask(rewrite.ID, "corr")

	err := f.handler.ProcessExport(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if len(f.notifier.msgs[f.user.ID]) != 0 {
		t.Fatal("no notification before the final attempt")
	}
	var stored database.CVRewrite
	f.db.First(&stored, rewrite.ID)
	if stored.Status != database.StatusCompleted {
		t.Fatalf("export failure must not touch the rewrite status, got %s", stored.Status)
	}
}

func TestUsageResetHandler(t *testing.T) {
	db := dbtest.Open(t)
	user := dbtest.CreateUser(t, db, "u@example.com", database.RoleCandidate)
	past := time.Now().UTC().AddDate(0, -2, 0)
	rows := []database.UserFeatureUsage{
		{UserID: user.ID, FeatureCode: "cv_analyze", PeriodStart: past, PeriodEnd: past.AddDate(0, 1, 0), UsedCount: 3},
		{UserID: user.ID, FeatureCode: "cv_analyze", PeriodStart: time.Now().UTC(), PeriodEnd: time.Now().UTC().AddDate(0, 1, 0), UsedCount: 1},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed usage: %v", err)
	}
	h := NewUsageResetHandler(quota.NewService(db, nil), nil)
	if err := h.ProcessTask(context.Background(), tasks.NewUsageResetTask()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	var left int64
	db.Model(&database.UserFeatureUsage{}).Count(&left)
	if left != 1 {
		t.Fatalf("expected 1 usage row left, got %d", left)
	}
}
