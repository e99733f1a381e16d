package cv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/llm"
	"interviewly/internal/storage"
	"interviewly/internal/tasks"
	"interviewly/internal/upload"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return data, nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) PresignGet(_ context.Context, key string, _ time.Duration, filename string) (string, error) {
	return "https://files.test/" + key + "?filename=" + filename, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t", Type: task.Type()}, nil
}

type scannerFunc func([]byte) error

func (f scannerFunc) Scan(_ context.Context, data []byte) error { return f(data) }

type fakeRenderer struct{ html string }

func (r *fakeRenderer) Render(_ context.Context, html string) ([]byte, error) {
	r.html = html
	return []byte("%PDF-1.4 fake"), nil
}

type fixture struct {
	svc   *Service
	db    *gorm.DB
	store *memStore
	queue *fakeQueue
	user  database.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	store := newMemStore()
	queue := &fakeQueue{}
	svc := NewService(db, store, queue, nil, llm.NewService(nil, nil, nil, nil), nil)
	user := dbtest.CreateUser(t, db, "cv@example.com", database.RoleCandidate)
	return &fixture{svc: svc, db: db, store: store, queue: queue, user: user}
}

const sampleCV = "JANE DOE\nBackend engineer with eight years of experience building payment systems.\n\nEXPERIENCE\n• Led migration of billing to Go\n• Reduced p99 latency by 40%"

func (f *fixture) upload(t *testing.T) *database.CVAnalysis {
	t.Helper()
	row, err := f.svc.Upload(context.Background(), f.user.ID, UploadInput{
		File:            &upload.File{Name: "jane.txt", Ext: ".txt", ContentType: "text/plain", Data: []byte(sampleCV)},
		TargetJobTitle:  " Staff Engineer ",
		TargetSeniority: "Senior",
		CorrelationID:   "corr-1",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return row
}

func TestUploadStoresAndQueues(t *testing.T) {
	f := newFixture(t)
	row := f.upload(t)

	if row.Status != database.StatusPending || row.TargetJobTitle != "Staff Engineer" || row.TargetSeniority != "senior" {
		t.Fatalf("unexpected row %+v", row)
	}
	if !strings.HasPrefix(row.ObjectKey, "cv-uploads/") || !strings.HasSuffix(row.ObjectKey, ".txt") {
		t.Fatalf("unexpected object key %q", row.ObjectKey)
	}
	if ok, _ := f.store.Exists(context.Background(), row.ObjectKey); !ok {
		t.Fatalf("object not stored")
	}
	if len(f.queue.tasks) != 1 || f.queue.tasks[0].Type() != tasks.TypeCVAnalyze {
		t.Fatalf("expected one cv:analyze task, got %v", f.queue.tasks)
	}
	var payload tasks.CVAnalyzePayload
	if err := json.Unmarshal(f.queue.tasks[0].Payload(), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.CVAnalysisID != row.ID || payload.CorrelationID != "corr-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	var user database.User
	f.db.First(&user, f.user.ID)
	if user.TotalCVs != 1 {
		t.Fatalf("expected total_cvs 1, got %d", user.TotalCVs)
	}
}

func TestUploadRejectsInfectedFile(t *testing.T) {
	f := newFixture(t)
	f.svc.scanner = scannerFunc(func([]byte) error { return upload.ErrInfected })

	_, err := f.svc.Upload(context.Background(), f.user.ID, UploadInput{
		File: &upload.File{Name: "x.txt", Ext: ".txt", Data: []byte("eicar")},
	})
	if !errors.Is(err, upload.ErrInfected) {
		t.Fatalf("expected ErrInfected, got %v", err)
	}
	if len(f.store.objects) != 0 || len(f.queue.tasks) != 0 {
		t.Fatalf("infected file must not be stored or queued")
	}
}

func TestUploadEnqueueFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")

	_, err := f.svc.Upload(context.Background(), f.user.ID, UploadInput{
		File: &upload.File{Name: "x.txt", Ext: ".txt", Data: []byte(sampleCV)},
	})
	if err == nil {
		t.Fatalf("expected enqueue error")
	}
	var row database.CVAnalysis
	if err := f.db.Last(&row).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.Status != database.StatusFailed {
		t.Fatalf("expected failed status, got %q", row.Status)
	}
}

func TestEnqueueReportsMarkFailure(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")
	task, err := tasks.NewCVAnalyzeTask(1, "")
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	_ = sqlDB.Close()

	err = f.svc.enqueue(context.Background(), task, &database.CVAnalysis{}, 1)
	if err == nil || !strings.Contains(err.Error(), "redis down") || !strings.Contains(err.Error(), "mark failed") {
		t.Fatalf("expected both enqueue and mark errors, got %v", err)
	}
}

func TestRunAnalysis(t *testing.T) {
	f := newFixture(t)
	row := f.upload(t)

	got, err := f.svc.RunAnalysis(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("run analysis: %v", err)
	}
	if got.Status != database.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("expected completed, got %+v", got)
	}
	if !strings.Contains(got.ExtractedText, "Reduced p99 latency") {
		t.Fatalf("extracted text not stored: %q", got.ExtractedText)
	}
	if got.OverallScore == nil || *got.OverallScore < 50 || got.ATSScore == nil || *got.ATSScore != *got.OverallScore-5 {
		t.Fatalf("unexpected scores %v %v", got.OverallScore, got.ATSScore)
	}
	if len(got.Suggestions) == 0 || len(got.ScoresBreakdown) != 5 {
		t.Fatalf("analysis lists not stored: %+v", got)
	}

	again, err := f.svc.RunAnalysis(context.Background(), row.ID)
	if err != nil || again.Status != database.StatusCompleted {
		t.Fatalf("rerun should be a no-op, got %v %v", again, err)
	}
}

func TestRunAnalysisExtractionFailure(t *testing.T) {
	f := newFixture(t)
	row, err := f.svc.Upload(context.Background(), f.user.ID, UploadInput{
		File: &upload.File{Name: "broken.pdf", Ext: ".pdf", Data: []byte("not a pdf")},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := f.svc.RunAnalysis(context.Background(), row.ID); !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	var stored database.CVAnalysis
	f.db.First(&stored, row.ID)
	if stored.Status != database.StatusFailed || !strings.HasPrefix(stored.ErrorMessage, "Text extraction failed") {
		t.Fatalf("unexpected row %+v", stored)
	}
}

func TestRunAnalysisMissingObject(t *testing.T) {
	f := newFixture(t)
	row := f.upload(t)
	if err := f.store.Delete(context.Background(), row.ObjectKey); err != nil {
		t.Fatalf("delete object: %v", err)
	}

	if _, err := f.svc.RunAnalysis(context.Background(), row.ID); !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	var stored database.CVAnalysis
	f.db.First(&stored, row.ID)
	if stored.Status != database.StatusFailed || stored.ErrorMessage != "Uploaded file is no longer available" {
		t.Fatalf("unexpected row %+v", stored)
	}
}

func TestRunAnalysisMissingRow(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.RunAnalysis(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetListDeleteOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.upload(t)
	f.upload(t)
	other := dbtest.CreateUser(t, f.db, "other@example.com", database.RoleCandidate)

	if _, err := f.svc.Get(ctx, other.ID, row.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user must not see the analysis, got %v", err)
	}
	rows, total, err := f.svc.List(ctx, f.user.ID, 1, 0)
	if err != nil || total != 2 || len(rows) != 1 {
		t.Fatalf("list: rows=%d total=%d err=%v", len(rows), total, err)
	}
	if err := f.svc.Delete(ctx, other.ID, row.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other user must not delete, got %v", err)
	}
	if err := f.svc.Delete(ctx, f.user.ID, row.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := f.store.Exists(ctx, row.ObjectKey); ok {
		t.Fatalf("object should be deleted")
	}
	if _, err := f.svc.Get(ctx, f.user.ID, row.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestImprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	row := f.upload(t)

	if _, err := f.svc.Improve(ctx, f.user.ID, row.ID, "", ""); !errors.Is(err, ErrTextUnavailable) {
		t.Fatalf("expected ErrTextUnavailable before analysis, got %v", err)
	}
	if _, err := f.svc.RunAnalysis(ctx, row.ID); err != nil {
		t.Fatalf("run analysis: %v", err)
	}
	if _, err := f.svc.Improve(ctx, f.user.ID, row.ID, "baroque", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown style, got %v", err)
	}

	rewrite, err := f.svc.Improve(ctx, f.user.ID, row.ID, "", "corr-2")
	if err != nil {
		t.Fatalf("improve: %v", err)
	}
	if rewrite.Style != database.StyleATSOptimized || rewrite.Status != database.StatusPending {
		t.Fatalf("unexpected rewrite %+v", rewrite)
	}
	if !strings.Contains(rewrite.JobDescription, "Apply these suggestions:") {
		t.Fatalf("improvement context missing: %q", rewrite.JobDescription)
	}
	last := f.queue.tasks[len(f.queue.tasks)-1]
	if last.Type() != tasks.TypeCVRewrite {
		t.Fatalf("expected cv:rewrite task, got %s", last.Type())
	}

	done, err := f.svc.RunRewrite(ctx, rewrite.ID)
	if err != nil {
		t.Fatalf("run rewrite: %v", err)
	}
	if done.Status != database.StatusCompleted || done.RewrittenText == "" {
		t.Fatalf("unexpected rewrite result %+v", done)
	}
	// 保留分析阶段的 ATS 分。
	var analysis database.CVAnalysis
	f.db.First(&analysis, row.ID)
	if done.ATSScoreBefore == nil || *done.ATSScoreBefore != *analysis.ATSScore {
		t.Fatalf("ats_score_before should come from the analysis")
	}
}

func TestRewriteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Rewrite(ctx, f.user.ID, RewriteInput{}); !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "cv_id") {
		t.Fatalf("expected ErrInvalidInput naming cv_id without text, got %v", err)
	}
	missing := uint(404)
	if _, err := f.svc.Rewrite(ctx, f.user.ID, RewriteInput{CVAnalysisID: &missing}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	row, err := f.svc.Rewrite(ctx, f.user.ID, RewriteInput{CVText: sampleCV, TargetJobTitle: "SRE"})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if row.Style != database.StyleModern || row.CVAnalysisID != nil {
		t.Fatalf("unexpected rewrite %+v", row)
	}
}

func TestCoverLetter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCoverLetter(ctx, f.user.ID, CoverLetterInput{CVText: sampleCV, JobTitle: "SRE", CompanyName: "Acme", JobDescription: "Run prod", Tone: "sarcastic"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for tone, got %v", err)
	}
	_, err = f.svc.CreateCoverLetter(ctx, f.user.ID, CoverLetterInput{CVText: sampleCV, JobTitle: "SRE"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing company, got %v", err)
	}

	letter, err := f.svc.CreateCoverLetter(ctx, f.user.ID, CoverLetterInput{CVText: sampleCV, JobTitle: "SRE", CompanyName: "Acme", JobDescription: "Run prod"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if letter.Tone != database.ToneProfessional {
		t.Fatalf("expected default tone, got %q", letter.Tone)
	}
	done, err := f.svc.RunCoverLetter(ctx, letter.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if done.Status != database.StatusCompleted || !strings.Contains(done.LetterText, "Acme") {
		t.Fatalf("unexpected letter %+v", done)
	}
	other := dbtest.CreateUser(t, f.db, "other@example.com", database.RoleCandidate)
	if _, err := f.svc.GetCoverLetter(ctx, other.ID, letter.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other user, got %v", err)
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rewrite, err := f.svc.Rewrite(ctx, f.user.ID, RewriteInput{CVText: sampleCV, Style: database.StyleMinimal})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := f.svc.Export(ctx, f.user.ID, rewrite.ID, FormatTXT, ""); !errors.Is(err, ErrNoRewrittenText) {
		t.Fatalf("expected ErrNoRewrittenText before processing, got %v", err)
	}
	if _, err := f.svc.RunRewrite(ctx, rewrite.ID); err != nil {
		t.Fatalf("run rewrite: %v", err)
	}

	txt, err := f.svc.Export(ctx, f.user.ID, rewrite.ID, "TXT", "")
	if err != nil {
		t.Fatalf("export txt: %v", err)
	}
	if !strings.HasSuffix(txt.Filename, ".txt") || !strings.HasPrefix(txt.Filename, "cv-minimal-") || len(txt.Data) == 0 {
		t.Fatalf("unexpected txt export %+v", txt)
	}
	docx, err := f.svc.Export(ctx, f.user.ID, rewrite.ID, FormatDOCX, "")
	if err != nil || !strings.HasPrefix(string(docx.Data), "PK") {
		t.Fatalf("docx export should be a zip, err=%v", err)
	}
	if _, err := f.svc.Export(ctx, f.user.ID, rewrite.ID, "odt", ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}

	pending, err := f.svc.Export(ctx, f.user.ID, rewrite.ID, FormatPDF, "corr-3")
	if err != nil {
		t.Fatalf("export pdf: %v", err)
	}
	if !pending.Pending || f.queue.tasks[len(f.queue.tasks)-1].Type() != tasks.TypeCVExportPDF {
		t.Fatalf("expected a queued export, got %+v", pending)
	}

	renderer := &fakeRenderer{}
	if _, err := f.svc.RunExport(ctx, rewrite.ID, renderer); err != nil {
		t.Fatalf("run export: %v", err)
	}
	if !strings.Contains(renderer.html, "<!DOCTYPE html>") {
		t.Fatalf("renderer did not receive a document")
	}
	ready, err := f.svc.Export(ctx, f.user.ID, rewrite.ID, FormatPDF, "")
	if err != nil {
		t.Fatalf("export pdf after render: %v", err)
	}
	if ready.Pending || !strings.Contains(ready.URL, "cv-exports/") {
		t.Fatalf("expected presigned url, got %+v", ready)
	}
}
