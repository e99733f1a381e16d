package ats

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/database/dbtest"
	"interviewly/internal/interview"
	"interviewly/internal/llm"
	"interviewly/internal/mail"
	"interviewly/internal/upload"
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

func (m *memStore) PresignGet(_ context.Context, key string, ttl time.Duration, filename string) (string, error) {
	return "https://r2.test/" + key + "?ttl=" + ttl.String() + "&name=" + filename, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type capturedMail struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (c *capturedMail) Send(_ context.Context, msg mail.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

type fixedMatcher struct {
	score float64
	calls int
}

func (m *fixedMatcher) FitScore(context.Context, *database.Job, string) (float64, bool) {
	m.calls++
	return m.score, true
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	store     *memStore
	mail      *capturedMail
	recruiter database.User
}

func newFixture(t *testing.T, matcher Matcher) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	llmService := llm.NewService(nil, nil, nil, nil)
	f := &fixture{
		db:        db,
		store:     &memStore{objects: map[string][]byte{}},
		mail:      &capturedMail{},
		recruiter: dbtest.CreateUser(t, db, "hr@acme.test", database.RoleRecruiter),
	}
	f.svc = NewService(db, Options{
		Store:         f.store,
		LLM:           llmService,
		Matcher:       matcher,
		Mailer:        f.mail,
		Sessions:      interview.NewService(db, llmService, nil),
		PublicBaseURL: "https://app.test/",
	})
	return f
}

func (f *fixture) job(t *testing.T, in JobInput) *database.Job {
	t.Helper()
	if in.Title == "" {
		in.Title = "Go Engineer"
	}
	if in.Description == "" {
		in.Description = "Build APIs in Go"
	}
	job, err := f.svc.CreateJob(context.Background(), f.recruiter.ID, in)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func resume(text string) *upload.File {
	return &upload.File{Name: "cv.txt", Ext: ".txt", ContentType: "text/plain", Data: []byte(text)}
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.CreateJob(ctx, f.recruiter.ID, JobInput{Title: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without description, got %v", err)
	}
	lo, hi := 100, 50
	if _, err := f.svc.CreateJob(ctx, f.recruiter.ID, JobInput{Title: "x", Description: "y", MinSalary: &lo, MaxSalary: &hi}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for salary range, got %v", err)
	}

	job := f.job(t, JobInput{
		EmploymentType: "full_time",
		Currency:       "eur",
		Skills:         []SkillInput{{Name: "Go", Required: true}, {Name: " "}, {Name: "Kubernetes"}},
	})
	if job.Status != database.JobOpen || !job.IsActive || job.Currency != "EUR" || job.EmploymentType != "FULL_TIME" {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(job.Skills) != 2 {
		t.Fatalf("expected blank skill to be dropped, got %d", len(job.Skills))
	}
	if job.Company.Name != "Test User's Company" {
		t.Fatalf("unexpected default company %q", job.Company.Name)
	}

	second := f.job(t, JobInput{EmploymentType: "gig"})
	if second.CompanyID != job.CompanyID || second.EmploymentType != "" {
		t.Fatalf("expected company reuse and unknown employment type dropped: %+v", second)
	}
	var profiles int64
	f.db.Model(&database.RecruiterProfile{}).Where("user_id = ?", f.recruiter.ID).Count(&profiles)
	if profiles != 1 {
		t.Fatalf("expected one recruiter profile, got %d", profiles)
	}
}

func TestListJobsFiltersAndCounts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	backend := f.job(t, JobInput{Title: "Backend Engineer", CompanyName: "Acme"})
	f.job(t, JobInput{Title: "Designer", CompanyName: "Globex"})
	if _, err := f.svc.ToggleActive(ctx, f.recruiter.ID, backend.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := f.svc.Apply(ctx, backend.ID, ApplyInput{FullName: "A", Email: "a@example.com"}); !errors.Is(err, ErrJobNotOpen) {
		t.Fatalf("inactive job must reject applications, got %v", err)
	}
	if _, err := f.svc.ToggleActive(ctx, f.recruiter.ID, backend.ID); err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if _, err := f.svc.Apply(ctx, backend.ID, ApplyInput{FullName: "A", Email: "a@example.com"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	cases := []struct {
		filter JobFilter
		want   []string
	}{
		{JobFilter{}, []string{"Designer", "Backend Engineer"}},
		{JobFilter{Search: "BACKEND"}, []string{"Backend Engineer"}},
		{JobFilter{Search: "globex"}, []string{"Designer"}},
		{JobFilter{FilterStatus: FilterInactive}, nil},
		{JobFilter{FilterStatus: FilterActive}, []string{"Designer", "Backend Engineer"}},
	}
	for _, tc := range cases {
		jobs, err := f.svc.ListJobs(ctx, f.recruiter.ID, tc.filter)
		if err != nil {
			t.Fatalf("list %+v: %v", tc.filter, err)
		}
		var got []string
		for _, j := range jobs {
			got = append(got, j.Job.Title)
			if j.Job.ID == backend.ID && j.ApplicationsCount != 1 {
				t.Fatalf("expected 1 application on backend job, got %d", j.ApplicationsCount)
			}
		}
		if strings.Join(got, ",") != strings.Join(tc.want, ",") {
			t.Fatalf("filter %+v: got %v want %v", tc.filter, got, tc.want)
		}
	}
	if _, err := f.svc.ListJobs(ctx, f.recruiter.ID, JobFilter{FilterStatus: "archived"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown filter, got %v", err)
	}

	other := dbtest.CreateUser(t, f.db, "other@acme.test", database.RoleRecruiter)
	if jobs, _ := f.svc.ListJobs(ctx, other.ID, JobFilter{}); len(jobs) != 0 {
		t.Fatalf("other recruiter must not see jobs")
	}
	if _, err := f.svc.GetJob(ctx, other.ID, backend.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestPublicJobHidesDrafts(t *testing.T) {
	f := newFixture(t, nil)
	draft := f.job(t, JobInput{Status: "draft"})
	if _, err := f.svc.PublicJob(context.Background(), draft.ID); !errors.Is(err, ErrJobNotOpen) {
		t.Fatalf("expected ErrJobNotOpen for draft, got %v", err)
	}
	open := f.job(t, JobInput{})
	if _, err := f.svc.PublicJob(context.Background(), open.ID); err != nil {
		t.Fatalf("public job: %v", err)
	}
}

func TestApply(t *testing.T) {
	matcher := &fixedMatcher{score: 81.5}
	f := newFixture(t, matcher)
	ctx := context.Background()
	job := f.job(t, JobInput{Skills: []SkillInput{{Name: "Go"}, {Name: "Postgres"}, {Name: "Rust"}}})

	_, err := f.svc.Apply(ctx, job.ID, ApplyInput{FullName: "Sam", Email: "not-an-email"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad email, got %v", err)
	}

	app, err := f.svc.Apply(ctx, job.ID, ApplyInput{
		FullName: "Sam Lee",
		Email:    "Sam@Example.com",
		Resume:   resume("Five years of Go and PostgreSQL in production."),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if app.Status != database.ApplicationApplied || app.FitScore == nil || *app.FitScore != 81.5 {
		t.Fatalf("unexpected application %+v", app)
	}
	if app.Candidate.Email != "sam@example.com" || app.ResumeKey == "" || len(f.store.objects) != 1 {
		t.Fatalf("candidate or resume not stored: %+v", app)
	}
	if matcher.calls != 1 {
		t.Fatalf("expected matcher to be used once, got %d", matcher.calls)
	}

	var screening database.Screening
	if err := f.db.Where("application_id = ?", app.ID).First(&screening).Error; err != nil {
		t.Fatalf("auto screening: %v", err)
	}
	if screening.ScreenedByID != nil || strings.Join(screening.SkillsMatched, ",") != "Go,Postgres" || strings.Join(screening.SkillsMissing, ",") != "Rust" {
		t.Fatalf("unexpected screening %+v", screening)
	}

	if len(f.mail.sent) != 1 || f.mail.sent[0].To != "hr@acme.test" {
		t.Fatalf("expected recruiter email, got %+v", f.mail.sent)
	}

	_, err = f.svc.Apply(ctx, job.ID, ApplyInput{FullName: "Sam Lee", Email: "sam@example.com", Phone: "+1 555", Resume: resume("again")})
	if !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if len(f.store.objects) != 1 {
		t.Fatalf("duplicate application resume should be cleaned up")
	}
}

func TestApplyFallbackFitScore(t *testing.T) {
	f := newFixture(t, nil)
	job := f.job(t, JobInput{})
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		app, err := f.svc.Apply(context.Background(), job.ID, ApplyInput{FullName: "Candidate", Email: email})
		if err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		if app.FitScore == nil || *app.FitScore < 50 || *app.FitScore > 90 {
			t.Fatalf("fallback fit score out of range: %v", app.FitScore)
		}
	}
}

func TestApplicationsAccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job := f.job(t, JobInput{})
	app, err := f.svc.Apply(ctx, job.ID, ApplyInput{FullName: "Sam", Email: "sam@example.com", Resume: resume("Go")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	noCV, err := f.svc.Apply(ctx, job.ID, ApplyInput{FullName: "Kim", Email: "kim@example.com"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	other := dbtest.CreateUser(t, f.db, "other@acme.test", database.RoleRecruiter)

	if _, err := f.svc.ApplicationCVURL(ctx, other.ID, app.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.ApplicationCVURL(ctx, f.recruiter.ID, 9999); !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
	if _, err := f.svc.ApplicationCVURL(ctx, f.recruiter.ID, noCV.ID); !errors.Is(err, ErrNoResume) {
		t.Fatalf("expected ErrNoResume, got %v", err)
	}
	u, err := f.svc.ApplicationCVURL(ctx, f.recruiter.ID, app.ID)
	if err != nil || !strings.Contains(u, "ttl=10m0s") || !strings.Contains(u, "name=cv.txt") {
		t.Fatalf("unexpected cv url %q (%v)", u, err)
	}

	if _, err := f.svc.UpdateApplicationStatus(ctx, f.recruiter.ID, app.ID, "ghosted"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.UpdateApplicationStatus(ctx, f.recruiter.ID, app.ID, "offer"); err != nil {
		t.Fatalf("update status: %v", err)
	}

	score := 72.0
	if _, err := f.svc.AddScreening(ctx, f.recruiter.ID, noCV.ID, ScreeningInput{Score: &score, Notes: "solid", Recommendation: "advance"}); err != nil {
		t.Fatalf("screening: %v", err)
	}
	apps, err := f.svc.ListApplications(ctx, f.recruiter.ID, job.ID)
	if err != nil || len(apps) != 2 {
		t.Fatalf("list applications: %d %v", len(apps), err)
	}
	statuses := map[uint]string{}
	for _, a := range apps {
		statuses[a.ID] = a.Status
	}
	if statuses[app.ID] != database.ApplicationOffer || statuses[noCV.ID] != database.ApplicationScreening {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	screenings, err := f.svc.ListScreenings(ctx, f.recruiter.ID, noCV.ID)
	if err != nil || len(screenings) != 2 || screenings[1].ScreenedByID == nil {
		t.Fatalf("expected auto and manual screening, got %+v (%v)", screenings, err)
	}
}

func TestScheduleInterviewAndFeedback(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job := f.job(t, JobInput{Title: "Platform Engineer", CompanyName: "Acme"})
	candidateUser := dbtest.CreateUser(t, f.db, "sam@example.com", database.RoleCandidate)
	app, err := f.svc.Apply(ctx, job.ID, ApplyInput{FullName: "Sam", Email: "sam@example.com", UserID: &candidateUser.ID})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, err := f.svc.ScheduleInterview(ctx, f.recruiter.ID, app.ID, InterviewInput{Type: "phone"}); !errors.Is(err, ErrInvalidInterviewType) {
		t.Fatalf("expected ErrInvalidInterviewType, got %v", err)
	}

	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	iv, err := f.svc.ScheduleInterview(ctx, f.recruiter.ID, app.ID, InterviewInput{Type: "ai", ScheduledStart: &start, NumQuestions: 4})
	if err != nil {
		t.Fatalf("schedule ai interview: %v", err)
	}
	if iv.InterviewSessionID == nil || iv.Type != database.InterviewTypeAI || iv.ScheduledStart.Location() != time.UTC {
		t.Fatalf("unexpected interview %+v", iv)
	}
	var session database.InterviewSession
	if err := f.db.First(&session, "id = ?", *iv.InterviewSessionID).Error; err != nil {
		t.Fatalf("linked session: %v", err)
	}
	if session.Mode != database.ModeVoice || session.JobTitle != "Platform Engineer" || session.UserID == nil || *session.UserID != candidateUser.ID || session.NumQuestions != 4 {
		t.Fatalf("unexpected session %+v", session)
	}
	if !strings.HasSuffix(iv.MeetingURL, "/interview/voice/"+session.ID) {
		t.Fatalf("unexpected meeting url %q", iv.MeetingURL)
	}
	last := f.mail.sent[len(f.mail.sent)-1]
	if last.To != "sam@example.com" || !strings.Contains(last.Text, "AI-led") {
		t.Fatalf("expected candidate email, got %+v", last)
	}

	if _, err := f.svc.AddFeedback(ctx, f.recruiter.ID, iv.ID, FeedbackInput{Rating: 9}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for rating, got %v", err)
	}
	other := dbtest.CreateUser(t, f.db, "other@acme.test", database.RoleRecruiter)
	if _, err := f.svc.AddFeedback(ctx, other.ID, iv.ID, FeedbackInput{Rating: 4}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	done, err := f.svc.AddFeedback(ctx, f.recruiter.ID, iv.ID, FeedbackInput{
		Rating:         4,
		Recommendation: "hire",
		Metrics:        []MetricInput{{Name: "Go", Score: 90, Weight: 3}, {Name: "Communication", Score: 70}},
	})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if done.Status != database.InterviewCompleted || len(done.Feedback) != 1 || len(done.Metrics) != 2 {
		t.Fatalf("unexpected interview %+v", done)
	}
	if got := WeightedScore(done.Metrics); got != 85 {
		t.Fatalf("weighted score = %v, want 85", got)
	}

	list, err := f.svc.ListInterviews(ctx, f.recruiter.ID, app.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list interviews: %v %v", list, err)
	}
	var stored database.Application
	f.db.First(&stored, app.ID)
	if stored.Status != database.ApplicationInterview {
		t.Fatalf("expected INTERVIEW status, got %s", stored.Status)
	}
}

func TestSocialPostAndExport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	job := f.job(t, JobInput{Title: "Data Engineer", CompanyName: "Acme"})
	if _, err := f.svc.Apply(ctx, job.ID, ApplyInput{FullName: "Sam Lee", Email: "sam@example.com", Location: "Berlin"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	post, err := f.svc.SocialPost(ctx, f.recruiter.ID, job.ID)
	if err != nil {
		t.Fatalf("social post: %v", err)
	}
	if post.Link != "https://app.test/jobs/"+itoa(job.ID) || !strings.Contains(post.Text, post.Link) {
		t.Fatalf("unexpected post %+v", post)
	}

	data, name, err := f.svc.ExportApplications(ctx, f.recruiter.ID, job.ID)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if name != "applications-job-"+itoa(job.ID)+".xlsx" {
		t.Fatalf("unexpected filename %q", name)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	for cell, want := range map[string]string{"A1": "Data Engineer · Acme", "A3": "Candidate", "A4": "Sam Lee", "D4": "Berlin", "E4": "applied"} {
		got, err := wb.GetCellValue(applicationsSheet, cell)
		if err != nil || got != want {
			t.Fatalf("%s = %q (%v), want %q", cell, got, err, want)
		}
	}
}

func TestSimilarityToScore(t *testing.T) {
	cases := map[float32]float64{-1: 0, 0: 50, 1: 100, 0.5: 75, 2: 100}
	for in, want := range cases {
		if got := SimilarityToScore(in); got != want {
			t.Errorf("SimilarityToScore(%v) = %v, want %v", in, got, want)
		}
	}
}

func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
