// Package ats is the recruiter side of the product: job postings, public
// applications, screening, interview scheduling and feedback.
package ats

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/interview"
	"interviewly/internal/llm"
	"interviewly/internal/mail"
	"interviewly/internal/upload"
)

var (
	ErrInvalidInput         = errors.New("ats: invalid input")
	ErrJobNotFound          = errors.New("ats: job not found")
	ErrJobNotOpen           = errors.New("ats: job not found or not accepting applications")
	ErrApplicationNotFound  = errors.New("ats: application not found")
	ErrInterviewNotFound    = errors.New("ats: interview not found")
	ErrForbidden            = errors.New("ats: not authorized for this application")
	ErrInvalidInterviewType = errors.New("ats: invalid interview type")
	ErrAlreadyApplied       = errors.New("ats: candidate already applied to this job")
	ErrNoResume             = errors.New("ats: CV not found for this application")
	ErrAIUnavailable        = errors.New("ats: ai interviews are not available")
)

// cvURLTTL 简历预签名链接有效期。
const cvURLTTL = 10 * time.Minute

// ObjectStore is the subset of storage.Client used for applicant resumes.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error)
	Delete(ctx context.Context, key string) error
}

// SessionCreator opens the interview session behind an AI interview.
type SessionCreator interface {
	CreateSession(ctx context.Context, userID *uint, in interview.StartInput) (*database.InterviewSession, error)
}

// Options wires the optional collaborators of Service.
type Options struct {
	Store    ObjectStore
	Scanner  upload.Scanner
	LLM      *llm.Service
	Matcher  Matcher
	Mailer   mail.Mailer
	Sessions SessionCreator
	Logger   *slog.Logger
	// PublicBaseURL 前端地址，用于职位分享链接和邮件中的跳转链接。
	PublicBaseURL string
}

// Service implements the ATS operations. Recruiter-facing methods take the
// recruiter's user id and only touch jobs that recruiter created.
type Service struct {
	db            *gorm.DB
	store         ObjectStore
	scanner       upload.Scanner
	llm           *llm.Service
	matcher       Matcher
	mailer        mail.Mailer
	sessions      SessionCreator
	logger        *slog.Logger
	publicBaseURL string
	now           func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewService(db *gorm.DB, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scanner := opts.Scanner
	if scanner == nil {
		scanner = upload.NewScanner("")
	}
	mailer := opts.Mailer
	if mailer == nil {
		mailer = mail.NewLogMailer(logger)
	}
	seed := uint64(time.Now().UnixNano())
	return &Service{
		db:            db,
		store:         opts.Store,
		scanner:       scanner,
		llm:           opts.LLM,
		matcher:       opts.Matcher,
		mailer:        mailer,
		sessions:      opts.Sessions,
		logger:        logger,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		now:           func() time.Time { return time.Now().UTC() },
		rnd:           rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

func (s *Service) randomFitScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := 50 + s.rnd.Float64()*40
	return float64(int(v*100+0.5)) / 100
}
