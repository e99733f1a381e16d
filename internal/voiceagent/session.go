package voiceagent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"interviewly/internal/interview"
)

// Session follows one interview room.
type Session struct {
	id       string
	recorder *Recorder
	backend  Backend
	logger   *slog.Logger

	// saveMu 串行化保存：revision 在锁内递增，最后一次保存总带着最新的版本号和最新内容。
	saveMu    sync.Mutex
	revision  int64
	savedLen  int
	finished  bool
	sessionOK bool

	finishBackoff time.Duration
}

// finishAttempts 收尾调用的最多尝试次数，间隔按 finishBackoff 翻倍。
const finishAttempts = 5

func NewSession(id string, recorder *Recorder, backend Backend, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		recorder:  recorder,
		backend:   backend,
		logger:    logger.With(slog.String("session_id", id)),
		sessionOK: true,

		finishBackoff: 2 * time.Second,
	}
}

func (s *Session) ID() string { return s.id }

// Save pushes the current transcript. Nothing is sent when no entry was
// added since the last successful save, unless force is set.
func (s *Session) Save(ctx context.Context, force bool) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saveLocked(ctx, force)
}

func (s *Session) saveLocked(ctx context.Context, force bool) error {
	if !s.sessionOK {
		return ErrSessionGone
	}
	entries, asked := s.recorder.Snapshot()
	if !force && len(entries) == s.savedLen {
		return nil
	}
	s.revision++
	err := s.backend.SaveTranscript(ctx, s.id, interview.Transcript{
		Revision:       s.revision,
		QuestionsAsked: asked,
		Entries:        entries,
	})
	if err != nil {
		if errors.Is(err, ErrSessionGone) {
			s.sessionOK = false
		}
		return err
	}
	s.savedLen = len(entries)
	return nil
}

// Finish does the final save and asks the API to summarise the interview.
// Later calls are no-ops.
func (s *Session) Finish(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.finished {
		return nil
	}
	if err := s.saveLocked(ctx, true); err != nil {
		return err
	}
	_, asked := s.recorder.Snapshot()
	if err := s.backend.Finish(ctx, s.id, asked); err != nil {
		return err
	}
	s.finished = true
	s.logger.Info("voice interview finished", slog.Int("questions_asked", asked))
	return nil
}

// Run consumes events until the interview closes, the channel is closed or
// ctx is done. A transcript save happens every interval; closing detection
// or an end event triggers Finish. When the feed goes away without an end the
// transcript is saved but the interview stays open. Run reports whether the
// room is done with, either finished or gone from the API.
func (s *Session) Run(ctx context.Context, events <-chan Event, interval time.Duration) bool {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush()
			return false
		case <-ticker.C:
			if err := s.Save(ctx, false); err != nil {
				s.logger.Warn("periodic transcript save failed", slog.Any("error", err))
				if errors.Is(err, ErrSessionGone) {
					return true
				}
			}
		case ev, ok := <-events:
			if !ok {
				s.flush()
				return false
			}
			closing := ev.Type == EventEnd
			if ev.Type == EventTranscript {
				closing = s.recorder.Append(ev.Speaker, ev.Text, ev.Timestamp)
			}
			if closing {
				s.finishWithRetry(ctx)
				return true
			}
		}
	}
}

// finishWithRetry retries Finish with exponential backoff until it succeeds,
// the session is gone, attempts run out or ctx is done.
func (s *Session) finishWithRetry(ctx context.Context) {
	delay := s.finishBackoff
	for attempt := 1; ; attempt++ {
		err := s.Finish(ctx)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrSessionGone):
			s.logger.Warn("voice interview gone before finish", slog.Any("error", err))
			return
		case attempt == finishAttempts:
			s.logger.Error("finish voice interview failed", slog.Int("attempts", attempt), slog.Any("error", err))
			return
		}
		s.logger.Warn("finish voice interview failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.Any("error", err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.logger.Error("finish voice interview abandoned", slog.Any("error", ctx.Err()))
			return
		case <-t.C:
		}
		delay *= 2
	}
}

// flush 在父 context 已取消时用独立超时做最后一次保存。
func (s *Session) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Save(ctx, false); err != nil {
		s.logger.Warn("final transcript save failed", slog.Any("error", err))
	}
}
