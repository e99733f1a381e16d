package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"

	"interviewly/internal/database"
	"interviewly/internal/llm"
)

// 转写条目的发言方。
const (
	SpeakerAgent     = "agent"
	SpeakerCandidate = "candidate"
)

// TranscriptEntry is one utterance of a voice interview.
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is what the voice sidecar pushes. Revision grows with every save.
type Transcript struct {
	Revision       int64             `json:"revision"`
	QuestionsAsked int               `json:"questions_asked"`
	Entries        []TranscriptEntry `json:"entries"`
}

// SaveTranscript replaces the stored transcript when t.Revision is newer than the
// stored one. It reports whether the write was applied; stale revisions are
// ignored without error.
func (s *Service) SaveTranscript(ctx context.Context, sessionID string, t Transcript) (bool, error) {
	if t.Revision <= 0 {
		return false, fmt.Errorf("%w: revision must be positive", ErrInvalidInput)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return false, fmt.Errorf("marshal transcript: %w", err)
	}
	res := s.db.WithContext(ctx).Model(&database.InterviewSession{}).
		Where("id = ? AND transcript_revision < ?", sessionID, t.Revision).
		Updates(map[string]any{
			"transcript":          datatypes.JSON(raw),
			"transcript_revision": t.Revision,
		})
	if res.Error != nil {
		return false, fmt.Errorf("save transcript: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	if _, err := s.sessionByID(ctx, sessionID); err != nil {
		return false, err
	}
	s.logger.Info("stale transcript ignored",
		slog.String("session_id", sessionID),
		slog.Int64("revision", t.Revision),
	)
	return false, nil
}

// FinishVoice summarises the stored transcript and completes the session.
// Finishing twice returns the first summary.
func (s *Service) FinishVoice(ctx context.Context, sessionID string, questionsAsked int) (*database.InterviewSession, llm.SessionSummary, error) {
	session, err := s.sessionByID(ctx, sessionID)
	if err != nil {
		return nil, llm.SessionSummary{}, err
	}
	if session.Status == database.SessionCompleted {
		summary, err := decodeSummary(session.Summary)
		return session, summary, err
	}

	var t Transcript
	if len(session.Transcript) > 0 {
		if err := json.Unmarshal(session.Transcript, &t); err != nil {
			return nil, llm.SessionSummary{}, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if questionsAsked <= 0 {
		questionsAsked = t.QuestionsAsked
	}

	ctx = llm.WithRequestID(ctx, session.ID)
	if session.UserID != nil {
		ctx = llm.WithUser(ctx, *session.UserID)
	}
	summary := s.llm.SummarizeVoiceInterview(ctx, session.JobTitle, session.Seniority, FormatTranscript(t.Entries), questionsAsked, session.NumQuestions)
	if err := s.complete(ctx, session, summary); err != nil {
		return nil, llm.SessionSummary{}, err
	}
	return session, summary, nil
}

// FormatTranscript renders entries as "Interviewer: ..." / "Candidate: ..." lines.
func FormatTranscript(entries []TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)
		if text == "" {
			continue
		}
		who := "Candidate"
		if e.Speaker == SpeakerAgent {
			who = "Interviewer"
		}
		fmt.Fprintf(&b, "%s: %s\n", who, text)
	}
	return b.String()
}
