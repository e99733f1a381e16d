// Package voiceagent is the voice interview sidecar: it follows the transcript
// of each LiveKit room, saves it to the API and finishes the interview.
package voiceagent

import (
	"strings"
	"sync"
	"time"

	"interviewly/internal/interview"
)

// 结束语关键词，面试官说出任一即视为面试结束。
var closingPhrases = []string{
	"that concludes",
	"concludes our interview",
	"end of the interview",
	"end of our interview",
	"thank you for your time",
	"thanks for your time",
	"best of luck",
	"good luck with",
	"goodbye",
	"have a great day",
}

// IsClosing reports whether an interviewer utterance wraps the interview up.
func IsClosing(text string) bool {
	t := strings.ToLower(text)
	for _, p := range closingPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// Recorder collects the utterances of one interview. Safe for concurrent use.
type Recorder struct {
	mu             sync.Mutex
	entries        []interview.TranscriptEntry
	questionsAsked int
	maxQuestions   int
	closing        bool
	now            func() time.Time
}

// NewRecorder 创建记录器；maxQuestions <= 0 表示只依赖结束语判断。
func NewRecorder(maxQuestions int) *Recorder {
	return &Recorder{maxQuestions: maxQuestions, now: time.Now}
}

// Append records one utterance and reports whether the interview is now over:
// either the interviewer said a closing line, or the candidate answered the
// last allowed question.
func (r *Recorder) Append(speaker, text string, at time.Time) bool {
	text = strings.TrimSpace(text)
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" || r.closing {
		return r.closing
	}
	if at.IsZero() {
		at = r.now()
	}
	r.entries = append(r.entries, interview.TranscriptEntry{Speaker: speaker, Text: text, Timestamp: at.UTC()})

	switch speaker {
	case interview.SpeakerAgent:
		if IsClosing(text) {
			r.closing = true
		} else if strings.Contains(text, "?") {
			r.questionsAsked++
		}
	case interview.SpeakerCandidate:
		if r.maxQuestions > 0 && r.questionsAsked >= r.maxQuestions {
			r.closing = true
		}
	}
	return r.closing
}

// Snapshot returns a copy of the entries and the number of questions asked.
func (r *Recorder) Snapshot() ([]interview.TranscriptEntry, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interview.TranscriptEntry, len(r.entries))
	copy(out, r.entries)
	return out, r.questionsAsked
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
