package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// 面试模式。
const (
	ModeStructured     = "structured"
	ModeConversational = "conversational"
	ModeVoice          = "voice"
)

var QuestionTypes = []string{"technical", "behavioral", "situational", "general"}

// InterviewSession 一次模拟面试，主键使用 UUID 以便作为房间名与外部引用。
type InterviewSession struct {
	ID           string `gorm:"primaryKey;size:36"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UserID       *uint  `gorm:"index"`
	JobTitle     string `gorm:"size:255"`
	Seniority    string `gorm:"size:32"`
	Language     string `gorm:"size:8;default:en"`
	NumQuestions int
	Mode         string `gorm:"size:16;default:structured"`
	Status       string `gorm:"size:16;index"`
	OverallScore *float64
	Summary      datatypes.JSON `gorm:"type:jsonb"`
	Transcript   datatypes.JSON `gorm:"type:jsonb"`
	// TranscriptRevision 只增不减，旧版本的转写保存会被忽略。
	TranscriptRevision int64 `gorm:"default:0"`
	CompletedAt        *time.Time

	Questions []InterviewQuestion `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (s *InterviewSession) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// InterviewQuestion belongs to a session; Idx starts at 1.
type InterviewQuestion struct {
	gorm.Model
	SessionID    string `gorm:"size:36;index;uniqueIndex:idx_session_question,priority:1"`
	Idx          int    `gorm:"uniqueIndex:idx_session_question,priority:2"`
	Type         string `gorm:"size:32"`
	Competency   string `gorm:"size:128"`
	QuestionText string `gorm:"type:text"`

	Answer *InterviewAnswer `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE"`
}

// InterviewAnswer 每个问题最多一个回答。
type InterviewAnswer struct {
	gorm.Model
	QuestionID     uint   `gorm:"uniqueIndex"`
	UserAnswerText string `gorm:"type:text"`
	ScoreOverall   float64
	Relevance      float64
	Clarity        float64
	Structure      float64
	Impact         float64
	CoachNotes     string `gorm:"type:text"`
}
