package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 异步任务状态。
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// CVAnalysis 上传的简历及其分析结果。
type CVAnalysis struct {
	gorm.Model
	UserID          uint           `gorm:"index"`
	Filename        string         `gorm:"size:255"`
	ObjectKey       string         `gorm:"size:512"`
	FileSize        int64          `gorm:"default:0"`
	ContentType     string         `gorm:"size:128"`
	TargetJobTitle  string         `gorm:"size:255"`
	TargetSeniority string         `gorm:"size:32"`
	Status          string         `gorm:"size:16;index"`
	ExtractedText   string         `gorm:"type:text"`
	ParsedData      datatypes.JSON `gorm:"type:jsonb"`
	OverallScore    *float64
	ATSScore        *float64
	ScoresBreakdown datatypes.JSONMap
	Strengths       datatypes.JSONSlice[string]
	Weaknesses      datatypes.JSONSlice[string]
	Suggestions     datatypes.JSONSlice[string]
	KeywordsFound   datatypes.JSONSlice[string]
	KeywordsMissing datatypes.JSONSlice[string]
	ErrorMessage    string `gorm:"type:text"`
	CompletedAt     *time.Time
}

// 改写风格。
const (
	StyleModern       = "modern"
	StyleMinimal      = "minimal"
	StyleExecutive    = "executive"
	StyleATSOptimized = "ats_optimized"
)

// CVRewrite is an LLM rewrite of a CV in a given style.
type CVRewrite struct {
	gorm.Model
	UserID            uint   `gorm:"index"`
	CVAnalysisID      *uint  `gorm:"index"`
	Style             string `gorm:"size:32"`
	TargetJobTitle    string `gorm:"size:255"`
	JobDescription    string `gorm:"type:text"`
	OriginalText      string `gorm:"type:text"`
	RewrittenText     string `gorm:"type:text"`
	RewrittenMarkdown string `gorm:"type:text"`
	Improvements      datatypes.JSONSlice[string]
	KeywordsAdded     datatypes.JSONSlice[string]
	ATSScoreBefore    *float64
	ATSScoreAfter     *float64
	Status            string `gorm:"size:16;index"`
	ErrorMessage      string `gorm:"type:text"`
	PDFObjectKey      string `gorm:"size:512"`
	CompletedAt       *time.Time
}

// 求职信语气。
const (
	ToneFormal       = "formal"
	ToneSmart        = "smart"
	ToneProfessional = "professional"
	ToneFriendly     = "friendly"
)

// CoverLetter 生成的求职信。
type CoverLetter struct {
	gorm.Model
	UserID         uint   `gorm:"index"`
	CVAnalysisID   *uint  `gorm:"index"`
	Tone           string `gorm:"size:32"`
	CVText         string `gorm:"type:text"`
	JobTitle       string `gorm:"size:255"`
	CompanyName    string `gorm:"size:255"`
	JobDescription string `gorm:"type:text"`
	AdditionalInfo string `gorm:"type:text"`
	LetterText     string `gorm:"type:text"`
	LetterMarkdown string `gorm:"type:text"`
	MatchingSkills datatypes.JSONSlice[string]
	KeyHighlights  datatypes.JSONSlice[string]
	Status         string `gorm:"size:16;index"`
	ErrorMessage   string `gorm:"type:text"`
	CompletedAt    *time.Time
}
