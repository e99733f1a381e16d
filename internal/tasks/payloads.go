package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeCVAnalyze           = "cv:analyze"
	TypeCVRewrite           = "cv:rewrite"
	TypeCoverLetterGenerate = "cover_letter:generate"
	TypeCVExportPDF         = "cv:export_pdf"
	TypeUsageReset          = "quota:reset_usage"
)

// CVAnalyzePayload 描述简历分析所需的最小信息。
type CVAnalyzePayload struct {
	CVAnalysisID  uint   `json:"cv_analysis_id"`
	CorrelationID string `json:"correlation_id"`
}

// CVRewritePayload identifies a pending CVRewrite row.
type CVRewritePayload struct {
	RewriteID     uint   `json:"rewrite_id"`
	CorrelationID string `json:"correlation_id"`
}

// CoverLetterPayload identifies a pending CoverLetter row.
type CoverLetterPayload struct {
	CoverLetterID uint   `json:"cover_letter_id"`
	CorrelationID string `json:"correlation_id"`
}

// CVExportPayload 将改写后的简历渲染为 PDF。
type CVExportPayload struct {
	RewriteID     uint   `json:"rewrite_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewCVAnalyzeTask 构造一个简历分析任务。
func NewCVAnalyzeTask(id uint, correlationID string) (*asynq.Task, error) {
	return newTask(TypeCVAnalyze, CVAnalyzePayload{CVAnalysisID: id, CorrelationID: correlationID})
}

// NewCVRewriteTask 构造一个简历改写任务。
func NewCVRewriteTask(id uint, correlationID string) (*asynq.Task, error) {
	return newTask(TypeCVRewrite, CVRewritePayload{RewriteID: id, CorrelationID: correlationID})
}

// NewCoverLetterTask 构造一个求职信生成任务。
func NewCoverLetterTask(id uint, correlationID string) (*asynq.Task, error) {
	return newTask(TypeCoverLetterGenerate, CoverLetterPayload{CoverLetterID: id, CorrelationID: correlationID})
}

// NewCVExportTask 构造一个 PDF 导出任务。
func NewCVExportTask(rewriteID uint, correlationID string) (*asynq.Task, error) {
	return newTask(TypeCVExportPDF, CVExportPayload{RewriteID: rewriteID, CorrelationID: correlationID})
}

// NewUsageResetTask 清理过期计费周期的用量计数，由调度器定时触发。
func NewUsageResetTask() *asynq.Task {
	return asynq.NewTask(TypeUsageReset, nil)
}

func newTask(taskType string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", taskType, err)
	}
	return asynq.NewTask(taskType, data), nil
}
