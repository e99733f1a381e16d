package cv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/storage"
	"interviewly/internal/tasks"
)

const exportURLTTL = 15 * time.Minute

// 导出格式。
const (
	FormatTXT  = "txt"
	FormatMD   = "md"
	FormatDOCX = "docx"
	FormatPDF  = "pdf"
)

// Format describes one export format.
type Format struct {
	Format    string `json:"format"`
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

func ExportFormats() []Format {
	return []Format{
		{Format: FormatTXT, Name: "Plain Text", Available: true},
		{Format: FormatMD, Name: "Markdown", Available: true},
		{Format: FormatDOCX, Name: "Word Document", Available: true},
		{Format: FormatPDF, Name: "PDF Document", Available: true},
	}
}

// ExportResult carries either the file bytes or, for PDF, a download URL.
// Pending is set while the PDF is still being rendered by the worker.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	URL         string
	Pending     bool
}

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Export returns a rewrite in the requested format. PDFs are rendered once by
// the worker and cached in object storage.
func (s *Service) Export(ctx context.Context, userID, rewriteID uint, format, correlationID string) (*ExportResult, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	rewrite, err := s.GetRewrite(ctx, userID, rewriteID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rewrite.RewrittenText) == "" {
		return nil, ErrNoRewrittenText
	}
	base := fmt.Sprintf("cv-%s-%d", rewrite.Style, rewrite.ID)

	switch format {
	case FormatTXT:
		return &ExportResult{Filename: base + ".txt", ContentType: "text/plain; charset=utf-8", Data: []byte(rewrite.RewrittenText)}, nil
	case FormatMD:
		md := rewrite.RewrittenMarkdown
		if strings.TrimSpace(md) == "" {
			md = rewrite.RewrittenText
		}
		return &ExportResult{Filename: base + ".md", ContentType: "text/markdown; charset=utf-8", Data: []byte(md)}, nil
	case FormatDOCX:
		data, err := BuildDOCX(rewrite.RewrittenText)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Filename:    base + ".docx",
			ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Data:        data,
		}, nil
	case FormatPDF:
		return s.exportPDF(ctx, rewrite, base+".pdf", correlationID)
	default:
		return nil, fmt.Errorf("%w: %s. Use pdf, docx, md, or txt", ErrUnsupportedFormat, format)
	}
}

func (s *Service) exportPDF(ctx context.Context, rewrite *database.CVRewrite, filename, correlationID string) (*ExportResult, error) {
	if rewrite.PDFObjectKey != "" {
		ok, err := s.store.Exists(ctx, rewrite.PDFObjectKey)
		if err != nil {
			return nil, err
		}
		if ok {
			u, err := s.store.PresignGet(ctx, rewrite.PDFObjectKey, exportURLTTL, filename)
			if err != nil {
				return nil, err
			}
			return &ExportResult{Filename: filename, ContentType: "application/pdf", URL: u}, nil
		}
	}

	task, err := tasks.NewCVExportTask(rewrite.ID, correlationID)
	if err != nil {
		return nil, err
	}
	// 同一份改写同时只排一个渲染任务。
	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.TaskID(fmt.Sprintf("cv-export-%d", rewrite.ID)),
		asynq.MaxRetry(2),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("enqueue cv export: %w", err)
	}
	return &ExportResult{Filename: filename, ContentType: "application/pdf", Pending: true}, nil
}

// RunExport renders the rewrite to PDF and stores it under the export key.
func (s *Service) RunExport(ctx context.Context, rewriteID uint, renderer Renderer) (*database.CVRewrite, error) {
	var rewrite database.CVRewrite
	if err := s.db.WithContext(ctx).First(&rewrite, rewriteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load cv rewrite: %w", err)
	}
	if strings.TrimSpace(rewrite.RewrittenText) == "" {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, ErrNoRewrittenText)
	}

	html, err := RenderHTML(rewrite.TargetJobTitle, rewrite.RewrittenText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	data, err := renderer.Render(ctx, html)
	if err != nil {
		return nil, fmt.Errorf("render cv pdf: %w", err)
	}
	key := storage.CVExportKey(rewrite.UserID, rewrite.ID)
	if err := s.store.Put(ctx, key, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store cv pdf: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&rewrite).Update("pdf_object_key", key).Error; err != nil {
		return nil, fmt.Errorf("update cv rewrite: %w", err)
	}
	return &rewrite, nil
}
