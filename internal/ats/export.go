package ats

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"interviewly/internal/database"
)

const applicationsSheet = "Applications"

var applicationColumns = []struct {
	title string
	width float64
}{
	{"Candidate", 26},
	{"Email", 30},
	{"Phone", 18},
	{"Location", 20},
	{"Status", 14},
	{"Fit score", 10},
	{"Applied at", 20},
	{"LinkedIn", 36},
	{"Resume", 28},
}

// ExportApplications writes the applications of one of the recruiter's jobs to
// an xlsx workbook. It returns the file bytes and a suggested filename.
func (s *Service) ExportApplications(ctx context.Context, recruiterID, jobID uint) ([]byte, string, error) {
	job, err := s.ownedJob(ctx, recruiterID, jobID)
	if err != nil {
		return nil, "", err
	}
	apps, err := s.ListApplications(ctx, recruiterID, jobID)
	if err != nil {
		return nil, "", err
	}
	data, err := applicationsWorkbook(job, apps)
	if err != nil {
		return nil, "", err
	}
	return data, fmt.Sprintf("applications-job-%d.xlsx", job.ID), nil
}

func applicationsWorkbook(job *database.Job, apps []database.Application) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", applicationsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	title := job.Title
	if job.Company.Name != "" {
		title += " · " + job.Company.Name
	}
	if err := f.SetCellValue(applicationsSheet, "A1", title); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(applicationsSheet, "A1", "A1", header); err != nil {
		return nil, err
	}

	for i, col := range applicationColumns {
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(applicationsSheet, name, name, col.width); err != nil {
			return nil, err
		}
		cell := fmt.Sprintf("%s3", name)
		if err := f.SetCellValue(applicationsSheet, cell, col.title); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(applicationsSheet, cell, cell, header); err != nil {
			return nil, err
		}
	}

	for i, app := range apps {
		row := i + 4
		var fit any = ""
		if app.FitScore != nil {
			fit = *app.FitScore
		}
		values := []any{
			app.Candidate.FullName,
			app.Candidate.Email,
			app.Candidate.Phone,
			app.Candidate.Location,
			strings.ToLower(app.Status),
			fit,
			app.CreatedAt.UTC().Format("2006-01-02 15:04"),
			app.Candidate.LinkedInURL,
			app.ResumeFilename,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(applicationsSheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
