package admin

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"interviewly/internal/quota"
)

type sheetSpec struct {
	name    string
	columns []string
	widths  []float64
	rows    [][]any
}

// CostReport 导出最近 days 天的成本报表，包含汇总、模型、功能与每日四个工作表。
func (s *Service) CostReport(ctx context.Context, days int) ([]byte, string, error) {
	if days <= 0 {
		days = 30
	}
	summary, err := s.tokens.TotalSummary(ctx, days)
	if err != nil {
		return nil, "", err
	}
	revenue, err := s.RevenueVsCost(ctx, days)
	if err != nil {
		return nil, "", err
	}
	data, err := costWorkbook(summary, revenue)
	if err != nil {
		return nil, "", err
	}
	name := fmt.Sprintf("cost-report-%s.xlsx", summary.PeriodEnd.Format("2006-01-02"))
	return data, name, nil
}

func costSheets(summary quota.CostSummary, revenue RevenueVsCost) []sheetSpec {
	overview := sheetSpec{
		name:    "Summary",
		columns: []string{"Metric", "Value"},
		widths:  []float64{28, 24},
		rows: [][]any{
			{"Period start", summary.PeriodStart.Format("2006-01-02")},
			{"Period end", summary.PeriodEnd.Format("2006-01-02")},
			{"Total cost (USD)", summary.TotalCostUSD},
			{"Revenue (USD)", revenue.RevenueUSD},
			{"Gross margin (USD)", revenue.GrossMarginUSD},
			{"Margin %", revenue.MarginPercent},
			{"Requests", summary.TotalRequests},
			{"Unique users", summary.UniqueUsers},
			{"Input tokens", summary.TotalInputTokens},
			{"Output tokens", summary.TotalOutputTokens},
			{"Avg cost per request", summary.AvgCostPerRequest},
		},
	}

	models := sheetSpec{
		name:    "By Model",
		columns: []string{"Model", "Input tokens", "Output tokens", "Cost (USD)", "Requests"},
		widths:  []float64{30, 16, 16, 14, 12},
	}
	for _, m := range summary.ByModel {
		models.rows = append(models.rows, []any{m.Model, m.InputTokens, m.OutputTokens, m.CostUSD, m.Requests})
	}

	features := sheetSpec{
		name:    "By Feature",
		columns: []string{"Feature", "Cost (USD)", "Requests"},
		widths:  []float64{30, 14, 12},
	}
	for _, f := range summary.ByFeature {
		code := f.FeatureCode
		if code == "" {
			code = "(untracked)"
		}
		features.rows = append(features.rows, []any{code, f.CostUSD, f.Requests})
	}

	daily := sheetSpec{
		name:    "Daily",
		columns: []string{"Date", "Cost (USD)", "Requests"},
		widths:  []float64{14, 14, 12},
	}
	for _, d := range summary.Daily {
		daily.rows = append(daily.rows, []any{d.Date, d.CostUSD, d.Requests})
	}
	return []sheetSpec{overview, models, features, daily}
}

func costWorkbook(summary quota.CostSummary, revenue RevenueVsCost) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, sheet := range costSheets(summary, revenue) {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet.name, err)
		}

		for c, title := range sheet.columns {
			col, _ := excelize.ColumnNumberToName(c + 1)
			if err := f.SetColWidth(sheet.name, col, col, sheet.widths[c]); err != nil {
				return nil, err
			}
			cell := col + "1"
			if err := f.SetCellValue(sheet.name, cell, title); err != nil {
				return nil, err
			}
			if err := f.SetCellStyle(sheet.name, cell, cell, header); err != nil {
				return nil, err
			}
		}
		for r, values := range sheet.rows {
			cell, _ := excelize.CoordinatesToCellName(1, r+2)
			if err := f.SetSheetRow(sheet.name, cell, &values); err != nil {
				return nil, fmt.Errorf("write %s row %d: %w", sheet.name, r+2, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
