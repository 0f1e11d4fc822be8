// Package export renders grading results as spreadsheets.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"exam-grader/api/internal/grading"
)

const (
	summarySheet   = "Summary"
	breakdownSheet = "Breakdown"
)

// GradingXLSX returns a workbook with a summary sheet and one row per score item.
func GradingXLSX(question string, res grading.GradingResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// NewFile starts with Sheet1
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	summary := [][2]any{
		{"Question", question},
		{"Student", res.StudentName},
		{"Total score", res.TotalScore},
		{"Max score", res.MaxScore},
		{"Feedback", res.Feedback},
		{"Recognized text", res.RecognizedText},
	}
	for i, kv := range summary {
		if err := setRow(f, summarySheet, i+1, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 80)

	if _, err := f.NewSheet(breakdownSheet); err != nil {
		return nil, err
	}
	if err := setRow(f, breakdownSheet, 1, "#", "Criterion", "Points awarded", "Max points"); err != nil {
		return nil, err
	}
	for i, it := range res.ScoreBreakdown {
		if err := setRow(f, breakdownSheet, i+2, i+1, it.Description, it.PointsAwarded, it.MaxPoints); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(breakdownSheet, "B", "B", 70)
	_ = f.SetColWidth(breakdownSheet, "C", "D", 14)

	idx, _ := f.GetSheetIndex(summarySheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, sheet string, row int, values ...any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}
