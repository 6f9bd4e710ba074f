package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
)

// WriteSessionReport renders the journal into an xlsx workbook: one sheet
// of raw events plus a per-symbol summary. Returns the written path.
func WriteSessionReport(r *SQLiteRecorder, dir string) (string, error) {
	events, err := r.Events("")
	if err != nil {
		return "", fmt.Errorf("failed to load events: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const eventSheet = "Events"
	f.SetSheetName("Sheet1", eventSheet)

	headers := []string{"Time", "Symbol", "Kind", "Detail", "Event ID"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(eventSheet, cell, h)
	}

	counts := make(map[string]map[EventKind]int)
	for i, e := range events {
		row := i + 2
		f.SetCellValue(eventSheet, fmt.Sprintf("A%d", row), e.Time.Format("2006-01-02 15:04:05"))
		f.SetCellValue(eventSheet, fmt.Sprintf("B%d", row), e.Symbol)
		f.SetCellValue(eventSheet, fmt.Sprintf("C%d", row), string(e.Kind))
		f.SetCellValue(eventSheet, fmt.Sprintf("D%d", row), e.Detail)
		f.SetCellValue(eventSheet, fmt.Sprintf("E%d", row), e.ID)

		if counts[e.Symbol] == nil {
			counts[e.Symbol] = make(map[EventKind]int)
		}
		counts[e.Symbol][e.Kind]++
	}

	const summarySheet = "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return "", fmt.Errorf("failed to create summary sheet: %w", err)
	}

	summaryHeaders := []string{"Symbol", "Entries", "Protections", "Ratchets", "Emergency Closes", "Rejections"}
	for i, h := range summaryHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(summarySheet, cell, h)
	}

	row := 2
	for symbol, kinds := range counts {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), symbol)
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), kinds[KindEntry])
		f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), kinds[KindProtection])
		f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), kinds[KindRatchet])
		f.SetCellValue(summarySheet, fmt.Sprintf("E%d", row), kinds[KindEmergencyClose])
		f.SetCellValue(summarySheet, fmt.Sprintf("F%d", row), kinds[KindRejection])
		row++
	}

	path := filepath.Join(dir, fmt.Sprintf("session_%s.xlsx", time.Now().Format("2006-01-02_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	return path, nil
}
