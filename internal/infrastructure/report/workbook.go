package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"qagen/internal/bootstrap/logging"
	domaintestgen "qagen/internal/domain/testgen"
	"qagen/internal/errs"
	"qagen/internal/ports"
)

const (
	SheetCover    = "Cover Page"
	SheetSummary  = "Test Summary"
	SheetFormulas = "Formulas"

	summaryHeaderRow = 8
	summaryFirstRow  = 9
	maxSheetNameLen  = 31
)

var summaryHeaders = []string{
	"Test Case Reference No",
	"Epic#",
	"UserStory#",
	"Test Description",
	"Positive/Negative",
	"No of Test Steps Planned*",
	"No of Test Steps Executed*",
	"No of Test Steps Failed*",
	"No of Test Steps Executed*",
	"No of Test Steps Failed*",
	"No of Test Steps Executed*",
	"No of Test Steps Failed*",
}

var stepHeaders = []string{
	"Step No", "Action", "Expected Result", "Actual Results",
	"Round 1", "Round 2", "Round 3", "Defect ID", "Remarks",
}

// WorkbookRenderer writes the test case document as an XLSX workbook.
type WorkbookRenderer struct {
	outputDir   string
	projectName string
}

var _ ports.ReportRenderer = (*WorkbookRenderer)(nil)

func NewWorkbookRenderer(outputDir string, projectName string) *WorkbookRenderer {
	if strings.TrimSpace(outputDir) == "" {
		outputDir = "output"
	}
	return &WorkbookRenderer{outputDir: outputDir, projectName: projectName}
}

func (r *WorkbookRenderer) Render(ctx context.Context, testPlanName string, entries []domaintestgen.ReportEntry) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}
	if strings.TrimSpace(testPlanName) == "" {
		return "", errors.New("test plan name is required")
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", errs.Wrapf(err, "create output directory %q", r.outputDir)
	}

	wb, err := newWorkbook()
	if err != nil {
		return "", err
	}
	defer func() { _ = wb.f.Close() }()

	if err := wb.writeCover(r.projectName, testPlanName); err != nil {
		return "", errs.Wrap(err, "write cover sheet")
	}
	if err := wb.writeSummary(entries); err != nil {
		return "", errs.Wrap(err, "write summary sheet")
	}
	names := sheetNames(entries)
	for i, entry := range entries {
		if err := wb.writeStory(names[i], entry); err != nil {
			return "", errs.Wrapf(err, "write story sheet %s", entry.UserStoryNumber)
		}
	}
	if err := wb.writeFormulas(entries); err != nil {
		return "", errs.Wrap(err, "write formulas sheet")
	}

	if idx, err := wb.f.GetSheetIndex(SheetSummary); err == nil && idx >= 0 {
		wb.f.SetActiveSheet(idx)
	}

	path := filepath.Join(r.outputDir, domaintestgen.ReportFileName(testPlanName))
	if err := wb.f.SaveAs(path); err != nil {
		return "", errs.Wrapf(err, "save workbook %q", path)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "report.workbook")),
		"test case document written",
		slog.String("path", path),
		slog.Int("stories", len(entries)),
	)
	return path, nil
}

type workbook struct {
	f      *excelize.File
	styles styles
}

type styles struct {
	title  int
	header int
	story  int
	label  int
	cell   int
	wrap   int
	bold   int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetCover); err != nil {
		_ = f.Close()
		return nil, errs.Wrap(err, "rename default sheet")
	}

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	wb := &workbook{f: f}
	var err error
	create := func(style *excelize.Style) int {
		if err != nil {
			return 0
		}
		var id int
		id, err = f.NewStyle(style)
		return id
	}
	wb.styles = styles{
		title: create(&excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 14},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Border:    border,
		}),
		header: create(&excelize.Style{
			Font:      &excelize.Font{Bold: true},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"B7DEE8"}},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
			Border:    border,
		}),
		story: create(&excelize.Style{
			Font:   &excelize.Font{Bold: true},
			Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFFF00"}},
			Border: border,
		}),
		label: create(&excelize.Style{
			Font:   &excelize.Font{Bold: true},
			Fill:   excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"C0C0C0"}},
			Border: border,
		}),
		cell: create(&excelize.Style{
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
			Border:    border,
		}),
		wrap: create(&excelize.Style{
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
			Border:    border,
		}),
		bold: create(&excelize.Style{Font: &excelize.Font{Bold: true}}),
	}
	if err != nil {
		_ = f.Close()
		return nil, errs.Wrap(err, "create styles")
	}
	return wb, nil
}

func (wb *workbook) writeCover(projectName string, testPlanName string) error {
	f := wb.f
	sheet := SheetCover
	for col, width := range map[string]float64{"A": 1.5, "B": 9, "C": 13, "D": 70, "E": 20, "F": 20, "G": 20} {
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}
	if err := f.MergeCell(sheet, "D2", "F4"); err != nil {
		return err
	}
	cells := []struct {
		cell  string
		value any
		style int
	}{
		{"D2", "Test Case Document", wb.styles.title},
		{"B6", "Project Name:", wb.styles.label},
		{"D6", projectName, wb.styles.cell},
		{"B7", "Test Plan:", wb.styles.label},
		{"D7", testPlanName, wb.styles.cell},
		{"B9", "Revision History", wb.styles.label},
	}
	for _, c := range cells {
		if err := setStyled(f, sheet, c.cell, c.value, c.style); err != nil {
			return err
		}
	}
	for i, header := range []string{"Version", "Date", "Change Description", "Prepared By", "Reviewed By", "Approved By"} {
		if err := setStyledAt(f, sheet, i+2, 10, header, wb.styles.header); err != nil {
			return err
		}
	}
	return nil
}

func (wb *workbook) writeSummary(entries []domaintestgen.ReportEntry) error {
	f := wb.f
	sheet := SheetSummary
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "A", 3); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "E", "E", 85); err != nil {
		return err
	}
	if err := f.MergeCell(sheet, "B3", "M3"); err != nil {
		return err
	}
	if err := setStyled(f, sheet, "B3", "Test Summary Report", wb.styles.title); err != nil {
		return err
	}
	if err := setStyled(f, sheet, "B6", "Type of Test:", wb.styles.label); err != nil {
		return err
	}
	if err := setStyled(f, sheet, "C6", "Functional", wb.styles.cell); err != nil {
		return err
	}
	for i, header := range summaryHeaders {
		if err := setStyledAt(f, sheet, i+2, summaryHeaderRow, header, wb.styles.header); err != nil {
			return err
		}
	}

	row := summaryFirstRow
	for _, entry := range entries {
		start, _ := excelize.CoordinatesToCellName(2, row)
		end, _ := excelize.CoordinatesToCellName(len(summaryHeaders)+1, row)
		if err := f.MergeCell(sheet, start, end); err != nil {
			return err
		}
		title := entry.Title
		if strings.TrimSpace(title) == "" {
			title = entry.UserStoryNumber
		}
		if err := setStyled(f, sheet, start, title, wb.styles.story); err != nil {
			return err
		}
		row++

		for i, tc := range entryCases(entry) {
			values := []any{
				CaseReference(i),
				entry.EpicNumber,
				entry.UserStoryNumber,
				tc.Title,
				typeLabel(tc.Type),
				len(tc.Steps),
			}
			for col, value := range values {
				style := wb.styles.cell
				if col == 3 {
					style = wb.styles.wrap
				}
				if err := setStyledAt(f, sheet, col+2, row, value, style); err != nil {
					return err
				}
			}
			for col := len(values); col < len(summaryHeaders); col++ {
				if err := setStyledAt(f, sheet, col+2, row, "", wb.styles.cell); err != nil {
					return err
				}
			}
			row++
		}
	}
	return nil
}

func (wb *workbook) writeStory(sheet string, entry domaintestgen.ReportEntry) error {
	f := wb.f
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	for col, width := range map[string]float64{"A": 1.5, "B": 10, "C": 55, "D": 80, "E": 20} {
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}

	row := 2
	for i, tc := range entryCases(entry) {
		labels := []struct {
			label string
			value string
		}{
			{"Test Case No:", CaseReference(i)},
			{"Test Case Name:", tc.Title},
			{"Test Description:", tc.Title},
			{"Test Type:", typeLabel(tc.Type)},
		}
		for _, l := range labels {
			if err := setStyledAt(f, sheet, 2, row, l.label, wb.styles.label); err != nil {
				return err
			}
			if err := setStyledAt(f, sheet, 4, row, l.value, wb.styles.wrap); err != nil {
				return err
			}
			row++
		}
		row++

		for col, header := range stepHeaders {
			if err := setStyledAt(f, sheet, col+2, row, header, wb.styles.header); err != nil {
				return err
			}
		}
		row++

		for stepIdx, step := range tc.Steps {
			expected := ""
			if stepIdx == len(tc.Steps)-1 {
				expected = tc.ExpectedResults
			}
			values := []any{stepIdx + 1, step, expected}
			for col, value := range values {
				if err := setStyledAt(f, sheet, col+2, row, value, wb.styles.wrap); err != nil {
					return err
				}
			}
			for col := len(values); col < len(stepHeaders); col++ {
				if err := setStyledAt(f, sheet, col+2, row, "", wb.styles.cell); err != nil {
					return err
				}
			}
			row++
		}
		row += 2
	}
	return nil
}

func (wb *workbook) writeFormulas(entries []domaintestgen.ReportEntry) error {
	f := wb.f
	sheet := SheetFormulas
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	positive, negative := 0, 0
	for _, entry := range entries {
		for _, tc := range entryCases(entry) {
			switch tc.Type {
			case domaintestgen.TestCasePositive:
				positive++
			case domaintestgen.TestCaseNegative:
				negative++
			}
		}
	}

	rows := [][]any{
		{"±ve Test Case Count", ""},
		{"+ve Test Case", positive},
		{"-ve Test Case", negative},
		{},
		{"Total Test Cases", positive + negative},
	}
	for i, values := range rows {
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+1)
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	if err := f.SetCellStyle(sheet, "A1", "B1", wb.styles.bold); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A5", "B5", wb.styles.bold); err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", "A", 25)
}

// CaseReference numbers test cases within a story: TC001, TC002, ...
func CaseReference(index int) string {
	return fmt.Sprintf("TC%03d", index+1)
}

func entryCases(entry domaintestgen.ReportEntry) []domaintestgen.TestCase {
	cases := make([]domaintestgen.TestCase, 0, len(entry.TestCases)+len(entry.EdgeCases))
	cases = append(cases, entry.TestCases...)
	return append(cases, entry.EdgeCases...)
}

func typeLabel(t domaintestgen.TestCaseType) string {
	s := string(t)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var sheetNameReplacer = strings.NewReplacer(":", "-", `\`, "-", "/", "-", "?", "", "*", "", "[", "(", "]", ")")

// sheetNames gives each story a unique, valid sheet name based on its story number.
func sheetNames(entries []domaintestgen.ReportEntry) []string {
	reserved := map[string]bool{
		strings.ToLower(SheetCover):    true,
		strings.ToLower(SheetSummary):  true,
		strings.ToLower(SheetFormulas): true,
	}
	names := make([]string, 0, len(entries))
	for i, entry := range entries {
		base := strings.TrimSpace(sheetNameReplacer.Replace(entry.UserStoryNumber))
		base = strings.Trim(base, "'")
		if base == "" {
			base = fmt.Sprintf("Story %d", i+1)
		}
		base = truncate(base, maxSheetNameLen)

		name := base
		for n := 2; reserved[strings.ToLower(name)]; n++ {
			suffix := fmt.Sprintf(" (%d)", n)
			name = truncate(base, maxSheetNameLen-len(suffix)) + suffix
		}
		reserved[strings.ToLower(name)] = true
		names = append(names, name)
	}
	return names
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func setStyled(f *excelize.File, sheet string, cell string, value any, style int) error {
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return err
	}
	return f.SetCellStyle(sheet, cell, cell, style)
}

func setStyledAt(f *excelize.File, sheet string, col int, row int, value any, style int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return setStyled(f, sheet, cell, value, style)
}
