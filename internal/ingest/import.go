package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/citydocs/triage/internal/common"
)

// maxImportErrors bounds the error list carried back to the caller; the
// counts stay exact regardless.
const maxImportErrors = 20

// ImportResult summarizes one bulk import. Rows are isolated: a bad row
// never aborts the manifest.
type ImportResult struct {
	ImportedCount int         `json:"imported_count"`
	FailedCount   int         `json:"failed_count"`
	Errors        []string    `json:"errors,omitempty"`
	DocumentIDs   []uuid.UUID `json:"document_ids"`
}

func (r *ImportResult) addError(row int, err error) {
	r.FailedCount++
	if len(r.Errors) < maxImportErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("row %d: %v", row, err))
	}
}

// manifestRow is one document described by a bulk manifest. Content comes
// inline from the content column or from a file named by the path column.
type manifestRow struct {
	filename    string
	contentType string
	content     string
	path        string
}

func (r manifestRow) bytes() ([]byte, error) {
	if r.content != "" {
		return []byte(r.content), nil
	}
	return os.ReadFile(r.path)
}

// ImportCSV ingests a manifest with a filename,content_type,content header.
// Every document is enqueued for asynchronous processing.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, actor string) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, common.NewAppError("IMPORT_INVALID", "manifest has no header row", common.ErrInvalidInput)
	}
	cols, err := manifestColumns(header)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	for rowNum := 2; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.addError(rowNum, err)
			continue
		}
		row, err := pickRow(record, cols)
		if err != nil {
			result.addError(rowNum, err)
			continue
		}
		s.importRow(ctx, row, actor, rowNum, result)
	}
	s.logImport("csv", result)
	return result, nil
}

// ImportXLSX ingests the first sheet of a workbook laid out like the CSV
// manifest.
func (s *Service) ImportXLSX(ctx context.Context, r io.Reader, actor string) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, common.NewAppError("IMPORT_INVALID", "workbook is unreadable", common.ErrInvalidInput)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, common.NewAppError("IMPORT_INVALID", "workbook has no sheets", common.ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, common.NewAppError("IMPORT_INVALID", "workbook rows are unreadable", common.ErrInvalidInput)
	}
	if len(rows) == 0 {
		return nil, common.NewAppError("IMPORT_INVALID", "manifest has no header row", common.ErrInvalidInput)
	}
	cols, err := manifestColumns(rows[0])
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	for i, record := range rows[1:] {
		rowNum := i + 2
		row, err := pickRow(record, cols)
		if err != nil {
			result.addError(rowNum, err)
			continue
		}
		s.importRow(ctx, row, actor, rowNum, result)
	}
	s.logImport("xlsx", result)
	return result, nil
}

func (s *Service) importRow(ctx context.Context, row manifestRow, actor string, rowNum int, result *ImportResult) {
	content, err := row.bytes()
	if err != nil {
		result.addError(rowNum, err)
		return
	}
	res, err := s.Ingest(ctx, Request{
		Filename:      row.filename,
		ContentType:   row.contentType,
		SourceChannel: "bulk_import",
		Content:       content,
		Actor:         actor,
		Async:         true,
	})
	if err != nil {
		result.addError(rowNum, err)
		return
	}
	result.ImportedCount++
	result.DocumentIDs = append(result.DocumentIDs, res.DocumentID)
}

// manifestColumns maps the required header names to their positions. The
// manifest needs filename plus either inline content or a path column.
func manifestColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["filename"]; !ok {
		return nil, common.NewAppError("IMPORT_INVALID",
			`manifest header is missing "filename"`, common.ErrInvalidInput)
	}
	_, hasContent := cols["content"]
	_, hasPath := cols["path"]
	if !hasContent && !hasPath {
		return nil, common.NewAppError("IMPORT_INVALID",
			`manifest header needs a "content" or "path" column`, common.ErrInvalidInput)
	}
	return cols, nil
}

func pickRow(record []string, cols map[string]int) (manifestRow, error) {
	cell := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}
	row := manifestRow{
		filename:    cell("filename"),
		contentType: cell("content_type"),
		content:     cell("content"),
		path:        cell("path"),
	}
	if row.filename == "" {
		return manifestRow{}, fmt.Errorf("filename is empty")
	}
	if row.content == "" && row.path == "" {
		return manifestRow{}, fmt.Errorf("content is empty")
	}
	return row, nil
}

func (s *Service) logImport(kind string, result *ImportResult) {
	s.log.Info("import.finished", "kind", kind,
		"imported", result.ImportedCount, "failed", result.FailedCount)
}
