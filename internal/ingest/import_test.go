package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
)

func TestImportCSVIsolatesBadRows(t *testing.T) {
	svc, st := newTestService(t)
	manifest := strings.Join([]string{
		"filename,content_type,content",
		"a.txt,text/plain,permit application one",
		"b.txt,text/plain,permit application two",
		"c.txt,text/plain,", // bad row: empty content
		"d.txt,text/plain,complaint about noise",
		"e.txt,text/plain,records request",
	}, "\n")

	result, err := svc.ImportCSV(context.Background(), strings.NewReader(manifest), "importer")
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if result.ImportedCount != 4 || result.FailedCount != 1 {
		t.Fatalf("imported=%d failed=%d, want 4/1", result.ImportedCount, result.FailedCount)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "row 4") {
		t.Errorf("errors = %v, want one error naming row 4", result.Errors)
	}
	if len(result.DocumentIDs) != 4 {
		t.Errorf("document ids = %d, want 4", len(result.DocumentIDs))
	}

	jobs, err := st.ListJobs(context.Background(), constants.JobStatusQueued, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 4 {
		t.Errorf("queued jobs = %d, want one per imported row", len(jobs))
	}
}

func TestImportCSVReadsPathColumn(t *testing.T) {
	svc, _ := newTestService(t)
	path := filepath.Join(t.TempDir(), "permit.txt")
	if err := os.WriteFile(path, []byte("building permit construction"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	manifest := "filename,path\npermit.txt," + path + "\nmissing.txt," + path + ".gone\n"

	result, err := svc.ImportCSV(context.Background(), strings.NewReader(manifest), "importer")
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if result.ImportedCount != 1 || result.FailedCount != 1 {
		t.Errorf("imported=%d failed=%d, want 1/1", result.ImportedCount, result.FailedCount)
	}
}

func TestImportCSVRequiresHeader(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ImportCSV(context.Background(), strings.NewReader("name,body\na,b\n"), "importer")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestImportXLSX(t *testing.T) {
	svc, _ := newTestService(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := [][]string{
		{"filename", "content_type", "content"},
		{"a.txt", "text/plain", "building permit construction"},
		{"", "text/plain", "missing filename"},
		{"b.txt", "text/plain", "court filing petition"},
	}
	for r, row := range cells {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	result, err := svc.ImportXLSX(context.Background(), &buf, "importer")
	if err != nil {
		t.Fatalf("ImportXLSX: %v", err)
	}
	if result.ImportedCount != 2 || result.FailedCount != 1 {
		t.Errorf("imported=%d failed=%d, want 2/1", result.ImportedCount, result.FailedCount)
	}
}
