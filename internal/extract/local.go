package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
)

// LocalExtractor handles plain text and common embedded-text formats
// synchronously, with no network dependency. It is deterministic: the same
// bytes always yield the same text.
type LocalExtractor struct{}

func NewLocalExtractor() *LocalExtractor { return &LocalExtractor{} }

func (e *LocalExtractor) Name() string { return "local" }

func (e *LocalExtractor) Extract(_ context.Context, content []byte, contentType, filename string) (Result, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))

	switch ext {
	case "txt", "md", "csv":
		return textResult(decodeText(content), "native_text", 0.99)
	case "json":
		return jsonResult(content)
	case "docx", "docm":
		return docxResult(content)
	}

	if strings.HasPrefix(contentType, "text/") {
		return textResult(decodeText(content), "content_type_text", 0.9)
	}
	if contentType == "application/json" {
		return jsonResult(content)
	}

	return Result{}, common.NewAppError("EXTRACT_UNSUPPORTED",
		fmt.Sprintf("no local reader for %q (%s)", filename, contentType),
		common.ErrUnsupportedFormat)
}

func textResult(text, method string, confidence float64) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, common.NewAppError("EXTRACT_EMPTY", "document contains no readable text", common.ErrExtraction)
	}
	return Result{Text: text, Method: method, Confidence: confidence}, nil
}

func jsonResult(content []byte) (Result, error) {
	if !json.Valid(content) {
		return Result{}, common.NewAppError("EXTRACT_BAD_JSON", "content is not valid JSON", common.ErrExtraction)
	}
	return textResult(decodeText(content), "json_text", 0.95)
}

// decodeText returns content as a string, salvaging non-UTF-8 input by
// treating each byte as a latin-1 code point.
func decodeText(content []byte) string {
	if utf8.Valid(content) {
		return string(content)
	}
	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}
	return string(runes)
}

func docxResult(content []byte) (Result, error) {
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return Result{}, common.NewAppError("EXTRACT_BAD_DOCX", "content is not a docx archive", common.ErrExtraction)
	}

	var docXML []byte
	for _, f := range archive.File {
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			if err != nil {
				return Result{}, common.NewAppError("EXTRACT_BAD_DOCX", "cannot open word/document.xml", common.ErrExtraction)
			}
			docXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return Result{}, common.NewAppError("EXTRACT_BAD_DOCX", "cannot read word/document.xml", common.ErrExtraction)
			}
			break
		}
	}
	if docXML == nil {
		return Result{}, common.NewAppError("EXTRACT_BAD_DOCX", "archive has no word/document.xml", common.ErrExtraction)
	}

	text, err := wordXMLText(docXML)
	if err != nil {
		return Result{}, common.NewAppError("EXTRACT_BAD_DOCX", "malformed document.xml", common.ErrExtraction)
	}
	return textResult(text, "docx_xml", 0.9)
}

// wordXMLText walks the WordprocessingML token stream collecting the text of
// each <w:t> run, one line per <w:p> paragraph.
func wordXMLText(docXML []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(docXML))

	var (
		lines     []string
		paragraph strings.Builder
		inText    bool
	)
	flush := func() {
		if line := strings.TrimSpace(paragraph.String()); line != "" {
			lines = append(lines, line)
		}
		paragraph.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				paragraph.Write(t)
				paragraph.WriteByte(' ')
			}
		}
	}
	flush()
	return strings.Join(lines, "\n"), nil
}
