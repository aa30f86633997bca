package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/citydocs/triage/internal/common"
)

func fakeOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIEnricher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e, err := NewOpenAIEnricher(OpenAIConfig{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: srv.URL + "/v1",
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func permitRequest() Request {
	return Request{
		Text:           "Permit for parcel AB-1234, applicant Jane Roe.",
		DocType:        "building_permit",
		RequiredFields: []string{"applicant_name", "parcel_number"},
		Existing:       map[string]string{"applicant_name": "Jane Roe"},
	}
}

func TestOpenAIEnrichOK(t *testing.T) {
	e := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(
			`{"fields":{"parcel_number":"AB-1234"},"confidence":0.88,"notes":"parcel cited verbatim"}`))
	})

	got, err := e.Enrich(context.Background(), permitRequest())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if got.Fields["parcel_number"] != "AB-1234" {
		t.Errorf("fields = %v", got.Fields)
	}
	if got.Confidence != 0.88 {
		t.Errorf("confidence = %v", got.Confidence)
	}
}

func TestOpenAIEnrichDropsUnusableValues(t *testing.T) {
	e := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(
			`{"fields":{"parcel_number":"N/A","case_number":"CV-2026-77","applicant_email":"jane@town.gov"},"confidence":0.5}`))
	})

	got, err := e.Enrich(context.Background(), permitRequest())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if _, ok := got.Fields["parcel_number"]; ok {
		t.Error("placeholder value survived normalization")
	}
	// case_number was never asked for.
	if _, ok := got.Fields["case_number"]; ok {
		t.Error("field outside the target set survived normalization")
	}
	// Email variants are always acceptable answers.
	if got.Fields["applicant_email"] != "jane@town.gov" {
		t.Errorf("fields = %v", got.Fields)
	}
}

func TestOpenAIEnrichTruncatesLongValues(t *testing.T) {
	long := strings.Repeat("x", 500)
	e := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(
			`{"fields":{"parcel_number":"` + long + `"},"confidence":0.5}`))
	})

	got, err := e.Enrich(context.Background(), permitRequest())
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(got.Fields["parcel_number"]) != maxFieldValueLen {
		t.Errorf("value length = %d, want %d", len(got.Fields["parcel_number"]), maxFieldValueLen)
	}
}

func TestOpenAIEnrichRejectsMalformedJSON(t *testing.T) {
	e := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(`the parcel is AB-1234, probably`))
	})

	_, err := e.Enrich(context.Background(), permitRequest())
	if !errors.Is(err, common.ErrInvalidProviderResponse) {
		t.Errorf("err = %v, want ErrInvalidProviderResponse", err)
	}
}

func TestOpenAIEnrichServerError(t *testing.T) {
	e := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := e.Enrich(context.Background(), permitRequest())
	if !errors.Is(err, common.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestOpenAIEnrichSkipsEmptyWork(t *testing.T) {
	e := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called without text and target fields")
	})

	got, err := e.Enrich(context.Background(), Request{Text: "   ", RequiredFields: []string{"date"}})
	if err != nil || len(got.Fields) != 0 {
		t.Errorf("blank text: got %v, %v", got, err)
	}
	got, err = e.Enrich(context.Background(), Request{Text: "some text"})
	if err != nil || len(got.Fields) != 0 {
		t.Errorf("no targets: got %v, %v", got, err)
	}
}

func TestNewOpenAIEnricherRequiresKey(t *testing.T) {
	_, err := NewOpenAIEnricher(OpenAIConfig{}, nil)
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
