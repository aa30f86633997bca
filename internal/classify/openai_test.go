package classify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/citydocs/triage/internal/common"
)

func fakeOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAIClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenAIClassifier(OpenAIConfig{
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		BaseURL: srv.URL + "/v1",
	}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func TestOpenAIClassifyOK(t *testing.T) {
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(
			`{"doc_type":"permits","confidence":0.93,"matched_keywords":["permit"],"rationale":"mentions a permit"}`))
	})

	out, err := c.Classify(context.Background(), "permit application", testRuleSet())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out.DocType != "permits" || out.Confidence != 0.93 || out.Provider != "openai" {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestOpenAIClassifyRejectsUnknownDocType(t *testing.T) {
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		// doc_type outside the ruleset vocabulary must fail validation.
		json.NewEncoder(w).Encode(chatResponse(`{"doc_type":"invoices","confidence":0.9}`))
	})

	_, err := c.Classify(context.Background(), "some text", testRuleSet())
	if !errors.Is(err, common.ErrInvalidProviderResponse) {
		t.Errorf("err = %v, want ErrInvalidProviderResponse", err)
	}
}

func TestOpenAIClassifyRejectsMalformedJSON(t *testing.T) {
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse(`the permit one, probably`))
	})

	_, err := c.Classify(context.Background(), "some text", testRuleSet())
	if !errors.Is(err, common.ErrInvalidProviderResponse) {
		t.Errorf("err = %v, want ErrInvalidProviderResponse", err)
	}
}

func TestOpenAIClassifyServerError(t *testing.T) {
	c := fakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := c.Classify(context.Background(), "some text", testRuleSet())
	if !errors.Is(err, common.ErrProviderUnavailable) {
		t.Errorf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestBuildClassificationSchemaEnum(t *testing.T) {
	schema := BuildClassificationSchema([]string{"permits", "other"})
	if err := ValidateJSONAgainstSchema(schema, []byte(`{"doc_type":"permits","confidence":0.5}`)); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	if err := ValidateJSONAgainstSchema(schema, []byte(`{"doc_type":"permits","confidence":1.7}`)); err == nil {
		t.Error("out-of-range confidence accepted")
	}
	if err := ValidateJSONAgainstSchema(schema, []byte(`{"confidence":0.5}`)); err == nil {
		t.Error("missing doc_type accepted")
	}
}
