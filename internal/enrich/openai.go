package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/citydocs/triage/internal/classify"
	"github.com/citydocs/triage/internal/common"
)

// placeholderValues are non-answers models emit for absent fields. They are
// dropped so a "N/A" never satisfies a required field.
var placeholderValues = map[string]struct{}{
	"n/a": {}, "na": {}, "none": {}, "null": {},
	"unknown": {}, "not provided": {}, "missing": {},
}

// emailAliases widens the allowed field set: when email is required the
// model may answer with any of these variants.
var emailAliases = []string{"email", "applicant_email", "contact_email", "sender_email"}

const maxFieldValueLen = 240

// OpenAIConfig configures the LLM enrichment variant.
type OpenAIConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIEnricher asks the model for the missing required fields and accepts
// only values it can constrain: known field names, literal non-placeholder
// text, bounded length. Anything else is discarded, and a provider failure
// never escapes as a result.
type OpenAIEnricher struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *slog.Logger
}

func NewOpenAIEnricher(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIEnricher, error) {
	if cfg.APIKey == "" {
		return nil, common.NewAppError("ENRICH_CONFIG", "openai api key is required", common.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIEnricher{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    logger,
	}, nil
}

func (e *OpenAIEnricher) Name() string { return "openai" }

func (e *OpenAIEnricher) Enrich(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" || len(req.RequiredFields) == 0 {
		return Result{}, nil
	}
	rid := uuid.New().String()
	start := time.Now()
	allowed := allowedFields(req.RequiredFields)
	schema := buildEnrichmentSchema()

	e.log.Info("enrich.remote.start",
		"req_id", rid, "model", e.cfg.Model,
		"doc_type", req.DocType, "target_fields", len(req.RequiredFields))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You extract explicit fields from municipal intake documents and return strict JSON only."},
			{Role: openai.ChatMessageRoleUser, Content: buildEnrichmentPrompt(req)},
		},
	})
	if err != nil {
		e.log.Warn("enrich.remote.call_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, common.NewAppError("ENRICH_REMOTE", "openai call failed",
			fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err))
	}
	if len(resp.Choices) == 0 {
		return Result{}, common.NewAppError("ENRICH_REMOTE", "no choices in openai response", common.ErrInvalidProviderResponse)
	}

	content := []byte(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err := classify.ValidateJSONAgainstSchema(schema, content); err != nil {
		e.log.Warn("enrich.remote.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, common.NewAppError("ENRICH_REMOTE", "response failed schema validation",
			fmt.Errorf("%w: %v", common.ErrInvalidProviderResponse, err))
	}

	var parsed struct {
		Fields     map[string]string `json:"fields"`
		Confidence float64           `json:"confidence"`
		Notes      string            `json:"notes"`
	}
	if err := json.Unmarshal(content, &parsed); err != nil {
		return Result{}, common.NewAppError("ENRICH_REMOTE", "unmarshal response",
			fmt.Errorf("%w: %v", common.ErrInvalidProviderResponse, err))
	}

	out := Result{
		Fields:     normalizeFields(parsed.Fields, allowed),
		Confidence: clampConfidence(parsed.Confidence),
		Notes:      parsed.Notes,
	}
	e.log.Info("enrich.remote.ok",
		"req_id", rid, "filled", len(out.Fields), "confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

func buildEnrichmentSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"fields": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0.0,
				"maximum": 1.0,
			},
			"notes": map[string]any{"type": "string"},
		},
		"required": []string{"fields"},
	}
}

func buildEnrichmentPrompt(req Request) string {
	existing, _ := json.Marshal(req.Existing)
	text := req.Text
	// First ~12k chars cover intake paperwork and keep token use flat.
	if len(text) > 12000 {
		text = text[:12000]
	}
	var b strings.Builder
	b.WriteString("Extract missing fields from this local-government intake document. ")
	b.WriteString(`Return strict JSON only with shape: {"fields": {"field_name": "value"}, "confidence": 0.0-0.99, "notes": "short reason"}.` + "\n")
	b.WriteString("Document type: " + req.DocType + "\n")
	b.WriteString("Target fields: " + strings.Join(req.RequiredFields, ", ") + "\n")
	b.WriteString("Existing extracted fields: " + string(existing) + "\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Use only values explicitly present in the provided text.\n")
	b.WriteString("- If a value is not present, omit it from fields.\n")
	b.WriteString("- Do not invent names, addresses, dates, or IDs.\n")
	b.WriteString("- Keep values concise and literal.\n\n")
	b.WriteString("Document text:\n" + text)
	return b.String()
}

func allowedFields(required []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(required)+len(emailAliases))
	for _, f := range required {
		if f = strings.TrimSpace(f); f != "" {
			allowed[f] = struct{}{}
		}
	}
	for _, alias := range emailAliases {
		allowed[alias] = struct{}{}
	}
	return allowed
}

// normalizeFields keeps only allowed field names with literal, non-placeholder
// values, truncated to a sane length.
func normalizeFields(raw map[string]string, allowed map[string]struct{}) map[string]string {
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		name := strings.TrimSpace(key)
		if _, ok := allowed[name]; !ok {
			continue
		}
		v := strings.TrimSpace(value)
		if _, placeholder := placeholderValues[strings.ToLower(v)]; placeholder {
			continue
		}
		if len(v) > maxFieldValueLen {
			v = strings.TrimSpace(v[:maxFieldValueLen])
		}
		if v == "" {
			continue
		}
		out[name] = v
	}
	return out
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 0.99 {
		return 0.99
	}
	return v
}
