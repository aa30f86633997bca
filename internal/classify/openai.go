package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/rules"
)

// OpenAIConfig configures the LLM classifier variant.
type OpenAIConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// OpenAIClassifier submits text plus the allowed doc-type vocabulary and
// expects a structured response restricted to that vocabulary. Any network
// error, timeout, or response that fails schema validation is a provider
// failure, not a classification result; the orchestrator falls back to the
// keyword matcher. At most one attempt happens per call — cross-run retry
// belongs to the job queue.
type OpenAIClassifier struct {
	client *openai.Client
	cfg    OpenAIConfig
	log    *slog.Logger
}

func NewOpenAIClassifier(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, common.NewAppError("CLASSIFY_CONFIG", "openai api key is required", common.ErrInvalidInput)
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIClassifier{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		log:    logger,
	}, nil
}

func (c *OpenAIClassifier) Name() string { return "openai" }

func (c *OpenAIClassifier) Classify(ctx context.Context, text string, rs *rules.RuleSet) (Outcome, error) {
	rid := uuid.New().String()
	start := time.Now()
	vocabulary := rs.DocTypes()
	schema := BuildClassificationSchema(vocabulary)

	c.log.Info("classify.remote.start",
		"req_id", rid, "model", c.cfg.Model,
		"text_len", len(text), "vocabulary", len(vocabulary))

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(rs)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(text)},
			{Role: openai.ChatMessageRoleSystem, Content: "JSON Schema:\n" + mustJSON(schema)},
		},
	})
	if err != nil {
		c.log.Warn("classify.remote.call_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Outcome{}, common.NewAppError("CLASSIFY_REMOTE", "openai call failed",
			fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err))
	}
	if len(resp.Choices) == 0 {
		return Outcome{}, common.NewAppError("CLASSIFY_REMOTE", "no choices in openai response", common.ErrInvalidProviderResponse)
	}

	content := []byte(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err := ValidateJSONAgainstSchema(schema, content); err != nil {
		c.log.Warn("classify.remote.schema_validation_failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Outcome{}, common.NewAppError("CLASSIFY_REMOTE", "response failed schema validation",
			fmt.Errorf("%w: %v", common.ErrInvalidProviderResponse, err))
	}

	var parsed struct {
		DocType         string   `json:"doc_type"`
		Confidence      float64  `json:"confidence"`
		MatchedKeywords []string `json:"matched_keywords"`
		Rationale       string   `json:"rationale"`
	}
	if err := json.Unmarshal(content, &parsed); err != nil {
		return Outcome{}, common.NewAppError("CLASSIFY_REMOTE", "unmarshal response",
			fmt.Errorf("%w: %v", common.ErrInvalidProviderResponse, err))
	}

	out := Outcome{
		DocType:         parsed.DocType,
		Confidence:      clamp01(parsed.Confidence),
		MatchedKeywords: parsed.MatchedKeywords,
		Rationale:       parsed.Rationale,
		Provider:        c.Name(),
	}
	c.log.Info("classify.remote.ok",
		"req_id", rid, "doc_type", out.DocType, "confidence", out.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

func buildSystemPrompt(rs *rules.RuleSet) string {
	var b strings.Builder
	b.WriteString("You are a municipal intake triage classifier. ")
	b.WriteString("Return ONLY JSON that matches the provided JSON Schema. ")
	b.WriteString("Allowed doc_type values (enum): ")
	b.WriteString(strings.Join(rs.DocTypes(), ", "))
	b.WriteString(". Rule keywords per type:")
	for _, docType := range rs.DocTypes() {
		rule, _ := rs.Get(docType)
		if len(rule.Keywords) == 0 {
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(docType)
		b.WriteString(": ")
		b.WriteString(strings.Join(rule.Keywords, ", "))
	}
	b.WriteString("\nIf none fit, use \"")
	b.WriteString(rules.FallbackDocType)
	b.WriteString("\". Confidence must reflect your certainty within [0,1]. Never output null.")
	return b.String()
}

func buildUserPrompt(text string) string {
	// First ~4k chars are plenty for intake paperwork and keep token use flat.
	if len(text) > 4000 {
		text = text[:4000]
	}
	return "Document text:\n" + text
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
