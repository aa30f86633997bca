package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/classify"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/enrich"
	"github.com/citydocs/triage/internal/entity"
	"github.com/citydocs/triage/internal/extract"
	"github.com/citydocs/triage/internal/rules"
	"github.com/citydocs/triage/internal/store"
)

// Processor runs the extract -> classify -> validate -> decide pipeline for
// one document and applies the outcome atomically. Remote providers are
// optional; the local extractor and keyword classifier are the floor the
// pipeline can always fall back to.
type Processor struct {
	store             *store.Store
	rules             *rules.Manager
	remoteExtractor   extract.Extractor
	localExtractor    extract.Extractor
	remoteClassifier  classify.Classifier
	keywordClassifier classify.Classifier
	enricher          enrich.Enricher
	cfg               common.PipelineConfig
	log               *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithRemoteExtractor adds a remote text-extraction provider tried before
// the local parser.
func WithRemoteExtractor(e extract.Extractor) Option {
	return func(p *Processor) { p.remoteExtractor = e }
}

// WithRemoteClassifier adds a remote classifier tried once per run before
// the keyword matcher.
func WithRemoteClassifier(c classify.Classifier) Option {
	return func(p *Processor) { p.remoteClassifier = c }
}

// WithFieldEnricher adds a provider asked to fill required fields the
// pattern extractor missed, before the routing decision.
func WithFieldEnricher(e enrich.Enricher) Option {
	return func(p *Processor) { p.enricher = e }
}

func NewProcessor(st *store.Store, rm *rules.Manager, cfg common.PipelineConfig, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		store:             st,
		rules:             rm,
		localExtractor:    extract.NewLocalExtractor(),
		keywordClassifier: classify.NewKeywordClassifier(),
		cfg:               cfg,
		log:               logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes one full pipeline run for documentID. Provider failures fall
// back, never escape; a run that cannot produce text lands the document on
// failed with the error recorded. Concurrent runs for the same document are
// rejected with ErrConflict before anything is read or written.
func (p *Processor) Run(ctx context.Context, documentID uuid.UUID, actor string) (*entity.Document, error) {
	unlock, ok := p.store.TryLockDocument(documentID)
	if !ok {
		return nil, common.NewAppError("PIPELINE_CONFLICT",
			fmt.Sprintf("document %s is being processed", documentID), common.ErrConflict)
	}
	defer unlock()

	start := time.Now()
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	content, err := p.store.GetContent(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rs := p.rules.Snapshot()

	p.log.Info("pipeline.run.start",
		"document_id", documentID, "filename", doc.Filename, "actor", actor)

	extraction, extractionErr := p.extractText(ctx, doc, content)
	if extractionErr != nil {
		return p.applyFailure(ctx, doc, actor, extractionErr)
	}
	text := extraction.Text

	outcome := p.classifyText(ctx, text, rs)
	rule := rs.Resolve(outcome.DocType)

	fields := ExtractFields(text)
	urgency := DetectUrgency(text, p.cfg.UrgencyHighKeywords)
	missing, validationErrors := ValidateFields(rule.RequiredFields, fields)

	var enriched []string
	if len(missing) > 0 && p.enricher != nil {
		fields, enriched = p.enrichFields(ctx, text, outcome.DocType, rule, fields)
		if len(enriched) > 0 {
			missing, validationErrors = ValidateFields(rule.RequiredFields, fields)
		}
	}

	decision := Decide(DecisionInput{
		DocType:             outcome.DocType,
		Confidence:          outcome.Confidence,
		MissingFields:       missing,
		ValidationErrors:    validationErrors,
		ConfidenceThreshold: p.cfg.ConfidenceThreshold,
		ForceReviewDocTypes: p.cfg.ForceReviewDocTypes,
	}, rs)

	docType := outcome.DocType
	department := decision.Department
	doc.Status = decision.Status
	doc.DocType = &docType
	doc.Department = &department
	doc.Urgency = urgency
	doc.Confidence = outcome.Confidence
	doc.RequiresReview = decision.RequiresReview
	doc.ExtractedText = text
	doc.ExtractedFields = fields
	doc.MissingFields = missing
	doc.ValidationErrors = validationErrors
	doc.LastError = nil
	doc.DueDate = dueDate(doc.CreatedAt, rule)
	doc.UpdatedAt = time.Now().UTC()

	details := fmt.Sprintf("status=%s doc_type=%s confidence=%s provider=%s extract_method=%s extract_confidence=%s requires_review=%t",
		doc.Status, docType, strconv.FormatFloat(outcome.Confidence, 'f', 4, 64),
		outcome.Provider, extraction.Method,
		strconv.FormatFloat(extraction.Confidence, 'f', 2, 64), doc.RequiresReview)
	if len(enriched) > 0 {
		details += " enriched_fields=" + strings.Join(enriched, ",")
	}
	event := store.NewAuditEvent(documentID, actor, constants.AuditPipelineProcessed, details)
	if err := p.store.ApplyRun(ctx, doc, event); err != nil {
		return nil, err
	}

	p.log.Info("pipeline.run.ok",
		"document_id", documentID, "status", doc.Status, "doc_type", docType,
		"department", department, "confidence", outcome.Confidence,
		"extract_method", extraction.Method, "urgency", urgency,
		"elapsed_ms", time.Since(start).Milliseconds())
	return doc, nil
}

// extractText walks the extraction ladder: remote provider first when
// configured, then the local parser for formats it understands. The local
// fallback only covers provider-side failures; a verdict from a reachable
// provider stands.
func (p *Processor) extractText(ctx context.Context, doc *entity.Document, content []byte) (extract.Result, error) {
	var remoteErr error
	if p.remoteExtractor != nil {
		res, err := p.remoteExtractor.Extract(ctx, content, doc.ContentType, doc.Filename)
		if err == nil {
			return res, nil
		}
		p.log.Warn("pipeline.extract.remote_failed",
			"document_id", doc.ID, "error", err)
		if !common.IsProviderError(err) {
			return extract.Result{}, err
		}
		remoteErr = err
	}

	if p.remoteExtractor == nil || constants.IsLocallyParseable(doc.Filename, doc.ContentType) {
		res, err := p.localExtractor.Extract(ctx, content, doc.ContentType, doc.Filename)
		if err == nil {
			return res, nil
		}
		if remoteErr == nil {
			remoteErr = err
		}
	}
	return extract.Result{}, remoteErr
}

// enrichFields asks the configured provider for the required fields the
// patterns missed. Only gaps are filled; values the patterns already
// extracted are never overwritten, and any provider failure leaves the
// fields untouched.
func (p *Processor) enrichFields(ctx context.Context, text, docType string, rule rules.Rule, fields map[string]string) (map[string]string, []string) {
	res, err := p.enricher.Enrich(ctx, enrich.Request{
		Text:           text,
		DocType:        docType,
		RequiredFields: rule.RequiredFields,
		Existing:       fields,
	})
	if err != nil {
		p.log.Warn("pipeline.enrich.failed", "doc_type", docType, "error", err)
		return fields, nil
	}

	var filled []string
	for name, value := range res.Fields {
		if existing := fields[name]; existing != "" {
			continue
		}
		fields[name] = value
		filled = append(filled, name)
	}
	sort.Strings(filled)
	if len(filled) > 0 {
		p.log.Info("pipeline.enrich.ok", "doc_type", docType,
			"filled_fields", strings.Join(filled, ","), "provider_confidence", res.Confidence)
	}
	return fields, filled
}

// classifyText tries the remote classifier once, then always has the
// keyword matcher to land on. The keyword matcher cannot fail.
func (p *Processor) classifyText(ctx context.Context, text string, rs *rules.RuleSet) classify.Outcome {
	if p.remoteClassifier != nil {
		out, err := p.remoteClassifier.Classify(ctx, text, rs)
		if err == nil {
			return out
		}
		p.log.Warn("pipeline.classify.remote_failed", "error", err)
	}
	out, _ := p.keywordClassifier.Classify(ctx, text, rs)
	return out
}

func (p *Processor) applyFailure(ctx context.Context, doc *entity.Document, actor string, runErr error) (*entity.Document, error) {
	msg := runErr.Error()
	doc.Status = constants.StatusFailed
	doc.DocType = nil
	doc.Department = nil
	doc.Urgency = constants.UrgencyNormal
	doc.Confidence = 0
	doc.RequiresReview = true
	doc.ExtractedText = ""
	doc.ExtractedFields = map[string]string{}
	doc.MissingFields = []string{}
	doc.ValidationErrors = []string{}
	doc.LastError = &msg
	doc.DueDate = nil
	doc.UpdatedAt = time.Now().UTC()

	event := store.NewAuditEvent(doc.ID, actor, constants.AuditPipelineFailed, "error=extraction_failed")
	if err := p.store.ApplyRun(ctx, doc, event); err != nil {
		return nil, err
	}
	p.log.Warn("pipeline.run.failed", "document_id", doc.ID, "error", runErr)
	return doc, nil
}

func dueDate(createdAt time.Time, rule rules.Rule) *time.Time {
	if rule.SLADays == nil {
		return nil
	}
	d := createdAt.Add(time.Duration(*rule.SLADays) * 24 * time.Hour)
	return &d
}
