package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/citydocs/triage/internal/common"
)

// RemoteConfig configures the remote text-extraction provider.
type RemoteConfig struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	CacheTTL      time.Duration
}

// RemoteExtractor calls an HTTP OCR/document-intelligence service. Responses
// are validated against the expected shape before being trusted; any network
// error, timeout or shape mismatch comes back as a provider error value.
// Results are cached by content hash so reprocessing the same bytes does not
// spend another provider call.
type RemoteExtractor struct {
	cfg        RemoteConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *gocache.Cache
	log        *slog.Logger
}

func NewRemoteExtractor(cfg RemoteConfig, logger *slog.Logger) *RemoteExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &RemoteExtractor{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		cache:      gocache.New(cfg.CacheTTL, 10*time.Minute),
		log:        logger,
	}
}

func (e *RemoteExtractor) Name() string { return "remote" }

type remoteRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"` // base64
}

type remoteResponse struct {
	Text       *string  `json:"text"`
	Method     string   `json:"method"`
	Confidence *float64 `json:"confidence"`
}

func (e *RemoteExtractor) Extract(ctx context.Context, content []byte, contentType, filename string) (Result, error) {
	sum := sha256.Sum256(content)
	hashHex := hex.EncodeToString(sum[:])

	if cached, ok := e.cache.Get(hashHex); ok {
		res := cached.(Result)
		e.log.Debug("extract.remote.cache_hit", "content_hash", hashHex[:12], "method", res.Method)
		return res, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return Result{}, common.NewAppError("EXTRACT_REMOTE", "rate limiter interrupted", common.ErrProviderUnavailable)
	}

	start := time.Now()
	raw, err := e.post(ctx, remoteRequest{
		Filename:    filename,
		ContentType: contentType,
		Content:     base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		e.log.Warn("extract.remote.call_failed",
			"content_hash", hashHex[:12], "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, common.NewAppError("EXTRACT_REMOTE", "ocr provider call failed", fmt.Errorf("%w: %v", common.ErrProviderUnavailable, err))
	}

	var resp remoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, common.NewAppError("EXTRACT_REMOTE", "ocr response is not JSON", common.ErrInvalidProviderResponse)
	}
	if resp.Text == nil {
		return Result{}, common.NewAppError("EXTRACT_REMOTE", "ocr response missing text field", common.ErrInvalidProviderResponse)
	}
	if *resp.Text == "" {
		return Result{}, common.NewAppError("EXTRACT_REMOTE", "ocr provider returned no text", common.ErrExtraction)
	}

	confidence := 0.5
	if resp.Confidence != nil {
		confidence = clamp01(*resp.Confidence)
	}
	method := resp.Method
	if method == "" {
		method = "remote_ocr"
	}

	res := Result{Text: *resp.Text, Method: method, Confidence: confidence}
	e.cache.Set(hashHex, res, gocache.DefaultExpiration)
	e.log.Info("extract.remote.ok",
		"content_hash", hashHex[:12], "method", method,
		"text_len", len(res.Text), "confidence", confidence,
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (e *RemoteExtractor) post(ctx context.Context, body remoteRequest) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ocr status %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
