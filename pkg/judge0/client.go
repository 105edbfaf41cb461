package judge0

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codequest",
		Subsystem: "judge0",
		Name:      "execution_duration_seconds",
		Help:      "Wall time from submission to terminal status",
		Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 10, 15},
	}, []string{"language"})

	execPolls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codequest",
		Subsystem: "judge0",
		Name:      "execution_polls",
		Help:      "Number of status polls per execution",
		Buckets:   prometheus.LinearBuckets(1, 1, 10),
	}, []string{"language"})

	execTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codequest",
		Subsystem: "judge0",
		Name:      "poll_timeouts_total",
		Help:      "Executions that exhausted the polling budget",
	}, []string{"language"})

	execFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codequest",
		Subsystem: "judge0",
		Name:      "execution_failures_total",
		Help:      "Executions that failed talking to Judge0",
	}, []string{"language"})
)

const (
	defaultPollInterval = time.Second
	defaultMaxPolls     = 10
)

// Config groups Judge0 client settings.
type Config struct {
	BaseURL      string
	APIKey       string
	APIHost      string
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Client submits programs to a Judge0 instance and polls for their results.
type Client struct {
	baseURL      string
	apiKey       string
	apiHost      string
	pollInterval time.Duration
	maxPolls     int
	http         *http.Client
	tracer       trace.Tracer
	logger       zerolog.Logger
}

// NewClient constructs a Judge0 client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("judge0 base url is required")
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		baseURL:      baseURL,
		apiKey:       cfg.APIKey,
		apiHost:      cfg.APIHost,
		pollInterval: interval,
		maxPolls:     maxPolls,
		http:         httpClient,
		tracer:       otel.Tracer("github.com/noah-isme/codequest-api/pkg/judge0"),
		logger:       logger.With().Str("component", "judge0_client").Logger(),
	}, nil
}

// Supports reports whether the language maps to a Judge0 identifier.
func (c *Client) Supports(language string) bool {
	_, ok := LanguageID(language)
	return ok
}

type createRequest struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

type createResponse struct {
	Token string `json:"token"`
}

type submissionResponse struct {
	Token         string  `json:"token"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          *string `json:"time"`
	Memory        *int    `json:"memory"`
	Status        Status  `json:"status"`
}

// Execute submits the program and polls until Judge0 reports a terminal
// status. When the polling budget runs out the last polled result is
// returned together with ErrPollTimeout.
func (c *Client) Execute(parent context.Context, req Request) (Result, error) {
	languageID, ok := LanguageID(req.Language)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}
	language, _ := CanonicalLanguage(req.Language)

	ctx, span := c.tracer.Start(parent, "judge0.execute", trace.WithAttributes(
		attribute.String("judge0.language", language),
		attribute.Int("judge0.language_id", languageID),
	))
	defer span.End()

	start := time.Now()

	token, err := c.create(ctx, createRequest{
		LanguageID: languageID,
		SourceCode: base64.StdEncoding.EncodeToString([]byte(req.Source)),
		Stdin:      base64.StdEncoding.EncodeToString([]byte(req.Stdin)),
	})
	if err != nil {
		execFailures.WithLabelValues(language).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return Result{}, err
	}
	span.SetAttributes(attribute.String("judge0.token", token))

	var last Result
	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		if err := c.wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return last, err
		}

		last, err = c.fetch(ctx, token)
		if err != nil {
			execFailures.WithLabelValues(language).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "poll failed")
			return Result{}, err
		}

		if last.IsTerminal() {
			execDuration.WithLabelValues(language).Observe(time.Since(start).Seconds())
			execPolls.WithLabelValues(language).Observe(float64(attempt))
			span.SetAttributes(
				attribute.Int("judge0.status_id", last.Status.ID),
				attribute.Int("judge0.polls", attempt),
			)
			return last, nil
		}
	}

	execTimeouts.WithLabelValues(language).Inc()
	execPolls.WithLabelValues(language).Observe(float64(c.maxPolls))
	span.SetStatus(codes.Error, "poll budget exhausted")
	c.logger.Warn().
		Str("token", token).
		Str("language", language).
		Int("polls", c.maxPolls).
		Int("status_id", last.Status.ID).
		Msg("judge0 submission did not reach a terminal status")

	return last, ErrPollTimeout
}

func (c *Client) wait(ctx context.Context) error {
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) create(ctx context.Context, payload createRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	endpoint := c.baseURL + "/submissions?base64_encoded=true&wait=false"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submission request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	var created createResponse
	if err := c.do(httpReq, &created); err != nil {
		return "", fmt.Errorf("create submission: %w", err)
	}
	if created.Token == "" {
		return "", errors.New("create submission: judge0 returned no token")
	}
	return created.Token, nil
}

func (c *Client) fetch(ctx context.Context, token string) (Result, error) {
	endpoint := fmt.Sprintf("%s/submissions/%s?base64_encoded=true", c.baseURL, token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build status request: %w", err)
	}
	c.authorize(httpReq)

	var payload submissionResponse
	if err := c.do(httpReq, &payload); err != nil {
		return Result{}, fmt.Errorf("fetch submission %s: %w", token, err)
	}

	return normalize(token, payload)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
		return
	}
	req.Header.Set("X-Auth-Token", c.apiKey)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPError is returned when Judge0 answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("judge0 responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("judge0 responded with status %d: %s", e.StatusCode, e.Body)
}

func normalize(token string, payload submissionResponse) (Result, error) {
	result := Result{
		Token:  token,
		Status: payload.Status,
	}

	var err error
	if result.Stdout, err = decodeField(payload.Stdout); err != nil {
		return Result{}, fmt.Errorf("decode stdout: %w", err)
	}
	if result.Stderr, err = decodeField(payload.Stderr); err != nil {
		return Result{}, fmt.Errorf("decode stderr: %w", err)
	}
	if result.CompileOutput, err = decodeField(payload.CompileOutput); err != nil {
		return Result{}, fmt.Errorf("decode compile output: %w", err)
	}
	if result.Message, err = decodeField(payload.Message); err != nil {
		return Result{}, fmt.Errorf("decode message: %w", err)
	}

	if payload.Time != nil && *payload.Time != "" {
		if parsed, parseErr := strconv.ParseFloat(*payload.Time, 64); parseErr == nil {
			result.Time = parsed
		}
	}
	if payload.Memory != nil {
		result.Memory = *payload.Memory
	}

	return result, nil
}

// Judge0 wraps base64 output at 60 columns, so line breaks are stripped
// before decoding.
func decodeField(value *string) (string, error) {
	if value == nil || *value == "" {
		return "", nil
	}
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(*value)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
