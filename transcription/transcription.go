package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/models"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
)

// Request is one recorded clip. Range is nil when no slice range was primed,
// in which case the start/end form fields are left out.
type Request struct {
	Audio    []byte
	Filename string
	Range    *models.SliceRange
	Token    string
}

type Response struct {
	Transcript      string `json:"transcript"`
	EstimatedTokens int    `json:"estimatedTokens"`
	Language        string `json:"language,omitempty"`
}

var ErrInvalidResponse = errors.New("invalid response from transcription server")

// StatusError is a non-2xx answer from the transcription server.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription server returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	baseURL    string
	maxRetries int
	httpClient *http.Client
	logger     *logrus.Logger

	// SleepFunc waits between attempts; tests replace it.
	SleepFunc func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg config.TranscriptionConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		SleepFunc:  sleep,
	}
}

// WithHTTPClient swaps the underlying client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Transcribe POSTs the clip to {base}/transcribe. Server errors and network
// failures are retried with exponential backoff; 4xx answers are not.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Response, error) {
	const op = "Client.Transcribe"

	if len(req.Audio) == 0 {
		return nil, errors.New("empty recording")
	}
	c.inspectToken(req.Token)

	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var (
		resp *Response
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err = c.post(ctx, req)
		if err == nil {
			return resp, nil
		}

		if !retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.logger.WithFields(logrus.Fields{
			"op":         op,
			"attempt":    attempt,
			"maxRetries": attempts,
			"size":       humanize.Bytes(uint64(len(req.Audio))),
			"error":      err,
		}).Warn("Transcription request failed")

		if attempt == attempts {
			break
		}
		backoff := time.Duration(float64(initialBackoff) * math.Pow(backoffFactor, float64(attempt-1)))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		if err := c.SleepFunc(ctx, backoff+time.Duration(rand.Int63n(int64(backoff/2)))); err != nil {
			return nil, err
		}
	}

	return nil, errors.Wrapf(err, "transcribing after %d attempts", attempts)
}

func (c *Client) post(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "sending request")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(ErrInvalidResponse, err.Error())
	}
	return &out, nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrInvalidResponse) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func encodeForm(req Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := req.Filename
	if filename == "" {
		filename = "fullVideo.webm"
	}
	part, err := w.CreateFormFile("audio", filename)
	if err != nil {
		return nil, "", errors.Wrap(err, "creating audio part")
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", errors.Wrap(err, "writing audio part")
	}

	if req.Range != nil {
		if err := w.WriteField("startTime", formatSeconds(req.Range.Start)); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("endTime", formatSeconds(req.Range.End)); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "closing form")
	}
	return &buf, w.FormDataContentType(), nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// inspectToken only reads the claims; the server is the one that verifies.
func (c *Client) inspectToken(token string) {
	if token == "" {
		c.logger.Warn("No auth token set, sending transcription request without one")
		return
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		c.logger.WithError(err).Debug("Auth token is not a JWT")
		return
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if exp.Before(time.Now()) {
		c.logger.WithField("expired_at", exp.Time).Warn("Auth token has expired")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
