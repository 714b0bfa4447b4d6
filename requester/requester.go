// Package requester is the client side of the Dispatcher API: it starts
// acquisitions, waits for their results on the event stream and asks for
// delivery into a chat tab.
package requester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/validation"
)

const DefaultTimeout = 45 * time.Second

// ErrNoResponse means no result arrived in time. The capture may still be
// running; asking again is safe.
var ErrNoResponse = errors.New("no response from the page, reload the tab and try again")

// APIError is a non-2xx answer from the Dispatcher.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dispatcher: %d %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Transcript is an accepted result together with the request id it arrived
// under, which differs from the one sent when the request joined a running
// capture. Deliveries should name this id.
type Transcript struct {
	RequestID string
	models.TranscriptResult
}

type Client struct {
	baseURL string
	http    *http.Client
	dialer  websocket.Dialer
	timeout time.Duration
	newID   func() string
	logger  *logrus.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds how long Acquire and Deliver wait for their event.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithIDGenerator(fn func() string) Option {
	return func(c *Client) { c.newID = fn }
}

func New(baseURL string, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  1024,
		},
		timeout: DefaultTimeout,
		newID:   uuid.NewString,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire starts an acquisition and waits for its TRANSCRIPT_READY. A reversed
// or half-filled range is rejected before anything is sent. A failed
// acquisition comes back as *models.ResultError.
func (c *Client) Acquire(ctx context.Context, req models.AcquisitionRequest) (*Transcript, error) {
	if err := validation.ValidateAcquisition(req); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = c.newID()
	}

	stream, err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.close()

	var accepted struct {
		RequestID string `json:"request_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/acquisitions", req, &accepted); err != nil {
		return nil, err
	}
	// A request that joins a running capture is answered under that capture's id.
	id := accepted.RequestID
	if id == "" {
		id = req.RequestID
	}
	log := c.logger.WithFields(logrus.Fields{"request_id": id, "tab_id": req.TargetTabID})
	log.Debug("Acquisition started")

	env, err := stream.await(ctx, c.timeout, models.MsgTranscriptReady, id)
	if err != nil {
		log.WithError(err).Warn("No transcript received")
		return nil, err
	}

	var ready models.TranscriptReady
	if err := env.Decode(&ready); err != nil {
		return nil, errors.Wrap(err, "decode transcript")
	}
	if err := ready.Result.Err(); err != nil {
		return nil, err
	}
	if ready.Value == nil {
		return nil, errors.New("transcript missing from successful result")
	}
	return &Transcript{RequestID: id, TranscriptResult: *ready.Value}, nil
}

// Deliver asks for the prompt to be composed and inserted, then waits for
// DELIVERY_DONE.
func (c *Client) Deliver(ctx context.Context, req models.PromptRequest) (*models.DeliveryDone, error) {
	if req.RequestID == "" {
		req.RequestID = c.newID()
	}

	stream, err := c.subscribe(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.close()

	if err := c.do(ctx, http.MethodPost, "/api/v1/deliveries", req, nil); err != nil {
		return nil, err
	}

	env, err := stream.await(ctx, c.timeout, models.MsgDeliveryDone, req.RequestID)
	if err != nil {
		return nil, err
	}
	var done models.DeliveryDone
	if err := env.Decode(&done); err != nil {
		return nil, errors.Wrap(err, "decode delivery")
	}
	if done.Error != "" {
		return &done, errors.New(done.Error)
	}
	return &done, nil
}

// SetRange sends SET_TRANSCRIPT_RANGE for a tab whose acquisition is waiting
// on a range.
func (c *Client) SetRange(ctx context.Context, tabID string, r models.TimeRange) error {
	if _, err := validation.ValidateRange(r); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/api/v1/acquisitions/range", models.SetTranscriptRange{TabID: tabID, Range: r}, nil)
}

func (c *Client) Acquisition(ctx context.Context, id string) (*models.Acquisition, error) {
	var a models.Acquisition
	if err := c.do(ctx, http.MethodGet, "/api/v1/acquisitions/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Tabs(ctx context.Context) ([]models.TabInfo, error) {
	var tabs []models.TabInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/tabs", nil, &tabs); err != nil {
		return nil, err
	}
	return tabs, nil
}

func (c *Client) Preference(ctx context.Context, key string) (string, error) {
	var kv struct {
		Value string `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/preferences/"+url.PathEscape(key), nil, &kv); err != nil {
		return "", err
	}
	return kv.Value, nil
}

func (c *Client) SetPreference(ctx context.Context, key, value string) error {
	body := map[string]string{"value": value}
	return c.do(ctx, http.MethodPut, "/api/v1/preferences/"+url.PathEscape(key), body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	return nil
}

func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base URL")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/events"
	return u.String(), nil
}
