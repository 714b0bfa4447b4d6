package requester

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/nijaru/tubeprompt/models"
)

type stream struct {
	conn      *websocket.Conn
	events    chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

// subscribe opens the event stream before the request that triggers the
// event is sent, so the answer cannot slip past.
func (c *Client) subscribe(ctx context.Context) (*stream, error) {
	u, err := c.eventsURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial event stream")
	}

	s := &stream{
		conn:   conn,
		events: make(chan models.Envelope, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *stream) readLoop() {
	defer close(s.events)
	for {
		var env models.Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}
		select {
		case s.events <- env:
		case <-s.done:
			return
		}
	}
}

// await returns the first envelope of type t for requestID. Everything else
// on the stream belongs to other requests and is skipped.
func (s *stream) await(ctx context.Context, timeout time.Duration, t models.MessageType, requestID string) (models.Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-s.events:
			if !ok {
				return models.Envelope{}, errors.Wrap(ErrNoResponse, "event stream closed")
			}
			if env.Type == t && env.RequestID == requestID {
				return env, nil
			}
		case <-timer.C:
			return models.Envelope{}, ErrNoResponse
		case <-ctx.Done():
			return models.Envelope{}, ctx.Err()
		}
	}
}

func (s *stream) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.conn.Close()
	})
}
