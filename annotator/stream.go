package annotator

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/pinpoint/tracker"
)

const (
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait * 9 / 10
	// streamBuffer batches may queue per client before it is dropped.
	streamBuffer = 16
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Stream broadcasts position batches to websocket clients. It is a
// tracker.Sink.
type Stream struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	send chan tracker.Batch
	once sync.Once
}

func (c *streamClient) close() { c.once.Do(func() { close(c.send) }) }

// NewStream creates an empty broadcaster.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{logger: logger, clients: make(map[*streamClient]struct{})}
}

// Send queues batch for every client. A client whose queue is full is
// disconnected rather than allowed to slow the tracker down.
func (s *Stream) Send(_ context.Context, batch tracker.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- batch:
		default:
			s.logger.Warn("annotator: stream client too slow, dropping")
			delete(s.clients, c)
			c.close()
		}
	}
	return nil
}

// Close disconnects every client.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
	return nil
}

// Clients is the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) subscribe() *streamClient {
	c := &streamClient{send: make(chan tracker.Batch, streamBuffer)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.close()
		return c
	}
	s.clients[c] = struct{}{}
	return c
}

func (s *Stream) unsubscribe(c *streamClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// Serve upgrades the request and streams batches, starting with current,
// until the client goes away.
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request, current tracker.Batch) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("annotator: stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := s.subscribe()
	defer s.unsubscribe(c)

	// Reader: only control frames are expected; its failure ends the stream.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(v)
	}
	if current.Seq > 0 {
		if err := write(current); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case batch, ok := <-c.send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(streamWriteWait))
				return
			}
			if current.Seq > 0 && batch.Seq <= current.Seq {
				continue
			}
			if err := write(batch); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
