package annotator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hazyhaar/pinpoint/annotation"
	"github.com/hazyhaar/pinpoint/location"
	"github.com/hazyhaar/pinpoint/tracker"
)

func dialStream(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/v1/positions/stream"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readBatch(t *testing.T, conn *websocket.Conn) tracker.Batch {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var b tracker.Batch
	if err := conn.ReadJSON(&b); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestStream_CurrentThenUpdates(t *testing.T) {
	s, srv := newTestServer(t, sessionOpts{}, 0)
	ctx := context.Background()

	chart := annotation.Annotation{ID: "a", Location: location.Location{"page": "/dash", "chart": "sales"}, CoordsRelativeToTarget: annotation.Centre}
	s.Tracker().SetAnnotations([]annotation.Annotation{chart})
	first := s.Tracker().Recompute(ctx, tracker.ReasonAnnotations)

	conn := dialStream(t, srv.URL)
	got := readBatch(t, conn)
	if got.Seq != first.Seq {
		t.Fatalf("first message seq %d, want %d", got.Seq, first.Seq)
	}
	if _, ok := got.Positions["a"]; !ok {
		t.Fatalf("positions: %+v", got.Positions)
	}

	table := annotation.Annotation{ID: "b", Location: location.Location{"page": "/dash", "table": "orders"}, CoordsRelativeToTarget: annotation.Centre}
	s.Tracker().SetAnnotations([]annotation.Annotation{chart, table})
	second := s.Tracker().Recompute(ctx, tracker.ReasonAnnotations)

	got = readBatch(t, conn)
	if got.Seq != second.Seq || len(got.Positions) != 2 {
		t.Errorf("update: seq %d, %d positions", got.Seq, len(got.Positions))
	}
	if s.Stream().Clients() != 1 {
		t.Errorf("clients: %d", s.Stream().Clients())
	}

	s.Stream().Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}

func TestStream_DropsSlowClient(t *testing.T) {
	st := NewStream(nil)
	c := st.subscribe()
	for i := 0; i <= streamBuffer; i++ {
		st.Send(context.Background(), tracker.Batch{Seq: uint64(i + 1)})
	}
	if st.Clients() != 0 {
		t.Fatalf("slow client kept: %d", st.Clients())
	}
	n := 0
	for range c.send {
		n++
	}
	if n != streamBuffer {
		t.Errorf("drained %d batches", n)
	}
}

func TestStream_SubscribeAfterClose(t *testing.T) {
	st := NewStream(nil)
	st.Close()
	c := st.subscribe()
	if _, ok := <-c.send; ok {
		t.Error("channel should be closed")
	}
	if st.Clients() != 0 {
		t.Error("closed stream accepted a client")
	}
}
