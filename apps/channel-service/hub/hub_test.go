package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"goim-channel/apps/channel-service/model"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/snowflake"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	seq, err := snowflake.NewSnowflake(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return NewHub(seq, logger.NewNop())
}

func newTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(h, conn, r.URL.Query().Get("user"), 16, logger.NewNop())
		if err := h.Register(c); err != nil {
			conn.Close()
			return
		}
		c.Serve(context.Background())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func subscribe(t *testing.T, conn *websocket.Conn, channelID string) {
	t.Helper()
	if err := conn.WriteJSON(Command{Action: ActionSubscribe, ChannelID: channelID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readFrame(t, conn)
	if ack.Event != EventSubscribed || ack.ChannelID != channelID {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_PublishInOrder(t *testing.T) {
	h := newTestHub(t)
	srv := newTestServer(t, h)
	conn := dial(t, srv, "u1")
	subscribe(t, conn, "c1")

	for i := 0; i < 5; i++ {
		h.Publish("c1", model.EventNewMessage, map[string]int{"n": i})
	}

	var lastSeq int64
	for i := 0; i < 5; i++ {
		f := readFrame(t, conn)
		if f.Event != model.EventNewMessage || f.ChannelID != "c1" {
			t.Fatalf("unexpected frame %+v", f)
		}
		payload, ok := f.Payload.(map[string]interface{})
		if !ok || payload["n"] != float64(i) {
			t.Fatalf("frame %d out of order: %+v", i, f.Payload)
		}
		if f.Seq <= lastSeq {
			t.Fatalf("seq not increasing: %d after %d", f.Seq, lastSeq)
		}
		lastSeq = f.Seq
	}
}

func TestHub_OnlySubscribersReceive(t *testing.T) {
	h := newTestHub(t)
	srv := newTestServer(t, h)
	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	subscribe(t, a, "c1")
	subscribe(t, b, "c2")

	h.Publish("c1", model.EventMessageDeleted, model.MessageDeletedPayload{ChannelID: "c1", MessageID: "m1"})
	h.Publish("c2", model.EventMessageUpdated, nil)

	if f := readFrame(t, a); f.Event != model.EventMessageDeleted {
		t.Fatalf("a got %+v", f)
	}
	if f := readFrame(t, b); f.Event != model.EventMessageUpdated || f.ChannelID != "c2" {
		t.Fatalf("b got %+v", f)
	}
}

func TestHub_UnsubscribeAndErrors(t *testing.T) {
	h := newTestHub(t)
	srv := newTestServer(t, h)
	conn := dial(t, srv, "u1")
	subscribe(t, conn, "c1")

	conn.WriteJSON(Command{Action: ActionUnsubscribe, ChannelID: "c1"})
	if f := readFrame(t, conn); f.Event != EventUnsubscribed {
		t.Fatalf("expected unsubscribed ack, got %+v", f)
	}
	if h.RoomSize("c1") != 0 {
		t.Fatal("room should be empty")
	}

	conn.WriteJSON(Command{Action: "shout", ChannelID: "c1"})
	if f := readFrame(t, conn); f.Event != EventError {
		t.Fatalf("expected error frame, got %+v", f)
	}
	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if f := readFrame(t, conn); f.Event != EventError {
		t.Fatalf("expected error frame, got %+v", f)
	}
}

func TestHub_ChannelDeletedDropsRoom(t *testing.T) {
	h := newTestHub(t)
	srv := newTestServer(t, h)
	conn := dial(t, srv, "u1")
	subscribe(t, conn, "c1")

	h.Publish("c1", model.EventChannelDeleted, model.ChannelDeletedPayload{ChannelID: "c1"})
	if f := readFrame(t, conn); f.Event != model.EventChannelDeleted {
		t.Fatalf("unexpected frame %+v", f)
	}
	if h.RoomSize("c1") != 0 {
		t.Fatal("room should be dropped after channelDeleted")
	}
	if h.ClientCount() != 1 {
		t.Fatal("connection should stay open")
	}
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	h := newTestHub(t)
	srv := newTestServer(t, h)
	conn := dial(t, srv, "u1")
	subscribe(t, conn, "c1")
	subscribe(t, conn, "c2")

	conn.Close()
	waitFor(t, func() bool {
		return h.ClientCount() == 0 && h.RoomSize("c1") == 0 && h.RoomSize("c2") == 0
	})
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := newTestHub(t)
	c := NewClient(h, nil, "slow", 1, logger.NewNop())
	if err := h.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.Subscribe(c, "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.Publish("c1", model.EventNewMessage, nil)
	h.Publish("c1", model.EventNewMessage, nil)

	if h.ClientCount() != 0 || h.RoomSize("c1") != 0 {
		t.Fatal("slow client should be unregistered")
	}
	<-c.send
	if _, ok := <-c.send; ok {
		t.Fatal("send queue should be closed")
	}
	// 重复注销不会 panic
	h.Unregister(c)
}

func TestHub_Close(t *testing.T) {
	h := newTestHub(t)
	srv := newTestServer(t, h)
	conn := dial(t, srv, "u1")
	subscribe(t, conn, "c1")

	h.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
	if err := h.Register(NewClient(h, nil, "late", 1, logger.NewNop())); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
