package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/api/internal/presence"
	"taskboard/api/internal/realtime"
	"taskboard/api/internal/store"
)

type testEnv struct {
	server      *httptest.Server
	hub         *Hub
	broadcaster *realtime.Broadcaster
	registry    *presence.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	registry := presence.NewRegistry()
	broadcaster := realtime.NewBroadcaster(logger)
	hub := NewHub(registry, broadcaster, logger)
	auth := func(_ context.Context, token string) (Identity, error) {
		switch token {
		case "token-ada":
			return Identity{UserID: "u-ada", Username: "ada"}, nil
		case "token-bob":
			return Identity{UserID: "u-bob", Username: "bob"}, nil
		}
		return Identity{}, errors.New("bad token")
	}
	server := httptest.NewServer(NewHandler(hub, auth, "*", logger))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &testEnv{server: server, hub: hub, broadcaster: broadcaster, registry: registry}
}

// client reads on its own goroutine so a quiet period never trips a read deadline, which would
// leave the gorilla connection unusable.
type client struct {
	wc     *websocket.Conn
	frames chan frame
	closed chan error
}

func (e *testEnv) dial(t *testing.T, token string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	wc, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (resp=%v)", err, resp)
	}
	t.Cleanup(func() { _ = wc.Close() })

	c := &client{wc: wc, frames: make(chan frame, 16), closed: make(chan error, 1)}
	go func() {
		for {
			_, data, err := wc.ReadMessage()
			if err != nil {
				c.closed <- err
				return
			}
			var f frame
			if err := sonic.Unmarshal(data, &f); err != nil {
				c.closed <- err
				return
			}
			c.frames <- f
		}
	}()
	return c
}

type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func send(t *testing.T, c *client, event, boardID string, userID string) {
	t.Helper()
	payload, _ := sonic.Marshal(map[string]any{
		"event": event,
		"data":  map[string]any{"boardId": boardID, "userId": userID},
	})
	if err := c.wc.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, c *client) frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case err := <-c.closed:
		t.Fatalf("read: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within 2s")
	}
	return frame{}
}

func expectSilence(t *testing.T, c *client) {
	t.Helper()
	select {
	case f := <-c.frames:
		t.Fatalf("unexpected frame %+v", f)
	case err := <-c.closed:
		t.Fatalf("connection closed: %v", err)
	case <-time.After(100 * time.Millisecond):
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

func TestRejectsMissingOrBadToken(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "nope"} {
		url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=" + token
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("expected dial failure for token %q", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for token %q, got %v", token, resp)
		}
	}
}

func TestJoinBroadcastAndDisconnect(t *testing.T) {
	env := newTestEnv(t)
	ada := env.dial(t, "token-ada")
	bob := env.dial(t, "token-bob")

	send(t, ada, realtime.EventJoinBoard, "board-1", "")
	if f := readFrame(t, ada); f.Event != realtime.EventUserJoinedBoard || f.Data["userId"] != "u-ada" || f.Data["username"] != "ada" {
		t.Fatalf("unexpected frame %+v", f)
	}

	send(t, bob, realtime.EventJoinBoard, "board-1", "u-bob")
	for _, c := range []*client{ada, bob} {
		if f := readFrame(t, c); f.Event != realtime.EventUserJoinedBoard || f.Data["userId"] != "u-bob" {
			t.Fatalf("unexpected frame %+v", f)
		}
	}
	if got := env.hub.Members("board-1"); len(got) != 2 {
		t.Fatalf("expected two members, got %v", got)
	}

	env.broadcaster.EmitTicketMoved(context.Background(), realtime.TicketMovedEvent{
		Ticket:      store.Ticket{ID: "t1", BoardID: "board-1", ColumnID: "c2"},
		OldColumnID: "c1",
		NewColumnID: "c2",
		BoardID:     "board-1",
	})
	for _, c := range []*client{ada, bob} {
		f := readFrame(t, c)
		if f.Event != realtime.EventTicketMoved || f.Data["oldColumnId"] != "c1" {
			t.Fatalf("unexpected frame %+v", f)
		}
		ticket, _ := f.Data["ticket"].(map[string]any)
		if ticket["id"] != "t1" {
			t.Fatalf("unexpected ticket %+v", ticket)
		}
	}
	expectSilence(t, bob)

	_ = bob.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = bob.wc.Close()
	f := readFrame(t, ada)
	if f.Event != realtime.EventUserLeftBoard || f.Data["userId"] != "u-bob" {
		t.Fatalf("unexpected frame %+v", f)
	}
	waitFor(t, func() bool { return len(env.hub.Members("board-1")) == 1 })
}

func TestLeaveBoard(t *testing.T) {
	env := newTestEnv(t)
	ada := env.dial(t, "token-ada")

	send(t, ada, realtime.EventLeaveBoard, "never-joined", "")
	send(t, ada, realtime.EventJoinBoard, "board-1", "")
	if f := readFrame(t, ada); f.Event != realtime.EventUserJoinedBoard {
		t.Fatalf("unexpected frame %+v", f)
	}
	send(t, ada, realtime.EventLeaveBoard, "board-1", "")
	waitFor(t, func() bool { return len(env.broadcaster.Sessions("board-1")) == 0 })
	if got := env.registry.Boards(); len(got) != 0 {
		t.Fatalf("expected no boards, got %v", got)
	}
	expectSilence(t, ada)
}

func TestFrameForAnotherUserIsDropped(t *testing.T) {
	env := newTestEnv(t)
	ada := env.dial(t, "token-ada")

	send(t, ada, realtime.EventJoinBoard, "board-1", "u-bob")
	expectSilence(t, ada)
	if got := env.hub.Members("board-1"); len(got) != 0 {
		t.Fatalf("expected nobody on board, got %v", got)
	}

	if err := ada.wc.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectSilence(t, ada)
	send(t, ada, realtime.EventJoinBoard, "board-1", "")
	if f := readFrame(t, ada); f.Event != realtime.EventUserJoinedBoard || f.Data["userId"] != "u-ada" {
		t.Fatalf("connection should survive a bad frame, got %+v", f)
	}
	if got := env.hub.Members("board-1"); len(got) != 1 || got[0] != "u-ada" {
		t.Fatalf("expected ada on board, got %v", got)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	env := newTestEnv(t)
	ada := env.dial(t, "token-ada")
	send(t, ada, realtime.EventJoinBoard, "board-1", "")
	readFrame(t, ada)

	env.hub.Close()
	var err error
	select {
	case f := <-ada.frames:
		t.Fatalf("unexpected frame %+v", f)
	case err = <-ada.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed within 2s")
	}
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
		t.Fatalf("expected normal close, got %v", err)
	}
}
