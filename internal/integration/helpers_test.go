package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/app"
	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/pkg/types"
)

const testSecret = "integration-secret"

type server struct {
	app    *app.Application
	issuer *auth.Issuer
}

// startServer runs the fully wired application on an ephemeral port.
func startServer(t *testing.T, mutate func(cfg *config.Config)) *server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Auth.JWTSecret = testSecret
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "liveclass.db")
	cfg.Room.SweepInterval = 50 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			t.Logf("Stop: %v", err)
		}
	})

	issuer, err := auth.NewIssuer(testSecret, cfg.Auth.Issuer, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return &server{app: application, issuer: issuer}
}

func (s *server) token(t *testing.T, userID string, role types.Role) string {
	t.Helper()
	token, err := s.issuer.Issue(types.Identity{UserID: userID, Name: strings.ToUpper(userID), Role: role})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return token
}

func (s *server) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://"+s.app.Addr()+path, nil)
	if err != nil {
		t.Fatalf("bad request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (f frame) decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(f.Payload, v); err != nil {
		t.Fatalf("bad %s payload %s: %v", f.Type, f.Payload, err)
	}
}

// client is one browser tab: a websocket with a background reader.
type client struct {
	conn   *websocket.Conn
	frames chan frame
	closed chan struct{}
}

func (s *server) dial(t *testing.T) *client {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.app.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	c := &client{conn: conn, frames: make(chan frame, 256), closed: make(chan struct{})}
	go func() {
		defer close(c.closed)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			c.frames <- f
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *client) send(t *testing.T, msgType string, payload interface{}) {
	t.Helper()
	if err := c.conn.WriteJSON(map[string]interface{}{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s failed: %v", msgType, err)
	}
}

// expect skips frames until one of msgType arrives.
func (c *client) expect(t *testing.T, msgType string) frame {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-c.frames:
			if f.Type == msgType {
				return f
			}
		case <-c.closed:
			t.Fatalf("connection closed while waiting for %s", msgType)
		case <-timeout:
			t.Fatalf("timed out waiting for %s", msgType)
		}
	}
}

// expectNone asserts no frame of msgType arrives within d.
func (c *client) expectNone(t *testing.T, msgType string, d time.Duration) {
	t.Helper()
	timeout := time.After(d)
	for {
		select {
		case f := <-c.frames:
			if f.Type == msgType {
				t.Fatalf("unexpected %s: %s", msgType, f.Payload)
			}
		case <-timeout:
			return
		}
	}
}

func (c *client) join(t *testing.T, code, token string) frame {
	t.Helper()
	c.send(t, "join-session", map[string]string{"sessionCode": code, "authToken": token})
	return c.expect(t, "session-joined")
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}
