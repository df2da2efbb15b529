package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/jam-signaling/internal/models"
	"github.com/mossy-p/jam-signaling/internal/protocol"
	"github.com/mossy-p/jam-signaling/internal/session"
	"github.com/mossy-p/jam-signaling/internal/store"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.NewBolt(filepath.Join(t.TempDir(), "jam.db"))
	if err != nil {
		t.Fatalf("NewBolt: %v", err)
	}
	registry := session.NewRegistry(session.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	router := NewRouter(ctx, RouterConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
		DefaultSession: "hej",
		Registry:       registry,
		Store:          s,
	})
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		ts.Close()
		s.Close()
	})
	return ts, registry
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func login(t *testing.T, base string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, base+"/api/auth/login", "", LoginRequest{Username: "alex", Password: "pw"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status=%d body=%v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" || body["user_id"] != "alex" {
		t.Fatalf("login body=%v", body)
	}
	return token
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health status=%d body=%v", resp.StatusCode, body)
	}
}

func TestOriginFilter(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodOptions, ts.URL+"/api/musicians/1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestRecords(t *testing.T) {
	ts, _ := newTestServer(t)
	api := ts.URL + "/api"

	resp, _ := doJSON(t, http.MethodPut, api+"/musicians/1", "", models.PutMusicianRequest{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated PUT status=%d, want 401", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, api+"/musicians/1", "garbage", models.PutMusicianRequest{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token PUT status=%d, want 401", resp.StatusCode)
	}

	token := login(t, ts.URL)
	alex := "Alex"
	resp, body := doJSON(t, http.MethodPut, api+"/musicians/1", token, models.PutMusicianRequest{Name: &alex})
	if resp.StatusCode != http.StatusOK || body["name"] != "Alex" || body["updatedBy"] != "alex" {
		t.Fatalf("PUT musician status=%d body=%v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, api+"/musicians/1", "", nil)
	if resp.StatusCode != http.StatusOK || body["name"] != "Alex" {
		t.Fatalf("GET musician status=%d body=%v", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, http.MethodGet, api+"/musicians/2", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET missing status=%d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, api+"/musicians/zero", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("GET bad id status=%d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPut, api+"/bands/1", token, models.PutGroupRequest{Members: []int32{1, 9}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT band with unknown member status=%d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPut, api+"/bands/1", token, models.PutGroupRequest{Members: []int32{1, 1}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("PUT band with duplicate member status=%d, want 400", resp.StatusCode)
	}

	hej := "hej"
	resp, body = doJSON(t, http.MethodPut, api+"/sessions/5", token, models.PutGroupRequest{Name: &hej, Members: []int32{1}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT session status=%d body=%v", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodGet, api+"/sessions/5", "", nil)
	members, _ := body["member"].([]any)
	if resp.StatusCode != http.StatusOK || len(members) != 1 {
		t.Fatalf("GET session status=%d body=%v", resp.StatusCode, body)
	}
}

func TestSignalingAndLiveSessions(t *testing.T) {
	ts, registry := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	a, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/signal/band-practice", nil)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	waitForSession(t, registry, "band-practice", 1)

	b, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/signal/band-practice", nil)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	_ = a.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := a.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	cmd, err := protocol.DecodeServer(data)
	if err != nil {
		t.Fatalf("DecodeServer: %v", err)
	}
	if add, ok := cmd.(protocol.AddMember); !ok || !add.Polite {
		t.Fatalf("incumbent got %#v", cmd)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/live", "", nil)
	sessions, _ := body["sessions"].([]any)
	if resp.StatusCode != http.StatusOK || len(sessions) != 1 {
		t.Fatalf("live sessions status=%d body=%v", resp.StatusCode, body)
	}
	live := sessions[0].(map[string]any)
	if live["name"] != "band-practice" || live["peers"] != float64(2) {
		t.Fatalf("live session=%v", live)
	}
}

func TestSignalingDefaultSessionAndValidation(t *testing.T) {
	ts, registry := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	c, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	waitForSession(t, registry, "hej", 1)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws/signal/bad.name", nil)
	if err == nil {
		t.Fatalf("dial with invalid session name succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response=%v, want 400", resp)
	}
}

func waitForSession(t *testing.T, registry *session.Registry, name string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if b, ok := registry.Lookup(name); ok && b.Subscribers() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %d peers", name, n)
}
