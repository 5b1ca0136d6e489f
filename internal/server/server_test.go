package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumina-be/internal/bootstrap"
	"lumina-be/internal/config"
	"lumina-be/internal/pkg/logger"
	"lumina-be/internal/websocket"
	"lumina-be/pkg/facilitation"
)

type silentTranscriber struct{ calls atomic.Int32 }

func (s *silentTranscriber) Transcribe(context.Context, []byte, facilitation.TranscribeOptions) (facilitation.Transcription, error) {
	s.calls.Add(1)
	return facilitation.Transcription{}, nil
}

type stubClassifier struct{}

func (stubClassifier) ClassifyTopic(context.Context, facilitation.TopicRequest) (facilitation.TopicVerdict, error) {
	return facilitation.TopicVerdict{}, nil
}

func (stubClassifier) AssessParticipation(context.Context, facilitation.ParticipationRequest) (facilitation.ParticipationVerdict, error) {
	return facilitation.ParticipationVerdict{Balanced: true}, nil
}

func (stubClassifier) GenerateIntervention(context.Context, facilitation.GenerationRequest) (string, error) {
	return "Let's hear from everyone on uniforms.", nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(context.Context, string) ([]byte, error) {
	return []byte("ID3-audio"), nil
}

type testServer struct {
	srv       *Server
	container *bootstrap.Container
	addr      string
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Port: "0", CorsAllowedOrigins: "*"},
		Facilitation: config.FacilitationConfig{
			DiscussionPrompt: "Should school students be forced to wear school uniforms?",
			DefaultMode:      "Breadth",
			Cadence:          "event",
			IntervalSeconds:  20,
			MildSilenceAt:    2,
			SevereSilenceAt:  3,
			SevereOffTopicAt: 2,
			MaxParticipants:  8,
			SnapshotTTLMin:   60,
		},
	}
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNopLogger()
	container, err := bootstrap.NewContainerWithAdapters(testConfig(), bootstrap.Adapters{
		Transcriber: &silentTranscriber{},
		Classifier:  stubClassifier{},
		Synthesizer: stubSynthesizer{},
	}, log, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, container.AlertService.Consume(ctx))

	srv := New(container.Config, container)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.GetApp().Listener(ln) }()

	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		cancel()
		container.Close()
	})
	return &testServer{srv: srv, container: container, addr: ln.Addr().String()}
}

func (ts *testServer) dial(t *testing.T, channel string) *gws.Conn {
	t.Helper()
	url := "ws://" + ts.addr + "/ws"
	if channel != "" {
		url += "?channel=" + channel
	}
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (ts *testServer) waitClients(t *testing.T, category websocket.Category, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.container.WebSocketHub.Count(category) == n }, 2*time.Second, 5*time.Millisecond)
}

func (ts *testServer) waitCycles(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		groups := ts.container.SessionRepository.List()
		return len(groups) == 1 && groups[0].Cycles >= n && !groups[0].Busy
	}, 2*time.Second, 5*time.Millisecond)
}

type frame struct {
	binary bool
	msg    map[string]any
	data   []byte
}

func read(t *testing.T, conn *gws.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	if mt == gws.BinaryMessage {
		return frame{binary: true, data: data}
	}
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return frame{msg: msg, data: data}
}

func writeJSON(t *testing.T, conn *gws.Conn, v string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(v)))
}

func TestAlertWithoutSupervisorsIsRejected(t *testing.T) {
	ts := startServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/alert", strings.NewReader(`{"message":"Wrap up in two minutes"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.GetApp().Test(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"no supervisor connected"}`, string(body))
}

func TestBlankAlertIsRejected(t *testing.T) {
	ts := startServer(t)
	ts.dial(t, "supervisor")
	ts.waitClients(t, websocket.CategorySupervisor, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/alert", strings.NewReader(`{"message":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.GetApp().Test(req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestManualAlertReachesSupervisorsOnly(t *testing.T) {
	ts := startServer(t)
	sup := ts.dial(t, "teacher")
	group := ts.dial(t, "")
	ts.waitClients(t, websocket.CategorySupervisor, 1)
	ts.waitClients(t, websocket.CategoryGroup, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/alert", strings.NewReader(`{"message":"Wrap up in two minutes"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.GetApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := read(t, sup)
	assert.JSONEq(t, `{"type":"alert","payload":{"message":"Wrap up in two minutes"}}`, string(f.data))

	require.NoError(t, group.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = group.ReadMessage()
	assert.Error(t, err, "group connections never see supervisor alerts")
}

func TestConnectionChurnLeavesLiveSupervisorsIntact(t *testing.T) {
	ts := startServer(t)
	sup := ts.dial(t, "supervisor")
	ts.waitClients(t, websocket.CategorySupervisor, 1)

	for i := 0; i < 200; i++ {
		conn, resp, err := gws.DefaultDialer.Dial("ws://"+ts.addr+"/ws?channel=supervisor", nil)
		require.NoError(t, err)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		require.NoError(t, conn.Close())
	}
	ts.waitClients(t, websocket.CategorySupervisor, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/alert", strings.NewReader(`{"message":"Still here?"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.GetApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := read(t, sup)
	assert.JSONEq(t, `{"type":"alert","payload":{"message":"Still here?"}}`, string(f.data))
}

func TestInvalidClientInputGetsErrorFrames(t *testing.T) {
	ts := startServer(t)
	group := ts.dial(t, "")

	require.NoError(t, group.WriteMessage(gws.BinaryMessage, []byte{1, 2, 3}))
	f := read(t, group)
	assert.Equal(t, "error", f.msg["type"])

	writeJSON(t, group, `{"type":"INIT","payload":{"studentNames":[]}}`)
	f = read(t, group)
	assert.Equal(t, "error", f.msg["type"])

	writeJSON(t, group, `{"type":"INIT","payload":{"studentNames":["Ana"],"discussionMode":"Sideways"}}`)
	f = read(t, group)
	assert.Equal(t, "error", f.msg["type"])

	writeJSON(t, group, `{"type":"HELLO"}`)
	f = read(t, group)
	assert.Equal(t, "error", f.msg["type"])

	assert.Empty(t, ts.container.SessionRepository.List(), "invalid INIT never starts a session")
}

func TestSilentGroupEscalatesToSpokenInterventionAndAlert(t *testing.T) {
	ts := startServer(t)
	sup := ts.dial(t, "supervisor")
	group := ts.dial(t, "")
	ts.waitClients(t, websocket.CategorySupervisor, 1)

	writeJSON(t, group, `{"type":"INIT","payload":{"studentNames":["Ana","Ben","Cleo"]}}`)
	f := read(t, group)
	require.Equal(t, "session_started", f.msg["type"])
	sessionID := f.msg["payload"].(map[string]any)["sessionId"].(string)

	// First silent cycle: nothing is sent.
	require.NoError(t, group.WriteMessage(gws.BinaryMessage, []byte{0, 0, 0}))
	ts.waitCycles(t, 1)

	// Second: a mild text suggestion.
	require.NoError(t, group.WriteMessage(gws.BinaryMessage, []byte{0, 0, 0}))
	f = read(t, group)
	assert.Equal(t, "intervention_suggestion", f.msg["type"])
	ts.waitCycles(t, 2)

	// Third: spoken intervention plus a supervisor alert.
	require.NoError(t, group.WriteMessage(gws.BinaryMessage, []byte{0, 0, 0}))
	f = read(t, group)
	require.True(t, f.binary)
	assert.Equal(t, []byte("ID3-audio"), f.data)

	f = read(t, sup)
	assert.Equal(t, "SEVERE_ALERT", f.msg["type"])
	payload := f.msg["payload"].(map[string]any)
	assert.Equal(t, sessionID, payload["groupId"])
	assert.Equal(t, "Let's hear from everyone on uniforms.", payload["intervention"])
	assert.NotEmpty(t, payload["message"])
}

func TestGroupsEndpointTracksSessions(t *testing.T) {
	ts := startServer(t)
	group := ts.dial(t, "")
	writeJSON(t, group, `{"type":"INIT","payload":{"studentNames":["Ana","Ben"],"discussionMode":"Depth"}}`)
	require.Equal(t, "session_started", read(t, group).msg["type"])

	resp, err := ts.srv.GetApp().Test(httptest.NewRequest(http.MethodGet, "/api/groups", nil))
	require.NoError(t, err)
	var body struct {
		Data  []facilitation.Snapshot `json:"data"`
		Total int                     `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, []string{"Ana", "Ben"}, body.Data[0].Participants)
	assert.Equal(t, facilitation.ModeDepth, body.Data[0].Mode)

	resp, err = ts.srv.GetApp().Test(httptest.NewRequest(http.MethodGet, "/api/groups/"+body.Data[0].SessionID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, group.Close())
	require.Eventually(t, func() bool { return len(ts.container.SessionRepository.List()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	ts := startServer(t)

	resp, err := ts.srv.GetApp().Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlainGetOnWebsocketRouteRequiresUpgrade(t *testing.T) {
	ts := startServer(t)

	resp, err := ts.srv.GetApp().Test(httptest.NewRequest(http.MethodGet, "/ws", nil))

	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
