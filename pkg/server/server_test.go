package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrCodeEU/facecheck/pkg/observation"
	"github.com/MrCodeEU/facecheck/pkg/session"
	"github.com/MrCodeEU/facecheck/pkg/storage"
)

func testServer(t *testing.T, store RecordStore, mutate func(*Options)) (*Server, *httptest.Server) {
	t.Helper()

	engine := session.DefaultConfig()
	engine.TickInterval = time.Millisecond
	engine.RevalidationWait = 2 * time.Second

	opts := Options{
		Engine: engine,
		Deps:   session.Deps{Liveness: &MockLivenessVerifier{}},
		Store:  store,
	}
	if mutate != nil {
		mutate(&opts)
	}

	s := New(opts)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, ts
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func createSession(t *testing.T, ts *httptest.Server, req CreateSessionRequest) SessionResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out SessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	return out
}

// faceObs returns a centered observation in a 640x480 frame.
func faceObs(eyesClosed bool) *observation.Observation {
	half := 2.0
	if eyesClosed {
		half = 0.5
	}
	pts := make([]observation.Point, observation.LandmarkCount)
	for i := range pts {
		pts[i] = observation.Point{X: 280 + float64(i%10)*8, Y: 200 + float64(i/10)*10}
	}
	for _, start := range []int{observation.LeftEyeStart, observation.RightEyeStart} {
		x0 := 290 + float64(start-observation.LeftEyeStart)*7
		pts[start+0] = observation.Point{X: x0, Y: 220}
		pts[start+1] = observation.Point{X: x0 + 3, Y: 220 - half}
		pts[start+2] = observation.Point{X: x0 + 7, Y: 220 - half}
		pts[start+3] = observation.Point{X: x0 + 10, Y: 220}
		pts[start+4] = observation.Point{X: x0 + 7, Y: 220 + half}
		pts[start+5] = observation.Point{X: x0 + 3, Y: 220 + half}
	}
	return &observation.Observation{
		DetectionConfidence: 0.95,
		Box:                 observation.Box{X: 240, Y: 140, Width: 160, Height: 200},
		Landmarks:           pts,
		FrameWidth:          640,
		FrameHeight:         480,
		Image:               []byte("frame"),
	}
}

// feed pushes frames one at a time, waiting for each to be consumed,
// until the session stops accepting them.
func feed(t *testing.T, ts *httptest.Server, sess *Session, frames []any) {
	t.Helper()
	url := ts.URL + "/v1/sessions/" + sess.ID + "/observations"

	for i, frame := range frames {
		deadline := time.Now().Add(3 * time.Second)
		for sess.mailbox.Pending() {
			if time.Now().After(deadline) {
				t.Fatalf("frame %d was never consumed", i)
			}
			time.Sleep(time.Millisecond)
		}

		resp, body := doJSON(t, http.MethodPost, url, frame)
		switch resp.StatusCode {
		case http.StatusAccepted:
		case http.StatusConflict:
			return
		default:
			t.Fatalf("frame %d: unexpected status %d: %s", i, resp.StatusCode, body)
		}
	}
}

func blinkFrames(n, blinkAt int) []any {
	frames := make([]any, n)
	for i := range frames {
		frames[i] = faceObs(i+1 == blinkAt)
	}
	return frames
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t, nil, nil)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil || out["status"] != "ok" {
		t.Errorf("unexpected health response %s", body)
	}
}

func TestSessionFlow_Captured(t *testing.T) {
	store := newMockRecordStore()
	s, ts := testServer(t, store, nil)

	created := createSession(t, ts, CreateSessionRequest{Mode: "blink"})
	if created.SessionID == "" || created.Mode != "blink" {
		t.Fatalf("unexpected create response %+v", created)
	}
	if created.Report == nil || created.Report.Status != session.StatusRunning {
		t.Errorf("new session should be running, got %+v", created.Report)
	}

	sess := s.Manager().Get(created.SessionID)
	if sess == nil {
		t.Fatal("session not registered")
	}

	feed(t, ts, sess, blinkFrames(40, 12))
	sess.Wait()

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/"+sess.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got SessionResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Result == nil || got.Result.Status != session.StatusCaptured {
		t.Fatalf("expected captured result, got %s", body)
	}
	if got.Result.Capture == nil || !got.Result.Capture.AIVerified {
		t.Errorf("expected verified capture, got %+v", got.Result.Capture)
	}
	if bytes.Contains(body, []byte(`"image"`)) {
		t.Error("captured image must not be exposed")
	}

	rec, err := store.Load(sess.ID)
	if err != nil {
		t.Fatalf("record not saved: %v", err)
	}
	if rec.Status != session.StatusCaptured || rec.Mode != "blink" || !rec.AIVerified {
		t.Errorf("unexpected record %+v", rec)
	}
	if s.Manager().Running() != 0 {
		t.Errorf("expected no running sessions, got %d", s.Manager().Running())
	}
}

func TestSessionFlow_NoFaceFrames(t *testing.T) {
	s, ts := testServer(t, nil, nil)
	created := createSession(t, ts, CreateSessionRequest{})
	sess := s.Manager().Get(created.SessionID)

	feed(t, ts, sess, []any{faceObs(false), map[string]bool{"face": false}, map[string]any{}})

	deadline := time.Now().Add(3 * time.Second)
	for sess.mailbox.Pending() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// let the tick that consumed the last frame publish
	time.Sleep(20 * time.Millisecond)

	report := sess.Controller().Snapshot()
	if report.FaceFound || report.Guidance != session.GuidanceNoFace {
		t.Errorf("expected a no-face report, got %+v", report)
	}
	if report.CenteredFrames != 0 {
		t.Errorf("centered frames should reset, got %d", report.CenteredFrames)
	}
}

func TestCancelSession(t *testing.T) {
	store := newMockRecordStore()
	s, ts := testServer(t, store, nil)
	created := createSession(t, ts, CreateSessionRequest{})

	resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/v1/sessions/"+created.SessionID, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	sess := s.Manager().Get(created.SessionID)
	sess.Wait()
	if st := sess.Controller().Status(); st != session.StatusCancelled {
		t.Errorf("expected cancelled, got %s", st)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/sessions/"+created.SessionID+"/observations", faceObs(false))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for a finished session, got %d", resp.StatusCode)
	}

	if rec, err := store.Load(created.SessionID); err != nil || rec.Status != session.StatusCancelled {
		t.Errorf("expected cancelled record, got %+v, %v", rec, err)
	}
}

func TestGetSession_FromRecord(t *testing.T) {
	store, err := storage.NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	s, ts := testServer(t, store, func(o *Options) { o.Retention = time.Millisecond })

	created := createSession(t, ts, CreateSessionRequest{})
	sess := s.Manager().Get(created.SessionID)
	sess.Controller().Cancel()
	sess.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for s.Manager().Get(created.SessionID) != nil {
		if time.Now().After(deadline) {
			t.Fatal("finished session was not evicted")
		}
		time.Sleep(time.Millisecond)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/sessions/"+created.SessionID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from stored record, got %d", resp.StatusCode)
	}
	var rec storage.SessionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("invalid record: %v", err)
	}
	if rec.ID != created.SessionID || rec.Status != session.StatusCancelled {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestNotFound(t *testing.T) {
	_, ts := testServer(t, newMockRecordStore(), nil)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/v1/sessions/0b5f8f7e-3f0e-4d3e-9a53-6f1c2a0e9a11", nil},
		{http.MethodGet, "/v1/sessions/not-a-session", nil},
		{http.MethodDelete, "/v1/sessions/0b5f8f7e-3f0e-4d3e-9a53-6f1c2a0e9a11", nil},
		{http.MethodPost, "/v1/sessions/0b5f8f7e-3f0e-4d3e-9a53-6f1c2a0e9a11/observations", faceObs(false)},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, _ := doJSON(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("expected 404, got %d", resp.StatusCode)
			}
		})
	}
}

func TestCreateSession_Errors(t *testing.T) {
	_, ts := testServer(t, nil, func(o *Options) { o.MaxSessions = 1 })

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", CreateSessionRequest{Mode: "nod"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown mode, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions", bytes.NewReader([]byte("{not json")))
	badResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", badResp.StatusCode)
	}

	createSession(t, ts, CreateSessionRequest{})
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/sessions", CreateSessionRequest{})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 over the session limit, got %d", resp.StatusCode)
	}
}

func TestPushObservation_InvalidBody(t *testing.T) {
	_, ts := testServer(t, nil, nil)
	created := createSession(t, ts, CreateSessionRequest{})

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions/"+created.SessionID+"/observations", bytes.NewReader([]byte("[1,2")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestShutdown_CancelsSessions(t *testing.T) {
	s, ts := testServer(t, nil, nil)
	created := createSession(t, ts, CreateSessionRequest{Mode: "expressions"})
	sess := s.Manager().Get(created.SessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case <-sess.done:
	default:
		t.Fatal("session loop still running after shutdown")
	}
	if st := sess.Controller().Status(); st != session.StatusCancelled {
		t.Errorf("expected cancelled, got %s", st)
	}
}
