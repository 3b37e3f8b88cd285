package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/goccy/go-json"
)

func testRelay() *Relay {
	return &Relay{Record: NewRecord(), log: logger.New(false)}
}

func testMux(r *Relay) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/offer", r.handle("offer", r.offer))
	mux.HandleFunc("/answer", r.handle("answer", r.answer))
	mux.HandleFunc("/ice", r.handle("ice", r.ice))
	mux.HandleFunc("/local-ips", r.handle("local-ips", r.localIPs))
	mux.HandleFunc("/status", r.handle("status", r.status))
	return mux
}

func TestOfferRoundTrip(t *testing.T) {
	relay := testRelay()
	mux := testMux(relay)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("an absent offer must yield 503, got %v", w.Code)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/offer",
		strings.NewReader(`{"offer":{"type":"offer","sdp":"v=0"}}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v: %v", w.Code, w.Body)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/offer", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v", w.Code)
	}
	var out struct {
		Offer struct {
			Type string `json:"type"`
			SDP  string `json:"sdp"`
		} `json:"offer"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Offer.Type != "offer" || out.Offer.SDP != "v=0" {
		t.Errorf("unexpected offer %+v", out.Offer)
	}
}

func TestMalformedBodiesAreRejected(t *testing.T) {
	relay := testRelay()
	mux := testMux(relay)

	for _, test := range []struct{ path, body string }{
		{path: "/offer", body: `{}`},
		{path: "/offer", body: `garbage`},
		{path: "/answer", body: `{}`},
		{path: "/ice", body: `{"isHost":true}`},
		{path: "/ice", body: `not json`},
	} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, test.path, strings.NewReader(test.body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST %v %q: expected 400, got %v", test.path, test.body, w.Code)
		}
	}
}

func TestIceHostnameSubstitution(t *testing.T) {
	relay := testRelay()
	mux := testMux(relay)

	req := httptest.NewRequest(http.MethodPost, "/ice", strings.NewReader(
		`{"isHost":true,"candidate":{"candidate":"candidate:1 1 udp 2130706431 host.local 50000 typ host"}}`))
	req.RemoteAddr = "10.0.0.5:43210"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %v: %v", w.Code, w.Body)
	}

	// the guest drains host-authored candidates
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ice?host=false", nil))
	var out struct {
		Candidates []struct {
			Candidate string `json:"candidate"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Candidates) != 1 {
		t.Fatalf("expected one candidate, got %v", len(out.Candidates))
	}
	if out.Candidates[0].Candidate != "candidate:1 1 udp 2130706431 10.0.0.5 50000 typ host" {
		t.Errorf("expected the .local hostname substituted, got %q", out.Candidates[0].Candidate)
	}

	// drained queues stay drained
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ice?host=false", nil))
	out.Candidates = nil
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Candidates) != 0 {
		t.Errorf("expected an empty drain, got %v", out.Candidates)
	}
}

func TestPreflightAndStatus(t *testing.T) {
	relay := testRelay()
	mux := testMux(relay)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/offer", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Errorf("preflight must be an empty 200, got %v %q", w.Code, w.Body)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected permissive CORS headers")
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ready"`) {
		t.Errorf("expected a ready status, got %v %q", w.Code, w.Body)
	}
}

func TestClientAgainstRelayHandlers(t *testing.T) {
	relay := testRelay()
	srv := httptest.NewServer(testMux(relay))
	defer srv.Close()

	log := logger.New(false)
	host := NewClient(srv.URL, log)
	guest := NewClient(srv.URL, log)

	if _, err := guest.Offer(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := host.PublishOffer(`{"type":"offer","sdp":"v=0"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	offer, err := guest.Offer()
	if err != nil || offer != `{"type":"offer","sdp":"v=0"}` {
		t.Fatalf("expected the published offer, got %q (%v)", offer, err)
	}

	if _, err := host.Answer(); err != ErrNotReady {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := guest.PublishAnswer(`{"type":"answer","sdp":"v=0"}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer, err := host.Answer(); err != nil || answer != `{"type":"answer","sdp":"v=0"}` {
		t.Fatalf("expected the published answer, got %q (%v)", answer, err)
	}

	if err := host.PushCandidate(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 1 typ host"}`, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := guest.Candidates(false)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one candidate, got %v (%v)", got, err)
	}
	if again, _ := guest.Candidates(false); len(again) != 0 {
		t.Errorf("drains must never overlap, got %v", again)
	}

	if err := host.Status(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
