package signal

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/checkfire/checkfire/pkg/config"
	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/checkfire/checkfire/pkg/network"
	"github.com/checkfire/checkfire/pkg/network/httpx"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkfire_relay_requests_total",
		Help: "Relay requests by operation.",
	}, []string{"op"})
	metricRewrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkfire_relay_candidate_rewrites_total",
		Help: "Candidates with an obfuscated hostname substituted by the requester address.",
	})
	metricDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkfire_relay_candidates_drained_total",
		Help: "Candidates handed out by the drain endpoint.",
	})
)

// Relay is the short-lived out-of-band message board both peers can reach
// before the direct connection exists. It holds exactly one session record
// and is discarded once the direct path is live.
type Relay struct {
	Record *Record

	id     network.Uid
	server *httpx.Server
	log    *logger.Logger
}

func NewRelay(cfg config.Relay, log *logger.Logger) (*Relay, error) {
	id := network.NewUid()
	relay := &Relay{
		Record: NewRecord(),
		id:     id,
		log:    log.Extend(log.With().Str("m", "relay").Str("rid", id.Short())),
	}
	server, err := httpx.NewServer(
		fmt.Sprintf(":%d", cfg.Port),
		func(*httpx.Server) httpx.Handler {
			mux := httpx.NewServeMux("")
			mux.HandleFunc("/offer", relay.handle("offer", relay.offer))
			mux.HandleFunc("/answer", relay.handle("answer", relay.answer))
			mux.HandleFunc("/ice", relay.handle("ice", relay.ice))
			mux.HandleFunc("/local-ips", relay.handle("local-ips", relay.localIPs))
			mux.HandleFunc("/status", relay.handle("status", relay.status))
			return mux
		},
		httpx.WithPortRoll(cfg.PortRoll),
		httpx.WithZone(cfg.Zone),
		httpx.WithLogger(relay.log),
	)
	if err != nil {
		return nil, err
	}
	relay.server = server
	return relay, nil
}

func (r *Relay) Run()         { r.server.Run() }
func (r *Relay) Addr() string { return r.server.Addr }

// Shutdown stops accepting connections. Best-effort: active handlers are
// abandoned, not drained, because nobody needs the relay anymore once the
// direct path is up.
func (r *Relay) Shutdown(context.Context) error { return r.server.Stop() }

// handle wraps an endpoint with the permissive cross-origin headers the
// browser peer requires, answers preflights, and counts the request.
func (r *Relay) handle(op string, h func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		metricRequests.WithLabelValues(op).Inc()
		r.log.Debug().Msgf("%v %v from %v", req.Method, req.URL.Path, requesterAddr(req))
		h(w, req)
	}
}

func (r *Relay) offer(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var body struct {
			Offer json.RawMessage `json:"offer"`
		}
		if err := readJSON(req, &body); err != nil || len(body.Offer) == 0 {
			writeError(w, http.StatusBadRequest, "malformed offer")
			return
		}
		r.Record.SetOffer(body.Offer)
		r.log.Debug().Msg("Stored an offer, session record reset")
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case http.MethodGet:
		offer, ok := r.Record.Offer()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "offer not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"offer": offer})
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

func (r *Relay) answer(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var body struct {
			Answer json.RawMessage `json:"answer"`
		}
		if err := readJSON(req, &body); err != nil || len(body.Answer) == 0 {
			writeError(w, http.StatusBadRequest, "malformed answer")
			return
		}
		r.Record.SetAnswer(body.Answer)
		r.log.Debug().Msg("Stored an answer")
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case http.MethodGet:
		answer, ok := r.Record.Answer()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "answer not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

func (r *Relay) ice(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var body struct {
			Candidate json.RawMessage `json:"candidate"`
			IsHost    bool            `json:"isHost"`
		}
		if err := readJSON(req, &body); err != nil || len(body.Candidate) == 0 {
			writeError(w, http.StatusBadRequest, "malformed candidate")
			return
		}
		candidate := body.Candidate
		if rewritten, changed := rewriteCandidatePayload(candidate, requesterAddr(req)); changed {
			metricRewrites.Inc()
			r.log.Debug().Msgf("Substituted an obfuscated hostname with %v", requesterAddr(req))
			candidate = rewritten
		}
		r.Record.PushCandidate(body.IsHost, candidate)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case http.MethodGet:
		forHost := req.URL.Query().Get("host") == "true"
		drained := r.Record.DrainCandidates(forHost)
		metricDrained.Add(float64(len(drained)))
		if drained == nil {
			drained = []Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": drained})
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
	}
}

func (r *Relay) localIPs(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	addrs, err := network.LocalAddresses()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "couldn't enumerate addresses")
		return
	}
	if addrs == nil {
		addrs = []network.LocalAddr{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ips": addrs})
}

func (r *Relay) status(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "id": r.id})
}

// requesterAddr is the peer's network address as observed by the relay,
// without the port.
func requesterAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

func readJSON(req *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, req.Body) }()
	return json.NewDecoder(req.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
