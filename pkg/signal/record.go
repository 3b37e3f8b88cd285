package signal

import (
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// Candidate is one queued reachability candidate as it travels through
// the relay. The payload is kept opaque except for the transport-address
// rewrite.
type Candidate = json.RawMessage

// Record is the single-session message board: at most one offer, one
// answer, and one candidate queue per role. Every mutation is atomic under
// one lock, so a publish and a drain can never interleave halfway.
type Record struct {
	mu         sync.Mutex
	offer      json.RawMessage
	answer     json.RawMessage
	hostCands  []Candidate
	guestCands []Candidate
}

func NewRecord() *Record { return &Record{} }

// SetOffer stores a fresh offer and resets the answer and both candidate
// queues, so a retried negotiation can never observe leftovers of the
// previous round.
func (r *Record) SetOffer(offer json.RawMessage) {
	r.mu.Lock()
	r.offer = offer
	r.answer = nil
	r.hostCands = nil
	r.guestCands = nil
	r.mu.Unlock()
}

func (r *Record) Offer() (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offer, r.offer != nil
}

func (r *Record) SetAnswer(answer json.RawMessage) {
	r.mu.Lock()
	r.answer = answer
	r.mu.Unlock()
}

func (r *Record) Answer() (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answer, r.answer != nil
}

// PushCandidate appends a candidate to the owning role's queue.
func (r *Record) PushCandidate(fromHost bool, c Candidate) {
	r.mu.Lock()
	if fromHost {
		r.hostCands = append(r.hostCands, c)
	} else {
		r.guestCands = append(r.guestCands, c)
	}
	r.mu.Unlock()
}

// DrainCandidates hands out everything the opposite role has queued and
// empties that queue in the same step, so no candidate is delivered twice.
func (r *Record) DrainCandidates(forHost bool) []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if forHost {
		out := r.guestCands
		r.guestCands = nil
		return out
	}
	out := r.hostCands
	r.hostCands = nil
	return out
}

func (r *Record) Reset() {
	r.mu.Lock()
	r.offer = nil
	r.answer = nil
	r.hostCands = nil
	r.guestCands = nil
	r.mu.Unlock()
}

// rewriteLocalHostname substitutes mDNS-obfuscated hostnames inside a
// candidate attribute with the requester's observed address. Only tokens
// with the .local suffix are touched, never arbitrary hostnames: browsers
// hide host candidates behind such names and the counterpart often cannot
// resolve them.
func rewriteLocalHostname(candidate string, addr string) (string, bool) {
	if addr == "" || !strings.Contains(candidate, ".local") {
		return candidate, false
	}
	fields := strings.Split(candidate, " ")
	changed := false
	for i, f := range fields {
		if strings.HasSuffix(f, ".local") {
			fields[i] = addr
			changed = true
		}
	}
	if !changed {
		return candidate, false
	}
	return strings.Join(fields, " "), true
}

// rewriteCandidatePayload applies the hostname rewrite to the candidate
// field of an RTCIceCandidateInit JSON blob, preserving every other field
// as-is. Malformed payloads pass through untouched; validation is the
// endpoint's job.
func rewriteCandidatePayload(payload json.RawMessage, addr string) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return payload, false
	}
	var attr string
	if err := json.Unmarshal(fields["candidate"], &attr); err != nil {
		return payload, false
	}
	attr, changed := rewriteLocalHostname(attr, addr)
	if !changed {
		return payload, false
	}
	raw, err := json.Marshal(attr)
	if err != nil {
		return payload, false
	}
	fields["candidate"] = raw
	out, err := json.Marshal(fields)
	if err != nil {
		return payload, false
	}
	return out, true
}
