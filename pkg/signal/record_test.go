package signal

import (
	"testing"

	"github.com/goccy/go-json"
)

func TestOfferResetsSession(t *testing.T) {
	r := NewRecord()
	r.SetOffer(json.RawMessage(`{"type":"offer","sdp":"v=0"}`))
	r.SetAnswer(json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	r.PushCandidate(true, Candidate(`{"candidate":"a"}`))
	r.PushCandidate(false, Candidate(`{"candidate":"b"}`))

	r.SetOffer(json.RawMessage(`{"type":"offer","sdp":"v=1"}`))

	if _, ok := r.Answer(); ok {
		t.Errorf("a new offer must clear the stored answer")
	}
	if got := r.DrainCandidates(true); len(got) != 0 {
		t.Errorf("a new offer must clear the guest queue, got %v", got)
	}
	if got := r.DrainCandidates(false); len(got) != 0 {
		t.Errorf("a new offer must clear the host queue, got %v", got)
	}
	if offer, ok := r.Offer(); !ok || string(offer) != `{"type":"offer","sdp":"v=1"}` {
		t.Errorf("the fresh offer must survive the reset, got %s", offer)
	}
}

func TestDrainIsExactlyOnce(t *testing.T) {
	r := NewRecord()
	r.PushCandidate(true, Candidate(`{"candidate":"h1"}`))
	r.PushCandidate(true, Candidate(`{"candidate":"h2"}`))
	r.PushCandidate(false, Candidate(`{"candidate":"g1"}`))

	// the guest asks for host-authored candidates
	first := r.DrainCandidates(false)
	if len(first) != 2 || string(first[0]) != `{"candidate":"h1"}` || string(first[1]) != `{"candidate":"h2"}` {
		t.Fatalf("expected both host candidates in order, got %v", first)
	}
	if second := r.DrainCandidates(false); len(second) != 0 {
		t.Errorf("two consecutive drains must never overlap, got %v", second)
	}

	// the host's queue view is independent
	if got := r.DrainCandidates(true); len(got) != 1 || string(got[0]) != `{"candidate":"g1"}` {
		t.Errorf("expected the guest candidate, got %v", got)
	}
}

func TestRewriteLocalHostname(t *testing.T) {
	tests := []struct {
		name    string
		cand    string
		addr    string
		out     string
		changed bool
	}{
		{
			name:    "mdns host",
			cand:    "candidate:1 1 udp 2130706431 host.local 50000 typ host",
			addr:    "10.0.0.5",
			out:     "candidate:1 1 udp 2130706431 10.0.0.5 50000 typ host",
			changed: true,
		},
		{
			name:    "uuid style",
			cand:    "candidate:2 1 udp 2130706431 3b61fa6e-8f24-4e9b.local 50001 typ host",
			addr:    "192.168.1.2",
			out:     "candidate:2 1 udp 2130706431 192.168.1.2 50001 typ host",
			changed: true,
		},
		{
			name: "plain address untouched",
			cand: "candidate:3 1 udp 2130706431 10.0.0.1 50000 typ host",
			addr: "10.0.0.5",
			out:  "candidate:3 1 udp 2130706431 10.0.0.1 50000 typ host",
		},
		{
			name: "arbitrary hostname untouched",
			cand: "candidate:4 1 udp 2130706431 relay.example.com 50000 typ relay",
			addr: "10.0.0.5",
			out:  "candidate:4 1 udp 2130706431 relay.example.com 50000 typ relay",
		},
		{
			name: "localdomain untouched",
			cand: "candidate:5 1 udp 2130706431 box.localdomain 50000 typ host",
			addr: "10.0.0.5",
			out:  "candidate:5 1 udp 2130706431 box.localdomain 50000 typ host",
		},
		{
			name: "no observed address",
			cand: "candidate:6 1 udp 2130706431 host.local 50000 typ host",
			addr: "",
			out:  "candidate:6 1 udp 2130706431 host.local 50000 typ host",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, changed := rewriteLocalHostname(test.cand, test.addr)
			if out != test.out || changed != test.changed {
				t.Errorf("expected (%q, %v), got (%q, %v)", test.out, test.changed, out, changed)
			}
		})
	}
}

func TestRewriteCandidatePayload(t *testing.T) {
	payload := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 host.local 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	out, changed := rewriteCandidatePayload(payload, "10.0.0.5")
	if !changed {
		t.Fatalf("expected a rewrite")
	}
	var fields struct {
		Candidate string `json:"candidate"`
		SdpMid    string `json:"sdpMid"`
	}
	if err := json.Unmarshal(out, &fields); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fields.Candidate != "candidate:1 1 udp 2130706431 10.0.0.5 50000 typ host" {
		t.Errorf("unexpected candidate %q", fields.Candidate)
	}
	if fields.SdpMid != "0" {
		t.Errorf("other fields must be preserved, got %q", fields.SdpMid)
	}

	if out, changed := rewriteCandidatePayload(json.RawMessage(`not json`), "10.0.0.5"); changed || string(out) != "not json" {
		t.Errorf("malformed payloads must pass through untouched")
	}
}
