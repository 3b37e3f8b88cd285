package webrtc

import (
	"testing"

	"github.com/pion/webrtc/v3"
)

func TestExtractUfrag(t *testing.T) {
	tests := []struct {
		name string
		sdp  string
		tag  string
	}{
		{name: "empty", sdp: "", tag: ""},
		{name: "missing", sdp: "v=0\r\ns=-\r\n", tag: ""},
		{name: "plain", sdp: "v=0\r\na=ice-ufrag:xyz\r\na=ice-pwd:secret\r\n", tag: "xyz"},
		{name: "no cr", sdp: "v=0\na=ice-ufrag:abcd\n", tag: "abcd"},
		{name: "first wins", sdp: "a=ice-ufrag:one\r\na=ice-ufrag:two\r\n", tag: "one"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if tag := extractUfrag(test.sdp); tag != test.tag {
				t.Errorf("expected %q, got %q", test.tag, tag)
			}
		})
	}
}

func frag(s string) *string { return &s }

func TestStaleCandidate(t *testing.T) {
	tests := []struct {
		name  string
		cand  webrtc.ICECandidateInit
		tag   string
		stale bool
	}{
		{name: "no tag known", cand: webrtc.ICECandidateInit{UsernameFragment: frag("abc")}, tag: "", stale: false},
		{name: "no fragment", cand: webrtc.ICECandidateInit{}, tag: "xyz", stale: false},
		{name: "empty fragment", cand: webrtc.ICECandidateInit{UsernameFragment: frag("")}, tag: "xyz", stale: false},
		{name: "mismatch", cand: webrtc.ICECandidateInit{UsernameFragment: frag("abc")}, tag: "xyz", stale: true},
		{name: "match", cand: webrtc.ICECandidateInit{UsernameFragment: frag("xyz")}, tag: "xyz", stale: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := staleCandidate(test.cand, test.tag); got != test.stale {
				t.Errorf("expected stale=%v, got %v", test.stale, got)
			}
		})
	}
}
