package webrtc

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// extractUfrag pulls the session-instance tag (ice-ufrag) out of an SDP
// blob. The tag identifies one negotiation round: candidates minted for a
// different round must not leak into this one.
func extractUfrag(sdp string) string {
	const attr = "a=ice-ufrag:"
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, attr) {
			return strings.TrimSpace(line[len(attr):])
		}
	}
	return ""
}

// staleCandidate reports whether the candidate belongs to a negotiation
// round other than the one identified by tag. A candidate without a
// fragment, or an unknown tag, is tolerated: the check is a targeted patch
// for candidates replayed across rounds, not a general validator.
func staleCandidate(c webrtc.ICECandidateInit, tag string) bool {
	if tag == "" || c.UsernameFragment == nil || *c.UsernameFragment == "" {
		return false
	}
	return *c.UsernameFragment != tag
}
