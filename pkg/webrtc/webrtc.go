package webrtc

import (
	"errors"
	"sync"

	"github.com/checkfire/checkfire/pkg/api"
	conf "github.com/checkfire/checkfire/pkg/config"
	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/pion/webrtc/v3"
)

// Role fixes who drives the negotiation for the lifetime of one
// connection attempt: the host publishes the offer, the guest the answer.
type Role uint8

const (
	RoleHost Role = iota + 1
	RoleGuest
)

func (r Role) IsHost() bool { return r == RoleHost }

// State is the lifecycle of one direct connection attempt.
type State uint8

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrNotInitialized = errors.New("webrtc: connection is not initialized")
)

type (
	// OnIceCallback receives locally discovered candidates as JSON; an
	// empty string marks the end of gathering.
	OnIceCallback func(candidate string)
	// OnMessageCallback receives inbound application packets with the
	// channel they arrived on.
	OnMessageCallback func(channel string, packet api.In)
	// OnStateCallback receives connection state transitions.
	OnStateCallback func(state State)
)

// Peer owns exactly one direct-connection attempt and its two data
// channels. A renegotiation requires a fresh Peer.
type Peer struct {
	ID string

	role Role
	conn *webrtc.PeerConnection
	log  *logger.Logger

	mu        sync.Mutex
	channels  map[string]*webrtc.DataChannel
	pending   []webrtc.ICECandidateInit
	remoteTag string
	hasRemote bool
	closed    bool

	onMessage OnMessageCallback
	onState   OnStateCallback
	onIce     OnIceCallback
}

// New constructs the underlying transport and, for the host role, both
// data channels. When construction fails with an operator-supplied
// discovery server list, it is retried once with the built-in defaults
// before the failure is surfaced.
func New(role Role, w conf.Webrtc, log *logger.Logger) (*Peer, error) {
	id := uuid.Must(uuid.NewV4()).String()
	p := &Peer{
		ID:       id,
		role:     role,
		channels: make(map[string]*webrtc.DataChannel, 2),
		log:      log.Extend(log.With().Str("cid", id[:8])),
	}

	conn, err := newConnection(w, p.log)
	if err != nil && hasIceOverride(w) {
		p.log.Warn().Err(err).Msg("Transport rejected the discovery override, retrying with defaults")
		w.IceServers = append([]conf.IceServer{}, conf.DefaultIceServers...)
		conn, err = newConnection(w, p.log)
	}
	if err != nil {
		return nil, err
	}
	p.conn = conn

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		p.mu.Lock()
		cb := p.onIce
		p.mu.Unlock()
		if cb == nil {
			return
		}
		if c == nil {
			cb("")
			return
		}
		raw, err := Encode(c.ToJSON())
		if err != nil {
			p.log.Error().Err(err).Msg("Couldn't encode a local candidate")
			return
		}
		cb(raw)
	})

	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		mapped := mapState(state)
		metricStates.WithLabelValues(mapped.String()).Inc()
		p.log.Debug().Msgf("Connection state is %v", mapped)
		p.mu.Lock()
		cb := p.onState
		p.mu.Unlock()
		if cb != nil {
			cb(mapped)
		}
	})

	if role.IsHost() {
		if err := p.createChannels(); err != nil {
			_ = conn.Close()
			return nil, err
		}
	} else {
		conn.OnDataChannel(func(dc *webrtc.DataChannel) {
			switch dc.Label() {
			case api.ChannelAuthoritative, api.ChannelTelemetry:
				p.bindChannel(dc)
			default:
				p.log.Warn().Msgf("Ignored an unknown channel [%v]", dc.Label())
			}
		})
	}

	return p, nil
}

func newConnection(w conf.Webrtc, log *logger.Logger) (*webrtc.PeerConnection, error) {
	factory, err := NewApiFactory(w, log, nil)
	if err != nil {
		return nil, err
	}
	return factory.NewPeer()
}

func hasIceOverride(w conf.Webrtc) bool {
	if len(w.IceServers) != len(conf.DefaultIceServers) {
		return true
	}
	for i, s := range w.IceServers {
		if s != conf.DefaultIceServers[i] {
			return true
		}
	}
	return false
}

func (p *Peer) createChannels() error {
	reliable, err := p.conn.CreateDataChannel(api.ChannelAuthoritative, nil)
	if err != nil {
		return err
	}
	p.bindChannel(reliable)

	// Telemetry tolerates loss and reordering, so head-of-line blocking
	// and retransmits are switched off entirely.
	ordered := false
	retransmits := uint16(0)
	lossy, err := p.conn.CreateDataChannel(api.ChannelTelemetry, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &retransmits,
	})
	if err != nil {
		return err
	}
	p.bindChannel(lossy)
	return nil
}

func (p *Peer) bindChannel(dc *webrtc.DataChannel) {
	name := dc.Label()
	p.mu.Lock()
	p.channels[name] = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.log.Debug().Msgf("Channel [%v] is open", name)
	})
	dc.OnClose(func() {
		p.log.Debug().Msgf("Channel [%v] was closed", name)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var packet api.In
		if err := json.Unmarshal(msg.Data, &packet); err != nil {
			p.log.Error().Err(err).Msgf("Malformed packet on [%v]", name)
			return
		}
		p.mu.Lock()
		cb := p.onMessage
		p.mu.Unlock()
		if cb != nil {
			cb(name, packet)
		}
	})
}

// CreateOffer produces and installs the local description of the host.
func (p *Peer) CreateOffer() (string, error) {
	if p.conn == nil {
		return "", ErrNotInitialized
	}
	offer, err := p.conn.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err = p.conn.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return Encode(offer)
}

// CreateAnswer applies the remote offer and produces the local answer.
func (p *Peer) CreateAnswer(remoteOffer string) (string, error) {
	if p.conn == nil {
		return "", ErrNotInitialized
	}
	if err := p.SetRemoteDescription(remoteOffer); err != nil {
		return "", err
	}
	answer, err := p.conn.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err = p.conn.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return Encode(answer)
}

// SetRemoteDescription applies the peer's description, remembers its
// session tag for candidate validation, and flushes the pending candidate
// queue in arrival order exactly once, dropping queued candidates whose tag
// belongs to another negotiation round. Calling it twice on one Peer is not
// supported; a renegotiation needs a fresh Peer.
func (p *Peer) SetRemoteDescription(remote string) error {
	if p.conn == nil {
		return ErrNotInitialized
	}
	var desc webrtc.SessionDescription
	if err := Decode(remote, &desc); err != nil {
		p.log.Error().Err(err).Msg("Couldn't decode the remote description")
		return err
	}
	if err := p.conn.SetRemoteDescription(desc); err != nil {
		p.log.Error().Err(err).Msg("Couldn't apply the remote description")
		return err
	}

	p.mu.Lock()
	tag := extractUfrag(desc.SDP)
	p.remoteTag = tag
	p.hasRemote = true
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	// candidates queued before the description couldn't be checked against
	// the session tag on arrival, so the check happens here
	for _, c := range queued {
		if staleCandidate(c, tag) {
			p.log.Warn().Msgf("Dropped a stale candidate [%v]", *c.UsernameFragment)
			continue
		}
		p.applyCandidate(c)
	}
	return nil
}

// AddCandidate feeds one remote reachability candidate into the transport.
// Candidates arriving before the remote description are queued; stale or
// malformed ones are dropped with a log entry. A single bad candidate must
// not abort the session, so nothing is returned to the caller.
func (p *Peer) AddCandidate(candidate string) {
	if candidate == "" {
		p.log.Debug().Msg("Skipped an empty candidate")
		return
	}
	if p.conn == nil {
		p.log.Error().Msg("A candidate arrived before initialization")
		return
	}
	var c webrtc.ICECandidateInit
	if err := Decode(candidate, &c); err != nil {
		p.log.Error().Err(err).Msg("Couldn't decode a remote candidate")
		return
	}
	if c.Candidate == "" {
		p.log.Debug().Msg("Skipped a candidate without a payload")
		return
	}

	p.mu.Lock()
	if staleCandidate(c, p.remoteTag) {
		p.mu.Unlock()
		p.log.Warn().Msgf("Dropped a stale candidate [%v]", *c.UsernameFragment)
		return
	}
	if !p.hasRemote {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		p.log.Debug().Msg("Queued a candidate until the remote description")
		return
	}
	p.mu.Unlock()

	p.applyCandidate(c)
}

func (p *Peer) applyCandidate(c webrtc.ICECandidateInit) {
	if err := p.conn.AddICECandidate(c); err != nil {
		// the session continues with whatever connectivity the rest provide
		p.log.Error().Err(err).Msgf("Transport rejected a candidate [%v]", c.Candidate)
	}
}

// Send writes one application packet to the named channel. It reports
// false when the channel is absent or not open and never panics or errors;
// the authoritative channel then guarantees in-order delivery, telemetry
// guarantees nothing.
func (p *Peer) Send(channel string, packet api.Out) bool {
	data, err := json.Marshal(packet)
	if err != nil {
		p.log.Error().Err(err).Msgf("Couldn't marshal %v", packet.T)
		return false
	}
	p.mu.Lock()
	dc := p.channels[channel]
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return false
	}
	if err := dc.Send(data); err != nil {
		p.log.Error().Err(err).Msgf("Couldn't send %v over [%v]", packet.T, channel)
		return false
	}
	return true
}

// OnMessage registers the single inbound packet handler.
// The last registration wins.
func (p *Peer) OnMessage(fn OnMessageCallback) {
	p.mu.Lock()
	p.onMessage = fn
	p.mu.Unlock()
}

// OnStateChange registers the single state observer.
// The last registration wins.
func (p *Peer) OnStateChange(fn OnStateCallback) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

// OnIceCandidate registers the single local candidate consumer.
// The last registration wins.
func (p *Peer) OnIceCandidate(fn OnIceCallback) {
	p.mu.Lock()
	p.onIce = fn
	p.mu.Unlock()
}

func (p *Peer) State() State {
	if p.conn == nil {
		return StateNew
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return StateClosed
	}
	return mapState(p.conn.ConnectionState())
}

// Close shuts both channels and the connection; it is safe to call twice.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	channels := p.channels
	p.channels = map[string]*webrtc.DataChannel{}
	p.pending = nil
	p.mu.Unlock()

	for name, dc := range channels {
		if err := dc.Close(); err != nil {
			p.log.Error().Err(err).Msgf("Couldn't close channel [%v]", name)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			p.log.Error().Err(err).Msg("Couldn't close the connection")
		}
	}
	p.log.Debug().Msg("Closed")
}

func mapState(state webrtc.PeerConnectionState) State {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateNegotiating
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	}
	return StateNew
}

// Encode serializes a negotiation value into its wire form.
func Encode(obj any) (string, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode deserializes a negotiation value from its wire form.
func Decode(in string, obj any) error {
	return json.Unmarshal([]byte(in), obj)
}
