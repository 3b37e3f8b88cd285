// Package session drives the end-to-end handshake between two peers: it
// publishes negotiation material through the signaling relay, polls for the
// counterpart's, feeds everything into the negotiator, and tears the relay
// down once the direct path is live.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/checkfire/checkfire/pkg/api"
	"github.com/checkfire/checkfire/pkg/config"
	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/checkfire/checkfire/pkg/network"
	"github.com/checkfire/checkfire/pkg/signal"
	"github.com/checkfire/checkfire/pkg/webrtc"
)

// ErrConnectTimeout is the terminal failure after the offer-fetch retry
// budget is exhausted. The remedy is on the user: retry, check the network.
var ErrConnectTimeout = errors.New("session: connection establishment timed out")

// Negotiator is the slice of the connection peer the orchestrator drives.
type Negotiator interface {
	CreateOffer() (string, error)
	CreateAnswer(remoteOffer string) (string, error)
	SetRemoteDescription(remote string) error
	AddCandidate(candidate string)
	OnIceCandidate(webrtc.OnIceCallback)
	OnStateChange(webrtc.OnStateCallback)
	OnMessage(webrtc.OnMessageCallback)
	Send(channel string, packet api.Out) bool
	Close()
}

// Signaler is the relay client surface the polling loops consume.
type Signaler interface {
	PublishOffer(offer string) error
	Offer() (string, error)
	PublishAnswer(answer string) error
	Answer() (string, error)
	PushCandidate(candidate string, fromHost bool) error
	Candidates(forHost bool) ([]string, error)
}

// relayServer is the in-process relay lifecycle (host role only).
type relayServer interface {
	Run()
	Addr() string
	Shutdown(ctx context.Context) error
}

// Session owns one connection attempt for either role.
type Session struct {
	conf config.Config
	log  *logger.Logger

	newPeer   func(role webrtc.Role) (Negotiator, error)
	newRelay  func() (relayServer, error)
	newClient func(address string) Signaler

	mu        sync.Mutex
	role      webrtc.Role
	peer      Negotiator
	relay     relayServer
	sig       Signaler
	cancel    context.CancelFunc
	connected bool
	failed    bool
	outbox    []string

	appState webrtc.OnStateCallback
	appError func(error)
}

func New(conf config.Config, log *logger.Logger) *Session {
	s := &Session{conf: conf, log: log.Extend(log.With().Str("m", "session"))}
	s.newPeer = func(role webrtc.Role) (Negotiator, error) {
		return webrtc.New(role, conf.Webrtc, log)
	}
	s.newRelay = func() (relayServer, error) {
		return signal.NewRelay(conf.Relay, log)
	}
	s.newClient = func(address string) Signaler {
		return signal.NewClient(address, log)
	}
	return s
}

// StartAsHost brings up the relay, publishes an offer, and spawns the
// answer poll and candidate exchange loops. It returns this machine's
// non-loopback addresses so the user can hand one to the other player.
func (s *Session) StartAsHost() ([]network.LocalAddr, error) {
	relay, err := s.newRelay()
	if err != nil {
		return nil, err
	}
	relay.Run()

	peer, err := s.setupPeer(webrtc.RoleHost)
	if err != nil {
		_ = relay.Shutdown(context.Background())
		return nil, err
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		s.teardown(relay, peer)
		return nil, err
	}

	sig := s.newClient("127.0.0.1" + portSuffix(relay.Addr()))
	if err := sig.PublishOffer(offer); err != nil {
		s.teardown(relay, peer)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.role, s.peer, s.relay, s.sig, s.cancel = webrtc.RoleHost, peer, relay, sig, cancel
	s.mu.Unlock()

	go s.pollAnswer(ctx)
	go s.exchangeCandidates(ctx)

	s.log.Info().Msg("Hosting, waiting for the other player")
	return network.LocalAddresses()
}

// Join fetches the host's offer from the relay at address, retrying with
// capped exponential backoff up to the configured budget, then answers and
// starts the candidate exchange.
func (s *Session) Join(address string) error {
	peer, err := s.setupPeer(webrtc.RoleGuest)
	if err != nil {
		return err
	}
	sig := s.newClient(address)

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.role, s.peer, s.sig, s.cancel = webrtc.RoleGuest, peer, sig, cancel
	s.mu.Unlock()

	offer, err := s.fetchOffer(ctx, sig)
	if err != nil {
		s.Disconnect()
		return err
	}

	answer, err := peer.CreateAnswer(offer)
	if err != nil {
		s.Disconnect()
		return err
	}
	if err := sig.PublishAnswer(answer); err != nil {
		s.Disconnect()
		return err
	}

	go s.exchangeCandidates(ctx)
	s.log.Info().Msg("Joined, negotiating the direct path")
	return nil
}

func (s *Session) fetchOffer(ctx context.Context, sig Signaler) (string, error) {
	retry := network.NewRetry(s.conf.Session.RetryBase, s.conf.Session.RetryCap)
	attempts := s.conf.Session.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		offer, err := sig.Offer()
		if err == nil {
			return offer, nil
		}
		if attempt >= attempts {
			s.log.Error().Err(err).Msgf("No offer after %v attempts", attempt)
			return "", ErrConnectTimeout
		}
		s.log.Debug().Err(err).Msgf("Offer fetch %v failed, retrying", attempt)
		if !sleepCtx(ctx, retry.Fail()) {
			return "", ctx.Err()
		}
	}
}

func (s *Session) setupPeer(role webrtc.Role) (Negotiator, error) {
	peer, err := s.newPeer(role)
	if err != nil {
		return nil, err
	}
	peer.OnIceCandidate(func(candidate string) {
		if candidate == "" {
			return // end-of-gathering marker
		}
		s.mu.Lock()
		s.outbox = append(s.outbox, candidate)
		s.mu.Unlock()
	})
	peer.OnStateChange(s.onPeerState)
	return peer, nil
}

func (s *Session) onPeerState(state webrtc.State) {
	s.log.Info().Msgf("Connection is %v", state)
	if state == webrtc.StateConnected {
		s.mu.Lock()
		first := !s.connected
		s.connected = true
		s.mu.Unlock()
		if first {
			go s.settleAndTearDown()
		}
	}
	s.mu.Lock()
	cb := s.appState
	s.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// settleAndTearDown lets the in-flight candidate exchange settle for the
// grace period, then cancels the polling loops and discards the relay: the
// direct path is self-sufficient from here on.
func (s *Session) settleAndTearDown() {
	time.Sleep(s.conf.Session.GraceDelay)
	s.mu.Lock()
	cancel := s.cancel
	relay := s.relay
	s.relay = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if relay != nil {
		if err := relay.Shutdown(context.Background()); err != nil {
			s.log.Debug().Err(err).Msg("Relay shutdown after connect")
		}
		s.log.Info().Msg("Direct path confirmed, relay torn down")
	}
}

// pollAnswer waits for the guest's answer on a fixed interval (host role).
func (s *Session) pollAnswer(ctx context.Context) {
	s.mu.Lock()
	sig, peer := s.sig, s.peer
	s.mu.Unlock()

	ticker := time.NewTicker(s.conf.Session.PollInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.isConnected() {
			return
		}
		answer, err := sig.Answer()
		if err == signal.ErrNotReady {
			failures = 0
			continue
		}
		if err != nil {
			if s.isConnected() {
				return // relay may already be gone, expected
			}
			failures++
			if failures >= s.conf.Session.RetryAttempts {
				s.fail(fmt.Errorf("session: answer polling gave up: %w", err))
				return
			}
			continue
		}
		if err := peer.SetRemoteDescription(answer); err != nil {
			s.fail(err)
		}
		return
	}
}

// exchangeCandidates periodically pushes everything the transport has
// discovered locally and pulls+applies whatever the counterpart queued.
// It stops when the direct connection is confirmed, not after a fixed
// number of rounds.
func (s *Session) exchangeCandidates(ctx context.Context) {
	s.mu.Lock()
	sig, peer := s.sig, s.peer
	s.mu.Unlock()

	ticker := time.NewTicker(s.conf.Session.PollInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.isConnected() {
			return
		}

		s.mu.Lock()
		pending := s.outbox
		s.outbox = nil
		fromHost := s.role.IsHost()
		s.mu.Unlock()

		ok := true
		for i, candidate := range pending {
			if err := sig.PushCandidate(candidate, fromHost); err != nil {
				// requeue the rest, this round is lost
				s.mu.Lock()
				s.outbox = append(pending[i:], s.outbox...)
				s.mu.Unlock()
				s.log.Debug().Err(err).Msg("Candidate push failed")
				ok = false
				break
			}
		}

		if ok {
			remote, err := sig.Candidates(fromHost)
			if err != nil {
				s.log.Debug().Err(err).Msg("Candidate pull failed")
				ok = false
			} else {
				for _, candidate := range remote {
					peer.AddCandidate(candidate)
				}
			}
		}

		if ok {
			failures = 0
			continue
		}
		if s.isConnected() {
			return // post-teardown noise, expected
		}
		failures++
		if failures >= s.conf.Session.RetryAttempts {
			s.fail(errors.New("session: candidate exchange gave up"))
			return
		}
	}
}

// Send routes one application packet to the peer, defaulting to the
// authoritative channel. It reports delivery the same way the negotiator
// does and never errors.
func (s *Session) Send(t api.PT, payload any, channel string) bool {
	if channel == "" {
		channel = api.ChannelAuthoritative
	}
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer == nil {
		return false
	}
	return peer.Send(channel, api.Out{T: t, Payload: payload})
}

// OnMessage registers the application's inbound packet handler.
// The last registration wins.
func (s *Session) OnMessage(fn webrtc.OnMessageCallback) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	if peer != nil {
		peer.OnMessage(fn)
	}
}

// OnStateChange registers the application's connection state observer.
// The last registration wins.
func (s *Session) OnStateChange(fn webrtc.OnStateCallback) {
	s.mu.Lock()
	s.appState = fn
	s.mu.Unlock()
}

// OnError registers the observer for terminal failures (retry budget
// exhaustion). The last registration wins; it fires at most once.
func (s *Session) OnError(fn func(error)) {
	s.mu.Lock()
	s.appError = fn
	s.mu.Unlock()
}

// Disconnect cancels both polling loops, closes the negotiator, and shuts
// the relay down if it is still alive. Safe to call twice.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	peer := s.peer
	relay := s.relay
	s.cancel, s.peer, s.relay = nil, nil, nil
	s.outbox = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if peer != nil {
		peer.Close()
	}
	if relay != nil {
		_ = relay.Shutdown(context.Background())
	}
}

// teardown reverts a half-built host setup when a bootstrap step fails.
func (s *Session) teardown(relay relayServer, peer Negotiator) {
	peer.Close()
	_ = relay.Shutdown(context.Background())
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// fail reports a terminal failure to the application exactly once.
func (s *Session) fail(err error) {
	s.log.Error().Err(err).Msg("Session failed")
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	cb := s.appError
	s.mu.Unlock()
	if first && cb != nil {
		cb(err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func portSuffix(addr string) string {
	a := network.Address(addr)
	port, err := a.Port()
	if err != nil {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}
