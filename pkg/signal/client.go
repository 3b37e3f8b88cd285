package signal

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/checkfire/checkfire/pkg/network"
	"github.com/goccy/go-json"
)

// ErrNotReady marks a fetch of an offer or answer that simply has not been
// published yet: retryable, not fatal.
var ErrNotReady = errors.New("signal: not ready")

const requestTimeout = 5 * time.Second

// Client talks to a Relay over its request/response protocol. It carries
// no retry logic of its own; retrying is the orchestrator's business.
type Client struct {
	base string
	hc   *http.Client
	log  *logger.Logger
}

func NewClient(address string, log *logger.Logger) *Client {
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return &Client{
		base: strings.TrimRight(address, "/"),
		hc:   &http.Client{Timeout: requestTimeout},
		log:  log.Extend(log.With().Str("m", "signal")),
	}
}

func (c *Client) PublishOffer(offer string) error {
	return c.post("/offer", map[string]any{"offer": json.RawMessage(offer)})
}

func (c *Client) Offer() (string, error) {
	var out struct {
		Offer json.RawMessage `json:"offer"`
	}
	if err := c.get("/offer", &out); err != nil {
		return "", err
	}
	return string(out.Offer), nil
}

func (c *Client) PublishAnswer(answer string) error {
	return c.post("/answer", map[string]any{"answer": json.RawMessage(answer)})
}

func (c *Client) Answer() (string, error) {
	var out struct {
		Answer json.RawMessage `json:"answer"`
	}
	if err := c.get("/answer", &out); err != nil {
		return "", err
	}
	return string(out.Answer), nil
}

func (c *Client) PushCandidate(candidate string, fromHost bool) error {
	return c.post("/ice", map[string]any{"candidate": json.RawMessage(candidate), "isHost": fromHost})
}

// Candidates drains the queue the counterpart filled for this role.
func (c *Client) Candidates(forHost bool) ([]string, error) {
	var out struct {
		Candidates []json.RawMessage `json:"candidates"`
	}
	if err := c.get(fmt.Sprintf("/ice?host=%v", forHost), &out); err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(out.Candidates))
	for _, raw := range out.Candidates {
		candidates = append(candidates, string(raw))
	}
	return candidates, nil
}

func (c *Client) LocalAddresses() ([]network.LocalAddr, error) {
	var out struct {
		IPs []network.LocalAddr `json:"ips"`
	}
	if err := c.get("/local-ips", &out); err != nil {
		return nil, err
	}
	return out.IPs, nil
}

func (c *Client) Status() error { return c.get("/status", &struct{}{}) }

func (c *Client) get(path string, v any) error {
	resp, err := c.hc.Get(c.base + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return ErrNotReady
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signal: %v returned %v", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.hc.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signal: %v returned %v", path, resp.Status)
	}
	return nil
}
