package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type (
	// Config is the whole application configuration.
	Config struct {
		Debug      bool
		Relay      Relay
		Session    Session
		Webrtc     Webrtc
		Monitoring Monitoring
	}
	// Relay configures the out-of-band signaling server.
	Relay struct {
		Port     int
		PortRoll bool
		Zone     string
	}
	// Session configures the connection orchestration loops.
	Session struct {
		// PollInterval is the fixed period of the answer poll and
		// the candidate exchange loops.
		PollInterval time.Duration
		// RetryBase and RetryCap shape the offer-fetch backoff:
		// the delay doubles per failure up to RetryBase*RetryCap.
		RetryBase     time.Duration
		RetryCap      int
		RetryAttempts int
		// GraceDelay is how long to keep the relay alive after the
		// direct connection is confirmed, letting in-flight candidate
		// exchange settle.
		GraceDelay time.Duration
	}
	Webrtc struct {
		DisableDefaultInterceptors bool
		IceServers                 []IceServer
		IcePorts                   struct {
			Min uint16
			Max uint16
		}
		IceIpMap string
		LogLevel int
	}
	IceServer struct {
		Urls       string `json:"urls,omitempty"`
		Username   string `json:"username,omitempty"`
		Credential string `json:"credential,omitempty"`
	}
	Monitoring struct {
		Port             int
		URLPrefix        string
		MetricEnabled    bool `fig:"metric_enabled"`
		ProfilingEnabled bool `fig:"profiling_enabled"`
	}
)

// DefaultIceServers is the built-in prioritized discovery list used when
// the operator supplies nothing, or when construction with an override
// fails and the attempt is retried.
var DefaultIceServers = []IceServer{
	{Urls: "stun:stun.l.google.com:19302"},
	{Urls: "stun:stun1.l.google.com:19302"},
}

func NewConfig() Config {
	conf := Config{
		Relay: Relay{
			Port:     3479,
			PortRoll: false,
		},
		Session: Session{
			PollInterval:  time.Second,
			RetryBase:     time.Second,
			RetryCap:      3,
			RetryAttempts: 10,
			GraceDelay:    2 * time.Second,
		},
		Webrtc: Webrtc{
			IceServers: append([]IceServer{}, DefaultIceServers...),
		},
		Monitoring: Monitoring{
			Port:      6601,
			URLPrefix: "/checkfire",
		},
	}
	return conf
}

func (c *Config) AddFlags(fs *pflag.FlagSet) *Config {
	fs.BoolVarP(&c.Debug, "debug", "v", c.Debug, "Enable debug logs")
	fs.IntVarP(&c.Relay.Port, "port", "p", c.Relay.Port, "Specify the signaling relay port")
	fs.BoolVar(&c.Relay.PortRoll, "portRoll", c.Relay.PortRoll, "Roll the relay port forward when it is taken")
	fs.BoolVar(&c.Monitoring.MetricEnabled, "metrics", c.Monitoring.MetricEnabled, "Enable the Prometheus metrics endpoint")
	fs.BoolVar(&c.Monitoring.ProfilingEnabled, "pprof", c.Monitoring.ProfilingEnabled, "Enable the pprof endpoints")
	return c
}

func (c *Config) ParseFlags() {
	c.AddFlags(pflag.CommandLine)
	pflag.Parse()
}

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasIceIpMap() bool  { return w.IceIpMap != "" }

// AddIceServersEnv overlays up to five operator-supplied discovery servers
// from the environment on top of the built-in list, e.g.
// CHECKFIRE_WEBRTC_ICESERVERS[0]_URLS=turn:turn.example.com:3478.
func (w *Webrtc) AddIceServersEnv() {
	cfg := Config{Webrtc: Webrtc{IceServers: []IceServer{{}, {}, {}, {}, {}}}}
	_ = LoadConfigEnv(&cfg)
	for _, ice := range cfg.Webrtc.IceServers {
		if ice.Urls == "" {
			continue
		}
		w.IceServers = append(w.IceServers, ice)
	}
}

// FilterIceServers drops entries with unsupported address schemes.
// Invalid entries are not fatal, only skipped.
func FilterIceServers(servers []IceServer) (valid []IceServer, dropped []IceServer) {
	for _, s := range servers {
		if validIceScheme(s.Urls) {
			valid = append(valid, s)
		} else {
			dropped = append(dropped, s)
		}
	}
	return valid, dropped
}

func validIceScheme(url string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}
