package webrtc

import (
	conf "github.com/checkfire/checkfire/pkg/config"
	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

type ApiFactory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

type ModApiFun func(m *webrtc.MediaEngine, i *interceptor.Registry, s *webrtc.SettingEngine)

func NewApiFactory(w conf.Webrtc, log *logger.Logger, mod ModApiFun) (api *ApiFactory, err error) {
	m := &webrtc.MediaEngine{}
	if err = m.RegisterDefaultCodecs(); err != nil {
		return
	}
	i := &interceptor.Registry{}
	if !w.DisableDefaultInterceptors {
		if err = webrtc.RegisterDefaultInterceptors(m, i); err != nil {
			return
		}
	}
	customLogger := logger.NewPionLogger(log, w.LogLevel)
	s := webrtc.SettingEngine{LoggerFactory: customLogger}
	if w.HasPortRange() {
		if err = s.SetEphemeralUDPPortRange(w.IcePorts.Min, w.IcePorts.Max); err != nil {
			return
		}
	}
	if w.HasIceIpMap() {
		s.SetNAT1To1IPs([]string{w.IceIpMap}, webrtc.ICECandidateTypeHost)
		log.Info().Msgf("The NAT mapping is active for %v", w.IceIpMap)
	}

	if mod != nil {
		mod(m, i, &s)
	}

	servers, dropped := conf.FilterIceServers(w.IceServers)
	for _, bad := range dropped {
		log.Warn().Msgf("Dropped a discovery server with an unsupported scheme: %v", bad.Urls)
	}
	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, server := range servers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return &ApiFactory{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: c,
	}, err
}

func (a *ApiFactory) NewPeer() (*webrtc.PeerConnection, error) {
	return a.api.NewPeerConnection(a.conf)
}
