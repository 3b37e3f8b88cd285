package main

import (
	"context"
	goflag "flag"

	"github.com/checkfire/checkfire/pkg/config"
	"github.com/checkfire/checkfire/pkg/logger"
	"github.com/checkfire/checkfire/pkg/monitoring"
	"github.com/checkfire/checkfire/pkg/os"
	"github.com/checkfire/checkfire/pkg/service"
	"github.com/checkfire/checkfire/pkg/session"
	"github.com/checkfire/checkfire/pkg/webrtc"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewConfig()
	if err := config.LoadConfig(&conf, ""); err != nil {
		logger.Default().Warn().Err(err).Msg("config file was not loaded")
	}
	conf.Webrtc.AddIceServersEnv()

	var join string
	flag.StringVarP(&join, "join", "j", "", "Join the game hosted at the given relay address")
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Debug, "cf", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	services := service.Group{}
	if conf.Monitoring.IsEnabled() {
		services.Add(monitoring.New(conf.Monitoring, log))
	}
	services.Start()

	sess := session.New(conf, log)
	sess.OnStateChange(func(state webrtc.State) {
		log.Info().Msgf("Peer connection is %v", state)
	})
	sess.OnError(func(err error) {
		log.Fatal().Err(err).Msg("Session could not be established")
	})

	if join != "" {
		if err := sess.Join(join); err != nil {
			log.Fatal().Err(err).Msgf("Couldn't join %v", join)
		}
	} else {
		addrs, err := sess.StartAsHost()
		if err != nil {
			log.Fatal().Err(err).Msg("Couldn't start hosting")
		}
		for _, addr := range addrs {
			note := ""
			if addr.Primary {
				note = " (primary)"
			}
			log.Info().Msgf("Reachable at %v:%d%v", addr.Address, conf.Relay.Port, note)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		sess.Disconnect()
		if err := services.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
