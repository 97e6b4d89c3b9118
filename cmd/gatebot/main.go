package main

import (
	"log"

	"gatebot/bot"
	"gatebot/core/bootstrap"
	corecmd "gatebot/core/cmd"
	coreconfig "gatebot/core/config"
)

type configCarrier struct {
	cfg *coreconfig.Config
}

func (c configCarrier) CoreConfig() *coreconfig.Config { return c.cfg }

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := coreconfig.Load(path)
			if err != nil {
				return nil, err
			}
			return configCarrier{cfg: cfg}, nil
		},
		Bootstrap: func(carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			res, err := bootstrap.Run(bootstrap.Options{Config: carrier.CoreConfig()})
			if err != nil {
				return nil, err
			}
			return bot.New(carrier.CoreConfig(), res.DB), nil
		},
	})
	if err != nil {
		log.Fatalf("gatebot: %v", err)
	}
}
