package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"chatgateway/chatconfig"
	"chatgateway/common"
	"chatgateway/gateway"
	"chatgateway/gatewayconfig"
	"chatgateway/logger"
	"chatgateway/secretmanager"
)

func main() {
	log := logger.Get()

	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Fatal().Err(err).Msg("error loading .env file")
		}
	}

	dataHome, err := common.GetGatewayDataHome()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve gateway data directory")
	}

	configPath := os.Getenv("GATEWAY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join(dataHome, "config.yaml")
	}

	cfg, err := gatewayconfig.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load gateway config")
	}

	channels, err := chatconfig.Load(dataHome)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load channel config")
	}

	secrets := secretmanager.NewCompositeSecretManager([]secretmanager.SecretManager{
		secretmanager.EnvSecretManager{},
		secretmanager.KeyringSecretManager{},
	})

	gw := gateway.New(cfg, channels, secrets, dataHome)
	_ = gw

	log.Info().Str("data_home", dataHome).Str("config", configPath).Msg("chatgateway ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("chatgateway shutting down")
}
