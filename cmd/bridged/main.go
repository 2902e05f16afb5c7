package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"runbridge/bridge"
	"runbridge/config"
	"runbridge/crypto"
	"runbridge/ledger"
	"runbridge/observability"
	"runbridge/observability/logging"
	"runbridge/observability/telemetry"
	"runbridge/server"
)

func main() {
	var (
		cfgPath    string
		genKeyPath string
	)
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to bridged configuration file")
	flag.StringVar(&genKeyPath, "genkey", "", "generate a signer keystore at the given path and exit")
	flag.Parse()

	if genKeyPath != "" {
		if err := generateKeystore(genKeyPath); err != nil {
			log.Fatalf("bridged: generate keystore: %v", err)
		}
		return
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("bridged: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("BRIDGE_ENV"))
	logger := logging.Setup(logging.Options{
		Service:    "bridged",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "bridged",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			log.Fatalf("bridged: init telemetry: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(shutdownCtx)
		}()
	}

	secret, err := cfg.VerificationSecret()
	if err != nil {
		log.Fatalf("bridged: %v", err)
	}
	codec, err := bridge.NewCodec(secret)
	if err != nil {
		log.Fatalf("bridged: verification codec: %v", err)
	}

	signerKey, err := cfg.SignerKey()
	if err != nil {
		log.Fatalf("bridged: %v", err)
	}
	signing, err := bridge.NewSigningContext(signerKey)
	if err != nil {
		log.Fatalf("bridged: signing context: %v", err)
	}
	logger.Info("signer loaded", "address", signing.SignerAddress().String())

	store, err := ledger.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("bridged: open ledger: %v", err)
	}

	metrics := observability.NewMetrics("bridge")
	engine, err := bridge.NewEngine(store, signing, codec, bridge.Options{
		CancelWindow: cfg.Bridge.CancelWindow.Duration,
		SettleAfter:  cfg.Bridge.SettleAfter.Duration,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("bridged: engine: %v", err)
	}

	srv := server.New(server.Config{
		Engine:                engine,
		Metrics:               metrics,
		Logger:                logger,
		ChainID:               cfg.Chain.ID,
		ContractAddress:       cfg.Chain.ContractAddress,
		AdminJWTSecret:        cfg.AdminJWTSecret(),
		RateRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		RateBurst:             cfg.RateLimit.Burst,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	janitor := bridge.NewJanitor(engine, cfg.Bridge.SettleInterval.Duration)
	go janitor.Run(rootCtx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddress)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", "err", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("bridged: http server error: %v", err)
			os.Exit(1)
		}
	}
}

func generateKeystore(path string) error {
	passphrase := os.Getenv("BRIDGE_KEYSTORE_PASSPHRASE")
	if passphrase == "" {
		return errors.New("BRIDGE_KEYSTORE_PASSPHRASE must be set")
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		return err
	}
	fmt.Printf("keystore written to %s\nsigner address: %s\n", path, key.PubKey().Address().String())
	return nil
}
