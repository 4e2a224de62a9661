package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/erain9/pairflow/config"
	"github.com/erain9/pairflow/pkg/connector"
	"github.com/erain9/pairflow/pkg/db/queue"
	"github.com/erain9/pairflow/pkg/messaging"
	"github.com/erain9/pairflow/pkg/messaging/kafka"
	"github.com/erain9/pairflow/pkg/oms"
	"github.com/erain9/pairflow/pkg/otel"
	"github.com/erain9/pairflow/pkg/state"
	"github.com/erain9/pairflow/pkg/strategy"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.LoadPairParams(cfg.Pairs)

	level, err := zerolog.ParseLevel(cfg.Engine.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.Engine.LogFormat == "pretty" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	cleanup, err := otel.Init(otel.Config{
		ServiceVersion:   "1.0.0",
		Endpoint:         cfg.Otel.Endpoint,
		CollectorEnabled: cfg.Otel.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	defer cancel()

	eng := strategy.NewEngine(cfg, logger)

	if cfg.Redis.Addr != "" {
		store, err := state.NewStore(ctx, state.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("State store unavailable, running without persistence")
		} else {
			defer store.Close()
			eng.SetStore(store)
		}
	}

	if cfg.Kafka.BrokerAddr != "" {
		var sender messaging.MessageSender
		if cfg.Kafka.Producer == "direct" {
			sender, err = kafka.NewKafkaMessageSender(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
		} else {
			sender, err = queue.NewQueueMessageSender()
		}
		if err != nil {
			logger.Warn().Err(err).Msg("Drop-copy sender unavailable, reports disabled")
		} else {
			defer sender.Close()
			eng.SetSender(sender)
		}

		if cfg.Kafka.DebugConsumer {
			consumer := kafka.NewDebugConsumer(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic, logger)
			consumer.Start(ctx)
			defer consumer.Close()
		}
	}

	if err := buildConnectors(cfg, eng); err != nil {
		logger.Fatal().Err(err).Msg("Connector setup failed")
	}
	if err := eng.InitPairs(); err != nil {
		logger.Fatal().Err(err).Msg("Pair setup failed")
	}
	if err := startConnectors(eng); err != nil {
		logger.Fatal().Err(err).Msg("Connector start failed")
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigCh {
			eng.OnSignal()
		}
	}()

	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("Engine exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

// buildConnectors instantiates every configured connector. Market-data
// connectors come from the type registry; order connectors are local
// simulators until a venue gateway lands.
func buildConnectors(cfg *config.Config, eng *strategy.Engine) error {
	sims := make(map[string]*oms.SimConnector)
	for _, cc := range cfg.Connectors {
		switch cc.Type {
		case "sim-omc":
			c := oms.NewSimConnector(cc.Name, oms.NewThrottle(100, 20))
			c.SetCallbacks(eng)
			sims[cc.Name] = c
			eng.AddOrderConnector(c)
		default:
			c, err := connector.New(cc.Type, cc.Name, cc.Params, eng)
			if err != nil {
				return err
			}
			eng.AddMarketDataConnector(c)
		}
	}
	return nil
}

func startConnectors(eng *strategy.Engine) error {
	for _, p := range eng.Pairs() {
		if err := startLeg(p.PassLeg()); err != nil {
			return err
		}
		if err := startLeg(p.AggrLeg()); err != nil {
			return err
		}
	}
	return nil
}

func startLeg(leg *strategy.Leg) error {
	if !leg.MDC.IsActive() {
		if err := leg.MDC.Start(); err != nil {
			return err
		}
	}
	if !leg.OMC.IsActive() {
		if err := leg.OMC.Start(); err != nil {
			return err
		}
	}
	if sim, ok := leg.OMC.(*oms.SimConnector); ok {
		sim.SetBook(leg.SecID, leg.Book)
	}
	return nil
}
