package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/bedside-sim/pkg/common/config"
	"github.com/synaptica-ai/bedside-sim/pkg/common/database"
	"github.com/synaptica-ai/bedside-sim/pkg/common/kafka"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/common/mqtt"
	"github.com/synaptica-ai/bedside-sim/pkg/device"
	"github.com/synaptica-ai/bedside-sim/pkg/journal"
	"github.com/synaptica-ai/bedside-sim/pkg/orchestrator"
	"github.com/synaptica-ai/bedside-sim/pkg/roster"
	"gorm.io/gorm"
)

// app holds the wired simulator and everything that must be released on exit.
type app struct {
	service *orchestrator.Service
	history orchestrator.History

	producer    *kafka.Producer
	mqttClient  *mqtt.Client
	db          *gorm.DB
	redisClient *redis.Client
	roster      *roster.Roster
	stopRoster  context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	if err := a.wire(ctx, cfg); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	sinks, err := a.buildSinks(cfg)
	if err != nil {
		return err
	}

	var (
		registry *device.Registry
		opts     []device.Option
	)

	if cfg.JournalEnabled {
		a.db, err = database.OpenPostgres(cfg)
		if err != nil {
			return err
		}
		repo := journal.NewRepository(a.db)
		if err := repo.AutoMigrate(); err != nil {
			return fmt.Errorf("migrating journal: %w", err)
		}
		j := journal.New(repo)
		a.history = j
		opts = append(opts, device.WithObserver(j))
	}

	if cfg.RosterEnabled {
		a.redisClient, err = database.OpenRedis(ctx, cfg)
		if err != nil {
			return err
		}
		a.roster = roster.New(a.redisClient, roster.DefaultKey, cfg.RosterTTL, func() []device.Entry {
			return registry.List()
		})
		opts = append(opts, device.WithObserver(a.roster))
	}

	registry = device.NewRegistry(opts...)
	a.service = orchestrator.NewService(registry, device.StreamConfig{
		Sinks:          sinks,
		Cadence:        cfg.StreamCadence,
		PublishTimeout: cfg.PublishTimeout,
	})

	if a.roster != nil {
		rosterCtx, cancel := context.WithCancel(context.Background())
		a.stopRoster = cancel
		go a.roster.Run(rosterCtx)
	}
	return nil
}

func (a *app) buildSinks(cfg *config.Config) (device.Sinks, error) {
	sinks := device.Sinks{
		StartTopic:  cfg.MQTTStartTopic,
		ActionTopic: cfg.MQTTActionTopic,
		DataTopic:   cfg.VitalsTopic,
	}

	if cfg.SinkMode == config.SinkModeDryRun {
		logger.Log.Warn("dry-run sink mode: payloads are logged, not sent")
		sinks.Control = device.LogPublisher{Plane: device.PlaneControl}
		sinks.Data = device.LogPublisher{Plane: device.PlaneData}
		return sinks, sinks.Validate()
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		return sinks, err
	}
	a.mqttClient = client
	a.producer = kafka.NewProducer(cfg.KafkaBrokers)
	logger.Log.WithField("brokers", cfg.KafkaBrokers).Info("Kafka producer ready")

	sinks.Control = a.mqttClient
	sinks.Data = a.producer
	return sinks, sinks.Validate()
}

// close stops every stream, then flushes and disconnects the sinks.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if a.service != nil {
		if err = a.service.Shutdown(ctx); err != nil {
			logger.Log.WithError(err).Error("failed to stop all streams")
		}
	}
	if a.roster != nil {
		if clearErr := a.roster.Clear(ctx); clearErr != nil {
			logger.Log.WithError(clearErr).Warn("failed to clear roster")
		}
	}
	a.release()
	return err
}

func (a *app) release() {
	if a.stopRoster != nil {
		a.stopRoster()
	}
	if a.producer != nil {
		logger.Log.Info("Flushing Kafka messages...")
		if err := a.producer.Close(); err != nil {
			logger.Log.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.db != nil {
		if err := database.ClosePostgres(a.db); err != nil {
			logger.Log.WithError(err).Warn("failed to close postgres")
		}
	}
}
