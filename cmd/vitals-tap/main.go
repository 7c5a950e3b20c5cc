package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/bedside-sim/pkg/common/config"
	"github.com/synaptica-ai/bedside-sim/pkg/common/kafka"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/observability/metrics"
	"github.com/synaptica-ai/bedside-sim/pkg/tap"
)

const statsInterval = time.Minute

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load config")
	}
	logger.InitWithLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier := tap.NewVerifier(cfg.StreamCadence)
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.VitalsTopic, cfg.TapGroupID)
	defer consumer.Close()

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(verifier.Stats())
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.TapPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.WithError(err).Error("stats server failed")
		}
	}()

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := verifier.Stats()
				logger.Log.WithFields(map[string]interface{}{
					"messages": stats.Messages,
					"devices":  len(stats.Devices),
					"findings": stats.Findings,
				}).Info("tap summary")
			}
		}
	}()

	logger.Log.WithFields(map[string]interface{}{
		"topic": cfg.VitalsTopic,
		"group": cfg.TapGroupID,
	}).Info("Vitals tap started")

	if err := consumer.Consume(ctx, verifier.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("consumer stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	logger.Log.Info("Vitals tap stopped")
}
