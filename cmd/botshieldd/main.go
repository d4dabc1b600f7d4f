// Package main wires the detection engine's collaborators into a runnable
// HTTP server: config, logging, the signature coordinator, reputation
// cache, cluster engine, fast-path matcher, detector registry, policy
// registry, orchestrator, response coordinator, operation composer, an
// optional persistence driver, and the middleware chain.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/northboundlabs/botshield/internal/cluster"
	"github.com/northboundlabs/botshield/internal/config"
	"github.com/northboundlabs/botshield/internal/coordinator"
	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/detector/builtin"
	"github.com/northboundlabs/botshield/internal/fastpath"
	"github.com/northboundlabs/botshield/internal/llm"
	"github.com/northboundlabs/botshield/internal/middleware"
	"github.com/northboundlabs/botshield/internal/monitoring"
	"github.com/northboundlabs/botshield/internal/operation"
	"github.com/northboundlabs/botshield/internal/orchestrator"
	"github.com/northboundlabs/botshield/internal/persistence"
	"github.com/northboundlabs/botshield/internal/policy"
	"github.com/northboundlabs/botshield/internal/reputation"
	"github.com/northboundlabs/botshield/internal/response"
	"github.com/northboundlabs/botshield/internal/signal"
)

func main() {
	configPath := flag.String("config", "", "path to config file; falls back to built-in defaults")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	monitoring.Init(cfg.Logging)
	log.Info().Str("addr", cfg.Server.Addr).Msg("botshieldd starting")

	metrics := monitoring.NewMetricsCollector()
	global := signal.NewGlobalSink(signal.DefaultGlobalSinkCapacity, signal.DefaultGlobalSinkTTL)
	defer global.Close()

	coord := coordinator.New(coordinator.Config{
		MaxSignaturesInWindow:             cfg.Coordinator.MaxSignaturesInWindow,
		SignatureWindow:                   cfg.Coordinator.SignatureWindow,
		SignatureTtl:                      cfg.Coordinator.SignatureTtl,
		MaxRequestsPerSignature:           cfg.Coordinator.MaxRequestsPerSignature,
		AberrationScoreThreshold:          cfg.Coordinator.AberrationScoreThreshold,
		MinRequestsForAberrationDetection: cfg.Coordinator.MinRequestsForAberrationDetection,
	}, metrics)
	defer coord.Close()
	go drainAberrations(coord)

	repCache := reputation.New(reputation.Config{
		ProbableSupport:  cfg.Reputation.ProbableSupport,
		ConfirmedSupport: cfg.Reputation.ConfirmedSupport,
		HalfLife:         cfg.Reputation.HalfLife,
		MinSupportAbort:  cfg.Reputation.MinSupportAbort,
		MinSupportAllow:  cfg.Reputation.MinSupportAllow,
	})

	clusterEngine := cluster.New(cluster.Config{
		ClusterIntervalSeconds:          cfg.Cluster.ClusterIntervalSeconds,
		MinBotDetectionsToTrigger:       cfg.Cluster.MinBotDetectionsToTrigger,
		MinBotProbabilityForClustering:  cfg.Cluster.MinBotProbabilityForClustering,
		SimilarityThreshold:             cfg.Cluster.SimilarityThreshold,
		SemanticWeight:                  cfg.Cluster.SemanticWeight,
		TemporalWeight:                  cfg.Cluster.TemporalWeight,
		Algorithm:                       cluster.Algorithm(cfg.Cluster.Algorithm),
		MinClusterSize:                  cfg.Cluster.MinClusterSize,
		ProductSimilarityThreshold:      cfg.Cluster.ProductSimilarityThreshold,
		NetworkTemporalDensityThreshold: cfg.Cluster.NetworkTemporalDensityThreshold,
		MaxIterations:                   cfg.Cluster.MaxIterations,
	}, coord)
	go clusterEngine.Run()
	defer clusterEngine.Close()

	fastpathMatcher := fastpath.New(cfg.Salts.IdentityHashSalt)

	detectors := buildDetectorRegistry(repCache)
	if err := detectors.ValidateNames(); err != nil {
		log.Fatal().Err(err).Msg("detector registry is misconfigured")
	}
	policies := buildPolicyRegistry(cfg)
	if err := policies.ValidateTransitions(); err != nil {
		log.Fatal().Err(err).Msg("policy configuration is invalid")
	}

	orch := orchestrator.New(detectors, policies, coord, llm.NoopEscalator{}, metrics)
	responseCoord := response.New(response.Config{
		MaxBufferBytes:        cfg.Response.MaxBufferBytes,
		MaxBlockingDurationMs: cfg.Response.MaxBlockingDurationMs,
	})
	composer := operation.New(global, coord, clusterEngine, cfg.Cluster.MinBotDetectionsToTrigger)

	recorder, err := buildRecorder(cfg.Persistence)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize persistence driver")
	}
	defer recorder.Close()

	chain := middleware.New(cfg.Server.RatePerSecond, cfg.Server.TrustedProxies, cfg.Server.AllowedOrigins)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/bot-detection/client-fingerprint", middleware.FingerprintHandler(fastpathMatcher))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/", evaluationHandler(chain, fastpathMatcher, orch, responseCoord, composer, recorder))

	var handler http.Handler = mux
	handler = chain.Logging(handler)
	handler = chain.Security(handler)
	handler = chain.RateLimit(handler)
	handler = chain.PanicRecovery(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		log.Warn().Msg("no --config given; running with built-in defaults")
		return config.Defaults(), nil
	}
	return config.Load(path)
}

func drainAberrations(coord *coordinator.SignatureCoordinator) {
	for sig := range coord.AberrationSignals() {
		log.Warn().Str("signature", sig.Signature).Float64("score", sig.Score).Str("reason", sig.Reason).Msg("signature turned aberrant")
	}
}

func buildDetectorRegistry(repCache *reputation.Cache) *detector.Registry {
	reg := detector.NewRegistry()

	register := func(d detector.Detector, weight float64, required bool) {
		reg.Register(detector.Manifest{
			Name: d.Name(), Priority: d.Priority(), Wave: d.Wave(),
			Triggers: d.Triggers(), EmittedSignals: d.Emitted(),
			DefaultWeight: weight, Enabled: true, Required: required,
		}, d)
	}

	register(builtin.NewHoneypotDetector(), 1.0, true)
	register(builtin.NewUADetector(), 0.8, false)
	register(builtin.NewHeaderDetector(), 0.6, false)
	register(builtin.NewReputationDetector(repCache, 10, 10, nil), 1.0, true)
	register(builtin.NewReputationBiasDetector(repCache, nil), 0.5, false)
	register(builtin.NewWebSocketStormDetector(), 0.8, false)
	register(builtin.NewCompoundDetector(), 0.4, false)
	return reg
}

func buildPolicyRegistry(cfg *config.Config) *policy.Registry {
	reg := policy.NewRegistry()
	for pattern, name := range cfg.Policies.PathRoutes {
		reg.RegisterRoute(pattern, name)
	}
	if cfg.Policies.Default != "" {
		reg.SetDefault(cfg.Policies.Default)
	}
	return reg
}

func buildRecorder(cfg config.PersistenceConfig) (persistence.Recorder, error) {
	switch cfg.Driver {
	case "sqlite":
		return persistence.NewSQLiteRecorder(cfg.SqlitePath)
	case "redis":
		// The Redis collaborator specializes in reputation snapshots (spec
		// §6 "reputation snapshots keyed by patternId"); its
		// RecordOperation is a no-op, so operation summaries are not
		// persisted with this driver.
		return persistence.NewRedisReputationStore(cfg.RedisAddr, cfg.RedisDB, 30*24*time.Hour), nil
	default:
		return persistence.NoopRecorder{}, nil
	}
}
