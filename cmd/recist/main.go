// Command recist runs the cluster-resident self-healing controller: it
// loads configuration, wires the four cooperating agents and the
// Incident Orchestrator around a shared Postgres store and event bus,
// resumes any incident left non-terminal by a prior crash, starts the
// periodic fault scan, and serves the operator HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/recist/recist/internal/api"
	"github.com/recist/recist/internal/cache"
	"github.com/recist/recist/internal/cluster"
	"github.com/recist/recist/internal/config"
	"github.com/recist/recist/internal/containment"
	"github.com/recist/recist/internal/db"
	"github.com/recist/recist/internal/diagnosis"
	"github.com/recist/recist/internal/eventbus"
	"github.com/recist/recist/internal/knowledge"
	"github.com/recist/recist/internal/llm"
	"github.com/recist/recist/internal/logging"
	"github.com/recist/recist/internal/metacognitive"
	"github.com/recist/recist/internal/metrics"
	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/notify"
	"github.com/recist/recist/internal/orchestrator"
	"github.com/recist/recist/internal/service"
	"github.com/recist/recist/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, os.Getenv("RECIST_ENV"))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Msg("failed to register prometheus collectors")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	repo := &db.Postgres{Pool: pool}

	if err := ensureSchemas(ctx, repo, cfg.Postgres.VectorDim); err != nil {
		log.Fatal().Err(err).Msg("failed to run schema migrations")
	}

	cacheClient, err := cache.New(cfg.Cache.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to cache backend")
	}

	llmProvider, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.Defaults.LLMTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct LLM provider")
	}

	clusterClient, err := cluster.New(cfg.Cluster.Kubeconfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct cluster client")
	}

	metricsAdapter, err := telemetry.NewMetricsAdapter(cfg.Telemetry.PrometheusURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct metrics adapter")
	}
	logsAdapter := telemetry.NewLogsAdapter(cfg.Telemetry.LokiURL)
	eventsAdapter := telemetry.NewEventsAdapter(clusterClient)

	bus := eventbus.New()

	webhookService := service.NewWebhookService(repo)

	slack := notify.NewSlackSender(cfg.Notify.SlackWebhookURL)
	configurable := notify.NewConfigurableSender(webhookService)
	notifier := notify.Multi{Senders: []notify.Sender{slack, configurable, notify.NoopEmailSender{}}}

	knowledgeStore := knowledge.New(repo, llmProvider, bus, cfg.Defaults.TopicSimilarity)
	diagnosisAgent := diagnosis.New(metricsAdapter, logsAdapter, eventsAdapter, knowledgeStore, llmProvider)

	// containment.Agent and orchestrator.Orchestrator each need a
	// reference to the other; construct containment first with a nil
	// Admitter and bind the orchestrator in after both exist.
	containmentAgent := containment.New(clusterClient, metricsAdapter, cacheClient, bus, nil)
	metacogAgent := metacognitive.New(llmProvider, clusterClient, bus, nil)

	orch := orchestrator.New(repo, containmentAgent, diagnosisAgent, metacogAgent, knowledgeStore, bus, notifier, cfg.Defaults)
	containmentAgent.SetAdmitter(orch)
	metacogAgent.SetRecorder(orch)

	authService, err := service.NewAuthService(repo, cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct auth service")
	}
	if err := authService.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate auth schema")
	}
	if cfg.Auth.AdminUsername != "" {
		if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
			log.Warn().Err(err).Msg("failed to seed admin user")
		}
	}

	eventsService := service.NewEventsService(repo)
	policyService := service.NewPolicyService(repo)
	embeddingService := service.NewEmbeddingService(llmProvider, repo)

	router := api.NewRouter(api.Deps{
		Auth:             authService,
		Events:           eventsService,
		Policy:           policyService,
		Embedding:        embeddingService,
		Webhooks:         webhookService,
		Ingestor:         containmentAgent,
		Controller:       orch,
		AllowedOrigins:   []string{os.Getenv("RECIST_ALLOWED_ORIGIN")},
		AllowCredentials: true,
	})

	if err := orch.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("failed to resume non-terminal incidents from a prior run")
	}

	go runScanLoop(ctx, containmentAgent, clusterClient, cfg.Defaults)
	go runProactiveScanLoop(ctx, knowledgeStore, metricsAdapter, clusterClient, notifier, cfg.Defaults)

	srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.API.ListenAddr).Msg("starting recist API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func ensureSchemas(ctx context.Context, repo *db.Postgres, vectorDim int) error {
	if err := repo.EnsureIncidentSchema(ctx); err != nil {
		return err
	}
	if err := repo.EnsureDiagnosisArtifactSchema(ctx); err != nil {
		return err
	}
	if err := repo.EnsureKnowledgeSchema(ctx, vectorDim); err != nil {
		return err
	}
	if err := repo.EnsurePolicySchema(ctx); err != nil {
		return err
	}
	return repo.EnsureWebhookSchema()
}

// runScanLoop periodically lists every managed namespace's recent
// events looking for OOM/CrashLoop/readiness-flap signatures, the
// second fault entrant alongside the Alertmanager webhook.
func runScanLoop(ctx context.Context, agent *containment.Agent, clusterClient cluster.Client, policy recist.SelfHealingPolicy) {
	ticker := time.NewTicker(policy.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanOnce(ctx, agent, clusterClient, policy)
		}
	}
}

func scanOnce(ctx context.Context, agent *containment.Agent, clusterClient cluster.Client, policy recist.SelfHealingPolicy) {
	for _, ns := range policy.Namespaces {
		siblings, err := clusterClient.ListSiblingDeployments(ctx, ns, "")
		if err != nil {
			log.Warn().Err(err).Str("namespace", ns).Msg("scan: failed to list deployments")
			continue
		}
		for _, target := range siblings {
			agent.ScanThresholds(ctx, target, policy.Thresholds)

			events, err := clusterClient.ListEvents(ctx, target, policy.Lookback)
			if err != nil {
				continue
			}
			if fault, ok := faultFromEvents(target, events); ok {
				if err := agent.IngestFault(ctx, fault); err != nil {
					log.Warn().Err(err).Str("target", target.Key()).Msg("scan: failed to ingest fault")
				}
			}
		}
	}
}

// runProactiveScanLoop periodically checks every managed namespace's
// deployments for a rising CPU trend that resembles a past incident
// closely enough to warrant a heads-up before any fault threshold
// fires, the Knowledge Agent's half of proactive detection.
func runProactiveScanLoop(ctx context.Context, store *knowledge.Store, metricsAdapter *telemetry.MetricsAdapter, clusterClient cluster.Client, notifier notify.Sender, policy recist.SelfHealingPolicy) {
	ticker := time.NewTicker(policy.CheckInterval * 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			proactiveScanOnce(ctx, store, metricsAdapter, clusterClient, notifier, policy)
		}
	}
}

func proactiveScanOnce(ctx context.Context, store *knowledge.Store, metricsAdapter *telemetry.MetricsAdapter, clusterClient cluster.Client, notifier notify.Sender, policy recist.SelfHealingPolicy) {
	for _, ns := range policy.Namespaces {
		siblings, err := clusterClient.ListSiblingDeployments(ctx, ns, "")
		if err != nil {
			log.Warn().Err(err).Str("namespace", ns).Msg("proactive scan: failed to list deployments")
			continue
		}
		for _, target := range siblings {
			cpuQuery := fmt.Sprintf(`rate(container_cpu_usage_seconds_total{namespace="%s",pod=~"%s.*"}[5m])`, target.Namespace, target.Name)
			series, err := metricsAdapter.QueryRange(ctx, cpuQuery, policy.Lookback, 30*time.Second)
			if err != nil {
				continue
			}
			advisory, err := store.ProactiveScan(ctx, target, series, 3)
			if err != nil {
				log.Warn().Err(err).Str("target", target.Key()).Msg("proactive scan failed")
				continue
			}
			if advisory == nil {
				continue
			}
			if err := notifier.NotifyAdvisory(ctx, *advisory); err != nil {
				log.Warn().Err(err).Str("target", target.Key()).Msg("failed to send proactive advisory")
			}
		}
	}
}

func faultFromEvents(target recist.Target, events []recist.ClusterEvent) (recist.FaultRecord, bool) {
	for _, e := range events {
		reason, ok := recist.TriggerFromEventReason(e.Reason)
		if !ok {
			continue
		}
		return recist.FaultRecord{
			Target:     target,
			Reason:     reason,
			Severity:   recist.DeriveSeverity(reason, 0, 0, 0),
			DetectedAt: e.Time,
			Source:     "scan",
		}, true
	}
	return recist.FaultRecord{}, false
}
