package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/Chative-Travel-Concierge/agent/agents/orchestrator"
	specialistx "github.com/tanpawarit/Chative-Travel-Concierge/agent/agents/specialist"
	knowledgex "github.com/tanpawarit/Chative-Travel-Concierge/agent/knowledge"
	leasex "github.com/tanpawarit/Chative-Travel-Concierge/agent/lease"
	llmx "github.com/tanpawarit/Chative-Travel-Concierge/agent/llm"
	statex "github.com/tanpawarit/Chative-Travel-Concierge/agent/state"
	configx "github.com/tanpawarit/Chative-Travel-Concierge/pkg/config"
	_ "github.com/tanpawarit/Chative-Travel-Concierge/pkg/logger/autoload"
	metricsx "github.com/tanpawarit/Chative-Travel-Concierge/pkg/metrics"
	redisx "github.com/tanpawarit/Chative-Travel-Concierge/pkg/redisx"
)

var sessionFlag = flag.String("session", "", "session id to continue (a new one is generated when empty)")

type AppConfig struct {
	MetricsAddr      string `envconfig:"METRICS_ADDR"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"travel_concierge"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	agentCfg := configx.MustNew[llmx.AgentConfig]("AGENT")
	storeCfg := configx.MustNew[statex.StoreConfig]("STORE")
	knowledgeCfg := configx.MustNew[knowledgex.Config]("KNOWLEDGE")
	orchestratorCfg := configx.MustNew[orchestratorx.Config]("ORCHESTRATOR")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	collector := metricsx.NewCollector(appCfg.MetricsNamespace, registry)
	if appCfg.MetricsAddr != "" {
		go serveMetrics(appCfg.MetricsAddr, registry)
	}

	var rdb redis.UniversalClient
	useRedis := strings.EqualFold(storeCfg.Driver, statex.DriverRedis) ||
		strings.EqualFold(agentCfg.LeaseBackend, "redis")
	if useRedis {
		redisCfg := configx.MustNew[redisx.Config]("REDIS")
		client, err := redisx.NewClient(*redisCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis client")
		}
		if err := redisx.Ping(ctx, client, redisCfg.DialTimeout); err != nil {
			log.Fatal().Err(err).Msg("redis is unreachable")
		}
		defer client.Close()
		rdb = client
	}

	rawStore, closeStore, err := statex.OpenStore(ctx, *storeCfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Str("driver", storeCfg.Driver).Msg("failed to open session store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error().Err(err).Msg("failed to close session store")
		}
	}()
	store := statex.NewInstrumentedStore(rawStore, collector)
	if err := pingStore(ctx, store, storeCfg.PingTimeout); err != nil {
		log.Fatal().Err(err).Str("driver", storeCfg.Driver).Msg("session store is unreachable")
	}

	retriever, err := knowledgex.NewRetriever(ctx, *knowledgeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build knowledge index")
	}

	specialists, err := specialistx.NewRegistry(ctx, *llmCfg, *agentCfg, retriever,
		specialistx.WithFailureObserver(collector))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build specialists")
	}

	var locker leasex.Locker = leasex.NewKeyedMutex()
	if rdb != nil && strings.EqualFold(agentCfg.LeaseBackend, "redis") {
		locker = leasex.NewRedisLocker(rdb,
			leasex.WithPrefix(storeCfg.KeyPrefix+"lease:"),
			leasex.WithTTL(agentCfg.LeaseTTL),
		)
	}

	orch, err := orchestratorx.New(store, specialists, *orchestratorCfg,
		orchestratorx.WithLocker(locker),
		orchestratorx.WithFailureObserver(collector),
		orchestratorx.WithTurnObserver(collector),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	go runCleanup(ctx, store, *storeCfg, collector)

	sessionID := strings.TrimSpace(*sessionFlag)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	log.Info().Str("session_id", sessionID).Msg("travel concierge ready")
	fmt.Printf("Session %s. Type your question, Ctrl+D to quit.\n", sessionID)

	if err := chat(ctx, orch, sessionID); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("chat loop stopped")
	}
}

func chat(ctx context.Context, orch *orchestratorx.Orchestrator, sessionID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		turn, err := orch.HandleMessage(ctx, sessionID, text)
		if err != nil {
			fmt.Println("Sorry, something went wrong. Please try again.")
			continue
		}
		if turn.Reply == "" {
			fmt.Println("I can help with flight bookings, complaints and travel information. What would you like to do?")
			continue
		}
		fmt.Println(turn.Reply)
	}
}

func pingStore(ctx context.Context, store statex.Store, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return store.Ping(ctx)
}

// runCleanup applies the retention policy at startup and on every tick.
func runCleanup(ctx context.Context, store statex.Store, cfg statex.StoreConfig, collector *metricsx.Collector) {
	if cfg.CleanupInterval <= 0 {
		return
	}

	sweep := func() {
		n, err := store.Cleanup(ctx, cfg.MaxAge, cfg.MaxSessions)
		if err != nil {
			log.Warn().Err(err).Msg("session cleanup failed")
			return
		}
		collector.AddSessionsCleaned(n)
		if n > 0 {
			log.Info().Int("removed", n).Msg("expired sessions removed")
		}
	}

	sweep()
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}
