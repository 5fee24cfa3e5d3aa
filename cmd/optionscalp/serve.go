package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"optionscalp/config"
	"optionscalp/internal/gateway"
	"optionscalp/internal/marketdata/bus"
	"optionscalp/internal/marketdata/feed"
	"optionscalp/internal/metrics"
	"optionscalp/internal/model"
	"optionscalp/internal/notification"
	"optionscalp/internal/portfolio"
	"optionscalp/internal/sentiment"
	"optionscalp/internal/session"
	redisstore "optionscalp/internal/store/redis"
	sqlitestore "optionscalp/internal/store/sqlite"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server (live feed, control gateway, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&cfg.GatewayAddr, "addr", cfg.GatewayAddr, "Control gateway listen address")
	cmd.Flags().StringVar(&cfg.FeedURL, "feed", cfg.FeedURL, "Tick feed WebSocket URL")
	cmd.Flags().DurationVar(&cfg.ReplayDelay, "replay-delay", cfg.ReplayDelay, "Delay between replay steps (0 = headless)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Println("[optionscalp] starting session server...")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	health := metrics.NewHealthStatus()

	// ── Storage ──
	reader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer reader.Close()
	journal, err := sqlitestore.NewJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()
	health.CheckSQLite(ctx, journal.DB())

	// ── Redis (optional: events fan-out and live sentiment) ──
	var (
		rdb       *goredis.Client
		publisher session.EventSink
		live      sentiment.Provider
	)
	rdb, err = redisstore.Connect(ctx, redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Printf("[optionscalp] WARNING: redis unavailable (%v); events stay local, live sentiment off", err)
		rdb = nil
	} else {
		defer rdb.Close()
		health.CheckRedis(ctx, rdb)

		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[optionscalp] redis circuit breaker %s -> %s", from, to)
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
		}
		bp := redisstore.NewBufferedPublisher(redisstore.NewPublisher(rdb), cb, 10000)
		bp.OnBuffer = m.RedisBufferedEvents.Inc
		publisher = session.SinkFunc(func(ctx context.Context, msg session.Message) {
			if err := bp.Publish(ctx, msg.Session, msg); err != nil {
				log.Printf("[optionscalp] publish %s: %v", msg.Type, err)
			}
		})
		if cfg.LiveSentiment {
			live = sentiment.NewRedisProvider(rdb, cfg.SentimentTimeout)
		}
	}

	// ── Notifications ──
	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	notify := session.NewNotifySink(notifiers, 64)

	// ── Market data ──
	cache := instrumentCache(cfg)
	cache.OnFetch = m.InstrumentFetches.Inc

	hub := bus.New(cfg.HubBuffer)
	hub.OnDrop = func(subID string) { m.HubDrops.WithLabelValues(subID).Inc() }
	worker, err := feed.New(feed.Config{URL: cfg.FeedURL})
	if err != nil {
		return err
	}
	worker.OnReconnect = func() {
		m.FeedReconnects.Inc()
		health.SetFeedConnected(false)
	}
	worker.OnMalformed = m.MalformedTicks.Inc
	hub.OnSymbols = worker.SetSymbols

	// ── Sessions ──
	st, err := config.LoadStrategies(cfg.StrategiesPath)
	if err != nil {
		return err
	}
	mgr := session.NewManager(session.Deps{
		Hub:         hub,
		Instruments: cache,
		Bars:        reader,
		PCR:         reader,
		Live:        live,
		Sink:        session.MultiSink{session.JournalSink{Store: journal}, publisher, notify},
		Strategy:    st.Strategy,
		Risk:        portfolio.RiskLimits{MaxTradesPerDay: cfg.MaxTradesDay, MaxLossesPerDay: cfg.MaxLossesDay},
		Cooldown:    st.Cooldown,
		ReplayDelay: cfg.ReplayDelay,
		Metrics:     m,
	})

	// ── Control gateway ──
	gw := gateway.NewHub(mgr, gateway.Options{
		TOTPSecret:     cfg.ControlTOTPSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		Journal:        journal,
	})
	gw.OnDrop = func() { m.HubDrops.WithLabelValues("gateway").Inc() }
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, gw)
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg)
	metricsSrv.Start()
	health.StartLivenessChecker(ctx, rdb, journal.DB(), 15*time.Second)

	g, gctx := errgroup.WithContext(ctx)

	feedCh := make(chan model.Tick, cfg.HubBuffer)
	hubCh := make(chan model.Tick, cfg.HubBuffer)
	g.Go(func() error {
		return worker.Start(gctx, feedCh)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case t := <-feedCh:
				health.SetFeedConnected(true)
				health.SetLastTickTime(t.TS)
				select {
				case hubCh <- t:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		hub.Run(gctx, hubCh)
		return nil
	})
	g.Go(func() error {
		notify.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				health.SetSessions(mgr.Active())
				for _, s := range hub.ChannelStats() {
					if s.Cap > 0 {
						m.ChannelSaturationPct.WithLabelValues(s.ID).Set(float64(s.Len) / float64(s.Cap) * 100)
					}
				}
			}
		}
	})
	g.Go(func() error {
		log.Printf("[optionscalp] control gateway listening on %s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("[optionscalp] shutting down...")
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		gw.Close()
		mgr.Shutdown(shCtx)
		srv.Shutdown(shCtx)
		metricsSrv.Stop(shCtx)
		return nil
	})

	err = g.Wait()
	log.Println("[optionscalp] stopped")
	return err
}
