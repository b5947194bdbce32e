package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pribylovaa/go-storefront-edge/internal/config"
	"github.com/pribylovaa/go-storefront-edge/internal/edge"
	edgehttp "github.com/pribylovaa/go-storefront-edge/internal/http"
	"github.com/pribylovaa/go-storefront-edge/internal/http/handlers"
	"github.com/pribylovaa/go-storefront-edge/internal/http/middleware"
	"github.com/pribylovaa/go-storefront-edge/internal/metrics"
	"github.com/pribylovaa/go-storefront-edge/internal/oauth"
	"github.com/pribylovaa/go-storefront-edge/internal/ratelimit"
	"github.com/pribylovaa/go-storefront-edge/internal/service"
	"github.com/pribylovaa/go-storefront-edge/internal/session"
	"github.com/pribylovaa/go-storefront-edge/internal/storage/postgres"
	"github.com/pribylovaa/go-storefront-edge/internal/token"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting storefront-edge", "env", cfg.Env)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	codec, err := token.NewCodec(token.Config{
		SessionSecret: []byte(cfg.Auth.JWTSecret),
		CSRFSecret:    []byte(cfg.Auth.CSRFSecret),
		SessionTTL:    cfg.Auth.SessionTTL,
		CSRFTTL:       cfg.Auth.CSRFTTL,
		Issuer:        cfg.Auth.Issuer,
	})
	if err != nil {
		log.Error("token_codec_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	sessions := session.NewManager(codec, session.CookieConfig{
		Name:   cfg.Cookie.Name,
		Domain: cfg.CookieDomain(),
		Secure: cfg.CookieSecure(),
	}, session.WithMetrics(m))

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "memory":
		mem := ratelimit.NewMemoryLimiter()
		go mem.RunJanitor(rootCtx, cfg.RateLimit.SweepInterval, log)
		limiter = mem
	case "redis":
		rl, err := ratelimit.NewRedisLimiter(rootCtx, cfg.Redis.RedisURL, "")
		if err != nil {
			log.Error("redis_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer func() {
			if cerr := rl.Close(); cerr != nil {
				log.Warn("redis_close_failed", slog.String("err", cerr.Error()))
			}
		}()
		limiter = rl
	default:
		log.Error("unknown_rate_limit_backend", slog.String("backend", cfg.RateLimit.Backend))
		os.Exit(1)
	}
	log.Info("rate_limiter_initialized", slog.String("backend", cfg.RateLimit.Backend))

	// nil-интерфейс, а не typed nil: без БД хендлеры аккаунтов отвечают 404.
	var (
		accounts handlers.Accounts
		db       *postgres.Storage
	)
	if cfg.DB.DatabaseURL != "" {
		db, err = postgres.New(rootCtx, cfg.DB.DatabaseURL)
		if err != nil {
			log.Error("storage_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		accounts = service.New(db)
		log.Info("storage_initialized")
	} else {
		log.Warn("storage_disabled", slog.String("reason", "DATABASE_URL is empty"))
	}

	hopts := []handlers.Option{
		handlers.WithSecureCookies(cfg.CookieSecure()),
		handlers.WithMaxInputLength(cfg.Security.MaxInputLength),
	}

	if cfg.OAuth.Enabled() && accounts != nil {
		google, err := oauth.NewGoogle(rootCtx, oauth.GoogleConfig{
			ClientID:     cfg.OAuth.GoogleClientID,
			ClientSecret: cfg.OAuth.GoogleClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
		})
		if err != nil {
			log.Error("oauth_init_failed", slog.String("provider", "google"), slog.String("err", err.Error()))
			os.Exit(1)
		}
		hopts = append(hopts, handlers.WithOAuth(google))
		log.Info("oauth_enabled", slog.String("provider", google.Name()))
	}

	if cfg.Upstream.URL != "" {
		proxy, err := handlers.NewUpstreamProxy(cfg.Upstream.URL)
		if err != nil {
			log.Error("upstream_init_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		hopts = append(hopts, handlers.WithUpstream(proxy))
	}

	policy := edge.New(edge.Deps{
		Sessions: sessions,
		Limiter:  limiter,
		Admins:   cfg.Admins(),
		CORS:     edge.CORSConfig{AllowedOrigins: cfg.AllowedOrigins()},
		Paths:    edge.DefaultPaths(),
		Metrics:  m,
	})

	router := edgehttp.NewRouter(handlers.New(accounts, sessions, hopts...), edgehttp.Options{
		Logger:  log,
		Timeout: cfg.Timeouts.Service,
		Edge:    policy.Middleware(),
		CSRF:    middleware.RequireCSRF(sessions),
	})

	var ready int32 // 0 — not ready; 1 — ready

	ops := http.NewServeMux()
	ops.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ops.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&ready) != 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ops.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	opsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr(),
		Handler:           ops,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 2)
	for _, srv := range []*http.Server{httpSrv, opsSrv} {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			log.Error("http_listen_failed", slog.String("addr", srv.Addr), slog.String("err", err.Error()))
			os.Exit(1)
		}

		log.Info("http_listen_start", slog.String("addr", srv.Addr))

		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- err
			}
		}(srv)
	}

	atomic.StoreInt32(&ready, 1)
	log.Info("edge_ready")

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		log.Error("http_serve_failed", slog.String("err", err.Error()))
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	for _, srv := range []*http.Server{httpSrv, opsSrv} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http_shutdown_incomplete", slog.String("addr", srv.Addr), slog.String("err", err.Error()))
		}
	}
	log.Info("http_stopped")

	log.Info("service_stopped")
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case config.EnvLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case config.EnvProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
