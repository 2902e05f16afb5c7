package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"runbridge/bridge"
	"runbridge/observability"
)

const serviceName = "bridged"

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine          *bridge.Engine
	Metrics         *observability.Metrics
	Logger          *slog.Logger
	ChainID         int64
	ContractAddress string
	AdminJWTSecret  string

	RateRequestsPerMinute int
	RateBurst             int
}

// Server exposes the bridge over HTTP.
type Server struct {
	engine          *bridge.Engine
	metrics         *observability.Metrics
	logger          *slog.Logger
	chainID         int64
	contractAddress string
	now             func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with rate limiting, admin auth and
// per-route observability.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:          cfg.Engine,
		metrics:         cfg.Metrics,
		logger:          logger,
		chainID:         cfg.ChainID,
		contractAddress: cfg.ContractAddress,
		now:             time.Now,
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, serviceName)
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	obs := newObserve(serviceName, s.metrics, s.logger)
	limiter := newRateLimiter(cfg.RateRequestsPerMinute, cfg.RateBurst)
	admin := newAdminAuth(cfg.AdminJWTSecret, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.With(obs.Middleware("health")).Get("/health", s.Health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/bridge", func(br chi.Router) {
			br.Use(limiter.Middleware)
			br.With(obs.Middleware("sign_exchange")).Post("/sign-exchange", s.SignExchange)
			br.With(obs.Middleware("cancel_exchange")).Post("/cancel-exchange", s.CancelExchange)
			br.With(obs.Middleware("sign_recharge")).Post("/sign-recharge", s.SignRecharge)
			br.With(obs.Middleware("confirm_recharge")).Post("/confirm-recharge", s.ConfirmRecharge)
		})
		api.With(limiter.Middleware, obs.Middleware("verify_game_data")).Post("/verify-game-data", s.VerifyGameData)

		api.Route("/user/{wallet}", func(user chi.Router) {
			user.With(obs.Middleware("user")).Get("/", s.UserAccount)
			user.With(obs.Middleware("user_coins")).Get("/coins", s.UserCoins)
			user.With(obs.Middleware("user_exchange_history")).Get("/exchange-history", s.UserExchangeHistory)
			user.With(obs.Middleware("user_recharge_history")).Get("/recharge-history", s.UserRechargeHistory)
		})

		api.With(obs.Middleware("leaderboard")).Get("/leaderboard-data", s.Leaderboard)
		api.With(obs.Middleware("web3_config")).Get("/web3-config", s.Web3Config)

		api.Route("/admin", func(ad chi.Router) {
			ad.Use(admin.Middleware)
			ad.With(obs.Middleware("admin_recharges")).Get("/all-recharge-history", s.AllRechargeHistory)
			ad.With(obs.Middleware("admin_withdrawals")).Get("/all-withdrawal-history", s.AllWithdrawalHistory)
		})
	})

	return r
}
