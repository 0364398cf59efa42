package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/swapmeet/swapmeet/internal/api/http"
	appAuth "github.com/swapmeet/swapmeet/internal/application/auth"
	"github.com/swapmeet/swapmeet/internal/application/keylock"
	appMeeting "github.com/swapmeet/swapmeet/internal/application/meeting"
	appNegotiation "github.com/swapmeet/swapmeet/internal/application/negotiation"
	"github.com/swapmeet/swapmeet/internal/application/notify"
	appPayment "github.com/swapmeet/swapmeet/internal/application/payment"
	appTracking "github.com/swapmeet/swapmeet/internal/application/tracking"
	"github.com/swapmeet/swapmeet/internal/application/txn"
	"github.com/swapmeet/swapmeet/internal/config"
	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
	"github.com/swapmeet/swapmeet/internal/domain/party"
	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/proposal"
	"github.com/swapmeet/swapmeet/internal/domain/session"
	"github.com/swapmeet/swapmeet/internal/infrastructure/jwtauth"
	"github.com/swapmeet/swapmeet/internal/infrastructure/memory"
	"github.com/swapmeet/swapmeet/internal/infrastructure/postgres"
	"github.com/swapmeet/swapmeet/internal/infrastructure/processor"
	"github.com/swapmeet/swapmeet/internal/infrastructure/sse"
	"github.com/swapmeet/swapmeet/internal/infrastructure/telegram"
	"github.com/swapmeet/swapmeet/internal/infrastructure/ws"
)

type storage struct {
	tx           txn.Runner
	negotiations negotiation.Repository
	proposals    proposal.Repository
	meetings     meeting.Repository
	payments     payment.Repository
	credits      payment.CreditLedger
	parties      party.Repository
	sessions     session.Repository
	close        func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("storage error")
	}
	defer store.close()

	// infrastructure
	locks := keylock.New()
	positions := appTracking.NewStore()
	sseHub := sse.NewHub()
	wsHub := ws.NewHub()
	sinks := []notify.Sink{sseHub, wsHub}

	var notifier *telegram.Notifier
	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.TelegramToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram bot error")
		}
		notifier = telegram.NewNotifier(bot, store.parties, logger)
		notifier.Attach(bot)
		sinks = append(sinks, notifier)
		go bot.Start()
		defer bot.Stop()
	}
	publisher := notify.NewDispatcher(logger, sinks...)

	var charger payment.Processor
	if cfg.ProcessorURL != "" {
		charger, err = processor.NewHTTPProcessor(cfg.ProcessorURL, cfg.ChargeTimeout)
		if err != nil {
			logger.Fatal().Err(err).Msg("payment processor error")
		}
	} else {
		logger.Warn().Msg("PAYMENT_PROCESSOR_URL not set, charging through the sandbox")
		charger = processor.NewSandbox()
	}

	policy, err := appMeeting.NewPolicy(cfg.TrackingPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracking policy error")
	}

	// services
	negotiationSvc := appNegotiation.NewService(store.negotiations, store.proposals, store.meetings, store.tx, locks, publisher, positions,
		appNegotiation.Settings{PaymentWindow: cfg.PaymentWindow, RadiusMeters: cfg.MeetingRadiusMeters}, logger)
	meetingSvc := appMeeting.NewService(store.negotiations, store.meetings, store.proposals, store.tx, locks, policy, positions, publisher, cfg.TrackingAutoStart, logger)
	paymentSvc := appPayment.NewService(store.negotiations, store.payments, charger, store.credits, cfg.Fees, store.tx, locks, publisher, meetingSvc, cfg.ChargeTimeout, logger)
	trackingSvc := appTracking.NewService(store.negotiations, store.meetings, positions, publisher, cfg.DistanceUnit, logger)

	deps := httpapi.Deps{
		Negotiations:         negotiationSvc,
		Meetings:             meetingSvc,
		Payments:             paymentSvc,
		Tracking:             trackingSvc,
		SSEHub:               sseHub,
		WSHub:                wsHub,
		Telegram:             notifier,
		SessionCookieName:    cfg.SessionCookieName,
		SessionCookieSecure:  cfg.SessionCookieSecure,
		WSInsecureSkipVerify: cfg.WSInsecureSkipVerify,
		Logger:               logger,
	}
	var authSvc *appAuth.Service
	switch cfg.AuthMode {
	case config.AuthModeJWT:
		validator, err := jwtauth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			logger.Fatal().Err(err).Msg("jwt validator error")
		}
		deps.Authenticator = validator
	default:
		authSvc = appAuth.NewService(store.parties, store.sessions, cfg.SessionTTL, logger)
		deps.Authenticator = authSvc
		deps.AuthSvc = authSvc
	}

	apiServer := httpapi.NewServer(deps)
	httpServer := &http.Server{
		Addr:        cfg.ServerAddr,
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := negotiationSvc.ProcessExpired(ctx, 100); err != nil {
					logger.Error().Err(err).Msg("expiry sweep failed")
				} else if n > 0 {
					logger.Info().Int("expired", n).Msg("expiry sweep")
				}
			}
		}
	}()

	if authSvc != nil {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := authSvc.PurgeExpired(ctx); err != nil {
						logger.Error().Err(err).Msg("session purge failed")
					}
				}
			}
		}()
	}

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("storage", cfg.StorageDriver).Str("auth", cfg.AuthMode).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage, state is lost on restart")
		s := memory.New()
		return &storage{
			tx:           s,
			negotiations: s.Negotiations(),
			proposals:    s.Proposals(),
			meetings:     s.Meetings(),
			payments:     s.Payments(),
			credits:      s.Credits(),
			parties:      s.Parties(),
			sessions:     s.Sessions(),
			close:        func() {},
		}, nil
	}

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir, logger); err != nil {
		return nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db := postgres.NewDB(pool)
	return &storage{
		tx:           db,
		negotiations: postgres.NewNegotiationRepository(db),
		proposals:    postgres.NewProposalRepository(db),
		meetings:     postgres.NewMeetingRepository(db),
		payments:     postgres.NewPaymentRepository(db),
		credits:      postgres.NewCreditLedger(db),
		parties:      postgres.NewPartyRepository(db),
		sessions:     postgres.NewSessionRepository(db),
		close:        pool.Close,
	}, nil
}
