package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/lifecycle"
	"chat-sync/internal/logging"
	"chat-sync/internal/models"
	"chat-sync/internal/notify"
	"chat-sync/internal/observability"
	"chat-sync/internal/preferences"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/readstate"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
	"chat-sync/internal/session"
	"chat-sync/internal/timeline"
	"chat-sync/internal/ws"
)

const serviceName = "chatsync"

func main() {
	cfg, err := config.LoadSync()
	if err != nil {
		boot := logging.New(true, serviceName)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "chatsync> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    completer,
	})
	if err != nil {
		boot := logging.New(true, serviceName)
		boot.Fatal().Err(err).Msg("failed to open terminal")
	}
	defer rl.Close()
	logger := logging.NewTo(rl.Stderr(), cfg.IsDevelopment(), serviceName).With().Str("user_id", cfg.UserID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database, err := db.Connect(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	messageRepo := repositories.NewMessageRepo(database)
	var preferenceRepo repositories.PreferenceRepository = repositories.NewPreferenceRepo(database)
	if cfg.RedisURL != "" {
		cached, err := repositories.NewCachedPreferenceRepo(ctx, cfg.RedisURL, cfg.PreferenceCacheTTL, preferenceRepo, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, reading notification settings from postgres")
		} else {
			defer cached.Close()
			preferenceRepo = cached
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()

	source, closeSource, err := openSource(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("source", cfg.Source).Msg("failed to open event source")
	}
	defer closeSource()

	var presenter notify.Presenter = notify.NewLogPresenter(logger)
	if rabbitmq.PublisherMode(publisher) == "amqp" {
		presenter = notify.NewAMQPPresenter(publisher, cfg.NotificationRoutingKey)
	}

	observer := lifecycle.NewObserver(models.LifecycleActive)
	observer.OnChange(func(state models.LifecycleState) {
		logger.Info().Str("lifecycle", string(state)).Msg("lifecycle changed")
	})
	prefs := preferences.NewCache(preferenceRepo, cfg.UserID, logger)
	tracker := readstate.NewTracker(messageRepo, logger)

	ctrl := session.NewController(session.Config{
		UserID:      cfg.UserID,
		PageSize:    cfg.PageSize,
		LoadTimeout: cfg.LoadTimeout,
	}, session.Deps{
		Adapter:   realtime.NewAdapter(source, logger),
		Merger:    timeline.NewMerger(messageRepo, logger),
		Tracker:   tracker,
		Gate:      notify.NewGate(logger),
		Presenter: presenter,
		Lifecycle: observer,
		Prefs:     prefs,
	}, logger,
		session.OnMessages(func(roomID string, msgs []models.Message) {
			logger.Debug().Str("room_id", roomID).Int("messages", len(msgs)).Msg("room updated")
		}),
		session.OnStatus(func(roomID string, status models.ConnectionStatus) {
			logger.Info().Str("room_id", roomID).Str("status", string(status)).Msg("connection status")
		}),
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Run(runCtx)
	}()

	sh := &shell{
		ctrl:      ctrl,
		lifecycle: observer,
		tracker:   tracker,
		messages:  messageRepo,
		publisher: publisher,
		userID:    cfg.UserID,
		out:       rl.Stdout(),
	}
	sh.loop(ctx, rl)

	cancelRun()
	<-done
}

func openSource(cfg config.Sync, logger zerolog.Logger) (realtime.Source, func(), error) {
	if cfg.Source == "ws" {
		return ws.NewSource(cfg.WSURL, cfg.UserID, logger), func() {}, nil
	}
	src, err := rabbitmq.DialSource(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		return nil, nil, err
	}
	return src, func() { _ = src.Close() }, nil
}
