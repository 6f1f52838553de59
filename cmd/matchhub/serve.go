package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/matchhub/internal/config"
	"github.com/cory-johannsen/matchhub/internal/frontend/notifyapi"
	"github.com/cory-johannsen/matchhub/internal/frontend/websocket"
	"github.com/cory-johannsen/matchhub/internal/game/broadcast"
	"github.com/cory-johannsen/matchhub/internal/game/connection"
	"github.com/cory-johannsen/matchhub/internal/game/match"
	"github.com/cory-johannsen/matchhub/internal/game/pong"
	"github.com/cory-johannsen/matchhub/internal/game/presence"
	"github.com/cory-johannsen/matchhub/internal/game/room"
	"github.com/cory-johannsen/matchhub/internal/gameserver"
	"github.com/cory-johannsen/matchhub/internal/observability"
	"github.com/cory-johannsen/matchhub/internal/server"
	"github.com/cory-johannsen/matchhub/internal/storage/postgres"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logging, err := observability.NewLogging(cfg.Logging, zap.String("node", cfg.Server.Name))
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer func() { _ = logging.Logger.Sync() }()
			return serve(cmd.Context(), cfg, logging)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logging observability.Logging) error {
	start := time.Now()
	logger := logging.Logger
	metrics := observability.NewMetrics()

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	profiles := postgres.NewProfileRepository(pool.DB())
	channels := postgres.NewChannelRepository(pool.DB())
	results := postgres.NewMatchRepository(pool.DB())

	catalog, err := pong.LoadCatalog(cfg.Game.FieldsDir)
	if err != nil {
		pool.Close()
		return fmt.Errorf("loading field presets: %w", err)
	}
	field, ok := catalog.Get(cfg.Game.Field)
	if !ok {
		pool.Close()
		return fmt.Errorf("game.field %q is not one of %v", cfg.Game.Field, catalog.Names())
	}
	logger.Info("field presets loaded", zap.Strings("fields", catalog.Names()), zap.String("default", field.Name))

	codec, err := broadcast.NewCodec(cfg.WebSocket.Codec)
	if err != nil {
		pool.Close()
		return err
	}

	conns := connection.NewRegistry()
	rooms := room.NewIndex()
	dispatcher := broadcast.NewDispatcher(conns, rooms, codec, metrics, logger)

	notifier := presence.NewNotifier(metrics)
	notifier.AddListener(presence.NewRebroadcaster(rooms, dispatcher, profiles, logger,
		presence.WithMemberships(channels),
	).Listener())

	repo := match.NewRepository()
	engine := match.NewEngine(repo, match.EngineConfig{
		TickInterval:   cfg.Game.TickInterval,
		WinScore:       cfg.Game.WinScore,
		ServeDelay:     cfg.Game.ServeDelayTicks,
		PersistTimeout: cfg.Game.PersistTimeout,
	}, results, metrics, logger)
	negotiator := match.NewNegotiator(repo, engine, field, metrics, logger)

	channelHandler := gameserver.NewChannelHandler(channels, rooms, gameserver.NewChannelEvents(dispatcher), profiles, logger)
	gameHandler := gameserver.NewGameHandler(gameserver.GameHandlerDeps{
		Conns:      conns,
		Rooms:      rooms,
		Dispatcher: dispatcher,
		Repo:       repo,
		Negotiator: negotiator,
		Engine:     engine,
		Fields:     catalog,
		Notifier:   notifier,
		Profiles:   profiles,
		Logger:     logger,
	})
	svc := gameserver.NewService(conns, dispatcher, notifier, channelHandler, gameHandler, metrics, logger)

	wsServer := websocket.NewServer(cfg.WebSocket, svc, websocket.HeaderAuthenticator{Header: cfg.WebSocket.UserHeader}, metrics, logger)
	wsServer.Mount("/internal", notifyapi.New(channelHandler, svc, results, logger).Routes())
	wsServer.Mount("/loglevel", logging.Level)
	health := server.NewHealthServer(cfg.Admin.Addr(), logger)

	// Services stop in reverse: sockets first, the database last so that
	// in-flight match results can still be written.
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	lifecycle.Add("postgres", postgresService(pool, metrics, logger))
	lifecycle.Add("health", health)
	lifecycle.Add("match-engine", engineService(engine, cfg.Server.ShutdownTimeout))
	if cfg.Presence.Enabled() {
		lifecycle.Add("presence-redis", redisFeedService(cfg.Presence, notifier, logger))
	}
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func() error {
			health.SetServing("", true)
			return wsServer.ListenAndServe()
		},
		StopFn: func() {
			health.SetServing("", false)
			wsServer.Stop()
		},
	})

	logger.Info("match hub initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("admin_addr", cfg.Admin.Addr()),
		zap.String("codec", codec.Name()),
	)
	return lifecycle.Run(ctx)
}

func postgresService(pool *postgres.Pool, metrics *observability.Metrics, logger *zap.Logger) server.Service {
	return &server.FuncService{
		StartFn: func() error {
			pool.Monitor(30*time.Second, 5*time.Second, func(h postgres.PoolHealth) {
				metrics.SetDatabase(h.Err == nil, h.Acquired, h.Idle)
				if h.Err != nil {
					logger.Warn("database health check failed", zap.Error(h.Err), zap.Int32("total_conns", h.Total))
				}
			})
			return nil
		},
		StopFn: pool.Close,
	}
}

func engineService(engine *match.Engine, timeout time.Duration) server.Service {
	done := make(chan struct{})
	return &server.FuncService{
		StartFn: func() error {
			<-done
			return nil
		},
		StopFn: func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_ = engine.Shutdown(ctx)
			close(done)
		},
	}
}

func redisFeedService(cfg config.PresenceConfig, notifier *presence.Notifier, logger *zap.Logger) server.Service {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	feed := presence.NewRedisFeed(client, cfg.Channel, uuid.NewString(), notifier, logger)
	notifier.AddListener(feed.Listener())

	ctx, cancel := context.WithCancel(context.Background())
	return &server.FuncService{
		StartFn: func() error {
			return feed.Run(ctx)
		},
		StopFn: func() {
			cancel()
			if err := client.Close(); err != nil {
				logger.Debug("closing redis client", zap.Error(err))
			}
		},
	}
}
