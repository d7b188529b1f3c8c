package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/cache"
	"publish-pipeline/infrastructure/clients/facebook"
	"publish-pipeline/infrastructure/clients/ninenine"
	"publish-pipeline/infrastructure/clients/youtube"
	"publish-pipeline/infrastructure/configuration"
	"publish-pipeline/infrastructure/imaging"
	"publish-pipeline/infrastructure/logger"
	"publish-pipeline/infrastructure/persistence"
	"publish-pipeline/infrastructure/pubsub"
	"publish-pipeline/infrastructure/realtime"
	"publish-pipeline/infrastructure/servicebus"
	"publish-pipeline/infrastructure/storage"
	"publish-pipeline/infrastructure/utils"
	httpHandler "publish-pipeline/interfaces/http"
	"publish-pipeline/server"
	"publish-pipeline/usecase"

	"golang.org/x/sync/errgroup"
)

var httpServer *http.Server

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	// "token <service> [ttl]" prints a service token for the scheduling layer and exits
	if len(os.Args) > 2 && os.Args[1] == "token" {
		printServiceToken(os.Args[2:])
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	app := configuration.C.App

	stores, err := persistence.OpenStores(configuration.C.Database)
	if err != nil {
		logger.GetLogger().WithField("error", err).Fatal("Database initialization failed")
	}
	defer func() { _ = stores.Close() }()
	store := stores.Credentials

	locker, states := initiateCoordination(ctx)

	httpClient := &http.Client{Timeout: 2 * time.Minute}
	registry := usecase.NewProviderRegistry(
		facebook.New(configuration.C.Providers.Facebook, httpClient),
		ninenine.New(configuration.C.Providers.NineNine, app.FrontendURL, httpClient),
		youtube.New(configuration.C.Providers.YouTube, httpClient),
	)

	hub := realtime.NewPublishHub()
	notifiers := append([]repository.IPublishNotifier{hub}, initiateNotifiers(ctx)...)
	if stores.History != nil {
		notifiers = append(notifiers, stores.History)
	}

	publishUsecase := usecase.NewPublishUsecase(registry, store, locker, usecase.PublishOptions{
		PollInterval: configuration.C.Publish.PollInterval(),
		MaxPolls:     configuration.C.Publish.MaxPolls,
	}, notifiers...)

	handlers := server.Handlers{
		Publish: httpHandler.NewPublishHandler(publishUsecase),
		OAuth:   httpHandler.NewOAuthHandler(registry, states, store),
		Events:  hub.Serve,
	}
	if stores.History != nil {
		handlers.History = httpHandler.NewHistoryHandler(stores.History)
	}
	if preflight, err := initiatePreflight(ctx, configuration.C.Media, httpClient); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Media storage not available - media upload route disabled")
	} else {
		handlers.Media = httpHandler.NewMediaHandler(preflight)
	}

	router := server.InitiateRouter(app, configuration.C.Publish, handlers)

	port := app.Port
	logger.GetLogger().WithFields(map[string]interface{}{"port": port, "tls": app.TLSEnabled, "providers": len(registry.List())}).Info("Starting application")
	g.Go(func() error {
		// no write timeout: SSE streams and large media uploads stay open
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		var err error
		if app.TLSEnabled && app.TLSCertFile != "" && app.TLSKeyFile != "" {
			logger.GetLogger().WithFields(map[string]interface{}{"cert": app.TLSCertFile, "key": app.TLSKeyFile}).Info("Serving HTTPS")
			err = httpServer.ListenAndServeTLS(app.TLSCertFile, app.TLSKeyFile)
		} else {
			if app.TLSEnabled {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
			}
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if err := g.Wait(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

// initiateCoordination uses Redis for the refresh lock and OAuth state when it is reachable,
// so several replicas share them; otherwise both stay in process.
func initiateCoordination(ctx context.Context) (repository.ILocker, repository.IOAuthStateStore) {
	rc := configuration.C.RedisClient
	if rc.Host == "" {
		logger.GetLogger().Info("Redis not configured - using in-memory lock and OAuth state")
		return cache.NewMemoryLocker(), cache.NewMemoryStateStore()
	}
	client, err := cache.NewCache(ctx, fmt.Sprintf("%s:%s", rc.Host, rc.Port), rc.Username, rc.Password)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - using in-memory lock and OAuth state")
		return cache.NewMemoryLocker(), cache.NewMemoryStateStore()
	}
	logger.GetLogger().Info("Redis client initialized successfully.")
	return cache.NewRedisLocker(client), cache.NewRedisStateStore(client)
}

func initiateNotifiers(ctx context.Context) []repository.IPublishNotifier {
	var out []repository.IPublishNotifier

	if client, err := pubsub.NewPubSub(ctx, configuration.C.Pubsub.ProjectID); err != nil {
		logger.GetLogger().WithField("error", err).Warn("PubSub not available - continuing without publish events on PubSub")
	} else {
		out = append(out, pubsub.NewPublishNotifier(client, configuration.C.Pubsub.Topic))
	}

	sb := configuration.C.ServiceBus
	if client, err := servicebus.NewServiceBus(ctx, sb.Namespace); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Azure Service Bus not available - continuing without Service Bus features")
	} else if n, err := servicebus.NewPublishNotifier(client, sb.Queue); err != nil {
		logger.GetLogger().WithField("error", err).Warn("Azure Service Bus sender failed")
	} else {
		out = append(out, n)
	}
	return out
}

func initiatePreflight(ctx context.Context, cfg configuration.Media, httpClient *http.Client) (usecase.IMediaPreflight, error) {
	backend, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var compressor repository.IMediaCompressor
	if !cfg.DisableImageCompression {
		compressor = imaging.NewCompressor()
	}
	return usecase.NewMediaPreflight(usecase.PreflightOptions{
		AllowedTypes:    cfg.AllowedTypes,
		MaxImageBytes:   cfg.MaxImageBytes,
		MaxVideoBytes:   cfg.MaxVideoBytes,
		StorageProvider: backend.Name(),
	}, backend, compressor,
		imaging.NewRemoteConverter(cfg.ConversionServiceURL, httpClient),
		imaging.NewLocalReencoder(),
	), nil
}

func printServiceToken(args []string) {
	var ttl time.Duration
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			logger.GetLogger().WithField("error", err).Fatal("Invalid token ttl")
		}
		ttl = d
	}
	token, err := utils.GenerateServiceToken(args[0], configuration.C.App.SecretKey, ttl)
	if err != nil {
		os.Exit(1)
	}
	fmt.Println(token)
}
