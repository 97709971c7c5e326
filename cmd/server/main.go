// Package main is the entry point for the LacyLights outputs server.
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

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-outputs/internal/config"
	"github.com/bbernstein/lacylights-outputs/internal/database"
	"github.com/bbernstein/lacylights-outputs/internal/database/repositories"
	"github.com/bbernstein/lacylights-outputs/internal/httpapi"
	"github.com/bbernstein/lacylights-outputs/internal/logger"
	"github.com/bbernstein/lacylights-outputs/internal/outputs"
	"github.com/bbernstein/lacylights-outputs/internal/services/discovery"
	"github.com/bbernstein/lacylights-outputs/internal/services/dmx"
	"github.com/bbernstein/lacylights-outputs/internal/services/health"
	"github.com/bbernstein/lacylights-outputs/internal/services/network"
	"github.com/bbernstein/lacylights-outputs/internal/services/pubsub"
	"github.com/bbernstein/lacylights-outputs/internal/services/show"
	redisstore "github.com/bbernstein/lacylights-outputs/internal/store/redis"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if !cfg.NonInteractive {
		printBanner(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Info("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Log) error {
	db, err := database.Connect(database.Config{
		URL:         cfg.DatabaseURL,
		MaxIdleConn: 5,
		MaxOpenConn: 10,
		Debug:       cfg.IsDevelopment() && cfg.LogLevel == "debug",
		Log:         log,
	})
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	log.Info("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	defer a.close()

	return a.serve(ctx)
}

// app is the wired server.
type app struct {
	cfg     *config.Config
	log     *logger.Log
	show    *show.Show
	dmx     *dmx.Service
	monitor *health.Monitor
	handler http.Handler

	mqtt  health.ClientAPI
	redis *redisstore.Store
}

func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Log) (*app, error) {
	ps := pubsub.New()
	resolver := network.NewResolver()

	reg := outputs.NewRegistry()
	if err := discovery.Register(reg, discovery.Config{
		ArtNetEnabled: cfg.ArtNetEnabled,
		MDNSService:   cfg.MDNSService,
		Interface:     cfg.DiscoveryInterface,
		Window:        cfg.DiscoveryTimeout,
	}, resolver, log); err != nil {
		return nil, fmt.Errorf("failed to register discoverers: %w", err)
	}

	settings := repositories.NewSettingRepository(db)
	rememberShowDir(ctx, settings, cfg.ShowDir, log)

	sh := show.New(show.Options{
		Manager:     outputs.NewManager(reg, log),
		Controllers: repositories.NewControllerRepository(db),
		Settings:    settings,
		PubSub:      ps,
		ShowDir:     cfg.ShowDir,
		Log:         log,
	})
	if err := sh.Load(ctx); err != nil {
		// Problem controllers are kept so they can be fixed from the editor.
		log.Warnf("show loaded with problems: %v", err)
	}

	a := &app{cfg: cfg, log: log, show: sh}

	broadcast := cfg.ArtNetBroadcast
	if broadcast == "" {
		if addr, err := resolver.Broadcast(cfg.DiscoveryInterface); err == nil {
			broadcast = addr
			log.WithField("broadcast", addr).Info("Art-Net broadcast address from interface")
		}
	}
	a.dmx = dmx.NewService(sh, dmx.Config{
		Enabled:       cfg.ArtNetEnabled,
		Port:          cfg.ArtNetPort,
		BroadcastAddr: broadcast,
		RefreshRateHz: cfg.DMXRefreshRate,
	}, nil, log)

	sinks := []health.Sink{health.NewPubSubSink(ps)}
	if cfg.RedisAddr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			PingTimeout: cfg.PingTimeout,
		}, log)
		if err != nil {
			log.Warnf("ping snapshots disabled: %v", err)
		} else {
			a.redis = redisstore.NewStore(client, cfg.RedisKeyPrefix, cfg.RedisSnapshotTTL)
			sinks = append(sinks, health.NewStoreSink(a.redis))
		}
	}
	if cfg.MQTTBroker != "" {
		client, err := health.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientID, log)
		if err != nil {
			log.Warnf("MQTT ping events disabled: %v", err)
		} else {
			a.mqtt = client
			sinks = append(sinks, health.NewMQTTSink(client, cfg.MQTTTopic))
		}
	}
	a.monitor = health.NewMonitor(sh, cfg.PingInterval, cfg.PingTimeout, log, sinks...)

	var snapshots httpapi.SnapshotReader
	if a.redis != nil {
		snapshots = a.redis
	}
	api := httpapi.New(httpapi.Options{
		Show:             sh,
		Channels:         a.dmx,
		PubSub:           ps,
		Snapshots:        snapshots,
		Settings:         settings,
		Interfaces:       resolver.Interfaces,
		DiscoveryTimeout: cfg.DiscoveryTimeout,
		Version:          Version,
		Log:              log,
	})

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	})
	a.handler = corsMiddleware.Handler(api.Routes())
	return a, nil
}

// rememberShowDir records the show folder and warns when it changed, since
// controllers stored in the database win over the new folder's networks file.
func rememberShowDir(ctx context.Context, settings *repositories.SettingRepository, showDir string, log *logger.Log) {
	prev, err := settings.Value(ctx, repositories.SettingShowDir, "")
	if err != nil {
		log.Warnf("failed to read the previous show folder: %v", err)
	}
	if prev != "" && prev != showDir {
		log.With(logger.Fields{"previous": prev, "current": showDir}).
			Warn("show folder changed, controllers still load from the database")
	}
	if _, err := settings.Upsert(ctx, repositories.SettingShowDir, showDir); err != nil {
		log.Warnf("failed to record the show folder: %v", err)
	}
}

// serve runs the background services and the HTTP server until ctx is done.
func (a *app) serve(ctx context.Context) error {
	go a.monitor.Run(ctx)

	if err := a.dmx.Start(); err != nil {
		// Continue anyway - output may be disabled or the socket unavailable
		a.log.Warnf("DMX output failed to start: %v", err)
	}
	defer a.dmx.Stop()

	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket feed
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("Server listening on http://localhost:%s", a.cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("Shutting down server...")
	if a.show.IsDirty() {
		a.log.Warn("controller changes were not saved")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (a *app) close() {
	a.show.Close()
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// corsOrigins allows the local dev frontends outside production.
func corsOrigins(cfg *config.Config) []string {
	origins := []string{cfg.CORSOrigin}
	if !cfg.IsProduction() {
		origins = append(origins, "http://localhost:3000", "http://localhost:4000")
	}
	return origins
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println("============================================")
	fmt.Println("  LacyLights Outputs Server")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  Build:   %s\n", BuildTime)
	fmt.Printf("  Commit:  %s\n", GitCommit)
	fmt.Println("============================================")
	fmt.Printf("  Environment: %s\n", cfg.Env)
	fmt.Printf("  Port:        %s\n", cfg.Port)
	fmt.Printf("  Database:    %s\n", cfg.DatabaseURL)
	fmt.Printf("  Show folder: %s\n", cfg.ShowDir)
	fmt.Printf("  Art-Net:     %v\n", cfg.ArtNetEnabled)
	fmt.Println("============================================")
}
