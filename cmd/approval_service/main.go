package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ondepub/autopost/internal/bootstrap"
	"github.com/ondepub/autopost/internal/platform/config"
	"github.com/ondepub/autopost/internal/platform/logger"
	httptransport "github.com/ondepub/autopost/internal/public_api_service/transport/http"
	"github.com/ondepub/autopost/internal/queue_service/app"
	"github.com/ondepub/autopost/internal/queue_service/watcher"
)

const (
	serviceName     = "approval-service"
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	log.Info("Starting service...", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort, "chat", cfg.ChatChannel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
}

// run starts every component and blocks until ctx is done or a component fails.
// Startup errors are returned before any goroutine starts; later failures unwind the
// group so connections are closed before run returns.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	mainCtx, mainCancel := context.WithCancel(ctx)
	defer mainCancel()

	components, err := bootstrap.Build(mainCtx, cfg, log, bootstrap.Options{AppName: serviceName, ConnectNATS: true})
	if err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	defer components.Close()

	var queueWatcher *watcher.Watcher
	if cfg.WatchQueue && components.QueueFile != "" {
		queueWatcher, err = watcher.New(components.QueueFile, cfg.WatchDebounce, components.Relay, log)
		if err != nil {
			return fmt.Errorf("start queue watcher: %w", err)
		}
		queueWatcher.RecheckAfter(cfg.NotifyGrace)
		defer queueWatcher.Close()
	}

	if cfg.NATSUrl != "" {
		consumer := app.NewSubmissionConsumer(components.Service, components.NATS, log)
		sub, err := consumer.Start(mainCtx)
		if err != nil {
			return fmt.Errorf("subscribe for submissions: %w", err)
		}
		defer sub.Unsubscribe()
	}

	postHandler := httptransport.NewPostHandler(components.Service, nil, log)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httptransport.NewRouter(postHandler, cfg.JWTSecret, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, operator endpoints are not authenticated")
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		log.Info("HTTP server stopped")
		return nil
	})

	g.Go(func() error {
		grpcListenAddress := fmt.Sprintf(":%d", cfg.GRPCPort)
		log.Info("Starting gRPC health server...", "address", grpcListenAddress)
		lis, err := net.Listen("tcp", grpcListenAddress)
		if err != nil {
			log.Error("Failed to listen for gRPC", "error", err)
			return err
		}
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server failed", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
		return nil
	})

	g.Go(func() error {
		if n, err := components.Relay.SyncPending(groupCtx); err != nil {
			log.Error("Initial pending sync incomplete", "error", err, "sent", n)
		} else if n > 0 {
			log.Info("Approval requests sent for pending posts", "sent", n)
		}
		return components.Relay.Run(groupCtx)
	})

	poller := app.NewRecoveryPoller(components.Service, cfg.ProcessInterval, log)
	g.Go(func() error {
		return poller.Run(groupCtx)
	})

	if queueWatcher != nil {
		g.Go(func() error {
			return queueWatcher.Run(groupCtx)
		})
	}

	log.Info("Service components initialized. Service is ready.")

	var groupErr error
	select {
	case <-ctx.Done():
		log.Info("Received termination signal")
	case groupErr = <-watchGroup(g):
		if groupErr != nil {
			log.Error("A component failed, initiating shutdown", "error", groupErr)
		}
	}

	mainCancel()
	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		log.Error("Error during shutdown", "error", waitErr)
		if groupErr == nil {
			groupErr = waitErr
		}
	}
	log.Info("Service shutdown complete.")
	return groupErr
}

// watchGroup reports when every goroutine in g has returned.
func watchGroup(g *errgroup.Group) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Wait()
		close(errCh)
	}()
	return errCh
}
