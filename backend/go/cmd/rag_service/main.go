package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/discovery/etcd"
	"DocSage/backend/go/internal/rag_service/api"
	grpcserver "DocSage/backend/go/pkg/grpc"
	httpserver "DocSage/backend/go/pkg/http"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// embeddingHealthService 是 gRPC 健康检查中表示向量化后端的服务名。
const embeddingHealthService = "rag.embedding"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "rag_service",
		Short:         "Document question answering service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	appLogger := logger.New(cfg.App.Name, "", "")
	appLogger.WithField("version", cfg.App.Version).Info("Starting RAG service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	a, err := build(ctx, cfg, appLogger, m)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}
	defer a.close()

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewAPI(a.svc, appLogger), m.Handler())
	httpSrv, err := httpserver.NewServer(cfg, router,
		httpserver.WithAddress(cfg.Server.HTTPAddress), httpserver.WithLogger(appLogger))
	if err != nil {
		return err
	}
	grpcSrv, err := grpcserver.NewServer(cfg,
		grpcserver.WithAddress(cfg.Server.GRPCAddress), grpcserver.WithLogger(appLogger))
	if err != nil {
		return err
	}

	a.svc.StartReconciler(ctx, config.Duration(cfg.Embedding.ReconcileEvery, 0))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.ListenAndServe)
	g.Go(grpcSrv.ListenAndServe)
	g.Go(func() error {
		grpcSrv.SetServing("", true)
		grpcSrv.Watch(gctx, embeddingHealthService, a.svc.EmbeddingServing, 5*time.Second)
		return nil
	})
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	if len(cfg.Databases.Etcd.Endpoints) > 0 {
		if err := register(gctx, cfg, appLogger); err != nil {
			appLogger.WithErr(err).Warn("Service registration failed, continuing without discovery")
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down RAG service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			config.Duration(cfg.Server.ShutdownTimeout, 15*time.Second))
		defer cancel()

		grpcSrv.GracefulStop()
		err := httpSrv.Shutdown(shutdownCtx)
		a.svc.Wait()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	appLogger.Info("RAG service stopped.")
	return nil
}

// register 把当前实例写入 etcd，进程退出时撤销租约。
func register(ctx context.Context, cfg *config.AppConfig, log *logger.Logger) error {
	sd, err := etcd.NewServiceDiscovery(cfg.Databases.Etcd, log)
	if err != nil {
		return err
	}
	instance, _ := os.Hostname()
	if instance == "" {
		instance = uuid.NewString()
	}
	if err := sd.Register(ctx, cfg.App.Name, etcd.Endpoint{
		Instance:    instance,
		HTTPAddress: cfg.Server.HTTPAddress,
		GRPCAddress: cfg.Server.GRPCAddress,
		Version:     cfg.App.Version,
	}); err != nil {
		_ = sd.Close()
		return err
	}
	go func() {
		<-ctx.Done()
		revokeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sd.Deregister(revokeCtx); err != nil {
			log.WithErr(err).Warn("Failed to deregister service")
		}
		_ = sd.Close()
	}()
	return nil
}
