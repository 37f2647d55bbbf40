package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/app/intake"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/app/orchestrator"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/app/producer"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/buildcache"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	amqpinfra "github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/infra/amqp"
	kafkainfra "github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/infra/kafka"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/logging"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/runtime/docker"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/transport/httpapi"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/workspace"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}
	cfg := loadAppConfig()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dynexec stopped", zap.Error(err))
	}
}

func run(cfg appConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := docker.New(cfg.dockerConfig(), logger.Named("docker"))
	if err != nil {
		return fmt.Errorf("initialize docker runtime: %w", err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logger.Warn("failed to close docker runtime", zap.Error(cerr))
		}
	}()

	workspaces, err := workspace.NewManager(cfg.WorkspaceRoot, logger.Named("workspace"))
	if err != nil {
		return fmt.Errorf("initialize workspaces: %w", err)
	}

	publisher, err := newResultPublisher(cfg)
	if err != nil {
		return fmt.Errorf("initialize %s publisher: %w", cfg.ResultTransport, err)
	}
	defer func() {
		if cerr := publisher.Close(); cerr != nil {
			logger.Warn("failed to close result publisher", zap.Error(cerr))
		}
	}()

	images := buildcache.New(engine.ImageBuilder(), logger.Named("buildcache"))
	service := orchestrator.NewService(orchestrator.Dependencies{
		Workspaces: workspaces,
		Images:     images,
		Runner:     engine.ContainerRunner(),
		Extractor:  engine.ResultExtractor(),
		Publisher:  publisher,
	}, cfg.orchestratorConfig(), logger.Named("orchestrator"))

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	intakes := newIntakeGroup(logger)

	if cfg.SubmissionsTopic != "" {
		consumer, err := kafkainfra.NewConsumer(kafkainfra.Config{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.SubmissionsTopic,
			GroupID:  cfg.GroupID,
			MaxBytes: int(cfg.MaxArchiveBytes/3*4) + 1024*1024,
		}, logger.Named("intake"))
		if err != nil {
			return fmt.Errorf("initialize kafka consumer: %w", err)
		}
		defer func() {
			if cerr := consumer.Close(); cerr != nil {
				logger.Warn("failed to close kafka consumer", zap.Error(cerr))
			}
		}()

		intakes.start(intakeCtx, "kafka", service, consumer, cfg.MaxParallel)
		logger.Info("kafka intake started", zap.String("topic", cfg.SubmissionsTopic), zap.Int("max_parallel", cfg.MaxParallel))
	}

	if cfg.SubmissionsDir != "" {
		source, err := producer.NewService(cfg.SubmissionsDir)
		if err != nil {
			return fmt.Errorf("initialize directory intake: %w", err)
		}

		logger.Info("replaying submissions", zap.String("dir", cfg.SubmissionsDir), zap.Int("count", source.Pending()))
		intakes.start(intakeCtx, "directory", service, source, cfg.MaxParallel)
	}

	var inflight inflightTracker
	handler := httpapi.NewHandler(service, images, cfg.MaxArchiveBytes, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           inflight.wrap(httpapi.NewRouter(handler, logger.Named("http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-intakes.Failed():
		runErr = err
	}

	shutdown(server, &inflight, stopIntake, intakes, logger)
	return runErr
}

// shutdown stops accepting HTTP work, cancels intake, then waits for every
// in-flight submission so their containers and workspaces are released before
// the runtime and publisher are closed.
func shutdown(server *http.Server, inflight *inflightTracker, stopIntake context.CancelFunc, intakes *intakeGroup, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
		_ = server.Close()
	}

	stopIntake()
	inflight.Wait()
	intakes.Wait()
	logger.Info("in-flight submissions drained")
}

func newResultPublisher(cfg appConfig) (ports.ResultPublisher, error) {
	switch cfg.ResultTransport {
	case "kafka":
		return kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.ResultsTopic,
		})
	case "amqp":
		return amqpinfra.NewPublisher(amqpinfra.Config{
			URL:   cfg.AMQPURL,
			Queue: cfg.AMQPQueue,
		})
	default:
		return nil, fmt.Errorf("unknown result transport %q", cfg.ResultTransport)
	}
}

func reportLogger(logger *zap.Logger) func(intake.Report) {
	return func(report intake.Report) {
		if report.Err != nil {
			logger.Error("submission failed",
				zap.String("submission_id", report.SubmissionID),
				zap.String("kind", string(submission.KindOf(report.Err))),
				zap.Error(report.Err))
			return
		}

		fields := []zap.Field{
			zap.String("submission_id", report.SubmissionID),
			zap.String("status", string(report.Outcome.Status)),
			zap.String("extraction", string(report.Outcome.Extraction.Outcome)),
		}
		if exec := report.Outcome.Execution; exec != nil {
			fields = append(fields,
				zap.Int64("exit_code", exec.ExitCode),
				zap.Bool("timed_out", exec.TimedOut),
				zap.Duration("duration", exec.Duration.Round(time.Millisecond)))
		}
		logger.Info("submission processed", fields...)
	}
}
