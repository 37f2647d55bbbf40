package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/domain/submission"
	"github.com/cmusv-gradiatorx/dynamic-analysis-service/internal/ports"
)

var _ ports.SubmissionProcessor = (*Service)(nil)

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Workspaces ports.WorkspaceManager
	Images     ports.ImageProvider
	Runner     ports.ContainerRunner
	Extractor  ports.ResultExtractor
	Publisher  ports.ResultPublisher
}

// Service takes one submission from archive bytes to a published result.
// Process is safe for concurrent use; submissions share nothing but the image.
type Service struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(deps Dependencies, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Process runs req end to end. A failing or timed-out submission is a
// completed outcome; only validation, build, infrastructure and publish
// failures are returned as errors, each classified as a *submission.Error.
// The workspace is released on every path.
func (s *Service) Process(ctx context.Context, req submission.Request) (*submission.Outcome, error) {
	p := &processing{
		svc:       s,
		req:       req,
		lifecycle: submission.NewLifecycle(),
		logger:    s.logger.With(zap.String("submission_id", req.SubmissionID)),
		outcome:   &submission.Outcome{SubmissionID: req.SubmissionID, Status: submission.StatusReceived},
	}
	return p.run(ctx)
}

type processing struct {
	svc       *Service
	req       submission.Request
	lifecycle *submission.Lifecycle
	logger    *zap.Logger
	outcome   *submission.Outcome
}

func (p *processing) run(ctx context.Context) (*submission.Outcome, error) {
	if err := validateRequest(p.req); err != nil {
		return p.fail(submission.KindValidation, err)
	}

	ws, err := p.svc.deps.Workspaces.Acquire(p.req.SubmissionID)
	if err != nil {
		return p.fail(submission.KindInfrastructure, fmt.Errorf("acquire workspace: %w", err))
	}
	defer ws.Release()

	if err := ws.WriteArchive(p.req.Archive); err != nil {
		return p.fail(submission.KindInfrastructure, err)
	}
	p.logger.Info("submission received", zap.Int("archive_bytes", len(p.req.Archive)))

	cfg := p.svc.cfg
	imageID, err := p.svc.deps.Images.Ensure(ctx, cfg.ImageName, cfg.BuildContextDir)
	if err != nil {
		return p.fail(causeKind(ctx, submission.KindBuild), err)
	}
	p.advance(submission.StatusImageReady)
	p.advance(submission.StatusRunning)

	extracted := false
	var extraction submission.Extraction
	onExit := func(hookCtx context.Context, containerID string) {
		p.advance(submission.StatusExtracting)
		extraction = p.svc.deps.Extractor.Extract(hookCtx, containerID, cfg.ResultsPath, ws.ResultsDir(), ws.ScratchDir())
		extracted = true
	}

	result, err := p.svc.deps.Runner.Run(ctx, ports.RunSpec{
		ImageID:          imageID,
		SubmissionID:     p.req.SubmissionID,
		ArchivePath:      ws.ArchivePath(),
		Env:              cfg.Env,
		Timeout:          cfg.RunTimeout,
		MemoryLimitBytes: cfg.MemoryLimitBytes,
		NanoCPUs:         cfg.NanoCPUs,
		NetworkDisabled:  cfg.NetworkDisabled,
	}, onExit)
	if err != nil {
		return p.fail(causeKind(ctx, submission.KindInfrastructure), err)
	}
	p.outcome.Execution = result

	if !extracted {
		p.advance(submission.StatusExtracting)
		extraction = submission.FallBack("container exited without result extraction")
	}
	if extraction.Outcome == submission.FellBack {
		if err := writeDiagnostic(ws.ResultsDir(), p.req.SubmissionID, extraction.Reason, result, p.svc.now()); err != nil {
			return p.fail(submission.KindInfrastructure, err)
		}
	}
	p.outcome.Extraction = extraction

	p.advance(submission.StatusPublishing)
	if err := p.svc.deps.Publisher.Publish(ctx, p.req.SubmissionID, ws.ResultsDir()); err != nil {
		return p.fail(causeKind(ctx, submission.KindPublish), err)
	}
	p.advance(submission.StatusCompleted)

	p.logger.Info("submission completed",
		zap.Int64("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.String("extraction", string(extraction.Outcome)),
		zap.Duration("duration", result.Duration))
	return p.outcome, nil
}

// causeKind reports KindCanceled when the failure follows the caller giving up.
func causeKind(ctx context.Context, kind submission.Kind) submission.Kind {
	if ctx.Err() != nil {
		return submission.KindCanceled
	}
	return kind
}

func (p *processing) advance(next submission.Status) {
	if err := p.lifecycle.Advance(next); err != nil {
		p.logger.Warn("status transition rejected", zap.Error(err))
		return
	}
	p.outcome.Status = next
}

func (p *processing) fail(kind submission.Kind, err error) (*submission.Outcome, error) {
	p.advance(submission.StatusFailed)
	p.logger.Error("submission failed", zap.String("kind", string(kind)), zap.Error(err))
	return p.outcome, submission.NewError(kind, p.req.SubmissionID, err)
}
