// Package app wires MechAI together: camera and detector, reasoning,
// speech in and out, the conversation orchestrator, presentation sinks and
// the dashboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dvegas03/MechAI/internal/config"
	"github.com/dvegas03/MechAI/pkg/camera"
	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/detection/yolo"
	"github.com/dvegas03/MechAI/pkg/orchestrator"
	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/reasoning"
	"github.com/dvegas03/MechAI/pkg/sink"
	"github.com/dvegas03/MechAI/pkg/speech"
	"github.com/dvegas03/MechAI/pkg/tts"
	"github.com/dvegas03/MechAI/pkg/web"
)

// App owns every component and their lifecycle.
type App struct {
	config config.Config
	logger *slog.Logger

	script   *procedure.Script
	db       *sqlx.DB
	backends []reasoning.Backend
	reasoner *reasoning.Assistant

	speaker *tts.Speaker

	capture *camera.Capture
	engine  *yolo.Engine
	runner  *detection.Runner

	orch   *orchestrator.Orchestrator
	bridge *speech.Bridge
	stream *speech.Stream

	web         *web.Server
	redisClient *redis.Client
	redisSink   *sink.Redis
	sinks       sink.Fanout
}

// New creates an app. Call Init before Run.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{config: cfg, logger: logger.With("component", "app")}, nil
}

// Init builds every component. Optional components (camera, detector,
// speech synthesis, speech recognition, Redis) are skipped with a warning
// when unconfigured or unavailable.
func (a *App) Init(ctx context.Context) error {
	a.logger.Info("MechAI starting")

	script, err := a.loadScript(ctx)
	if err != nil {
		return fmt.Errorf("procedure: %w", err)
	}
	a.script = script
	a.logger.Info("procedure loaded", "title", script.Title, "steps", script.Len())

	if err := a.initReasoning(ctx); err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	a.initVision()

	a.web = web.NewServer(web.Config{
		Addr:      a.config.HTTPAddr,
		StaticDir: a.config.StaticDir,
		Logger:    a.logger,
	}, nil)

	a.initSpeaker()

	deps := orchestrator.Deps{
		Reasoner: a.reasoner,
		Script:   a.script,
	}
	if a.speaker != nil {
		deps.Speaker = a.speaker
	}
	if a.runner != nil {
		deps.Frames = a.runner
		deps.Highlighter = a.runner
	}
	ocfg := orchestrator.DefaultConfig()
	ocfg.AutoStartDelay = a.config.AutoStartDelay
	ocfg.Logger = a.logger
	a.orch, err = orchestrator.New(ocfg, deps)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	a.web.SetController(a.orch)

	a.initRedis(ctx)

	a.sinks = sink.Fanout{sink.NewLog(a.logger), a.web}
	if a.redisSink != nil {
		a.sinks = append(a.sinks, a.redisSink)
	}
	Bind(a.orch, a.sinks)
	if a.runner != nil {
		a.runner.OnDetections(func(set detection.Set) {
			a.orch.HandleDetections(set)
			a.sinks.Detections(set)
		})
	}

	a.initSpeechInput()
	return nil
}

// Bind forwards orchestrator notifications to s.
func Bind(o *orchestrator.Orchestrator, s sink.Sink) {
	o.OnStateChanged(func(old, new orchestrator.State) { s.StateChanged(old.String(), new.String()) })
	o.OnStepChanged(s.StepChanged)
	o.OnUserText(func(text string) { s.Transcript(sink.RoleUser, text) })
	o.OnAssistantText(func(text string) { s.Transcript(sink.RoleAssistant, text) })
	o.OnHighlight(s.Highlight)
	o.OnProcedureCompleted(s.Completed)
}

// Run runs every component until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a.orch == nil {
		return errors.New("app: Run before Init")
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.orch.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := a.web.Run(ctx); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	})
	if a.runner != nil {
		g.Go(func() error {
			a.runner.Run(ctx)
			return nil
		})
	}
	if a.redisSink != nil {
		g.Go(func() error {
			a.redisSink.Run(ctx)
			return nil
		})
	}
	if a.stream != nil {
		g.Go(func() error {
			if err := a.stream.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a.web.AddLog("info", "MechAI started")
	if a.config.AutoStartDelay <= 0 {
		a.logger.Info("waiting for start", "hint", "POST /api/start")
	}
	return g.Wait()
}

// Shutdown releases every component.
func (a *App) Shutdown() {
	if a.orch != nil {
		a.orch.Stop()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.speaker != nil {
		a.speaker.Close()
	}
	if a.redisSink != nil {
		a.redisSink.Close()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.capture != nil {
		a.capture.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	for _, b := range a.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			c.Close()
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	a.logger.Info("MechAI stopped")
}
