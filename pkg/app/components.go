package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dvegas03/MechAI/internal/config"
	"github.com/dvegas03/MechAI/pkg/camera"
	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/detection/yolo"
	"github.com/dvegas03/MechAI/pkg/procedure"
	"github.com/dvegas03/MechAI/pkg/reasoning"
	"github.com/dvegas03/MechAI/pkg/sink"
	"github.com/dvegas03/MechAI/pkg/speech"
	"github.com/dvegas03/MechAI/pkg/tts"
	"github.com/dvegas03/MechAI/pkg/web"
)

// dbProcedureTitle names a procedure read from the instructions table.
const dbProcedureTitle = "Maintenance procedure"

// loadScript reads the procedure from a file, else the database, else uses
// the built-in script.
func (a *App) loadScript(ctx context.Context) (*procedure.Script, error) {
	switch {
	case a.config.ProcedureFile != "":
		return procedure.Load(a.config.ProcedureFile)

	case a.config.DatabaseURL != "":
		db, err := procedure.Open(ctx, a.config.DatabaseDriver, a.config.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		store := procedure.NewStore(db, a.config.InstructionsTable, procedure.StepOptions{
			RequiresConfirmation: a.config.RequiresConfirmation,
		}, a.logger)
		return store.Script(ctx, dbProcedureTitle, procedure.DefaultMessages())

	default:
		return procedure.Default(), nil
	}
}

func (a *App) initReasoning(ctx context.Context) error {
	common := []reasoning.Option{
		reasoning.WithImageInterval(a.config.ImageInterval),
		reasoning.WithLogger(a.logger),
	}

	openai := func() (reasoning.Backend, error) {
		return reasoning.NewOpenAI(append(common,
			reasoning.WithAPIKey(a.config.OpenAIKey),
			reasoning.WithBaseURL(a.config.OpenAIBaseURL),
			reasoning.WithModel(a.config.OpenAIModel),
			reasoning.WithVisionModel(a.config.OpenAIVisionModel),
		)...)
	}
	gemini := func() (reasoning.Backend, error) {
		return reasoning.NewGemini(ctx, append(common,
			reasoning.WithAPIKey(a.config.GeminiKey),
			reasoning.WithModel(a.config.GeminiModel),
			reasoning.WithVisionModel(a.config.GeminiModel),
		)...)
	}

	var backend reasoning.Backend
	switch a.config.Provider {
	case config.ProviderGemini:
		b, err := gemini()
		if err != nil {
			return err
		}
		a.backends = append(a.backends, b)
		backend = b

	case config.ProviderChain:
		for _, build := range []func() (reasoning.Backend, error){openai, gemini} {
			b, err := build()
			if err != nil {
				a.logger.Warn("reasoning backend unavailable", "error", err)
				continue
			}
			a.backends = append(a.backends, b)
		}
		chain, err := reasoning.NewChain(a.logger, a.backends...)
		if err != nil {
			return err
		}
		backend = chain

	default:
		b, err := openai()
		if err != nil {
			return err
		}
		a.backends = append(a.backends, b)
		backend = b
	}

	assistant, err := reasoning.NewAssistant(backend, common...)
	if err != nil {
		return err
	}
	a.reasoner = assistant
	a.logger.Info("reasoning ready", "backend", backend.Name())
	return nil
}

// initVision opens the camera and detector. Failures leave the app
// running without vision.
func (a *App) initVision() {
	if !a.config.CameraEnabled {
		a.logger.Info("camera disabled")
		return
	}

	camCfg := camera.DefaultConfig()
	camCfg.Device = a.config.CameraDevice
	camCfg.Width = a.config.CameraWidth
	camCfg.Height = a.config.CameraHeight
	capture, err := camera.Open(camCfg, a.logger)
	if err != nil {
		a.logger.Warn("camera unavailable, continuing without vision", "error", err)
		return
	}
	a.capture = capture

	yoloCfg := yolo.DefaultConfig()
	yoloCfg.ModelPath = a.config.ModelPath
	yoloCfg.ConfidenceThreshold = a.config.ConfidenceThreshold
	yoloCfg.Logger = a.logger
	depth := detection.DefaultDepthEstimator()
	yoloCfg.Depth = &depth
	if a.config.ClassesPath != "" {
		classes, err := detection.LoadClasses(a.config.ClassesPath)
		if err != nil {
			a.logger.Warn("class list unreadable, using COCO", "error", err)
		} else {
			yoloCfg.Classes = classes
		}
	}

	var engine detection.Inferer
	if e, err := yolo.New(yoloCfg); err != nil {
		a.logger.Warn("detector unavailable, detections will be empty", "error", err)
		engine = noDetections{}
	} else {
		a.engine = e
		engine = e
	}

	runCfg := detection.DefaultRunnerConfig()
	runCfg.Interval = a.config.DetectInterval
	a.runner = detection.NewRunner(engine, capture, runCfg, a.logger)
}

// noDetections stands in for a detector that failed to load.
type noDetections struct{}

func (noDetections) Infer([]byte) (detection.Set, error) {
	return detection.Set{At: time.Now()}, nil
}

func (a *App) initSpeaker() {
	if a.config.ElevenLabsKey == "" || a.config.VoiceID == "" {
		a.logger.Info("speech synthesis disabled, pacing speech by text length")
		return
	}
	provider, err := tts.NewElevenLabs(
		tts.WithAPIKey(a.config.ElevenLabsKey),
		tts.WithVoice(a.config.VoiceID),
		tts.WithModel(a.config.TTSModel),
		tts.WithLogger(a.logger),
	)
	if err != nil {
		a.logger.Warn("speech synthesis unavailable", "error", err)
		return
	}
	player := &tts.DurationPlayer{OnLevel: a.web.SpeechLevel}
	speaker, err := tts.NewSpeaker(provider, player, a.logger)
	if err != nil {
		a.logger.Warn("speech synthesis unavailable", "error", err)
		return
	}
	a.speaker = speaker
}

func (a *App) initRedis(ctx context.Context) {
	if a.config.RedisAddr == "" {
		return
	}
	client, err := sink.Dial(ctx, a.config.RedisAddr, a.config.RedisPassword, a.config.RedisDB)
	if err != nil {
		a.logger.Warn("redis unavailable, events not published", "error", err)
		return
	}
	a.redisClient = client
	cfg := sink.DefaultRedisConfig()
	cfg.Channel = a.config.RedisChannel
	a.redisSink = sink.NewRedis(client, cfg, a.logger)
}

// initSpeechInput relays recognized speech to the orchestrator. The bridge
// is gated on the orchestrator, so utterances during a turn are dropped
// before they reach it.
func (a *App) initSpeechInput() {
	bcfg := speech.DefaultConfig()
	bcfg.Logger = a.logger
	a.bridge = speech.NewBridge(bcfg, a.orch)
	a.bridge.OnUtterance(a.orch.HandleUtterance)
	a.bridge.OnPartial(a.sinks.Partial)
	a.bridge.OnVoiceActivity(func(active bool) {
		a.web.UpdateState(func(st *web.DashboardState) { st.Listening = active })
	})

	if a.config.STTURL == "" {
		a.logger.Info("speech recognition disabled, use POST /api/utterance")
		return
	}
	scfg := speech.DefaultStreamConfig()
	scfg.URL = a.config.STTURL
	scfg.APIKey = a.config.STTKey
	scfg.Logger = a.logger
	stream, err := speech.NewStream(scfg, a.bridge)
	if err != nil {
		a.logger.Warn("speech recognition unavailable", "error", fmt.Errorf("stt: %w", err))
		return
	}
	a.stream = stream
}
