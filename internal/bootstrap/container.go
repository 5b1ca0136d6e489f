package bootstrap

import (
	"fmt"
	"time"

	"lumina-be/internal/config"
	"lumina-be/internal/handler"
	"lumina-be/internal/pkg/logger"
	"lumina-be/internal/repository/memory"
	"lumina-be/internal/service"
	"lumina-be/internal/websocket"
	"lumina-be/pkg/analysis"
	"lumina-be/pkg/facilitation"
	"lumina-be/pkg/llm/factory"
	"lumina-be/pkg/voice/elevenlabs"

	pktNats "lumina-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const AlertTopic = "supervisor.alerts"

// Adapters are the external services a session talks to.
type Adapters struct {
	Transcriber facilitation.Transcriber
	Classifier  facilitation.Classifier
	Synthesizer facilitation.Synthesizer
}

type Container struct {
	Config *config.Config
	Logger logger.ILogger

	// Background Services (Exposed for main.go to run)
	AlertService *service.AlertService

	// WebSockets & Facilitation
	FacilitationHandler *handler.FacilitationHandler
	WebSocketHub        *websocket.Hub
	SessionRepository   *memory.SessionRepository

	pubSub   *gochannel.GoChannel
	natsPub  *pktNats.Publisher
	wsLogger logger.ILogger
}

// NewContainer wires the production adapters: the configured LLM behind the analysis
// classifier, and ElevenLabs for transcription and synthesis.
func NewContainer(cfg *config.Config) (*Container, error) {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())

	llmProvider, err := factory.NewLLMProvider(factory.Settings{
		Provider:      cfg.Ai.LLMProvider,
		Model:         cfg.Ai.LLMModel,
		APIKey:        cfg.Keys.LLM,
		BaseURL:       cfg.Ai.LLMBaseURL,
		OllamaBaseURL: cfg.Ai.OllamaBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}
	sysLogger.Info("Bootstrap", "LLM provider ready", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	if cfg.Keys.ElevenLabs == "" {
		sysLogger.Warn("Bootstrap", "ELEVENLABS_API_KEY is empty; transcription and synthesis will fail", nil)
	}
	voiceClient := elevenlabs.NewClient(elevenlabs.Settings{
		APIKey:        cfg.Keys.ElevenLabs,
		STTModel:      cfg.Ai.STTModel,
		LanguageCode:  cfg.Ai.STTLanguage,
		SkipIsolation: !cfg.Ai.IsolateAudio,
		TTSModel:      cfg.Ai.TTSModel,
		VoiceID:       cfg.Ai.TTSVoiceID,
		Format:        cfg.Ai.TTSFormat,
	}, sysLogger)

	return NewContainerWithAdapters(cfg, Adapters{
		Transcriber: voiceClient,
		Classifier:  analysis.NewClassifier(llmProvider, sysLogger),
		Synthesizer: voiceClient,
	}, sysLogger, logger.NewIsolatedLogger(cfg.App.SessionLogFilePath))
}

// NewContainerWithAdapters wires everything around the given adapters. wsLogger receives
// the chatty per-connection and per-session logs.
func NewContainerWithAdapters(cfg *config.Config, adapters Adapters, sysLogger, wsLogger logger.ILogger) (*Container, error) {
	sessionCfg, err := SessionConfig(cfg.Facilitation)
	if err != nil {
		return nil, err
	}

	// Event Bus
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		logger.NewWatermillAdapter(sysLogger, "WATERMILL"),
	)

	// NATS forwarding is optional
	var natsPub *pktNats.Publisher
	var external service.EventPublisher
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS, alerts stay local", map[string]interface{}{"error": err.Error()})
		} else {
			external = natsPub
		}
	}

	wsHub := websocket.NewHub(wsLogger)
	sessionRepo := memory.NewSessionRepository(time.Duration(cfg.Facilitation.SnapshotTTLMin) * time.Minute)
	alertService := service.NewAlertService(pubSub, AlertTopic, wsHub, external, sysLogger)

	facilitationHandler := handler.NewFacilitationHandler(
		wsHub,
		alertService,
		sessionRepo,
		sessionCfg,
		facilitation.Dependencies{
			Transcriber: adapters.Transcriber,
			Classifier:  adapters.Classifier,
			Synthesizer: adapters.Synthesizer,
			Logger:      wsLogger,
		},
		wsLogger,
	)

	return &Container{
		Config:              cfg,
		Logger:              sysLogger,
		AlertService:        alertService,
		FacilitationHandler: facilitationHandler,
		WebSocketHub:        wsHub,
		SessionRepository:   sessionRepo,
		pubSub:              pubSub,
		natsPub:             natsPub,
		wsLogger:            wsLogger,
	}, nil
}

// SessionConfig turns the environment settings into the per-session configuration.
func SessionConfig(fc config.FacilitationConfig) (facilitation.Config, error) {
	mode, err := facilitation.ParseMode(fc.DefaultMode)
	if err != nil {
		return facilitation.Config{}, fmt.Errorf("DISCUSSION_MODE: %w", err)
	}
	cadence, err := facilitation.ParseCadence(fc.Cadence)
	if err != nil {
		return facilitation.Config{}, fmt.Errorf("ANALYSIS_CADENCE: %w", err)
	}
	policy := facilitation.Policy{
		MildSilenceAt:    fc.MildSilenceAt,
		SevereSilenceAt:  fc.SevereSilenceAt,
		SevereOffTopicAt: fc.SevereOffTopicAt,
	}
	if policy.MildSilenceAt < 1 || policy.SevereSilenceAt <= policy.MildSilenceAt || policy.SevereOffTopicAt < 1 {
		return facilitation.Config{}, fmt.Errorf("invalid escalation thresholds: mild silence %d, severe silence %d, severe off-topic %d",
			policy.MildSilenceAt, policy.SevereSilenceAt, policy.SevereOffTopicAt)
	}

	return facilitation.Config{
		Prompt:          fc.DiscussionPrompt,
		DefaultMode:     mode,
		Cadence:         cadence,
		Interval:        time.Duration(fc.IntervalSeconds) * time.Second,
		Policy:          policy,
		HistoryWindow:   fc.HistoryWindow,
		MaxParticipants: fc.MaxParticipants,
	}, nil
}

// Close releases the bus, the NATS connection and flushes the logs.
func (c *Container) Close() {
	if err := c.pubSub.Close(); err != nil {
		c.Logger.Warn("Bootstrap", "Failed to close event bus", map[string]interface{}{"error": err.Error()})
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	_ = c.wsLogger.Sync()
	_ = c.Logger.Sync()
}
