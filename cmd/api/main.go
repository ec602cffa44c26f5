package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bobarin/explainer/internal/api"
	"github.com/bobarin/explainer/internal/assembly"
	"github.com/bobarin/explainer/internal/cleanup"
	"github.com/bobarin/explainer/internal/config"
	"github.com/bobarin/explainer/internal/db"
	"github.com/bobarin/explainer/internal/logging"
	"github.com/bobarin/explainer/internal/pipeline"
	"github.com/bobarin/explainer/internal/queue"
	"github.com/bobarin/explainer/internal/render"
	"github.com/bobarin/explainer/internal/services"
	"github.com/bobarin/explainer/internal/storage"
	"github.com/bobarin/explainer/internal/worker"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.AppEnv)
	log.Info().Str("env", cfg.AppEnv).Msg("starting explainer API")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()
	log.Info().Msg("connected to database")

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()
	log.Info().Msg("connected to redis queue")

	handler := api.NewHandler(database, q)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Info().Msg("API key authentication enabled")
	} else {
		log.Warn().Msg("no BACKEND_API_KEY set, API is unprotected (dev mode)")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var background sync.WaitGroup
	if cfg.WorkerEnabled {
		controller, err := buildController(ctx, cfg, database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build pipeline")
		}

		if err := cleanup.EnsureDir(cfg.Pipeline.ScratchDir); err != nil {
			log.Fatal().Err(err).Msg("failed to create scratch dir")
		}
		sweeper := cleanup.NewSweeper(cfg.Pipeline.ScratchDir, cfg.Pipeline.SweepInterval, cfg.Pipeline.SweepMaxAge)

		w := worker.New(q, database, controller)

		background.Add(2)
		go func() {
			defer background.Done()
			w.Start(ctx, cfg.MaxConcurrentJobs)
		}()
		go func() {
			defer background.Done()
			sweeper.Run(ctx)
		}()
	}

	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// In-flight jobs see the cancellation and mark themselves failed.
	cancel()
	background.Wait()

	log.Info().Msg("server exited")
}

// buildController wires the external collaborators into the pipeline.
func buildController(ctx context.Context, cfg *config.Config, database *db.DB) (*pipeline.Controller, error) {
	p := cfg.Pipeline

	llm := services.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL)
	ffmpegSvc := services.NewFFmpegService(p.ScratchDir)

	var tts services.TTSService
	switch cfg.SpeechProvider {
	case config.SpeechProviderCartesia:
		tts = services.NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID)
	case config.SpeechProviderElevenLabs:
		tts = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsURL, cfg.ElevenLabsVoiceID)
	default:
		tts = services.NewSpeechService(services.NewOpenAIClient(cfg.GroqKey, cfg.GroqBaseURL), cfg.SpeechModel, cfg.SpeechVoice)
	}
	log.Info().Str("provider", cfg.SpeechProvider).Msg("speech provider configured")

	var publisher pipeline.Publisher
	switch cfg.PublishTarget {
	case config.PublishSupabase:
		publisher = storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	default:
		publisher = services.NewCloudflareStream(cfg.CloudflareAccountID, cfg.CloudflareStreamToken)
	}
	log.Info().Str("target", cfg.PublishTarget).Msg("publisher configured")

	var animations pipeline.AnimationGenerator
	if p.UseAIAnimations && cfg.GeminiKey != "" {
		svc, err := services.NewAnimationService(ctx, cfg.GeminiKey, cfg.AnimationModel)
		if err != nil {
			return nil, err
		}
		animations = svc
		log.Info().Str("model", cfg.AnimationModel).Msg("generated animations enabled")
	} else {
		log.Info().Msg("generated animations disabled, using fallback documents")
	}

	surface := render.NewChromeSurface(p.ChromePath, p.Width, p.Height)

	deps := pipeline.Deps{
		Jobs:       database,
		Credits:    database,
		Publisher:  publisher,
		Script:     services.NewScriptService(llm, cfg.ScriptModel),
		Metadata:   services.NewMetadataService(llm, cfg.ScriptModel),
		Voices:     pipeline.NewAudioPool(tts, p),
		Animations: animations,
		Renderer: func(scratchDir string) pipeline.ClipRenderer {
			return render.NewRenderer(surface, ffmpegSvc, p, scratchDir)
		},
		Assembler: assembly.NewAssembler(ffmpegSvc, ffmpegSvc, p),
	}

	return pipeline.NewController(deps, p, cfg.TotalSegments(), cfg.TokensPerSegment), nil
}
