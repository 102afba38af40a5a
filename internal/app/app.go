// Package app wires the auricle subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture→gate→consumer pipeline, and
// Shutdown tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithWakeModel,
// WithTranscriber, WithCaptureSource, etc.). When an option is not
// provided, New creates the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/auricle-dev/auricle/internal/capture"
	"github.com/auricle-dev/auricle/internal/config"
	"github.com/auricle-dev/auricle/internal/eventlog"
	"github.com/auricle-dev/auricle/internal/gate"
	"github.com/auricle-dev/auricle/internal/health"
	"github.com/auricle-dev/auricle/internal/messaging"
	"github.com/auricle-dev/auricle/internal/observe"
	"github.com/auricle-dev/auricle/pkg/audio"
	"github.com/auricle-dev/auricle/pkg/provider/stt"
	"github.com/auricle-dev/auricle/pkg/provider/stt/segmenter"
	"github.com/auricle-dev/auricle/pkg/provider/stt/whisper"
	"github.com/auricle-dev/auricle/pkg/provider/vad"
	"github.com/auricle-dev/auricle/pkg/provider/vad/silero"
	"github.com/auricle-dev/auricle/pkg/provider/wake"
	"github.com/auricle-dev/auricle/pkg/provider/wake/openwake"
	"github.com/auricle-dev/auricle/pkg/provider/wake/textmatch"
)

// App owns all subsystem lifetimes and orchestrates the gated recognition
// pipeline.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	transcriber stt.Recognizer
	vadEngine   vad.Engine
	wakeModel   wake.Model
	inner       stt.Provider
	recognizer  *gate.Recognizer
	source      capture.Source
	events      *eventlog.Store
	publisher   *messaging.Client
	server      *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the daemon logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) {
		if log != nil {
			a.log = log
		}
	}
}

// WithLevelVar hands the App the level variable behind its logger so
// [App.ApplyConfig] can adjust verbosity on config reload.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics injects an instrument set instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTranscriber injects a batch transcriber instead of loading whisper
// from config.
func WithTranscriber(rec stt.Recognizer) Option {
	return func(a *App) { a.transcriber = rec }
}

// WithVADEngine injects a VAD engine instead of loading silero from config.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.vadEngine = e }
}

// WithInnerProvider injects the gate's inner recognition pipeline instead of
// building the VAD segmenter over the transcriber.
func WithInnerProvider(p stt.Provider) Option {
	return func(a *App) { a.inner = p }
}

// WithWakeModel injects a wake model instead of creating one via the
// backend registry.
func WithWakeModel(m wake.Model) Option {
	return func(a *App) { a.wakeModel = m }
}

// WithCaptureSource injects a frame source instead of opening one via the
// backend registry.
func WithCaptureSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// New creates an App by wiring all subsystems together. Initialisation is
// synchronous: model loading, capture device open, event store open, and
// NATS connect all happen before New returns, so a misconfigured daemon
// fails at startup rather than mid-session.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ok := false
	defer func() {
		if !ok {
			a.closeAll()
		}
	}()

	if err := a.initTranscriber(); err != nil {
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}
	if err := a.initVAD(); err != nil {
		return nil, fmt.Errorf("app: init vad: %w", err)
	}

	reg := config.NewRegistry()
	a.registerBuiltins(reg)

	if err := a.initWakeModel(reg); err != nil {
		return nil, fmt.Errorf("app: init wake model: %w", err)
	}
	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}
	if err := a.initEventLog(); err != nil {
		return nil, fmt.Errorf("app: init event log: %w", err)
	}
	if err := a.initMessaging(); err != nil {
		return nil, fmt.Errorf("app: init messaging: %w", err)
	}
	if err := a.initCapture(reg); err != nil {
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.initTelemetryServer()

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// registerBuiltins wires the wake-backend and capture-source factories that
// ship with auricle into reg.
func (a *App) registerBuiltins(reg *config.Registry) {
	reg.RegisterWake(string(config.WakeOpenWake), func(cfg *config.Config) (wake.Model, error) {
		oc := openwake.Config{
			MelspecPath:   cfg.Wake.MelspecModel,
			EmbeddingPath: cfg.Wake.EmbeddingModel,
		}
		for _, m := range cfg.Wake.Models {
			oc.Classifiers = append(oc.Classifiers, openwake.Classifier{Name: m.Name, Path: m.Path})
		}
		return openwake.New(oc, openwake.WithLogger(a.log))
	})

	reg.RegisterWake(string(config.WakeTextMatch), func(cfg *config.Config) (wake.Model, error) {
		phrases := make([]textmatch.Phrase, 0, len(cfg.Wake.Models))
		for _, m := range cfg.Wake.Models {
			phrases = append(phrases, textmatch.Phrase{Name: m.Name, Text: m.Phrase})
		}
		var tmOpts []textmatch.Option
		if cfg.Wake.ChunkSamples > 0 {
			tmOpts = append(tmOpts, textmatch.WithChunkSamples(cfg.Wake.ChunkSamples))
		}
		tmOpts = append(tmOpts, textmatch.WithLogger(a.log))
		return textmatch.New(a.transcriber, phrases, tmOpts...)
	})

	reg.RegisterCapture(string(config.CapturePortAudio), func(cfg *config.Config) (capture.Source, error) {
		return capture.OpenMic(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Capture.Device, a.log)
	})

	reg.RegisterCapture(string(config.CaptureFile), func(cfg *config.Config) (capture.Source, error) {
		return capture.OpenFile(cfg.Capture.Path, cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Capture.Realtime)
	})

	reg.RegisterCapture(string(config.CaptureStdin), func(cfg *config.Config) (capture.Source, error) {
		return capture.OpenStdin(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Capture.Realtime), nil
	})
}

// initTranscriber loads the whisper model unless a recognizer was injected.
// Either way the recognizer is wrapped for latency measurement.
func (a *App) initTranscriber() error {
	if a.transcriber == nil {
		var opts []whisper.Option
		if a.cfg.STT.Language != "" {
			opts = append(opts, whisper.WithLanguage(a.cfg.STT.Language))
		}
		if a.cfg.STT.Threads > 0 {
			opts = append(opts, whisper.WithThreads(uint(a.cfg.STT.Threads)))
		}
		t, err := whisper.New(a.cfg.STT.ModelPath, opts...)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, t.Close)
		a.transcriber = t
		a.log.Info("whisper model loaded", "path", a.cfg.STT.ModelPath)
	}
	a.transcriber = observe.MeasureRecognizer(a.transcriber, a.metrics)
	return nil
}

// initVAD loads the silero detector unless an engine was injected.
func (a *App) initVAD() error {
	if a.vadEngine != nil {
		return nil
	}
	e, err := silero.New(a.cfg.VAD.ModelPath, silero.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.vadEngine = e
	a.log.Info("silero vad model loaded", "path", a.cfg.VAD.ModelPath)
	return nil
}

// initWakeModel creates the configured wake backend. A load failure here is
// fatal: a daemon that cannot score audio has nothing to do.
func (a *App) initWakeModel(reg *config.Registry) error {
	if a.wakeModel != nil {
		return nil
	}
	m, err := reg.CreateWake(a.cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, m.Close)
	a.wakeModel = m
	a.log.Info("wake model ready",
		"backend", a.cfg.Wake.Backend,
		"phrases", m.Names(),
	)
	return nil
}

// initRecognizer assembles the inner pipeline (VAD segmenter over the
// transcriber) and the gate around it.
func (a *App) initRecognizer() error {
	if a.inner == nil {
		segOpts := []segmenter.Option{segmenter.WithLogger(a.log)}
		if a.cfg.VAD.Threshold > 0 {
			segOpts = append(segOpts, segmenter.WithVADThreshold(float64(a.cfg.VAD.Threshold)))
		}
		if a.cfg.VAD.MinSilence > 0 {
			segOpts = append(segOpts, segmenter.WithMinSilence(a.cfg.VAD.MinSilence))
		}
		seg, err := segmenter.New(a.transcriber, a.vadEngine, segOpts...)
		if err != nil {
			return err
		}
		a.inner = seg
	}

	rec, err := gate.New(a.wakeModel, a.inner, a.vadEngine,
		gate.WithThresholds(a.cfg.Wake.Thresholds()),
		gate.WithSilenceTimeout(a.cfg.Gate.SilenceTimeout),
		gate.WithPollInterval(a.cfg.Gate.PollInterval),
		gate.WithSampleRate(a.cfg.Audio.SampleRate),
		gate.WithLanguage(a.cfg.STT.Language),
		gate.WithLogger(a.log),
		gate.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, rec.Close)
	a.recognizer = rec
	return nil
}

// initEventLog opens the voice event store when enabled.
func (a *App) initEventLog() error {
	if !a.cfg.EventLog.Enabled {
		return nil
	}
	store, err := eventlog.Open(a.cfg.EventLog.Path,
		eventlog.WithLogger(a.log),
		eventlog.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)
	a.events = store
	a.log.Info("event log open", "path", a.cfg.EventLog.Path)
	return nil
}

// initMessaging connects to NATS when enabled and feeds the agent's busy
// state back into the gate.
func (a *App) initMessaging() error {
	if !a.cfg.Messaging.Enabled {
		return nil
	}
	client, err := messaging.Connect(a.cfg.Messaging.URL, a.cfg.Messaging.SubjectPrefix,
		messaging.WithLogger(a.log),
		messaging.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})
	a.publisher = client

	// The downstream agent announces "thinking"/"speaking" on
	// <prefix>.agent.state; while it does, the silence timeout is held off
	// so the gate cannot close mid-response.
	err = client.SubscribeAgentState(func(busy bool, state string) {
		a.log.Debug("agent state", "state", state, "busy", busy)
		a.recognizer.SetAgentBusy(busy)
	})
	if err != nil {
		return fmt.Errorf("subscribe agent state: %w", err)
	}
	a.log.Info("messaging connected", "url", a.cfg.Messaging.URL, "prefix", a.cfg.Messaging.SubjectPrefix)
	return nil
}

// initCapture opens the configured frame source.
func (a *App) initCapture(reg *config.Registry) error {
	if a.source != nil {
		return nil
	}
	src, err := reg.CreateCapture(a.cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, src.Close)
	a.source = src
	a.log.Info("capture source open", "source", a.cfg.Capture.Source)
	return nil
}

// initTelemetryServer builds the metrics + health listener. The server is
// started in Run; an empty address disables it.
func (a *App) initTelemetryServer() {
	if a.cfg.Telemetry.MetricsAddr == "" {
		return
	}

	checkers := []health.Checker{}
	if a.events != nil {
		checkers = append(checkers, health.Ping("eventlog", a.events.Ping))
	}
	if a.publisher != nil {
		checkers = append(checkers, health.Connected("nats", a.publisher.IsConnected))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)

	a.server = &http.Server{
		Addr:              a.cfg.Telemetry.MetricsAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens a gated recognition stream and pumps it until ctx is cancelled
// or the capture source ends. It blocks for the duration of the session and
// returns ctx's error on cancellation, nil on a graceful end of input.
func (a *App) Run(ctx context.Context) error {
	// sessionCtx ends either with the caller's ctx or when the event
	// stream drains after a graceful end of input; both must release the
	// telemetry server below.
	sessionCtx, endSession := context.WithCancel(ctx)
	defer endSession()

	g, gctx := errgroup.WithContext(sessionCtx)

	stream, err := a.recognizer.Stream(gctx)
	if err != nil {
		return fmt.Errorf("app: open gated stream: %w", err)
	}

	g.Go(func() error { return a.pumpFrames(gctx, stream) })
	g.Go(func() error {
		defer endSession()
		return a.consumeEvents(gctx, stream)
	})

	if a.server != nil {
		g.Go(func() error {
			a.log.Info("telemetry listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	a.log.Info("auricle running",
		"phrases", a.wakeModel.Names(),
		"silence_timeout", a.cfg.Gate.SilenceTimeout,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// pumpFrames forwards captured frames into the gated stream, normalizing
// each one to mono at the pipeline rate first; capture hardware does not
// always deliver the format the detector runs at. When the source's channel
// closes, input is ended gracefully so pending utterances still come out.
func (a *App) pumpFrames(ctx context.Context, stream *gate.Stream) error {
	// Keep eating frames after the pump stops so a live capture device
	// never backs up between session end and Shutdown; the goroutine
	// retires when Shutdown closes the source.
	defer func() { go audio.Drain(a.source.Frames()) }()

	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: a.cfg.Audio.SampleRate, Channels: 1},
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-a.source.Frames():
			if !ok {
				a.log.Info("capture ended, finalizing stream")
				stream.EndInput()
				return nil
			}
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			if err := stream.PushFrame(frame); err != nil {
				if errors.Is(err, gate.ErrStreamClosed) || errors.Is(err, gate.ErrInputEnded) {
					return nil
				}
				return fmt.Errorf("push frame: %w", err)
			}
		}
	}
}

// consumeEvents drains the gated stream's output, logging, persisting, and
// publishing every event. It returns when the event channel closes.
func (a *App) consumeEvents(ctx context.Context, stream *gate.Stream) error {
	for ev := range stream.Events() {
		switch ev.Kind {
		case gate.KindWake:
			a.handleWake(ctx, ev.Wake)
		case gate.KindSpeech:
			a.handleSpeech(ctx, ev.Speech)
		}
	}
	return nil
}

func (a *App) handleWake(ctx context.Context, ev gate.WakeEvent) {
	if ev.State == gate.StateActive {
		a.log.Info("gate opened", "model", ev.Model, "score", ev.Score)
	} else {
		a.log.Info("gate closed")
	}
	if a.publisher != nil {
		if err := a.publisher.PublishWakeState(ctx, ev.State.String(), ev.Model, ev.Score); err != nil {
			a.log.Warn("publish wake state failed", "error", err)
		}
	}
	if a.events != nil {
		if err := a.events.RecordWake(ctx, ev.State.String(), ev.Model, ev.Score); err != nil {
			a.log.Warn("record wake event failed", "error", err)
		}
	}
}

func (a *App) handleSpeech(ctx context.Context, ev stt.Event) {
	switch ev.Type {
	case stt.EventInterimTranscript, stt.EventFinalTranscript:
		final := ev.Type == stt.EventFinalTranscript
		if final {
			a.log.Info("transcript", "text", ev.Text, "confidence", ev.Confidence)
		}
		if a.publisher != nil {
			if err := a.publisher.PublishTranscript(ctx, ev.Text, final); err != nil {
				a.log.Warn("publish transcript failed", "error", err)
			}
		}
		if a.events != nil {
			if err := a.events.RecordTranscript(ctx, ev.Text, final); err != nil {
				a.log.Warn("record transcript failed", "error", err)
			}
		}
	case stt.EventStartOfSpeech:
		a.log.Debug("speech started")
	case stt.EventEndOfSpeech:
		a.log.Debug("speech ended")
	case stt.EventError:
		a.log.Warn("recognition error", "error", ev.Err)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig reacts to a config file change. Log level, silence timeout,
// and detection thresholds apply to the running daemon immediately; changes
// to the model set or any other section are logged as needing a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Slog())
			a.log.Info("log level changed", "level", d.NewLogLevel)
		} else {
			a.log.Warn("log level changed but no level var is wired, restart to apply", "level", d.NewLogLevel)
		}
	}
	if d.SilenceTimeoutChanged {
		a.recognizer.SetSilenceTimeout(d.NewSilenceTimeout)
		a.log.Info("silence timeout changed", "timeout", d.NewSilenceTimeout)
	}
	if d.ThresholdsChanged {
		a.recognizer.SetThresholds(new.Wake.Thresholds())
		a.log.Info("detection thresholds changed")
	}
	if d.ModelSetChanged {
		a.log.Warn("trigger model set changed, restart to apply")
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases everything initialised so far. Used on the New failure
// path, where half the subsystems may already hold resources.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("cleanup error", "index", i, "error", err)
		}
	}
	a.closers = nil
}
