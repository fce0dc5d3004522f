package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/mg-assistant/internal/audio"
	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/loqalabs/mg-assistant/internal/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recognizer owns a single background capture goroutine that reads frames
// from an audio source, feeds them to a decoder and queues the decoded
// records for the foreground to drain with Result.
type Recognizer struct {
	cfg    config.RecognizerConfig
	engine Engine
	source audio.Source
	log    *slog.Logger

	mu         sync.Mutex
	modelPath  string
	sampleRate int
	done       chan struct{}

	running atomic.Bool
	results *queue.FIFO[string]

	frames      metric.Int64Counter
	resultCount metric.Int64Counter
	active      metric.Int64UpDownCounter
}

func NewRecognizer(cfg config.RecognizerConfig, engine Engine, source audio.Source, log *slog.Logger) *Recognizer {
	r := &Recognizer{
		cfg:     cfg,
		engine:  engine,
		source:  source,
		log:     log.With(slog.String("component", "stt")),
		results: queue.New[string](),
	}
	r.initMetrics()
	return r
}

func (r *Recognizer) initMetrics() {
	meter := otel.Meter("github.com/loqalabs/mg-assistant/stt")
	var err error
	if r.frames, err = meter.Int64Counter("mg.stt.frames", metric.WithDescription("Audio frames fed to the decoder")); err != nil {
		r.log.Warn("failed to create frames counter", slogError(err))
	}
	if r.resultCount, err = meter.Int64Counter("mg.stt.results", metric.WithDescription("Records queued by the capture loop")); err != nil {
		r.log.Warn("failed to create results counter", slogError(err))
	}
	if r.active, err = meter.Int64UpDownCounter("mg.stt.running", metric.WithDescription("Active capture workers")); err != nil {
		r.log.Warn("failed to create running counter", slogError(err))
	}
}

// Start loads the model and spawns the capture worker. Nothing is spawned
// when the engine is unavailable, the model path is absent, or a previous
// worker has not exited yet.
func (r *Recognizer) Start(modelPath string, sampleRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.workerAlive() {
		return ErrAlreadyRunning
	}
	if err := r.engine.Available(); err != nil {
		return err
	}
	if _, err := os.Stat(modelPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrModelMissing, modelPath)
		}
		return fmt.Errorf("stat model: %w", err)
	}
	if sampleRate <= 0 {
		sampleRate = r.cfg.SampleRate
	}

	decoder, err := r.engine.Load(modelPath, sampleRate)
	if err != nil {
		return fmt.Errorf("initialize %s model: %w", r.engine.Name(), err)
	}

	r.modelPath = modelPath
	r.sampleRate = sampleRate
	r.done = make(chan struct{})
	r.running.Store(true)
	r.add(r.active, 1)

	format := audio.Format{
		SampleRate:   sampleRate,
		FrameSize:    r.cfg.FrameSize,
		BufferFrames: r.cfg.BufferFrames,
	}
	go r.listen(decoder, format, r.done)

	r.log.Info("recognizer started",
		slog.String("engine", r.engine.Name()),
		slog.String("source", r.source.Name()),
		slog.String("model", modelPath),
		slog.Int("sample_rate", sampleRate))
	return nil
}

// workerAlive must be called with mu held.
func (r *Recognizer) workerAlive() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Recognizer) listen(decoder Decoder, format audio.Format, done chan struct{}) {
	defer close(done)
	defer r.add(r.active, -1)
	defer r.running.Store(false)
	defer decoder.Close()
	defer func() {
		if rec := recover(); rec != nil {
			r.pushError(fmt.Sprintf("audio thread error: %v", rec))
		}
	}()

	stream, err := r.source.Open(format)
	if err != nil {
		r.pushError(fmt.Sprintf("failed to open microphone: %v", err))
		return
	}
	defer stream.Close()

	frame := make([]byte, format.FrameBytes())
	for r.running.Load() {
		if err := stream.Read(frame); err != nil {
			if errors.Is(err, io.EOF) {
				if final := decoder.FinalResult(); hasText(final) {
					r.push(final)
				}
				r.log.Info("audio source exhausted")
				return
			}
			r.pushError(fmt.Sprintf("audio thread error: %v", err))
			return
		}
		r.add(r.frames, 1)

		switch decoder.AcceptWaveform(frame) {
		case DecodeUtterance:
			r.push(decoder.Result())
		case DecodeError:
			r.pushError("audio thread error: decoder rejected frame")
			return
		}
	}
}

func (r *Recognizer) push(record string) {
	r.results.Push(record)
	r.addKind(ResultText)
}

func (r *Recognizer) pushError(msg string) {
	r.log.Warn("capture loop error", slog.String("error", msg))
	r.results.Push(errorRecord(msg))
	r.addKind(ResultError)
}

// Result pops at most one queued record without blocking.
func (r *Recognizer) Result() (Result, bool) {
	raw, ok := r.results.TryPop()
	if !ok {
		return Result{}, false
	}
	return decodeRecord(raw), true
}

// Running reports whether the capture loop has been asked to run and has
// not exited.
func (r *Recognizer) Running() bool {
	return r.running.Load()
}

// Stop clears the running flag and waits up to the join timeout for the
// worker. It reports whether the worker exited in time; when it did not,
// the worker exits on its own after the in-flight read returns.
func (r *Recognizer) Stop() bool {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	r.running.Store(false)
	if done == nil {
		return true
	}

	timeout := time.Duration(r.cfg.JoinTimeoutMS) * time.Millisecond
	select {
	case <-done:
		r.log.Info("recognizer stopped")
		return true
	case <-time.After(timeout):
		r.log.Warn("recognizer worker did not exit before join timeout", slog.Duration("timeout", timeout))
		return false
	}
}

// ModelPath returns the model the current or last worker was started with.
func (r *Recognizer) ModelPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modelPath
}

type int64Adder interface {
	Add(ctx context.Context, incr int64, options ...metric.AddOption)
}

func (r *Recognizer) add(counter int64Adder, n int64) {
	if counter != nil {
		counter.Add(context.Background(), n)
	}
}

func (r *Recognizer) addKind(kind ResultKind) {
	if r.resultCount != nil {
		r.resultCount.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
