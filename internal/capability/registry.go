package capability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Probe reports whether a subsystem can run on this host. A nil error means
// available.
type Probe func() error

// Capability is the result of a single probe.
type Capability struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Registry records which optional subsystems (speech engine, microphone,
// broker) are usable, so the UI can grey out what is missing instead of
// failing later.
type Registry struct {
	log    *slog.Logger
	mu     sync.RWMutex
	probes map[string]Probe
	caps   map[string]Capability
	meter  metric.Meter
	gauge  metric.Int64ObservableGauge
}

func NewRegistry(log *slog.Logger) *Registry {
	r := &Registry{
		log:    log.With(slog.String("component", "capabilities")),
		probes: make(map[string]Probe),
		caps:   make(map[string]Capability),
		meter:  otel.Meter("github.com/loqalabs/mg-assistant/capability"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Register adds or replaces a probe. It is not run until Refresh.
func (r *Registry) Register(name string, probe Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[name] = probe
}

// Refresh runs every probe and stores the outcome.
func (r *Registry) Refresh() {
	r.mu.RLock()
	probes := make(map[string]Probe, len(r.probes))
	for name, p := range r.probes {
		probes[name] = p
	}
	r.mu.RUnlock()

	now := time.Now().UTC()
	results := make(map[string]Capability, len(probes))
	for name, probe := range probes {
		c := Capability{Name: name, Available: true, CheckedAt: now}
		if probe != nil {
			if err := probe(); err != nil {
				c.Available = false
				c.Reason = err.Error()
			}
		}
		if c.Available {
			r.log.Info("capability available", slog.String("name", name))
		} else {
			r.log.Warn("capability unavailable", slog.String("name", name), slog.String("reason", c.Reason))
		}
		results[name] = c
	}

	r.mu.Lock()
	r.caps = results
	r.mu.Unlock()
}

// Available reports the last probe result for name. Unknown names are
// unavailable.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name].Available
}

// List returns the last probe results sorted by name.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("mg.capabilities.available",
		metric.WithDescription("1 when the capability probe succeeded, 0 otherwise"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		for _, c := range r.List() {
			var v int64
			if c.Available {
				v = 1
			}
			obs.ObserveInt64(gauge, v, metric.WithAttributes(attribute.String("name", c.Name)))
		}
		return nil
	}, gauge)
	return err
}
