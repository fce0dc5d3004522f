// Package devices loads the static list of controllable devices.
package devices

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/goccy/go-json"
)

// Device is one controllable endpoint and the topic commands go to.
type Device struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type file struct {
	Devices []Device `json:"devices"`
}

// Registry is read-only after Load.
type Registry struct {
	devices []Device
	byName  map[string]Device
}

// Load reads a devices.json document. A missing file yields an empty
// registry; a malformed one yields an empty registry and a warning.
func Load(path string, log *slog.Logger) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to read device registry", slog.String("path", path), slog.String("error", err.Error()))
		}
		return New(nil)
	}
	var doc file
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("failed to parse device registry", slog.String("path", path), slog.String("error", err.Error()))
		return New(nil)
	}
	return New(doc.Devices)
}

func New(devices []Device) *Registry {
	r := &Registry{byName: make(map[string]Device, len(devices))}
	for _, d := range devices {
		if d.Name == "" {
			continue
		}
		r.devices = append(r.devices, d)
		r.byName[d.Name] = d
	}
	return r
}

// List returns a copy in file order.
func (r *Registry) List() []Device {
	return append([]Device(nil), r.devices...)
}

func (r *Registry) Lookup(name string) (Device, bool) {
	d, ok := r.byName[name]
	return d, ok
}

func (r *Registry) Len() int {
	return len(r.devices)
}

// ToggleCommand is the payload published to a device topic.
type ToggleCommand struct {
	Cmd    string `json:"cmd"`
	Device string `json:"device"`
}

// TogglePayload encodes {"cmd":"toggle","device":<name>}.
func TogglePayload(name string) ([]byte, error) {
	data, err := json.Marshal(ToggleCommand{Cmd: "toggle", Device: name})
	if err != nil {
		return nil, fmt.Errorf("encode toggle command: %w", err)
	}
	return data, nil
}
