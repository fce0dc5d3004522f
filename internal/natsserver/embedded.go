package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/mg-assistant/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer runs NATS in-process with its MQTT listener enabled, so the
// assistant has a local broker for device topics when no network is around.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start returns nil, nil when embedded mode is disabled.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	opts := &server.Options{
		ServerName: "mg-assistant",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		JetStream:  true, // required by the MQTT listener for sessions and retained messages
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
		// Devices on the LAN publish to the MQTT listener.
		MQTT: server.MQTTOpts{
			Host: "0.0.0.0",
			Port: cfg.MQTTPort,
		},
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	log.Info("embedded broker started",
		slog.Int("nats_port", cfg.Port),
		slog.Int("mqtt_port", cfg.MQTTPort),
		slog.String("store_dir", cfg.StoreDir))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// ClientURL is the nats:// URL for in-process clients.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded broker")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
