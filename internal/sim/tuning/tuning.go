package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	ChunkSize  int `yaml:"chunk_size"`

	Collision Collision `yaml:"collision"`

	// Objects are persisted every SaveEveryTicks; zero disables periodic saves.
	SaveEveryTicks int `yaml:"save_every_ticks"`

	Transport Transport `yaml:"transport"`

	// DebugSync logs provisional writes made without authority.
	DebugSync bool `yaml:"debug_sync"`
}

type Collision struct {
	Padding [3]float64 `yaml:"padding"`
	// Refreshes per second per object, and burst. Zero rate disables limiting.
	InvalidationRate  float64 `yaml:"invalidation_rate"`
	InvalidationBurst int     `yaml:"invalidation_burst"`
}

type Transport struct {
	// Compression is none, zstd or lz4.
	Compression string `yaml:"compression"`
	// ObserverQueue is the outgoing frame buffer per observer; a full queue
	// disconnects the observer.
	ObserverQueue int `yaml:"observer_queue"`
	// Interactions per second per observer, and burst.
	InteractRate  float64 `yaml:"interact_rate"`
	InteractBurst int     `yaml:"interact_burst"`
}

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		ChunkSize:       16,
		Collision: Collision{
			Padding:           [3]float64{0.1, 0, 0.1},
			InvalidationRate:  20,
			InvalidationBurst: 4,
		},
		SaveEveryTicks: 600,
		Transport: Transport{
			Compression:   CompressionZstd,
			ObserverQueue: 256,
			InteractRate:  10,
			InteractBurst: 20,
		},
	}
}

// Normalize fills zero values from Defaults and rejects values that cannot
// work.
func (t *Tuning) Normalize() error {
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = d.ChunkSize
	}
	if t.Collision.InvalidationRate < 0 {
		return fmt.Errorf("collision.invalidation_rate must be >= 0")
	}
	if t.Collision.InvalidationBurst <= 0 {
		t.Collision.InvalidationBurst = d.Collision.InvalidationBurst
	}
	if t.SaveEveryTicks < 0 {
		t.SaveEveryTicks = 0
	}
	switch t.Transport.Compression {
	case "":
		t.Transport.Compression = d.Transport.Compression
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		return fmt.Errorf("transport.compression: unknown %q", t.Transport.Compression)
	}
	if t.Transport.ObserverQueue <= 0 {
		t.Transport.ObserverQueue = d.Transport.ObserverQueue
	}
	if t.Transport.InteractRate <= 0 {
		t.Transport.InteractRate = d.Transport.InteractRate
	}
	if t.Transport.InteractBurst <= 0 {
		t.Transport.InteractBurst = d.Transport.InteractBurst
	}
	return nil
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Normalize(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
