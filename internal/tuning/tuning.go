package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Population shape.
	MaxRadius           float64 `yaml:"max_radius"`
	RadiusStep          float64 `yaml:"radius_step"`
	SpawnRadius         float64 `yaml:"spawn_radius"`
	MaxClientsPerCircle int     `yaml:"max_clients_per_circle"`

	// Velocity seed range handed to clients, per axis.
	VelocityMin float64 `yaml:"velocity_min"`
	VelocityMax float64 `yaml:"velocity_max"`

	// Per-connection outbound queue length.
	MaxQueue int `yaml:"max_queue"`
}

func Defaults() Tuning {
	return Tuning{
		MaxRadius:           0.1,
		RadiusStep:          0.01,
		SpawnRadius:         0.01,
		MaxClientsPerCircle: 10,
		VelocityMin:         0.001,
		VelocityMax:         0.004,
		MaxQueue:            16,
	}
}

// Load reads tuning.yaml on top of the defaults, so a partial file only
// overrides the keys it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
