package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Stream  StreamConfig  `yaml:"stream"`
	Uploads UploadsConfig `yaml:"uploads"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// EngineConfig describes how the external analysis engine is invoked and
// supervised.
type EngineConfig struct {
	Command        string        `yaml:"command"`         // engine binary; receives the job file as its only argument
	RunTimeout     time.Duration `yaml:"run_timeout"`     // hard deadline for a single run
	SampleInterval time.Duration `yaml:"sample_interval"` // child CPU/RSS sampling period, 0 disables
}

// StreamConfig tunes output classification and observer delivery. The dedup
// threshold and marker lists are deployment-tuned, not contracts.
type StreamConfig struct {
	DedupThreshold    int           `yaml:"dedup_threshold"`
	ProgressMarkers   []string      `yaml:"progress_markers"`
	SystemMarkers     []string      `yaml:"system_markers"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type UploadsConfig struct {
	Dir               string   `yaml:"dir"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8000,
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			Command:        "fiscalyze-engine",
			RunTimeout:     30 * time.Minute,
			SampleInterval: 15 * time.Second,
		},
		Stream: StreamConfig{
			DedupThreshold: 50,
			ProgressMarkers: []string{
				"Agent", "Working Agent", "Task", "Tool", "Action:",
				"Observation:", "Thought:",
				"🔄", "🚀", "✅", "❌", "⚠️", "📊", "🧠", "💡",
			},
			SystemMarkers: []string{
				"[engine]", "Initiating", "Starting", "Completed",
				"Error", "Warning",
			},
			SendTimeout:       5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Uploads: UploadsConfig{
			Dir:               "uploads",
			AllowedExtensions: []string{".zip", ".csv", ".xlsx", ".xls"},
		},
	}
}

// Load reads the YAML config at path over the coded defaults. A missing file
// is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
