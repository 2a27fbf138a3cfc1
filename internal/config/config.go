package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DockerConfig controls the Docker driver, in particular how Bay reaches
// the runtime HTTP server inside a container:
//
//   - container_network: dial the container IP on the configured network
//     (Bay must share that network)
//   - host_port: dial the published host port on host_address
//   - auto: try container_network first, fall back to host_port
type DockerConfig struct {
	Socket       string `yaml:"socket"`
	Network      string `yaml:"network"`
	ConnectMode  string `yaml:"connect_mode"`
	HostAddress  string `yaml:"host_address"`
	PublishPorts bool   `yaml:"publish_ports"`
	HostPort     int    `yaml:"host_port"` // 0 = engine-assigned
}

// Profile is a named bundle of image, resource limits, capabilities and
// runtime wiring. Memory is human-readable ("1g", "512m").
type Profile struct {
	ID           string            `yaml:"id"`
	Image        string            `yaml:"image"`
	RuntimeType  string            `yaml:"runtime_type"`
	RuntimePort  int               `yaml:"runtime_port"`
	CPUs         float64           `yaml:"cpus"`
	Memory       string            `yaml:"memory"`
	PidsLimit    int               `yaml:"pids_limit"`
	Capabilities []string          `yaml:"capabilities"`
	IdleTimeout  int               `yaml:"idle_timeout"` // seconds
	Env          map[string]string `yaml:"env"`
}

// HasCapability reports whether the profile advertises the capability.
func (p *Profile) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

type IdempotencyConfig struct {
	Enabled  bool `yaml:"enabled"`
	TTLHours int  `yaml:"ttl_hours"`
}

type ReaperConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

type Config struct {
	Listen      string            `yaml:"listen"`
	APIKey      string            `yaml:"api_key"`
	DBPath      string            `yaml:"db_path"`
	Docker      DockerConfig      `yaml:"docker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Reaper      ReaperConfig      `yaml:"reaper"`
	Profiles    []Profile         `yaml:"profiles"`
}

// Profile returns the profile with the given id, or nil.
func (c *Config) Profile(id string) *Profile {
	for i := range c.Profiles {
		if c.Profiles[i].ID == id {
			return &c.Profiles[i]
		}
	}
	return nil
}

func defaultProfiles() []Profile {
	return []Profile{
		{
			ID:           "python-default",
			Image:        "ship:latest",
			RuntimeType:  "ship",
			RuntimePort:  8123,
			CPUs:         1.0,
			Memory:       "1g",
			PidsLimit:    256,
			Capabilities: []string{"filesystem", "shell", "python"},
			IdleTimeout:  1800,
		},
		{
			ID:           "python-data",
			Image:        "ship:data",
			RuntimeType:  "ship",
			RuntimePort:  8123,
			CPUs:         2.0,
			Memory:       "4g",
			PidsLimit:    256,
			Capabilities: []string{"filesystem", "shell", "python"},
			IdleTimeout:  1800,
		},
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen: "127.0.0.1:8000",
		DBPath: "./bay.db",
		Docker: DockerConfig{
			Socket:       "unix:///var/run/docker.sock",
			ConnectMode:  "auto",
			HostAddress:  "127.0.0.1",
			PublishPorts: true,
		},
		Idempotency: IdempotencyConfig{
			Enabled:  true,
			TTLHours: 1,
		},
		Reaper: ReaperConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if len(cfg.Profiles) == 0 {
		cfg.Profiles = defaultProfiles()
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Docker.ConnectMode {
	case "container_network", "host_port", "auto":
	default:
		return fmt.Errorf("invalid docker.connect_mode: %q", cfg.Docker.ConnectMode)
	}
	for i := range cfg.Profiles {
		p := &cfg.Profiles[i]
		if p.ID == "" {
			return fmt.Errorf("profile %d: id is required", i)
		}
		if p.RuntimeType == "" {
			p.RuntimeType = "ship"
		}
		if p.RuntimePort <= 0 {
			p.RuntimePort = 8123
		}
		if p.IdleTimeout <= 0 {
			p.IdleTimeout = 1800
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BAY_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("BAY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("BAY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BAY_DOCKER_SOCKET"); v != "" {
		cfg.Docker.Socket = v
	}
	if v := os.Getenv("BAY_DOCKER_NETWORK"); v != "" {
		cfg.Docker.Network = v
	}
	if v := os.Getenv("BAY_DOCKER_CONNECT_MODE"); v != "" {
		cfg.Docker.ConnectMode = v
	}
	if v := os.Getenv("BAY_DOCKER_HOST_ADDRESS"); v != "" {
		cfg.Docker.HostAddress = v
	}
	if v := os.Getenv("BAY_DOCKER_PUBLISH_PORTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Docker.PublishPorts = b
		}
	}
	if v := os.Getenv("BAY_DOCKER_HOST_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Docker.HostPort = n
		}
	}
	if v := os.Getenv("BAY_IDEMPOTENCY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Idempotency.Enabled = b
		}
	}
	if v := os.Getenv("BAY_IDEMPOTENCY_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Idempotency.TTLHours = n
		}
	}
	if v := os.Getenv("BAY_REAPER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reaper.IntervalSeconds = n
		}
	}
	if v := os.Getenv("BAY_PROFILE_IMAGES"); v != "" {
		// "profile-id=image,profile-id=image" — pin images without editing
		// the config file.
		for _, pair := range strings.Split(v, ",") {
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			if p := cfg.Profile(strings.TrimSpace(k)); p != nil {
				p.Image = strings.TrimSpace(val)
			}
		}
	}
}
