package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bax-receiver/internal/bax"
	"bax-receiver/internal/devicestore"
	"bax-receiver/internal/framing"
	"bax-receiver/internal/receiver"
)

// Config is the YAML configuration file.
type Config struct {
	Source struct {
		Type     string `yaml:"type"`     // serial, file or udp
		Path     string `yaml:"path"`     // file source; "-" is stdin
		Encoding string `yaml:"encoding"` // file source framing
		Format   string `yaml:"format"`   // file source: units or events
	} `yaml:"source"`
	Serial struct {
		Port       string `yaml:"port"`
		Baud       int    `yaml:"baud"`
		Encoding   string `yaml:"encoding"`
		InitScript string `yaml:"init_script"`
	} `yaml:"serial"`
	Gateway struct {
		Address          string `yaml:"address"`
		MAC              string `yaml:"mac"`
		Username         string `yaml:"username"`
		Password         string `yaml:"password"`
		Lease            uint32 `yaml:"lease"`
		NextSession      uint32 `yaml:"next_session"`
		DiscoveryTimeout string `yaml:"discovery_timeout"`
	} `yaml:"gateway"`
	Receiver struct {
		Filter         string `yaml:"filter"`
		Links          string `yaml:"links"`
		InfoFile       string `yaml:"info_file"`
		Subnet         uint16 `yaml:"subnet"`
		SubnetMask     uint16 `yaml:"subnet_mask"`
		Capacity       *int   `yaml:"capacity"` // 0 disables decryption
		History        *int   `yaml:"history"`
		HealthInterval string `yaml:"health_interval"`
	} `yaml:"receiver"`
	Output struct {
		Path     string `yaml:"path"` // "-" is stdout, empty disables
		Encoding string `yaml:"encoding"`
	} `yaml:"output"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
		SubjectPrefix string `yaml:"subject_prefix"`
		ReconnectWait string `yaml:"reconnect_wait"`
		MaxReconnects int    `yaml:"max_reconnects"`
	} `yaml:"nats"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

// settings holds the parsed forms of the string valued options.
type settings struct {
	filter           bax.Filter
	links            receiver.Links
	fileEncoding     framing.Encoding
	fileFormat       receiver.Format
	serialEncoding   framing.Encoding
	outputEncoding   framing.Encoding
	healthInterval   time.Duration
	discoveryTimeout time.Duration
	reconnectWait    time.Duration
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "serial"
	}
	if cfg.Source.Encoding == "" {
		cfg.Source.Encoding = "raw"
	}
	if cfg.Source.Format == "" {
		cfg.Source.Format = "units"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.Encoding == "" {
		cfg.Serial.Encoding = "hex"
	}
	if cfg.Receiver.Filter == "" {
		cfg.Receiver.Filter = "PNDER"
	}
	if cfg.Receiver.Links == "" {
		cfg.Receiver.Links = "FPA"
	}
	if cfg.Receiver.Capacity == nil {
		n := devicestore.DefaultCapacity
		cfg.Receiver.Capacity = &n
	}
	if cfg.Receiver.History == nil {
		n := devicestore.DefaultHistory
		cfg.Receiver.History = &n
	}
	if cfg.Receiver.HealthInterval == "" {
		cfg.Receiver.HealthInterval = receiver.DefaultHealthInterval.String()
	}
	if cfg.Output.Encoding == "" {
		cfg.Output.Encoding = "hex"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "bax-receiver.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "bax"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = -1
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "bax"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	return &cfg, nil
}

func (c *Config) validate() (*settings, error) {
	var s settings
	var err error

	switch c.Source.Type {
	case "serial":
		if c.Serial.Port == "" {
			return nil, fmt.Errorf("serial.port is required for the serial source")
		}
	case "file":
		if c.Source.Path == "" {
			return nil, fmt.Errorf("source.path is required for the file source")
		}
	case "udp":
	default:
		return nil, fmt.Errorf("source.type must be serial, file or udp, got %q", c.Source.Type)
	}

	if *c.Receiver.Capacity < 0 || *c.Receiver.History < 0 {
		return nil, fmt.Errorf("receiver.capacity and receiver.history must not be negative")
	}
	if s.filter, err = bax.ParseFilter(c.Receiver.Filter); err != nil {
		return nil, fmt.Errorf("receiver.filter: %w", err)
	}
	if s.links, err = receiver.ParseLinks(c.Receiver.Links); err != nil {
		return nil, fmt.Errorf("receiver.links: %w", err)
	}
	if s.fileEncoding, err = framing.ParseEncoding(c.Source.Encoding); err != nil {
		return nil, fmt.Errorf("source.encoding: %w", err)
	}
	if s.fileFormat, err = receiver.ParseFormat(c.Source.Format); err != nil {
		return nil, fmt.Errorf("source.format: %w", err)
	}
	if s.serialEncoding, err = framing.ParseEncoding(c.Serial.Encoding); err != nil {
		return nil, fmt.Errorf("serial.encoding: %w", err)
	}
	if s.serialEncoding == framing.EncodingRaw {
		return nil, fmt.Errorf("serial.encoding must be hex or slip")
	}
	if s.outputEncoding, err = framing.ParseEncoding(c.Output.Encoding); err != nil {
		return nil, fmt.Errorf("output.encoding: %w", err)
	}
	if s.healthInterval, err = time.ParseDuration(c.Receiver.HealthInterval); err != nil {
		return nil, fmt.Errorf("receiver.health_interval: %w", err)
	}
	if c.Gateway.DiscoveryTimeout != "" {
		if s.discoveryTimeout, err = time.ParseDuration(c.Gateway.DiscoveryTimeout); err != nil {
			return nil, fmt.Errorf("gateway.discovery_timeout: %w", err)
		}
	}
	if c.NATS.ReconnectWait != "" {
		if s.reconnectWait, err = time.ParseDuration(c.NATS.ReconnectWait); err != nil {
			return nil, fmt.Errorf("nats.reconnect_wait: %w", err)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return nil, fmt.Errorf("nats.url is required when nats is enabled")
	}
	return &s, nil
}
