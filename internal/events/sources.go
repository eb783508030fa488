package events

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shield-moderation/shield-go/internal/awsconf"
	"github.com/shield-moderation/shield-go/internal/registryfile"
)

const (
	// Supported source types.
	TypeSQS    = "sqs"
	TypePubSub = "pubsub"
	TypeFile   = "file"

	sqsDefaultWaitSeconds = 20
	sqsDefaultMaxMessages = 10
	sqsMaxMessagesLimit   = 10
)

type configFile struct {
	Sources []SourceConfig `json:"sources" yaml:"sources"`
}

// SourceConfig represents a single event source entry declared in config files.
type SourceConfig struct {
	ID      string              `json:"id" yaml:"id"`
	Type    string              `json:"type" yaml:"type"`
	Enabled *bool               `json:"enabled" yaml:"enabled"`
	SQS     *SQSSourceConfig    `json:"sqs" yaml:"sqs"`
	PubSub  *PubSubSourceConfig `json:"pubsub" yaml:"pubsub"`
	File    *FileSourceConfig   `json:"file" yaml:"file"`
}

// SQSSourceConfig holds AWS SQS long-poll settings.
type SQSSourceConfig struct {
	QueueURL    string `json:"uri" yaml:"uri"`
	WaitSeconds int32  `json:"wait_seconds" yaml:"wait_seconds"`
	MaxMessages int32  `json:"max_messages" yaml:"max_messages"`

	awsconf.Settings `yaml:",inline"`
}

// PubSubSourceConfig holds GCP Pub/Sub subscription settings.
type PubSubSourceConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Subscription    string `json:"subscription" yaml:"subscription"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// FileSourceConfig reads JSON-lines events from a file, or stdin when Path is "-".
type FileSourceConfig struct {
	Path string `json:"path" yaml:"path"`
}

// Registry materializes source definitions loaded from config files.
type Registry struct {
	mu      sync.RWMutex
	sources []SourceConfig
}

// LoadRegistry loads the sources registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	var parsed configFile
	if err := registryfile.Load(path, "sources", &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Sources) == 0 {
		return nil, errors.New("sources file contains no sources entries")
	}

	reg := &Registry{sources: make([]SourceConfig, 0, len(parsed.Sources))}
	seen := make(map[string]struct{}, len(parsed.Sources))
	for i := range parsed.Sources {
		cfg := sanitizeSourceConfig(parsed.Sources[i])
		if err := validateSourceConfig(cfg); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
		reg.sources = append(reg.sources, cfg)
	}
	return reg, nil
}

func sanitizeSourceConfig(cfg SourceConfig) SourceConfig {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.Enabled == nil {
		def := true
		cfg.Enabled = &def
	}
	if cfg.SQS != nil {
		c := *cfg.SQS
		c.QueueURL = strings.TrimSpace(c.QueueURL)
		c.Region = strings.TrimSpace(c.Region)
		if c.WaitSeconds <= 0 {
			c.WaitSeconds = sqsDefaultWaitSeconds
		}
		if c.MaxMessages <= 0 || c.MaxMessages > sqsMaxMessagesLimit {
			c.MaxMessages = sqsDefaultMaxMessages
		}
		cfg.SQS = &c
	}
	if cfg.PubSub != nil {
		c := *cfg.PubSub
		c.ProjectID = strings.TrimSpace(c.ProjectID)
		c.Subscription = strings.TrimSpace(c.Subscription)
		c.CredentialsFile = strings.TrimSpace(c.CredentialsFile)
		cfg.PubSub = &c
	}
	if cfg.File != nil {
		c := *cfg.File
		c.Path = strings.TrimSpace(c.Path)
		cfg.File = &c
	}
	return cfg
}

func validateSourceConfig(cfg SourceConfig) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	switch cfg.Type {
	case TypeSQS:
		if cfg.SQS == nil || cfg.SQS.QueueURL == "" {
			return fmt.Errorf("sqs.uri is required for source %q", cfg.ID)
		}
		if cfg.SQS.Region == "" {
			return fmt.Errorf("sqs.region is required for source %q", cfg.ID)
		}
	case TypePubSub:
		if cfg.PubSub == nil || cfg.PubSub.ProjectID == "" || cfg.PubSub.Subscription == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.subscription are required for source %q", cfg.ID)
		}
	case TypeFile:
		if cfg.File == nil || cfg.File.Path == "" {
			return fmt.Errorf("file.path is required for source %q", cfg.ID)
		}
	case "":
		return fmt.Errorf("type is required for source %q", cfg.ID)
	default:
		return fmt.Errorf("unsupported source type %q for source %q", cfg.Type, cfg.ID)
	}
	return nil
}

// All returns all configured sources.
func (r *Registry) All() []SourceConfig {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SourceConfig, len(r.sources))
	copy(out, r.sources)
	return out
}

// Enabled returns only sources that are enabled.
func (r *Registry) Enabled() []SourceConfig {
	var out []SourceConfig
	for _, cfg := range r.All() {
		if cfg.Enabled == nil || *cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}
