// Package config loads task run specifications from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SupportedVersions lists all schema versions supported by this loader.
var SupportedVersions = []int{1}

// versionHeader is used to extract just the version from YAML.
type versionHeader struct {
	Version *int `yaml:"version"`
}

// Spec is the fully validated run configuration.
type Spec struct {
	Version int
	Task    string

	ToolTimeout       time.Duration
	MaxReplanAttempts int

	// Skill index gating; zero values select the built-in defaults.
	SimilarityThreshold float64
	MinSuccessRate      float64

	PlansDir      string
	SkillsFile    string
	KnowledgeFile string
	SnippetsDir   string

	// DriverCommand launches the UI automation bridge; the first element is
	// the binary, the rest are fixed arguments.
	DriverCommand []string

	ListenAddr   string
	SlackChannel *string
}

// Defaults applied when a v1 spec omits optional fields.
const (
	DefaultToolTimeout = 30 * time.Second
	DefaultPlansDir    = "plans"
	DefaultSkillsFile  = "skills.yaml"
	DefaultKnowledge   = "knowledge.yaml"
	DefaultListenAddr  = ":8321"
)

// Load parses a spec from YAML data with schema version validation.
func Load(data []byte) (*Spec, error) {
	var header versionHeader
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	if header.Version == nil {
		return nil, errors.New("version field is required")
	}

	switch *header.Version {
	case 1:
		return loadV1(data)
	default:
		return nil, fmt.Errorf("unsupported schema version: %d (supported: %v)", *header.Version, SupportedVersions)
	}
}

// LoadFile loads a spec from a YAML file path.
func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Load(data)
}

// specV1 is the on-disk representation for schema version 1.
type specV1 struct {
	Version int    `yaml:"version"`
	Task    string `yaml:"task"`

	ToolTimeout       string `yaml:"tool_timeout,omitempty"`
	MaxReplanAttempts int    `yaml:"max_replan_attempts,omitempty"`

	Skills struct {
		SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
		MinSuccessRate      float64 `yaml:"min_success_rate,omitempty"`
	} `yaml:"skills,omitempty"`

	Stores struct {
		PlansDir      string `yaml:"plans_dir,omitempty"`
		SkillsFile    string `yaml:"skills_file,omitempty"`
		KnowledgeFile string `yaml:"knowledge_file,omitempty"`
		SnippetsDir   string `yaml:"snippets_dir,omitempty"`
	} `yaml:"stores,omitempty"`

	Driver struct {
		Command []string `yaml:"command,omitempty"`
	} `yaml:"driver,omitempty"`

	ListenAddr   string `yaml:"listen_addr,omitempty"`
	SlackChannel string `yaml:"slack_channel,omitempty"`
}

func loadV1(data []byte) (*Spec, error) {
	var sv1 specV1
	if err := yaml.Unmarshal(data, &sv1); err != nil {
		return nil, fmt.Errorf("failed to parse spec v1: %w", err)
	}

	if sv1.Task == "" {
		return nil, errors.New("task field is required")
	}
	if sv1.MaxReplanAttempts < 0 {
		return nil, errors.New("max_replan_attempts cannot be negative")
	}
	if sv1.Skills.SimilarityThreshold < 0 || sv1.Skills.SimilarityThreshold > 1 {
		return nil, errors.New("skills.similarity_threshold must be within [0, 1]")
	}
	if sv1.Skills.MinSuccessRate < 0 || sv1.Skills.MinSuccessRate > 1 {
		return nil, errors.New("skills.min_success_rate must be within [0, 1]")
	}

	spec := &Spec{
		Version:             sv1.Version,
		Task:                sv1.Task,
		ToolTimeout:         DefaultToolTimeout,
		MaxReplanAttempts:   sv1.MaxReplanAttempts,
		SimilarityThreshold: sv1.Skills.SimilarityThreshold,
		MinSuccessRate:      sv1.Skills.MinSuccessRate,
		PlansDir:            sv1.Stores.PlansDir,
		SkillsFile:          sv1.Stores.SkillsFile,
		KnowledgeFile:       sv1.Stores.KnowledgeFile,
		SnippetsDir:         sv1.Stores.SnippetsDir,
		DriverCommand:       sv1.Driver.Command,
		ListenAddr:          sv1.ListenAddr,
	}

	if sv1.ToolTimeout != "" {
		d, err := time.ParseDuration(sv1.ToolTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid tool_timeout: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("tool_timeout must be positive")
		}
		spec.ToolTimeout = d
	}

	if spec.PlansDir == "" {
		spec.PlansDir = DefaultPlansDir
	}
	if spec.SkillsFile == "" {
		spec.SkillsFile = DefaultSkillsFile
	}
	if spec.KnowledgeFile == "" {
		spec.KnowledgeFile = DefaultKnowledge
	}
	if spec.ListenAddr == "" {
		spec.ListenAddr = DefaultListenAddr
	}
	if sv1.SlackChannel != "" {
		spec.SlackChannel = &sv1.SlackChannel
	}

	return spec, nil
}
