package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// QueryDefinition is one LDAP collection query. Base selects the naming
// context the query runs against: "pki" for the Public Key Services
// container, "default" for the default domain partition.
type QueryDefinition struct {
	Name       string   `yaml:"name"`
	Base       string   `yaml:"base"`
	Filter     string   `yaml:"filter"`
	Attributes []string `yaml:"attributes"`
	PageSize   int      `yaml:"page_size"`
}

// RuntimeOptions holds configurable runtime options loaded from the yaml
// config file.
type RuntimeOptions struct {
	mu sync.RWMutex

	Collection struct {
		Queries             []QueryDefinition `yaml:"queries"`
		LdapsToLdapFallback bool              `yaml:"ldaps_to_ldap_fallback"`
		CollectCAHosts      bool              `yaml:"collect_ca_hosts"`
	} `yaml:"collection"`

	Analysis struct {
		ExpandGroups         bool     `yaml:"expand_groups"`
		IncludeGroupFindings bool     `yaml:"include_group_findings"`
		StandardOwners       []string `yaml:"standard_owners"`
		LowPrivPatterns      []string `yaml:"low_priv_patterns"`
	} `yaml:"analysis"`

	Snapshot struct {
		WritePath string `yaml:"write_path"`
	} `yaml:"snapshot"`
}

// LoadOptions loads options from a YAML file, or returns defaults if the
// file doesn't exist.
func LoadOptions(configPath string) (*RuntimeOptions, error) {
	if configPath == "" {
		return FallbackOptions(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FallbackOptions(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	opts := FallbackOptions()
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return opts, nil
}

// SaveOptions saves current options to a YAML file.
func (opts *RuntimeOptions) SaveOptions(configPath string) error {
	opts.mu.RLock()
	defer opts.mu.RUnlock()

	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Thread-safe getters
func (opts *RuntimeOptions) GetQueries() []QueryDefinition {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	queries := make([]QueryDefinition, len(opts.Collection.Queries))
	copy(queries, opts.Collection.Queries)
	return queries
}

func (opts *RuntimeOptions) GetLdapsToLdapFallback() bool {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	return opts.Collection.LdapsToLdapFallback
}

func (opts *RuntimeOptions) GetCollectCAHosts() bool {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	return opts.Collection.CollectCAHosts
}

func (opts *RuntimeOptions) GetExpandGroups() bool {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	return opts.Analysis.ExpandGroups
}

func (opts *RuntimeOptions) GetIncludeGroupFindings() bool {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	return opts.Analysis.IncludeGroupFindings
}

func (opts *RuntimeOptions) GetStandardOwners() []string {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	owners := make([]string, len(opts.Analysis.StandardOwners))
	copy(owners, opts.Analysis.StandardOwners)
	return owners
}

func (opts *RuntimeOptions) GetLowPrivPatterns() []string {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	patterns := make([]string, len(opts.Analysis.LowPrivPatterns))
	copy(patterns, opts.Analysis.LowPrivPatterns)
	return patterns
}

func (opts *RuntimeOptions) GetSnapshotWritePath() string {
	opts.mu.RLock()
	defer opts.mu.RUnlock()
	return opts.Snapshot.WritePath
}

// Thread-safe setters
func (opts *RuntimeOptions) SetExpandGroups(enabled bool) {
	opts.mu.Lock()
	defer opts.mu.Unlock()
	opts.Analysis.ExpandGroups = enabled
}

func (opts *RuntimeOptions) SetIncludeGroupFindings(enabled bool) {
	opts.mu.Lock()
	defer opts.mu.Unlock()
	opts.Analysis.IncludeGroupFindings = enabled
}

func (opts *RuntimeOptions) SetSnapshotWritePath(path string) {
	opts.mu.Lock()
	defer opts.mu.Unlock()
	opts.Snapshot.WritePath = path
}
