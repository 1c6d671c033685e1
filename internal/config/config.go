// Package config describes the configuration shared by rulerelay and rulemerge.
//
// Configuration is read from an INI-style file (see LoadConfigFile) and then
// overridden by environment variables (see LoadConfigFromEnvironment). Both
// binaries read the same file; each one validates only the sections it uses.
package config

import (
	"path"
	"sort"
	"strings"
	"time"

	ct "github.com/launchdarkly/go-configtypes"

	"github.com/John-Robertt/clashrules/internal/rules"
)

const (
	// DefaultListen is the relay listen address if Relay.Listen is not set.
	DefaultListen = "127.0.0.1:8080"

	// DefaultOutputDir is where merged rule files go if Merge.OutputDir is not set.
	DefaultOutputDir = "rules/merged"

	// DefaultFetchTimeout bounds each remote source fetch.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultConcurrency is the number of categories merged in parallel.
	DefaultConcurrency = 4

	// DefaultRelayMaxRedirects is how many upstream redirects the relay follows.
	DefaultRelayMaxRedirects = 10
)

// Config describes the configuration for both binaries.
//
// If you are configuring programmatically, start from DefaultConfig().
type Config struct {
	Main     MainConfig
	Relay    RelayConfig
	Merge    MergeConfig
	Category map[string]*CategoryConfig
	Mirror   map[string]*MirrorConfig
}

// MainConfig corresponds to the [Main] section.
type MainConfig struct {
	LogLevel OptLogLevel `conf:"LOG_LEVEL"`
}

// RelayConfig corresponds to the [Relay] section.
type RelayConfig struct {
	Listen       string                   `conf:"RELAY_LISTEN"`
	Upstream     ct.OptURLAbsolute        `conf:"RELAY_UPSTREAM"`
	AllowCORS    bool                     `conf:"RELAY_ALLOW_CORS"`
	Timeout      ct.OptDuration           `conf:"RELAY_TIMEOUT"`
	MaxRedirects ct.OptIntGreaterThanZero `conf:"RELAY_MAX_REDIRECTS"`

	// ResponseHeader entries have the form "Name: value". File only.
	ResponseHeader []string
}

// MergeConfig corresponds to the [Merge] section.
type MergeConfig struct {
	OutputDir          string                   `conf:"MERGE_OUTPUT_DIR"`
	FetchTimeout       ct.OptDuration           `conf:"MERGE_FETCH_TIMEOUT"`
	Concurrency        ct.OptIntGreaterThanZero `conf:"MERGE_CONCURRENCY"`
	AbortOnSourceError bool                     `conf:"MERGE_ABORT_ON_SOURCE_ERROR"`
}

// CategoryConfig corresponds to a [Category "name"] section.
//
// Custom is the user-authored rule file whose entries come first. Each Source
// is either an http(s) URL or a local path. Output defaults to the category
// name plus the extension of Format.
type CategoryConfig struct {
	Custom string
	Source []string
	Output string
	Format string
}

// MirrorConfig corresponds to a [Mirror "file name"] section: a remote file
// copied verbatim into the output directory.
type MirrorConfig struct {
	URL ct.OptURLAbsolute
}

// DefaultConfig returns a Config with every defaultable field unset, so the
// Get/OrElse accessors below supply the defaults.
func DefaultConfig() Config {
	return Config{
		Relay: RelayConfig{Listen: DefaultListen},
		Merge: MergeConfig{OutputDir: DefaultOutputDir},
	}
}

// NamedCategory pairs a category name with its configuration.
type NamedCategory struct {
	Name string
	CategoryConfig
}

// Categories returns the configured categories sorted by name.
func (c Config) Categories() []NamedCategory {
	out := make([]NamedCategory, 0, len(c.Category))
	for name, cc := range c.Category {
		if cc == nil {
			continue
		}
		out = append(out, NamedCategory{Name: name, CategoryConfig: *cc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NamedMirror pairs an output file name with the URL it is copied from.
type NamedMirror struct {
	File string
	URL  string
}

// Mirrors returns the configured mirrors sorted by file name.
func (c Config) Mirrors() []NamedMirror {
	out := make([]NamedMirror, 0, len(c.Mirror))
	for file, mc := range c.Mirror {
		if mc == nil || !mc.URL.IsDefined() {
			continue
		}
		out = append(out, NamedMirror{File: file, URL: mc.URL.String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// ResolvedFormat returns the output format: Format if set, otherwise derived
// from the Output extension, otherwise yaml.
func (cc CategoryConfig) ResolvedFormat() (rules.Format, error) {
	if strings.TrimSpace(cc.Format) != "" {
		return rules.ParseFormat(cc.Format)
	}
	switch strings.ToLower(path.Ext(cc.Output)) {
	case ".list", ".txt", ".conf":
		return rules.FormatText, nil
	default:
		return rules.FormatYAML, nil
	}
}

// ResolvedOutput returns the output file name relative to Merge.OutputDir.
func (nc NamedCategory) ResolvedOutput() (string, error) {
	if nc.Output != "" {
		return nc.Output, nil
	}
	format, err := nc.ResolvedFormat()
	if err != nil {
		return "", err
	}
	if format == rules.FormatText {
		return nc.Name + ".list", nil
	}
	return nc.Name + ".yaml", nil
}
