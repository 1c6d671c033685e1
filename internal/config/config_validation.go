package config

import (
	"errors"
	"fmt"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/John-Robertt/clashrules/internal/fetch"
)

var (
	errNoUpstream   = errors.New("[Relay] Upstream must be set to an absolute http(s) URL")
	errNoCategories = errors.New("no [Category] sections are configured")
)

// ValidateRelay checks the settings rulerelay depends on.
func ValidateRelay(c *Config) error {
	var errs []error
	if !c.Relay.Upstream.IsDefined() {
		errs = append(errs, errNoUpstream)
	} else if u := c.Relay.Upstream.Get(); u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("[Relay] Upstream %q must use http or https", c.Relay.Upstream.String()))
	}
	if strings.TrimSpace(c.Relay.Listen) == "" {
		c.Relay.Listen = DefaultListen
	}
	for _, h := range c.Relay.ResponseHeader {
		if _, _, err := ParseHeaderLine(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateMerge checks the settings rulemerge depends on. Problems that do not
// prevent a run are logged as warnings.
func ValidateMerge(c *Config, loggers ldlog.Loggers) error {
	var errs []error
	if strings.TrimSpace(c.Merge.OutputDir) == "" {
		c.Merge.OutputDir = DefaultOutputDir
	}

	cats := c.Categories()
	if len(cats) == 0 {
		errs = append(errs, errNoCategories)
	}

	outputs := make(map[string]string)
	for _, nc := range cats {
		if _, err := nc.ResolvedFormat(); err != nil {
			errs = append(errs, fmt.Errorf("[Category %q] %w", nc.Name, err))
			continue
		}
		out, _ := nc.ResolvedOutput()
		if strings.ContainsAny(out, "/\\") || out == "." || out == ".." {
			errs = append(errs, fmt.Errorf("[Category %q] Output %q must be a plain file name", nc.Name, out))
		}
		key := strings.ToLower(out)
		if prev, ok := outputs[key]; ok {
			errs = append(errs, fmt.Errorf("[Category %q] Output %q is also used by category %q", nc.Name, out, prev))
		}
		outputs[key] = nc.Name

		if nc.Custom == "" && len(nc.Source) == 0 {
			loggers.Warnf("Category %q has neither Custom nor Source; its output will be empty", nc.Name)
		}
		if nc.Custom != "" && fetch.IsRemote(nc.Custom) {
			errs = append(errs, fmt.Errorf("[Category %q] Custom must be a local file, got URL %q", nc.Name, nc.Custom))
		}
	}

	for _, m := range c.Mirrors() {
		if filepath.Base(m.File) != m.File {
			errs = append(errs, fmt.Errorf("[Mirror %q] name must be a plain file name", m.File))
		}
		if prev, ok := outputs[strings.ToLower(m.File)]; ok {
			errs = append(errs, fmt.Errorf("[Mirror %q] collides with output of category %q", m.File, prev))
		}
	}
	for file, mc := range c.Mirror {
		if mc == nil || !mc.URL.IsDefined() {
			errs = append(errs, fmt.Errorf("[Mirror %q] URL must be set", file))
		}
	}

	return errors.Join(errs...)
}

// ParseHeaderLine splits "Name: value" into a canonical header name and value.
func ParseHeaderLine(line string) (string, string, error) {
	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return "", "", fmt.Errorf("[Relay] ResponseHeader %q must have the form \"Name: value\"", line)
	}
	return textproto.CanonicalMIMEHeaderKey(name), strings.TrimSpace(value), nil
}
