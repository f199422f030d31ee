package config

import (
	"fmt"
	"strings"
	"time"
)

// NormalizationResult captures adjustments and warnings from the normalization pass.
type NormalizationResult struct{ Warnings []string }

// NormalizeConfig canonicalizes enumerated fields and string lists before
// defaults are applied. It mutates c in place.
func NormalizeConfig(c *Config) (*NormalizationResult, error) {
	if c == nil {
		return nil, fmt.Errorf("config nil")
	}
	res := &NormalizationResult{}

	c.Logging.Level = normalizeEnum(res, "logging.level", c.Logging.Level, logLevelNormalizer.NormalizeWithError)
	c.Logging.Format = normalizeEnum(res, "logging.format", c.Logging.Format, logFormatNormalizer.NormalizeWithError)
	c.Menu.WriteBackoff = normalizeEnum(res, "menu.write_backoff", c.Menu.WriteBackoff, retryBackoffNormalizer.NormalizeWithError)
	if c.Menu.WriteRetries != nil && *c.Menu.WriteRetries < 0 {
		res.Warnings = append(res.Warnings, warnChanged("menu.write_retries", *c.Menu.WriteRetries, 0))
		*c.Menu.WriteRetries = 0
	}
	c.NATS.SubjectPrefix = strings.Trim(strings.TrimSpace(c.NATS.SubjectPrefix), ".")

	normalizeMenuOptions(res, "menu.defaults", &c.Menu.Defaults)
	normalizeMenuOptions(res, "master", &c.Master)
	for i := range c.Devices {
		d := &c.Devices[i]
		d.EntityID = strings.TrimSpace(d.EntityID)
		d.MediaPlayer = strings.TrimSpace(d.MediaPlayer)
		normalizeMenuOptions(res, fmt.Sprintf("devices[%d].menu", i), &d.Menu)
	}
	return res, nil
}

func normalizeMenuOptions(res *NormalizationResult, label string, m *MenuOptions) {
	if m.Mode != nil {
		mode := normalizeEnum(res, label+".menu_mode", *m.Mode, menuModeNormalizer.NormalizeWithError)
		m.Mode = &mode
	}
	if m.Items != nil {
		m.Items = trimStringSlice(res, label+".menu_items", m.Items)
	}
	if m.Timeout != nil && *m.Timeout < 0 {
		res.Warnings = append(res.Warnings, warnChanged(label+".menu_timeout", *m.Timeout, 0))
		var zero time.Duration
		m.Timeout = &zero
	}
}

// normalizeEnum canonicalizes v. Unknown values fall back to the
// normalizer's default with a warning.
func normalizeEnum[T ~string](res *NormalizationResult, field string, v T, norm func(string) (T, error)) T {
	if strings.TrimSpace(string(v)) == "" {
		return v
	}
	out, err := norm(string(v))
	if err != nil {
		def, _ := norm("")
		res.Warnings = append(res.Warnings, warnUnknown(field, string(v), string(def)))
		return def
	}
	if out != v {
		res.Warnings = append(res.Warnings, warnChanged(field, v, out))
	}
	return out
}

// trimStringSlice removes empty and duplicate entries, keeping order.
func trimStringSlice(res *NormalizationResult, label string, in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		t := strings.TrimSpace(v)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) != len(in) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("normalized %s list (%d -> %d entries)", label, len(in), len(out)))
	}
	return out
}

func warnChanged(field string, from, to any) string {
	return fmt.Sprintf("normalized %s from '%v' to '%v'", field, from, to)
}

func warnUnknown(field, value, def string) string {
	return fmt.Sprintf("unknown %s '%s', defaulting to %s", field, value, def)
}
