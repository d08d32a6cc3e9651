package logparse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/networkbuster/compositor/internal/model"
	"gopkg.in/yaml.v3"
)

// KeywordGroup maps a set of case-insensitive substrings to a level.
type KeywordGroup struct {
	Level    model.Level `yaml:"level"`
	Keywords []string    `yaml:"keywords"`
}

// DefaultKeywordGroups are checked in order; error-class keywords win over
// warning, info and debug.
var DefaultKeywordGroups = []KeywordGroup{
	{Level: model.LevelError, Keywords: []string{"error", "err", "critical", "fatal", "exception", "fail"}},
	{Level: model.LevelWarning, Keywords: []string{"warning", "warn", "caution"}},
	{Level: model.LevelInfo, Keywords: []string{"info", "notice"}},
	{Level: model.LevelDebug, Keywords: []string{"debug", "trace"}},
}

// LogExtensions are the file extensions treated as log files.
var LogExtensions = map[string]struct{}{
	".log":    {},
	".txt":    {},
	".out":    {},
	".err":    {},
	".syslog": {},
}

// Classifier assigns a level to a line by ordered keyword groups.
type Classifier struct {
	groups []KeywordGroup
}

// NewClassifier creates a classifier. With no groups it uses DefaultKeywordGroups.
func NewClassifier(groups ...KeywordGroup) *Classifier {
	if len(groups) == 0 {
		groups = DefaultKeywordGroups
	}
	normalized := make([]KeywordGroup, 0, len(groups))
	for _, g := range groups {
		kw := make([]string, 0, len(g.Keywords))
		for _, k := range g.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				kw = append(kw, k)
			}
		}
		normalized = append(normalized, KeywordGroup{Level: g.Level, Keywords: kw})
	}
	return &Classifier{groups: normalized}
}

// Classify returns the level of the first group with a keyword contained in
// line, or LevelNone.
func (c *Classifier) Classify(line string) model.Level {
	lower := strings.ToLower(line)
	for _, g := range c.groups {
		for _, k := range g.Keywords {
			if strings.Contains(lower, k) {
				return g.Level
			}
		}
	}
	return model.LevelNone
}

// IsLogFile reports whether path looks like a log file by extension or name.
func IsLogFile(path string) bool {
	base := filepath.Base(path)
	if _, ok := LogExtensions[strings.ToLower(filepath.Ext(base))]; ok {
		return true
	}
	return strings.Contains(strings.ToLower(base), "log")
}

// ParseLevel converts a level name to a Level. Accepts the short forms used
// by most logging libraries.
func ParseLevel(name string) (model.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error", "err", "fatal", "critical":
		return model.LevelError, nil
	case "warning", "warn":
		return model.LevelWarning, nil
	case "info":
		return model.LevelInfo, nil
	case "debug", "trace":
		return model.LevelDebug, nil
	case "", "none":
		return model.LevelNone, nil
	default:
		return model.LevelNone, fmt.Errorf("logparse: unknown level %q", name)
	}
}

// LoadKeywordGroups reads ordered keyword groups from a YAML file:
//
//	- level: error
//	  keywords: [error, panic]
//	- level: warning
//	  keywords: [warn]
func LoadKeywordGroups(path string) ([]KeywordGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("logparse: read keyword groups: %w", err)
	}

	var raw []struct {
		Level    string   `yaml:"level"`
		Keywords []string `yaml:"keywords"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("logparse: parse keyword groups: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("logparse: keyword groups file is empty")
	}

	groups := make([]KeywordGroup, 0, len(raw))
	for _, r := range raw {
		level, err := ParseLevel(r.Level)
		if err != nil {
			return nil, err
		}
		if level == model.LevelNone {
			return nil, fmt.Errorf("logparse: group without level")
		}
		groups = append(groups, KeywordGroup{Level: level, Keywords: r.Keywords})
	}
	return groups, nil
}
