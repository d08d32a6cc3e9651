package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/networkbuster/compositor/internal/logparse"
	"github.com/networkbuster/compositor/internal/model"
)

// MaxContentLength bounds the content field of forwarded log entries.
const MaxContentLength = 100

var (
	messageKeys = []string{"message", "msg", "body", "log", "text"}
	levelKeys   = []string{"level", "severity", "severityText", "lvl", "loglevel"}
	kindKeys    = []string{"event_type", "type", "kind"}
)

// ParseJSONObject decodes a line holding a single JSON object. Arrays,
// scalars and invalid JSON report false.
func ParseJSONObject(line string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, false
	}
	return raw, true
}

// ExtractStringField returns the first non-empty string value found among the given keys.
func ExtractStringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if str := stringifyJSONValue(v); str != "" {
				return str
			}
		}
	}
	return ""
}

// ExtractMessage returns the human-readable text of a JSON log object.
func ExtractMessage(raw map[string]any) string {
	return sanitizeLogMessage(ExtractStringField(raw, messageKeys...))
}

// ExtractKind returns an explicit event kind carried by a JSON object.
func ExtractKind(raw map[string]any) string {
	return ExtractStringField(raw, kindKeys...)
}

// ExtractLevel maps an explicit level field to a model level. Numeric
// levels follow the pino/bunyan scale. Unknown values report false.
func ExtractLevel(raw map[string]any) (model.Level, bool) {
	for _, k := range levelKeys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		if n, ok := v.(float64); ok {
			return levelFromNumber(int(n)), true
		}
		s := strings.ToLower(strings.TrimSpace(stringifyJSONValue(v)))
		if s == "" {
			continue
		}
		if lvl, err := logparse.ParseLevel(s); err == nil {
			return lvl, true
		}
		switch s {
		case "crit", "panic", "emerg", "alert":
			return model.LevelError, true
		case "notice":
			return model.LevelInfo, true
		}
	}
	return model.LevelNone, false
}

func levelFromNumber(n int) model.Level {
	switch {
	case n >= 50:
		return model.LevelError
	case n >= 40:
		return model.LevelWarning
	case n >= 30:
		return model.LevelInfo
	case n > 0:
		return model.LevelDebug
	default:
		return model.LevelNone
	}
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// KindForLevel returns the event kind used for classified log lines.
func KindForLevel(level model.Level) string {
	if level == model.LevelError {
		return model.KindLogError
	}
	return model.KindLogEntry
}

// levelValue is the payload representation of a level; unset becomes null.
func levelValue(level model.Level) any {
	if level == model.LevelNone {
		return nil
	}
	return string(level)
}

func stringifyJSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, bool:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}

func sanitizeLogMessage(message string) string {
	clean := strings.ReplaceAll(message, "\t", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	clean = strings.ReplaceAll(clean, "\r", " ")
	return clean
}
