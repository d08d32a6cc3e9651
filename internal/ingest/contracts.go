package ingest

import (
	"fmt"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/logparse"
	"github.com/networkbuster/compositor/internal/model"
)

const (
	// ProcessorModeParse decodes JSON object lines into event payloads.
	ProcessorModeParse = "parse"
	// ProcessorModePassthrough forwards every line as plain content.
	ProcessorModePassthrough = "passthrough"
)

// SourceRegistry hands out source adapters by name. *compositor.Compositor
// satisfies it.
type SourceRegistry interface {
	RegisterSource(name string) *compositor.Source
}

// ProcessResult describes the event emitted for one input line.
type ProcessResult struct {
	Source string
	Kind   string
	Data   map[string]any
	Level  model.Level
}

// EnvelopeProcessor turns source-tagged input lines into compositor events.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.IngestEnvelope) *ProcessResult
}

// NewEnvelopeProcessor creates the processor for mode. Empty mode means parse.
func NewEnvelopeProcessor(mode string, reg SourceRegistry, classifier *logparse.Classifier, defaultSource string) (EnvelopeProcessor, error) {
	if classifier == nil {
		classifier = logparse.NewClassifier()
	}
	switch mode {
	case "", ProcessorModeParse:
		return NewProcessor(reg, classifier, defaultSource), nil
	case ProcessorModePassthrough:
		return NewPassthroughProcessor(reg, classifier, defaultSource), nil
	default:
		return nil, fmt.Errorf("ingest: unknown processor mode %q", mode)
	}
}

func emit(reg SourceRegistry, r *ProcessResult) {
	if reg == nil {
		return
	}
	reg.RegisterSource(r.Source).Emit(r.Kind, r.Data)
}
