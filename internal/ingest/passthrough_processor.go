package ingest

import (
	"sync/atomic"

	"github.com/networkbuster/compositor/internal/logparse"
	"github.com/networkbuster/compositor/internal/model"
)

// PassthroughProcessor skips JSON decoding entirely. Each line is emitted
// as {content, level} under the envelope's source.
type PassthroughProcessor struct {
	reg        SourceRegistry
	classifier *logparse.Classifier
	fallback   atomic.Pointer[string]
}

// NewPassthroughProcessor tags untagged lines with sourceName.
func NewPassthroughProcessor(reg SourceRegistry, classifier *logparse.Classifier, sourceName string) *PassthroughProcessor {
	if classifier == nil {
		classifier = logparse.NewClassifier()
	}
	p := &PassthroughProcessor{reg: reg, classifier: classifier}
	p.SetSourceName(sourceName)
	return p
}

func (p *PassthroughProcessor) Name() string { return ProcessorModePassthrough }

// ProcessEnvelope classifies and emits one line. Empty lines yield nil.
func (p *PassthroughProcessor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	if env.Line == "" {
		return nil
	}
	if env.Source == "" {
		env.Source = *p.fallback.Load()
	}

	level := p.classifier.Classify(env.Line)
	res := &ProcessResult{
		Source: env.Source,
		Kind:   KindForLevel(level),
		Level:  level,
		Data: map[string]any{
			"content": Truncate(sanitizeLogMessage(env.Line), MaxContentLength),
			"level":   levelValue(level),
		},
	}
	emit(p.reg, res)
	return res
}

// SetSourceName changes the source used for untagged lines.
func (p *PassthroughProcessor) SetSourceName(name string) {
	p.fallback.Store(&name)
}
