package model

// IngestEnvelope carries one raw line with the name of the input it came from.
// It is the transport contract between line inputs and the ingest processor.
type IngestEnvelope struct {
	Source string
	Line   string
}
