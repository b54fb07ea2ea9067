package diag

// Level classifies a diagnostic's severity.
type Level string

const (
	// LevelWarning marks a recoverable problem. Evaluation continues.
	LevelWarning Level = "warning"

	// LevelFatal marks a problem that aborted evaluation of the file.
	LevelFatal Level = "fatal"
)

// Well-known source tags grouping diagnostics by origin subsystem.
const (
	SourceSandbox      = "sandbox"
	SourceGlobProvider = "glob-provider"
	SourceParse        = "parse"
)

// ExceptionInfo carries structured information about the error behind a
// fatal diagnostic, so the caller can render it without re-parsing text.
type ExceptionInfo struct {
	// Type is the error kind tag (see Kind).
	Type string `json:"type"`

	// Value is the error message.
	Value string `json:"value"`

	// Traceback holds the evaluation stack at the point of failure,
	// outermost frame first. Empty when no stack was available.
	Traceback []string `json:"traceback,omitempty"`
}

// Diagnostic is a single structured warning or error raised during
// evaluation of one build file.
type Diagnostic struct {
	Level     Level          `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Exception *ExceptionInfo `json:"exception,omitempty"`
}

// Collector accumulates diagnostics in the order they are raised.
// It never drops or reorders entries.
type Collector struct {
	entries []Diagnostic
}

// NewCollector returns a collector pre-seeded with the given diagnostics,
// typically carried over from an earlier stage by the caller.
func NewCollector(seed []Diagnostic) *Collector {
	c := &Collector{}
	c.entries = append(c.entries, seed...)
	return c
}

// Add appends a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.entries = append(c.entries, d)
}

// Warn appends a warning-level diagnostic with the given source tag.
func (c *Collector) Warn(source, message string) {
	c.Add(Diagnostic{Level: LevelWarning, Source: source, Message: message})
}

// Fatal appends a fatal diagnostic describing err under the given source tag.
func (c *Collector) Fatal(source string, err error, traceback []string) {
	c.Add(Diagnostic{
		Level:   LevelFatal,
		Source:  source,
		Message: err.Error(),
		Exception: &ExceptionInfo{
			Type:      string(KindOf(err)),
			Value:     err.Error(),
			Traceback: traceback,
		},
	})
}

// Len reports the number of collected diagnostics.
func (c *Collector) Len() int {
	return len(c.entries)
}

// List returns the collected diagnostics in order. The returned slice is a
// copy; mutating it does not affect the collector.
func (c *Collector) List() []Diagnostic {
	out := make([]Diagnostic, len(c.entries))
	copy(out, c.entries)
	return out
}
