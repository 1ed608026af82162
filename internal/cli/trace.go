package cli

import (
	"fmt"
	"io"
	"sync"
)

// traceSink is a metrics.Sink that prints every counter and
// observation to a writer as it happens — the "tail dispatch trace"
// operator view. Unlike metrics.Counting it keeps nothing in memory;
// it exists purely to stream, not to be queried afterward.
type traceSink struct {
	mu sync.Mutex
	w  io.Writer
}

func newTraceSink(w io.Writer) *traceSink { return &traceSink{w: w} }

func (s *traceSink) Counter(name string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "counter %s %v\n", name, labels)
}

func (s *traceSink) Observe(name string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "observe %s=%v %v\n", name, value, labels)
}
