package engine

import (
	"bytes"
	"io"
	"sync"
)

// prefixWriter tags every line with its job name so interleaved output
// from parallel jobs stays attributable. Writes are line buffered: a
// line only reaches the underlying writer once its newline arrives,
// in a single write guarded by the shared mutex.
type prefixWriter struct {
	mu      *sync.Mutex
	w       io.Writer
	prefix  string
	pending []byte
}

func newPrefixWriter(w io.Writer, prefix string, mu *sync.Mutex) *prefixWriter {
	return &prefixWriter{w: w, prefix: prefix, mu: mu}
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.pending = append(p.pending, b...)
	for {
		idx := bytes.IndexByte(p.pending, '\n')
		if idx < 0 {
			return len(b), nil
		}
		if err := p.emit(p.pending[:idx+1]); err != nil {
			return len(b), err
		}
		p.pending = p.pending[idx+1:]
	}
}

// Flush writes any unterminated trailing line.
func (p *prefixWriter) Flush() {
	if len(p.pending) == 0 {
		return
	}
	line := append(p.pending, '\n')
	p.pending = nil
	_ = p.emit(line)
}

func (p *prefixWriter) emit(line []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return err
	}
	_, err := p.w.Write(line)
	return err
}
