package nightly

import (
	"bytes"
	"io"
	"sync"
)

// lockedWriter serializes writes of concurrent cells to one destination
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLockedWriter(w io.Writer) io.Writer {
	if w == nil {
		return nil
	}
	if lw, ok := w.(*lockedWriter); ok {
		return lw
	}
	return &lockedWriter{w: w}
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// lineWriter prefixes every complete line with the cell name
type lineWriter struct {
	mu     sync.Mutex
	dst    io.Writer
	prefix []byte
	buf    bytes.Buffer
}

func newLineWriter(dst io.Writer, prefix string) *lineWriter {
	return &lineWriter{dst: dst, prefix: []byte(prefix)}
}

// Writer returns nil when there is no destination so actions can discard output
func (w *lineWriter) Writer() io.Writer {
	if w.dst == nil {
		return nil
	}
	return w
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			return len(p), nil
		}
		line := append(append([]byte{}, w.prefix...), w.buf.Next(i+1)...)
		if _, err := w.dst.Write(line); err != nil {
			return len(p), err
		}
	}
}

// Flush writes a trailing partial line
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dst == nil || w.buf.Len() == 0 {
		return
	}
	line := append(append([]byte{}, w.prefix...), w.buf.Bytes()...)
	_, _ = w.dst.Write(append(line, '\n'))
	w.buf.Reset()
}
