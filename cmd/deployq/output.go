package main

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// outputMux interleaves the output of concurrently running jobs line by
// line, prefixing each line with the job ID.
type outputMux struct {
	mu      sync.Mutex
	dst     io.Writer
	writers []*jobWriter
}

func newOutputMux(dst io.Writer) *outputMux {
	return &outputMux{dst: dst}
}

func (m *outputMux) writer(id int64) *jobWriter {
	w := &jobWriter{mux: m, prefix: fmt.Sprintf("[%d] ", id)}
	m.mu.Lock()
	m.writers = append(m.writers, w)
	m.mu.Unlock()
	return w
}

// flush writes out trailing partial lines.
func (m *outputMux) flush() {
	m.mu.Lock()
	writers := m.writers
	m.mu.Unlock()
	for _, w := range writers {
		w.flush()
	}
}

func (m *outputMux) emit(prefix string, line []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintf(m.dst, "%s%s", prefix, line)
}

// jobWriter buffers a partial line until its newline arrives. os/exec calls
// Write from one goroutine at a time when stdout and stderr share a writer.
type jobWriter struct {
	mux    *outputMux
	prefix string

	mu  sync.Mutex
	buf []byte
}

func (w *jobWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.mux.emit(w.prefix, w.buf[:i+1])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *jobWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.mux.emit(w.prefix, append(w.buf, '\n'))
		w.buf = nil
	}
}
