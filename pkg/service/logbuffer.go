package service

import (
	"io"
	"os"
	"sync"
)

const defaultLogBufMax = 8192

// LogBuffer is a bounded in-memory sink for a service's captured stdout
// and stderr. A background reader drains the read end of an os.Pipe into
// the buffer; once the buffer reaches its cap, further output is read
// and discarded rather than blocking the writer. It implements
// io.Writer so the drain loop can use io.Copy instead of a hand-rolled
// read/append cycle.
type LogBuffer struct {
	mu     sync.Mutex
	buf    []byte
	bufMax int

	pipeR *os.File
	pipeW *os.File

	drained chan struct{}
	reading bool
}

// NewLogBuffer creates a LogBuffer capped at maxSize bytes.
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = defaultLogBufMax
	}
	return &LogBuffer{bufMax: maxSize}
}

// Write implements io.Writer, appending up to the remaining capacity and
// silently discarding the rest. It always reports the full length
// written so callers using io.Copy don't treat a full buffer as an error.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	if remaining := lb.bufMax - len(lb.buf); remaining > 0 {
		n := len(p)
		if n > remaining {
			n = remaining
		}
		lb.buf = append(lb.buf, p[:n]...)
	}
	lb.mu.Unlock()
	return len(p), nil
}

// CreatePipe opens the pipe backing this buffer and returns its write end,
// for passing to procrunner.ExecParams.OutputPipe. The caller must call
// CloseWriteEnd after the child has been started.
func (lb *LogBuffer) CreatePipe() (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	lb.pipeR, lb.pipeW = r, w
	return w, nil
}

// CloseWriteEnd closes the parent's copy of the pipe's write end. Without
// this the read side never sees EOF, since the child's copy alone won't
// close the pipe until it exits.
func (lb *LogBuffer) CloseWriteEnd() {
	if lb.pipeW != nil {
		lb.pipeW.Close()
		lb.pipeW = nil
	}
}

// StartReader launches the goroutine that drains the pipe into the buffer.
func (lb *LogBuffer) StartReader() {
	if lb.pipeR == nil {
		return
	}
	lb.drained = make(chan struct{})
	lb.reading = true
	go lb.drain()
}

func (lb *LogBuffer) drain() {
	defer func() {
		lb.pipeR.Close()
		lb.pipeR = nil
		lb.mu.Lock()
		lb.reading = false
		lb.mu.Unlock()
		close(lb.drained)
	}()

	io.Copy(lb, lb.pipeR)
}

// Bytes returns a copy of the buffer's current contents.
func (lb *LogBuffer) Bytes() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if len(lb.buf) == 0 {
		return nil
	}
	out := make([]byte, len(lb.buf))
	copy(out, lb.buf)
	return out
}

// TakeBytes returns the buffer's contents and empties it.
func (lb *LogBuffer) TakeBytes() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	out := lb.buf
	lb.buf = nil
	return out
}

// AppendRestartMarker appends a note that the service restarted, so a
// consumer reading the buffer can tell old output from new.
func (lb *LogBuffer) AppendRestartMarker() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if len(lb.buf) == 0 {
		return
	}
	msg := "(supervisor: service restarted)\n"
	if lb.buf[len(lb.buf)-1] != '\n' {
		msg = "\n" + msg
	}
	if remaining := lb.bufMax - len(lb.buf); remaining >= len(msg) {
		lb.buf = append(lb.buf, msg...)
	}
}

// Feed writes data directly into the buffer, bypassing the pipe. Used by
// tests that don't want to fork a real child process.
func (lb *LogBuffer) Feed(data []byte) {
	lb.Write(data)
}

// Close tears down the pipe and waits for the drain goroutine to exit.
func (lb *LogBuffer) Close() {
	lb.CloseWriteEnd()
	if lb.pipeR != nil {
		lb.pipeR.Close()
	}
	lb.mu.Lock()
	waiting := lb.reading
	drained := lb.drained
	lb.mu.Unlock()
	if waiting {
		<-drained
	}
}
