package bridge

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// writeLimit caps the payload of a single console_output event. It is
// conservative against readLimit because the JSON-encoded frame is larger
// than the raw payload.
const writeLimit = readLimit / 3

// sinkMode selects how process output reaches the originating session.
type sinkMode int

const (
	// streamIncremental forwards chunks as console_output events as soon as
	// the process writes them.
	streamIncremental sinkMode = iota
	// bufferUntilExit accumulates all output and delivers it when Flush is
	// called after the process exits.
	bufferUntilExit
)

// outputSink adapts a process output stream to console_output events on the
// session that dispatched the command. It sits directly on an exec.Cmd's
// Stdout or Stderr.
type outputSink struct {
	log  *zap.SugaredLogger
	sess *Session
	mode sinkMode

	mu  sync.Mutex
	buf bytes.Buffer
}

func newOutputSink(log *zap.SugaredLogger, sess *Session, mode sinkMode) *outputSink {
	return &outputSink{log: log.Named("sink"), sess: sess, mode: mode}
}

func (s *outputSink) Write(b []byte) (int, error) {
	if s.mode == bufferUntilExit {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.buf.Write(b)
	}
	if err := s.sendChunked(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Flush delivers buffered output. It is a no-op in incremental mode or when
// the process produced nothing on this stream.
func (s *outputSink) Flush() {
	if s.mode != bufferUntilExit {
		return
	}
	s.mu.Lock()
	out := s.buf.Bytes()
	s.buf = bytes.Buffer{}
	s.mu.Unlock()
	if len(out) == 0 {
		return
	}
	if err := s.sendChunked(out); err != nil {
		s.log.Debugf("error flushing buffered output to session %s: %s", s.sess.ID, err)
	}
}

// sendChunked breaks the payload into frames no larger than writeLimit so a
// single large read from the process can never exceed the reading client's
// message size limit.
func (s *outputSink) sendChunked(b []byte) error {
	leftToWrite := b
	for len(leftToWrite) > 0 {
		toWrite := leftToWrite
		if len(toWrite) > writeLimit {
			toWrite = toWrite[:writeLimit]
		}
		leftToWrite = leftToWrite[len(toWrite):]
		if err := s.sess.sendOutput(string(toWrite)); err != nil {
			return err
		}
	}
	return nil
}
