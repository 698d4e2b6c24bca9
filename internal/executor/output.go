package executor

import (
	"bytes"
	"log/slog"
	"sync"
)

// lineLogger is an io.Writer that emits each complete output line as a log
// record. Stdout and stderr share one instance, hence the mutex.
type lineLogger struct {
	mu     sync.Mutex
	logger *slog.Logger
	buf    bytes.Buffer
}

func newLineLogger(logger *slog.Logger) *lineLogger {
	return &lineLogger{logger: logger}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadBytes('\n')
		if err != nil {
			// Partial line, keep it for the next write.
			l.buf.Write(line)
			break
		}
		l.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush emits a trailing line without a newline.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.emit(l.buf.Bytes())
		l.buf.Reset()
	}
}

func (l *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	l.logger.Info("Step output.", "line", string(line))
}
