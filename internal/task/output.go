package task

import (
	"bufio"
	"errors"
	"io"
	"os"
)

// readBufferSize is the largest chunk delivered in raw mode.
const readBufferSize = 32 * 1024

// pumpOutput reads stdout until EOF (or until the pipe is closed during drain)
// and hands each chunk to the output callback. Read errors end the stream.
func (t *Task) pumpOutput(r io.Reader) {
	var err error
	if t.outputMode == OutputLines {
		err = t.pumpLines(r)
	} else {
		err = t.pumpRaw(r)
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		t.logger.Debug("Output stream closed with error", "task_id", t.id, "error", err)
	}
}

func (t *Task) pumpRaw(r io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			t.deliver(string(buf[:n]))
		}
		if err != nil {
			return err
		}
	}
}

func (t *Task) pumpLines(r io.Reader) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			t.deliver(line)
		}
		if err != nil {
			return err
		}
	}
}

func (t *Task) deliver(chunk string) {
	if t.onOutput != nil {
		t.onOutput(chunk)
	}
}

// pumpStderr logs stderr line by line at debug level. Lines longer than the
// scanner limit stop the logging, but the pipe is still drained so the child
// never blocks on a full buffer.
func (t *Task) pumpStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), readBufferSize)
	for scanner.Scan() {
		t.logger.Debug("stderr", "task_id", t.id, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		t.logger.Debug("Error reading stderr", "task_id", t.id, "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}
