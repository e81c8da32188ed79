package eventpump

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/docker/docker/pkg/stdcopy"
)

// stdoutStream and stderrStream are the engine's multiplex stream ids, per
// the StdCopy header (docker/docker/pkg/stdcopy): byte 0 of each wire
// frame.
const (
	stdoutStream = 1
	stderrStream = 2
)

// DecodedFrame is one demultiplexed chunk of container output.
type DecodedFrame struct {
	Stream  int
	Length  int
	Payload string
}

// frameWriter adapts emit to the io.Writer StdCopy demuxes onto: StdCopy
// issues one Write per wire frame belonging to its stream, so each Write
// here is exactly one DecodedFrame.
type frameWriter struct {
	stream int
	emit   func(DecodedFrame)
}

func (w *frameWriter) Write(p []byte) (int, error) {
	w.emit(DecodedFrame{
		Stream:  w.stream,
		Length:  len(p),
		Payload: decodeUTF8WithReplacement(p),
	})
	return len(p), nil
}

// decodeFrames demuxes r's multiplexed stdout/stderr stream via StdCopy,
// yielding one DecodedFrame per wire frame via emit. A clean end of stream
// ends decoding without error; any other read error is returned.
func decodeFrames(r io.Reader, emit func(DecodedFrame)) error {
	stdout := &frameWriter{stream: stdoutStream, emit: emit}
	stderr := &frameWriter{stream: stderrStream, emit: emit}

	if _, err := stdcopy.StdCopy(stdout, stderr, r); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func decodeUTF8WithReplacement(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
