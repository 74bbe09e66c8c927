// Package wire defines the JSON frames exchanged with the measurement engine.
//
// Frames are self-delimiting JSON values on a TCP stream; line breaks between
// them are optional. A frame that does not parse is dropped and the reader
// resynchronizes at the next line break.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

const (
	CodeOK              = 0
	CodeFailed          = 1
	CodeMalformed       = -1
	CodeInvalidFunction = -2000

	// FunctionMeasurementFinished is reported by the real engine when an
	// acquisition completes.
	FunctionMeasurementFinished = 110
)

const (
	CommandWelcome             = "welcome"
	CommandSimulateMeasurement = "simulate_measurement"
	CommandStartAcquisition    = "start_acquisition"
	CommandHelp                = "help"
	CommandListFunctions       = "listAvailableFunctions"
	CommandError               = "error"
)

var (
	ErrMalformedFrame = errors.New("wire: malformed frame")
	ErrFrameTooLarge  = errors.New("wire: frame too large")
)

// Limits constrains decoded frame size.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: 8 * 1024 * 1024}
}

// frameSlack tolerates whitespace and read-ahead past the frame being
// decoded before the size limit is enforced on the stream itself.
const frameSlack = 4096

// Reader decodes consecutive frames from a stream.
type Reader struct {
	lim        *limitedSource
	dec        *json.Decoder
	limits     Limits
	discarding bool
}

func NewReader(r io.Reader, limits Limits) *Reader {
	fr := &Reader{limits: limits}
	fr.reset(r)
	return fr
}

// limitedSource fails reads that would take the decoder more than limit
// bytes into the stream.
type limitedSource struct {
	r      io.Reader
	pulled int64
	limit  int64
}

var errOverflow = errors.New("wire: frame exceeds read budget")

func (l *limitedSource) Read(p []byte) (int, error) {
	if l.limit > 0 {
		room := l.limit - l.pulled
		if room <= 0 {
			return 0, errOverflow
		}
		if int64(len(p)) > room {
			p = p[:room]
		}
	}
	n, err := l.r.Read(p)
	l.pulled += int64(n)
	return n, err
}

// Next returns the next frame. ErrMalformedFrame and ErrFrameTooLarge are
// recoverable: the offending bytes are discarded and Next may be called again.
// Any other error comes from the underlying stream.
func (r *Reader) Next() (json.RawMessage, error) {
	if r.discarding {
		if err := r.skipLine(); err != nil {
			return nil, err
		}
	}
	if r.limits.MaxFrameBytes > 0 {
		r.lim.limit = r.dec.InputOffset() + int64(r.limits.MaxFrameBytes) + frameSlack
	}
	var raw json.RawMessage
	if err := r.dec.Decode(&raw); err != nil {
		if errors.Is(err, errOverflow) {
			r.discarding = true
			return nil, ErrFrameTooLarge
		}
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			r.resync()
			return nil, errors.Join(ErrMalformedFrame, err)
		}
		// The decoder keeps read errors sticky; rebuild it so a read deadline
		// does not poison later calls.
		r.rebuild(r.buffered())
		return nil, err
	}
	if r.limits.MaxFrameBytes > 0 && len(raw) > r.limits.MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	return raw, nil
}

// skipLine drops the rest of an oversized frame, up to and including the
// next line break, without buffering it.
func (r *Reader) skipLine() error {
	r.lim.limit = 0
	src := r.lim.r
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if idx := bytes.IndexByte(buf[:n], '\n'); idx >= 0 {
			rest := append([]byte(nil), buf[idx+1:n]...)
			r.discarding = false
			r.reset(tail(rest, src))
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// resync drops buffered input up to and including the next line break and
// rebuilds the decoder over what remains.
func (r *Reader) resync() {
	rest := bytes.TrimLeft(r.buffered(), " \t\r\n")
	if idx := bytes.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		rest = nil
	}
	r.rebuild(rest)
}

func (r *Reader) buffered() []byte {
	rest, _ := io.ReadAll(r.dec.Buffered())
	return rest
}

func (r *Reader) rebuild(rest []byte) {
	r.reset(tail(rest, r.lim.r))
}

func (r *Reader) reset(src io.Reader) {
	r.lim = &limitedSource{r: src}
	r.dec = json.NewDecoder(r.lim)
}

func tail(rest []byte, src io.Reader) io.Reader {
	if len(rest) == 0 {
		return src
	}
	return io.MultiReader(bytes.NewReader(rest), src)
}

// WriteFrame encodes v as one newline-terminated frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return WriteRaw(w, payload)
}

// WriteRaw writes an already-encoded frame, appending a line break if missing.
func WriteRaw(w io.Writer, payload []byte) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
