package ndjson

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

const (
	// MaxLineLength is the longest line a Decoder buffers before giving up.
	MaxLineLength = 5_000_000

	readSize = 64 * 1024
)

// RecordReader is a pull-based source of decoded records.
// It returns io.EOF once the source is exhausted.
type RecordReader interface {
	Read(ctx context.Context) (any, error)
}

type Option func(*Decoder)

func WithMaxLineLength(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.max = n
		}
	}
}

func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// Decoder turns a newline delimited JSON stream into records.
// It is not safe for concurrent use.
type Decoder struct {
	r        io.Reader
	max      int
	readSize int

	buf   []byte
	start int // first byte of the pending line
	scan  int // bytes before scan are known to hold no '\n'
	line  int
	eof   bool
	err   error
}

func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:        r,
		max:      MaxLineLength,
		readSize: readSize,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Line returns the number of lines consumed so far.
func (d *Decoder) Line() int {
	return d.line
}

// Read returns the next record. Blank lines are skipped. Any error is final:
// later calls return the same error.
func (d *Decoder) Read(ctx context.Context) (any, error) {
	if d.err != nil {
		return nil, d.err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, d.fail(err)
		}

		if i := bytes.IndexByte(d.buf[d.scan:], '\n'); i >= 0 {
			end := d.scan + i
			line := d.buf[d.start:end]
			d.start = end + 1
			d.scan = d.start
			d.line++

			if len(line) > d.max {
				return nil, d.fail(&OverflowError{Line: d.line, Limit: d.max})
			}
			if isBlank(line) {
				continue
			}

			v, err := decodeLine(line)
			if err != nil {
				return nil, d.fail(&DecodeError{Line: d.line, Err: err})
			}
			return v, nil
		}

		d.scan = len(d.buf)
		if d.scan-d.start > d.max {
			return nil, d.fail(&OverflowError{Line: d.line + 1, Limit: d.max})
		}

		if d.eof {
			rest := d.buf[d.start:]
			d.start = len(d.buf)
			if isBlank(rest) {
				return nil, d.fail(io.EOF)
			}

			d.line++
			v, err := decodeLine(rest)
			if err != nil {
				return nil, d.fail(&DecodeError{Line: d.line, Err: err})
			}
			return v, nil
		}

		if err := d.fill(); err != nil {
			return nil, d.fail(errors.Wrap(err, "read ndjson stream"))
		}
	}
}

func (d *Decoder) fill() error {
	if d.start > 0 {
		n := copy(d.buf, d.buf[d.start:])
		d.buf = d.buf[:n]
		d.scan -= d.start
		d.start = 0
	}

	if cap(d.buf)-len(d.buf) < d.readSize {
		grown := make([]byte, len(d.buf), 2*cap(d.buf)+d.readSize)
		copy(grown, d.buf)
		d.buf = grown
	}

	n, err := d.r.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if err == io.EOF {
		d.eof = true
		return nil
	}

	return err
}

// fail makes err sticky and drops the buffer so a broken stream can not grow it.
func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	d.start = 0
	d.scan = 0
	return err
}

func decodeLine(line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid character after top-level value")
	}

	return v, nil
}

func isBlank(b []byte) bool {
	return len(bytes.TrimSpace(b)) == 0
}
