package frame

import (
	"errors"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder converts successive byte chunks into Records. A Decoder serves a
// single exchange and is not safe for concurrent use.
type Decoder struct {
	utf8    transform.Transformer
	carry   []byte // bytes of a UTF-8 sequence still waiting for its tail
	pending string // at most one unterminated line
	closed  bool
}

// NewDecoder returns a Decoder with empty buffers.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Feed decodes chunk and returns the records of every line completed by it.
// The trailing unterminated line, if any, stays buffered.
func (d *Decoder) Feed(chunk []byte) []Record {
	if d.closed || len(chunk) == 0 {
		return nil
	}
	d.pending += d.decode(chunk, false)
	return d.drain()
}

// Close signals end-of-stream. The final line is parsed even without a
// terminator and the buffers are discarded. Further calls return nil.
func (d *Decoder) Close() []Record {
	if d.closed {
		return nil
	}
	d.closed = true

	d.pending += d.decode(nil, true)
	records := d.drain()

	last := strings.TrimSuffix(d.pending, "\r")
	d.pending = ""
	if rec, ok := parseLine(last); ok {
		records = append(records, rec)
	}
	return records
}

// Pending returns the buffered, not yet terminated line.
func (d *Decoder) Pending() string {
	return d.pending
}

func (d *Decoder) drain() []Record {
	var records []Record
	for {
		i := strings.IndexByte(d.pending, '\n')
		if i < 0 {
			return records
		}
		line := strings.TrimSuffix(d.pending[:i], "\r")
		d.pending = d.pending[i+1:]
		if rec, ok := parseLine(line); ok {
			records = append(records, rec)
		}
	}
}

// decode runs the UTF-8 transformer over the carried bytes plus chunk. An
// incomplete trailing sequence is carried over unless atEOF is set, in which
// case it decodes to U+FFFD.
func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	src := make([]byte, 0, len(d.carry)+len(chunk))
	src = append(src, d.carry...)
	src = append(src, chunk...)
	d.carry = d.carry[:0]
	if len(src) == 0 {
		return ""
	}

	var out strings.Builder
	// An invalid byte expands to the 3-byte replacement character.
	dst := make([]byte, 3*len(src)+4)
	for len(src) > 0 {
		nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]
		switch {
		case err == nil:
			return out.String()
		case errors.Is(err, transform.ErrShortDst):
			dst = make([]byte, 2*len(dst))
		case errors.Is(err, transform.ErrShortSrc):
			d.carry = append(d.carry, src...)
			return out.String()
		default:
			return out.String()
		}
	}
	return out.String()
}

func parseLine(line string) (Record, bool) {
	payload, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return Record{}, false
	}
	return ParsePayload([]byte(payload)), true
}
