package frame

import (
	"context"
	"errors"
	"io"
	"iter"
)

const readSize = 4096

// Records lazily decodes r into a sequence of records. The sequence ends at
// EOF (after flushing the final line) or after a single Fatal record when the
// read fails. Cancelling ctx ends the sequence without a record.
//
// The sequence consumes r and can be ranged over only once.
func Records(ctx context.Context, r io.Reader) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		dec := NewDecoder()
		buf := make([]byte, readSize)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := r.Read(buf)
			if n > 0 {
				for _, rec := range dec.Feed(buf[:n]) {
					if !yield(rec) {
						return
					}
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) {
				for _, rec := range dec.Close() {
					if !yield(rec) {
						return
					}
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			yield(Failure(err))
			return
		}
	}
}
