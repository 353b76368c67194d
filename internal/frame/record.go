// Package frame decodes the assistant's server-pushed event stream into
// discrete records.
//
// The wire format is line oriented: every line that starts with the literal
// prefix "data: " carries one JSON object, any other line is ignored. Chunk
// boundaries delivered by the transport may fall anywhere, including inside a
// multi-byte UTF-8 sequence.
package frame

import (
	"encoding/json"
	"fmt"
)

// DataPrefix marks a record line on the wire.
const DataPrefix = "data: "

// Record is one parsed unit of the event stream. Empty strings mean the field
// was absent; a record with no fields set is a no-op.
type Record struct {
	Chunk     string `json:"chunk,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
	Done      bool   `json:"done,omitempty"`

	// Malformed is set when the payload could not be decoded. Error then
	// describes the decode failure.
	Malformed bool `json:"-"`
	// Fatal marks a transport failure. It is always the last record of a
	// sequence.
	Fatal bool `json:"-"`
}

// IsEmpty reports whether the record carries nothing to apply.
func (r Record) IsEmpty() bool {
	return r.Chunk == "" && r.SessionID == "" && r.Error == "" && !r.Done && !r.Fatal
}

// ParsePayload decodes one JSON payload. A decode failure is returned as a
// record with Error set instead of an error so that a single bad line never
// aborts the stream.
func ParsePayload(data []byte) Record {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{Error: fmt.Sprintf("malformed record: %v", err), Malformed: true}
	}
	return rec
}

// Failure builds the terminal record for a transport-level error.
func Failure(err error) Record {
	return Record{Error: fmt.Sprintf("transport failure: %v", err), Fatal: true}
}

// Encode renders rec as a complete wire frame, terminated by a blank line.
func Encode(rec Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	out := make([]byte, 0, len(DataPrefix)+len(data)+2)
	out = append(out, DataPrefix...)
	out = append(out, data...)
	out = append(out, '\n', '\n')
	return out, nil
}
