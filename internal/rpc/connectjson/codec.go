// Package connectjson provides a plain-JSON codec for the Connect agent
// streams, so events cross the wire in the same shape the NDJSON endpoints
// use.
package connectjson

import (
	"encoding/json"

	"github.com/bufbuild/connect-go"
)

// Codec marshals stream messages with encoding/json. Event's custom
// MarshalJSON applies, keeping both transports byte-identical per event.
type Codec struct{}

func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ connect.Codec = (*Codec)(nil)
