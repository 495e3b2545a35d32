package codec

import (
	"encoding/json"

	"github.com/juju/errors"
)

// JSONCodec uses Go's standard library encoding/json for envelopes.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.Annotate(err, "encoding message")
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return errors.Annotate(json.Unmarshal(data, v), "decoding message")
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
