// Package codec converts values and messages to and from their wire form.
//
// Two layers are involved:
//
//   - ValueCodec maps individual argument and result values: scalars pass
//     through, local references become handles, remote handles become proxies.
//   - Codec encodes whole envelopes (message.Message) into the text frames
//     handed to the transport.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

// Codec encodes and decodes message envelopes.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for the given type. JSON is the only format the
// remote application speaks.
func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}
