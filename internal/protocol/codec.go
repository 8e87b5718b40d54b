package protocol

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrMalformed means the payload is not a decodable document.
	ErrMalformed = errors.New("malformed payload")
	// ErrSchema means the envelope violates the frame schema. The whole
	// message is skipped; the connection stays up.
	ErrSchema = errors.New("envelope schema violation")
)

// MaxDecompressedSize bounds a zstd payload after decompression.
const MaxDecompressedSize = 64 << 20

// MaxGridCells bounds width*height of an announced grid. The layout and the
// relief field are rebuilt in full on the tick goroutine when the grid
// changes. Each dimension is also capped at 4096 by the envelope schema.
const MaxGridCells = 1 << 20

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

//go:embed envelope.schema.json
var envelopeSchemaText string

var (
	envelopeOnce   sync.Once
	envelopeSchema *jsonschema.Schema
	envelopeErr    error

	zstdOnce sync.Once
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func envelope() (*jsonschema.Schema, error) {
	envelopeOnce.Do(func() {
		envelopeSchema, envelopeErr = jsonschema.CompileString("envelope.schema.json", envelopeSchemaText)
	})
	return envelopeSchema, envelopeErr
}

func decoder() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDec, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	})
	return zstdDec, zstdErr
}

// Normalize unwraps a zstd frame and converts a msgpack document to JSON.
// JSON input is returned unchanged.
func Normalize(payload []byte) ([]byte, error) {
	if bytes.HasPrefix(payload, zstdMagic) {
		dec, err := decoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrMalformed, err)
		}
	}

	trimmed := bytes.TrimLeft(payload, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}
	if !isMsgpackMap(trimmed[0]) {
		return nil, fmt.Errorf("%w: leading byte 0x%02x", ErrMalformed, trimmed[0])
	}

	dec := msgpack.NewDecoder(bytes.NewReader(trimmed))
	dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
		return d.DecodeUntypedMap()
	})
	doc, err := dec.DecodeInterface()
	if err != nil {
		return nil, fmt.Errorf("%w: msgpack: %w", ErrMalformed, err)
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: msgpack to json: %w", ErrMalformed, err)
	}
	return out, nil
}

// stringKeys rewrites msgpack maps keyed by integers (tag label tables) into
// JSON objects keyed by the decimal form.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			switch key := k.(type) {
			case string:
				out[key] = stringKeys(item)
			case []byte:
				out[string(key)] = stringKeys(item)
			default:
				out[fmt.Sprint(key)] = stringKeys(item)
			}
		}
		return out
	case map[string]any:
		for k, item := range t {
			t[k] = stringKeys(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = stringKeys(item)
		}
		return t
	}
	return v
}

func isMsgpackMap(b byte) bool {
	return b&0xF0 == 0x80 || b == 0xDE || b == 0xDF
}

// Decode turns one frame payload into a classified Message.
func Decode(payload []byte) (*Message, error) {
	raw, err := Normalize(payload)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	schema, err := envelope()
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	msg, err := fromFields(fields)
	if err != nil {
		return nil, err
	}
	if g, ok := msg.Grid.Get(); ok && g.Width*g.Height > MaxGridCells {
		return nil, fmt.Errorf("%w: grid %dx%d exceeds %d cells", ErrSchema, g.Width, g.Height, MaxGridCells)
	}
	return msg, nil
}

// IsDelta reports whether a top-level field name marks a delta message.
func IsDelta(field string) bool {
	_, ok := deltaFields[field]
	return ok
}

var deltaFields = map[string]struct{}{
	"tile_updates":               {},
	"tile_removed":               {},
	"influencer_updates":         {},
	"influencer_removed":         {},
	"trade_link_updates":         {},
	"trade_link_removed":         {},
	"culture_layer_updates":      {},
	"culture_layer_removed":      {},
	"discovery_progress_updates": {},
}

// EncodeJSON marshals v as a frame payload.
func EncodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// EncodeMsgpack marshals v as a msgpack frame payload.
func EncodeMsgpack(v any) ([]byte, error) {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	var buf bytes.Buffer
	enc.Reset(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compress wraps payload in a zstd frame.
func Compress(payload []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(payload, make([]byte, 0, len(payload)/2)), nil
}
