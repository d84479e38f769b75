// Package persist provides the codecs used to serialize state to files.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	cborExtension = ".cbor"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// ErrUnknownExtension is returned when no codec is registered for a file extension.
var ErrUnknownExtension = errors.New("persist: unknown file extension")

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the file extension for this codec (e.g., ".json", ".cbor").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	decoder := json.NewDecoder(r)

	err := decoder.Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// CBORCodec implements Codec using deterministic CBOR encoding.
//
// Decoding rejects duplicate map keys and accepts maps and arrays up to the
// largest sizes the CBOR library allows, since shard files routinely carry
// more than the library's default 131072 domains.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}

	dec, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs:      math.MaxInt32,
		MaxArrayElements: math.MaxInt32,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

// MustCBORCodec is like NewCBORCodec but panics on error. The options are
// static, so an error indicates a programming bug.
func MustCBORCodec() *CBORCodec {
	codec, err := NewCBORCodec()
	if err != nil {
		panic(err)
	}

	return codec
}

// Encode implements Codec.Encode using CBOR encoding.
func (c *CBORCodec) Encode(w io.Writer, state any) error {
	err := c.enc.NewEncoder(w).Encode(state)
	if err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using CBOR decoding.
func (c *CBORCodec) Decode(r io.Reader, state any) error {
	err := c.dec.NewDecoder(r).Decode(state)
	if err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}

	return nil
}

// Marshal encodes state into a new byte slice.
func (c *CBORCodec) Marshal(state any) ([]byte, error) {
	data, err := c.enc.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}

	return data, nil
}

// Unmarshal decodes a complete CBOR item. Trailing bytes are an error.
func (c *CBORCodec) Unmarshal(data []byte, state any) error {
	err := c.dec.Unmarshal(data, state)
	if err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for CBOR files.
func (c *CBORCodec) Extension() string {
	return cborExtension
}

// CodecFor returns the codec matching the file extension of path. A trailing
// compression suffix (".lz4", ".zst") is ignored.
func CodecFor(path string) (Codec, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".lz4" || ext == ".zst" {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(path, filepath.Ext(path))))
	}

	switch ext {
	case jsonExtension:
		return NewJSONCodec(), nil
	case cborExtension:
		codec, err := NewCBORCodec()
		if err != nil {
			return nil, err
		}

		return codec, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtension, ext)
	}
}
