// Package jsonvariant converts JSON documents into the Variant binary
// encoding implemented by package variant. It supports both a one-shot
// EncodeJSON entry point and a StreamEncoder for documents that arrive in
// chunks over time.
//
// The recursive value/array-element/object-field encoding functions below
// are grounded on the three-function shape (encode_json_value /
// encode_json_array_element / encode_json_object_field) used by this
// format's original Rust implementation. StreamEncoder only accumulates
// bytes on Push; it does not parse them there, so Push never reports a
// parse error, even for a malformed document. The whole buffer is parsed
// once, in Finish, which reports incomplete and malformed documents alike
// as parse errors.
package jsonvariant

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/cmu-db/variant-go/variant"
)

var numberConfig = jsoniter.Config{
	UseNumber: true,
}.Froze()

// EncodeJSON parses a single complete JSON document and writes its
// Variant encoding to metadataSink and valueSink.
func EncodeJSON(doc []byte, metadataSink, valueSink io.Writer) error {
	var v any
	if err := numberConfig.Unmarshal(doc, &v); err != nil {
		return variant.NewParseError("invalid JSON document", err)
	}

	b := variant.NewBuilder(metadataSink, valueSink)
	if err := encodeValue(b, v); err != nil {
		return err
	}
	return b.Finish()
}

// StreamEncoder incrementally accepts chunks of a single JSON document and
// encodes it once the chunks form a complete value. It does not support
// JSON-lines or multiple concatenated documents: Finish expects exactly
// one value to have been accumulated.
type StreamEncoder struct {
	metadataSink io.Writer
	valueSink    io.Writer
	buf          []byte
	done         bool
}

// NewStreamEncoder creates a StreamEncoder that will write the decoded
// document's Variant encoding to metadataSink and valueSink once enough
// chunks have been pushed and Finish is called.
func NewStreamEncoder(metadataSink, valueSink io.Writer) *StreamEncoder {
	return &StreamEncoder{metadataSink: metadataSink, valueSink: valueSink}
}

// Push appends a chunk of JSON bytes. It does not attempt to encode
// anything itself — the accumulated buffer isn't known to be a complete
// document until Finish is called, so Push only grows the buffer.
//
// Pushing in different chunk boundaries never changes the final encoding:
// only the byte content of the concatenated chunks matters.
func (s *StreamEncoder) Push(chunk []byte) error {
	if s.done {
		return variant.NewInvalidArgument("cannot push more data after Finish")
	}
	s.buf = append(s.buf, chunk...)
	return nil
}

// Finish parses the accumulated buffer as a single JSON document and
// writes its Variant encoding to the sinks. After Finish, the encoder
// must not be used again.
func (s *StreamEncoder) Finish() error {
	if s.done {
		return variant.NewInvalidArgument("already finished")
	}
	s.done = true

	if len(s.buf) == 0 {
		return variant.NewParseError("no JSON data was pushed", nil)
	}

	var v any
	if err := numberConfig.Unmarshal(s.buf, &v); err != nil {
		if isIncompleteJSON(err) {
			return variant.NewParseError("incomplete JSON document", err)
		}
		return variant.NewParseError("invalid JSON document", err)
	}

	b := variant.NewBuilder(s.metadataSink, s.valueSink)
	if err := encodeValue(b, v); err != nil {
		return err
	}
	return b.Finish()
}

// sortedKeys returns m's keys in ascending order. Go randomizes map
// iteration, but field order must be deterministic regardless of chunking
// (spec.md §8 property 5); the original implementation gets this from
// serde_json's BTreeMap, so this package sorts the keys itself before
// encoding them. As a result an encoded object's fields are in ascending
// key order, not in the order the JSON document lists them.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isIncompleteJSON reports whether err indicates the buffer ends mid-token
// rather than containing actually-malformed JSON — the same distinction
// serde_json's Category::Eof draws in the original implementation this
// package's streaming behavior is grounded on.
func isIncompleteJSON(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return strings.Contains(err.Error(), "EOF") || strings.Contains(err.Error(), "unexpected end")
}

func encodeValue(b *variant.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		return b.Null()
	case bool:
		return b.Bool(x)
	case json.Number:
		return encodeNumber(b, x)
	case string:
		return b.String(x)
	case []any:
		arr, err := b.NewArray()
		if err != nil {
			return err
		}
		for _, elem := range x {
			if err := encodeArrayElement(arr, elem); err != nil {
				return err
			}
		}
		return arr.Finish()
	case map[string]any:
		obj, err := b.NewObject()
		if err != nil {
			return err
		}
		for _, key := range sortedKeys(x) {
			if err := encodeObjectField(obj, key, x[key]); err != nil {
				return err
			}
		}
		return obj.Finish()
	default:
		return variant.NewParseError("unsupported JSON value type", nil)
	}
}

func encodeArrayElement(a *variant.ArrayBuilder, v any) error {
	switch x := v.(type) {
	case nil:
		return a.Null()
	case bool:
		return a.Bool(x)
	case json.Number:
		return encodeNumberArray(a, x)
	case string:
		return a.String(x)
	case []any:
		nested, err := a.NewArray()
		if err != nil {
			return err
		}
		for _, elem := range x {
			if err := encodeArrayElement(nested, elem); err != nil {
				return err
			}
		}
		return nested.Finish()
	case map[string]any:
		nested, err := a.NewObject()
		if err != nil {
			return err
		}
		for _, key := range sortedKeys(x) {
			if err := encodeObjectField(nested, key, x[key]); err != nil {
				return err
			}
		}
		return nested.Finish()
	default:
		return variant.NewParseError("unsupported JSON value type", nil)
	}
}

func encodeObjectField(o *variant.ObjectBuilder, key string, v any) error {
	switch x := v.(type) {
	case nil:
		return o.Null(key)
	case bool:
		return o.Bool(key, x)
	case json.Number:
		return encodeNumberField(o, key, x)
	case string:
		return o.String(key, x)
	case []any:
		nested, err := o.NewArray(key)
		if err != nil {
			return err
		}
		for _, elem := range x {
			if err := encodeArrayElement(nested, elem); err != nil {
				return err
			}
		}
		return nested.Finish()
	case map[string]any:
		nested, err := o.NewObject(key)
		if err != nil {
			return err
		}
		for _, nestedKey := range sortedKeys(x) {
			if err := encodeObjectField(nested, nestedKey, x[nestedKey]); err != nil {
				return err
			}
		}
		return nested.Finish()
	default:
		return variant.NewParseError("unsupported JSON value type", nil)
	}
}

// encodeNumber, encodeNumberArray and encodeNumberField each pick an
// integer or float encoding for a json.Number the same way the original
// implementation's is_i64 check does: an exact int64 parse wins over a
// float64 fallback.
func encodeNumber(b *variant.Builder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		return b.Int(i)
	}
	f, err := n.Float64()
	if err != nil {
		return variant.NewParseError("invalid JSON number "+string(n), err)
	}
	return b.Float(f)
}

func encodeNumberArray(a *variant.ArrayBuilder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		return a.Int(i)
	}
	f, err := n.Float64()
	if err != nil {
		return variant.NewParseError("invalid JSON number "+string(n), err)
	}
	return a.Float(f)
}

func encodeNumberField(o *variant.ObjectBuilder, key string, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		return o.Int(key, i)
	}
	f, err := n.Float64()
	if err != nil {
		return variant.NewParseError("invalid JSON number "+string(n), err)
	}
	return o.Float(key, f)
}
