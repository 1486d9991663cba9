package jsonvariant

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cmu-db/variant-go/variant"
)

func TestEncodeJSONSimpleObject(t *testing.T) {
	doc := `{"name": "arrow", "number": 42, "is_open_source": true}`

	var meta, val bytes.Buffer
	require.NoError(t, EncodeJSON([]byte(doc), &meta, &val))

	r, err := variant.NewReader(meta.Bytes(), val.Bytes())
	require.NoError(t, err)

	name, ok, err := r.Get("name")
	require.NoError(t, err)
	require.True(t, ok)
	s, err := name.AsString()
	require.NoError(t, err)
	require.Equal(t, "arrow", s)

	number, ok, err := r.Get("number")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := number.AsI64()
	require.NoError(t, err)
	require.EqualValues(t, 42, n)

	flag, ok, err := r.Get("is_open_source")
	require.NoError(t, err)
	require.True(t, ok)
	b, err := flag.AsBool()
	require.NoError(t, err)
	require.True(t, b)
}

func TestEncodeJSONComplexDocument(t *testing.T) {
	doc := `{
		"name": "Complex Object",
		"values": [1, 2, 3, 4],
		"nested": {"a": true, "b": "string value", "c": null},
		"mixed_array": [1, "two", 3.0, null, {"key": "value"}]
	}`

	var meta, val bytes.Buffer
	require.NoError(t, EncodeJSON([]byte(doc), &meta, &val))

	r, err := variant.NewReader(meta.Bytes(), val.Bytes())
	require.NoError(t, err)

	values, ok, err := r.Get("values")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, values.IsArray())
	first, err := values.GetIndex(0)
	require.NoError(t, err)
	fv, err := first.AsI64()
	require.NoError(t, err)
	require.EqualValues(t, 1, fv)
	last, err := values.GetIndex(3)
	require.NoError(t, err)
	lv, err := last.AsI64()
	require.NoError(t, err)
	require.EqualValues(t, 4, lv)

	nested, ok, err := r.Get("nested")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, nested.IsObject())
	a, ok, err := nested.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	av, err := a.AsBool()
	require.NoError(t, err)
	require.True(t, av)
	c, ok, err := nested.Get("c")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, c.IsNull())

	mixed, ok, err := r.Get("mixed_array")
	require.NoError(t, err)
	require.True(t, ok)
	m4, err := mixed.GetIndex(4)
	require.NoError(t, err)
	require.True(t, m4.IsObject())
	key, ok, err := m4.Get("key")
	require.NoError(t, err)
	require.True(t, ok)
	keyVal, err := key.AsString()
	require.NoError(t, err)
	require.Equal(t, "value", keyVal)
}

func TestStreamEncoderAcrossChunkBoundaries(t *testing.T) {
	doc := []byte(`{"name": "arrow", "number": 42, "flag": true, "extra": "field"}`)

	var wantMeta, wantVal []byte
	for split := 0; split <= len(doc); split++ {
		var meta, val bytes.Buffer
		enc := NewStreamEncoder(&meta, &val)
		require.NoError(t, enc.Push(doc[:split]))
		require.NoError(t, enc.Push(doc[split:]))
		require.NoError(t, enc.Finish())

		// Every chunk split must produce byte-identical metadata and value
		// buffers: the split point itself carries no information once the
		// document is complete.
		if wantMeta == nil {
			wantMeta, wantVal = meta.Bytes(), val.Bytes()
		} else {
			require.Equalf(t, wantMeta, meta.Bytes(), "metadata differs at split %d", split)
			require.Equalf(t, wantVal, val.Bytes(), "value differs at split %d", split)
		}

		r, err := variant.NewReader(meta.Bytes(), val.Bytes())
		require.NoError(t, err)
		name, ok, err := r.Get("name")
		require.NoError(t, err)
		require.True(t, ok)
		s, err := name.AsString()
		require.NoError(t, err)
		require.Equal(t, "arrow", s)
	}
}

func TestStreamEncoderManySmallChunks(t *testing.T) {
	doc := []byte(`{"values": [1, 2, 3, 4, 5], "ok": true}`)

	var meta, val bytes.Buffer
	enc := NewStreamEncoder(&meta, &val)
	for _, b := range doc {
		require.NoError(t, enc.Push([]byte{b}))
	}
	require.NoError(t, enc.Finish())

	r, err := variant.NewReader(meta.Bytes(), val.Bytes())
	require.NoError(t, err)
	values, ok, err := r.Get("values")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := values.Len()
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestStreamEncoderRejectsPushAfterFinish(t *testing.T) {
	var meta, val bytes.Buffer
	enc := NewStreamEncoder(&meta, &val)
	require.NoError(t, enc.Push([]byte(`42`)))
	require.NoError(t, enc.Finish())

	err := enc.Push([]byte(`1`))
	require.Error(t, err)
	require.True(t, errors.Is(err, variant.ErrInvalidArgument))
}

func TestEncodeJSONRejectsMalformedDocument(t *testing.T) {
	var meta, val bytes.Buffer
	err := EncodeJSON([]byte(`{"a": }`), &meta, &val)
	require.Error(t, err)
	require.True(t, errors.Is(err, variant.ErrParseError))
}

func TestEncodeJSONObjectFieldsAreSorted(t *testing.T) {
	doc := `{"zebra": 1, "mango": 2, "apple": 3, "banana": 4}`

	var meta, val bytes.Buffer
	require.NoError(t, EncodeJSON([]byte(doc), &meta, &val))

	r, err := variant.NewReader(meta.Bytes(), val.Bytes())
	require.NoError(t, err)

	var keys []string
	require.NoError(t, r.Fields(func(key string, value *variant.Reader) (bool, error) {
		keys = append(keys, key)
		return true, nil
	}))
	require.Equal(t, []string{"apple", "banana", "mango", "zebra"}, keys)
}

func TestStreamEncoderFinishWithNoDataFails(t *testing.T) {
	var meta, val bytes.Buffer
	enc := NewStreamEncoder(&meta, &val)
	err := enc.Finish()
	require.Error(t, err)
	require.True(t, errors.Is(err, variant.ErrParseError))
}
