package jsonvariant

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cmu-db/variant-go/variant"
)

// These mirror the lettered end-to-end scenarios this format's
// acceptance tests are built around: an empty object, an empty array, a
// flat object with mixed scalar types, an array of integers, a mixed-type
// array holding every scalar and container kind, three documents sharing
// one dictionary, and integer-extreme round-tripping.

func encode(t *testing.T, doc string) *variant.Reader {
	t.Helper()
	var meta, val bytes.Buffer
	require.NoError(t, EncodeJSON([]byte(doc), &meta, &val))
	r, err := variant.NewReader(meta.Bytes(), val.Bytes())
	require.NoError(t, err)
	return r
}

func TestScenarioAEmptyObject(t *testing.T) {
	r := encode(t, `{}`)
	require.True(t, r.IsObject())
	n, err := r.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestScenarioBEmptyArray(t *testing.T) {
	r := encode(t, `[]`)
	require.True(t, r.IsArray())
	n, err := r.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestScenarioCSimpleFieldAccess(t *testing.T) {
	r := encode(t, `{"name":"arrow","number":42,"is_open_source":true}`)

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

	_, ok, err = r.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestScenarioDArrayOfInts(t *testing.T) {
	r := encode(t, `{"values":[1,2,3,4]}`)

	values, ok, err := r.Get("values")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := values.Len()
	require.NoError(t, err)
	require.Equal(t, 4, n)

	for i := 0; i < 4; i++ {
		elem, err := values.GetIndex(i)
		require.NoError(t, err)
		v, err := elem.AsI64()
		require.NoError(t, err)
		require.EqualValues(t, i+1, v)
	}
}

func TestScenarioEMixedTypeArray(t *testing.T) {
	r := encode(t, `{"mixed":[null,true,42,"two",3.14,[1,2],{"k":"v"}]}`)

	mixed, ok, err := r.Get("mixed")
	require.NoError(t, err)
	require.True(t, ok)

	wantTypes := []variant.Type{
		variant.TypeNull, variant.TypeBool, variant.TypeInt, variant.TypeString,
		variant.TypeFloat, variant.TypeArray, variant.TypeObject,
	}
	for i, want := range wantTypes {
		elem, err := mixed.GetIndex(i)
		require.NoError(t, err)
		got, err := elem.Type()
		require.NoError(t, err)
		require.Equalf(t, want, got, "element %d", i)
	}

	inner, err := mixed.GetIndex(6)
	require.NoError(t, err)
	k, ok, err := inner.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	kv, err := k.AsString()
	require.NoError(t, err)
	require.Equal(t, "v", kv)
}

func TestScenarioFSharedDictionaryAcrossDocuments(t *testing.T) {
	shared := variant.NewSharedDictionary()

	docs := []string{
		`{"id":1,"name":"Alice","active":true}`,
		`{"id":2,"name":"Bob","active":false}`,
		`{"id":3,"name":"Charlie","active":true}`,
	}

	bufs := make([]*bytes.Buffer, len(docs))
	for i, doc := range docs {
		var v any
		require.NoError(t, numberConfig.Unmarshal([]byte(doc), &v))

		buf := &bytes.Buffer{}
		bufs[i] = buf
		b := variant.NewBuilderWithDictionary(shared, buf)
		require.NoError(t, encodeValue(b, v))
		require.NoError(t, b.Finish())
	}

	var metaBuf bytes.Buffer
	require.NoError(t, shared.Flush(&metaBuf))

	readers := make([]*variant.Reader, len(bufs))
	for i, buf := range bufs {
		r, err := variant.NewReader(metaBuf.Bytes(), buf.Bytes())
		require.NoError(t, err)
		readers[i] = r
	}

	// The dictionary ids for "id", "name" and "active" must be identical
	// across all three objects: resolve each field from every reader and
	// confirm the values line up with the document they came from.
	wantNames := []string{"Alice", "Bob", "Charlie"}
	wantActive := []bool{true, false, true}
	for i, r := range readers {
		idField, ok, err := r.Get("id")
		require.NoError(t, err)
		require.True(t, ok)
		idVal, err := idField.AsI64()
		require.NoError(t, err)
		require.EqualValues(t, i+1, idVal)

		nameField, ok, err := r.Get("name")
		require.NoError(t, err)
		require.True(t, ok)
		nameVal, err := nameField.AsString()
		require.NoError(t, err)
		require.Equal(t, wantNames[i], nameVal)

		activeField, ok, err := r.Get("active")
		require.NoError(t, err)
		require.True(t, ok)
		activeVal, err := activeField.AsBool()
		require.NoError(t, err)
		require.Equal(t, wantActive[i], activeVal)
	}
}

func TestScenarioGIntegerExtremes(t *testing.T) {
	r := encode(t, `{"long_min":-9223372036854775808,"long_max":9223372036854775807}`)

	min, ok, err := r.Get("long_min")
	require.NoError(t, err)
	require.True(t, ok)
	minVal, err := min.AsI64()
	require.NoError(t, err)
	require.Equal(t, int64(-9223372036854775808), minVal)

	max, ok, err := r.Get("long_max")
	require.NoError(t, err)
	require.True(t, ok)
	maxVal, err := max.AsI64()
	require.NoError(t, err)
	require.Equal(t, int64(9223372036854775807), maxVal)
}
