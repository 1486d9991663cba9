package variant

import (
	"math"
	"sort"
)

// Reader decodes a Variant value lazily: constructing one validates only
// the metadata buffer and that the value buffer is non-empty (the tag byte
// is not checked until an accessor reads it), and every accessor re-reads
// directly from the borrowed metadata/value slices. This mirrors the
// teacher's compactindexsized.DB, which keeps its backing file mapped and
// only materialises an entry's bytes when a caller asks for it.
type Reader struct {
	meta *metadataView
	val  []byte
}

// NewReader parses the metadata buffer's header and offset table and binds
// value to it. The value's tag byte is not examined here. Both slices are
// borrowed, not copied: callers must not
// mutate them for the Reader's lifetime.
func NewReader(metadata, value []byte) (*Reader, error) {
	mv, err := parseMetadataView(metadata)
	if err != nil {
		return nil, err
	}
	if len(value) == 0 {
		return nil, newErr(KindCorruptData, "value buffer is empty")
	}
	return &Reader{meta: mv, val: value}, nil
}

func newSubReader(meta *metadataView, value []byte) *Reader {
	return &Reader{meta: meta, val: value}
}

// Type reports the logical kind of the decoded value.
func (r *Reader) Type() (Type, error) {
	tag := r.val[0]
	if _, ok := isShortString(tag); ok {
		return TypeString, nil
	}
	switch tag {
	case tagNull:
		return TypeNull, nil
	case tagFalse, tagTrue:
		return TypeBool, nil
	case tagInt8, tagInt16, tagInt32, tagInt64:
		return TypeInt, nil
	case tagFloat64:
		return TypeFloat, nil
	case tagString:
		return TypeString, nil
	case tagArray:
		return TypeArray, nil
	case tagObject:
		return TypeObject, nil
	default:
		return 0, newErr(KindCorruptData, "unrecognized tag byte 0x%02X", tag)
	}
}

// IsNull reports whether the value is JSON null.
func (r *Reader) IsNull() bool { return r.val[0] == tagNull }

// IsArray reports whether the value is an array.
func (r *Reader) IsArray() bool { return r.val[0] == tagArray }

// IsObject reports whether the value is an object.
func (r *Reader) IsObject() bool { return r.val[0] == tagObject }

func (r *Reader) typeError(want Type) error {
	got, err := r.Type()
	if err != nil {
		return err
	}
	return newErr(KindTypeMismatch, "value is %s, not %s", got, want)
}

// AsBool returns the decoded boolean, or a TypeMismatch error if the value
// is not a bool.
func (r *Reader) AsBool() (bool, error) {
	switch r.val[0] {
	case tagTrue:
		return true, nil
	case tagFalse:
		return false, nil
	default:
		return false, r.typeError(TypeBool)
	}
}

// AsI64 returns the decoded integer widened to int64, or a TypeMismatch
// error if the value is not an integer.
func (r *Reader) AsI64() (int64, error) {
	if len(r.val) < 1 {
		return 0, newErr(KindCorruptData, "empty value buffer")
	}
	switch r.val[0] {
	case tagInt8:
		if len(r.val) < 2 {
			return 0, newErr(KindCorruptData, "truncated int8 value")
		}
		return int64(int8(r.val[1])), nil
	case tagInt16:
		if len(r.val) < 3 {
			return 0, newErr(KindCorruptData, "truncated int16 value")
		}
		return int64(int16(getUintWidth(r.val[1:], 2))), nil
	case tagInt32:
		if len(r.val) < 5 {
			return 0, newErr(KindCorruptData, "truncated int32 value")
		}
		return int64(int32(getUintWidth(r.val[1:], 4))), nil
	case tagInt64:
		if len(r.val) < 9 {
			return 0, newErr(KindCorruptData, "truncated int64 value")
		}
		return int64(getUintWidth(r.val[1:], 8)), nil
	default:
		return 0, r.typeError(TypeInt)
	}
}

// AsF64 returns the decoded 64-bit float, or a TypeMismatch error if the
// value is not a float.
func (r *Reader) AsF64() (float64, error) {
	if r.val[0] != tagFloat64 {
		return 0, r.typeError(TypeFloat)
	}
	if len(r.val) < 9 {
		return 0, newErr(KindCorruptData, "truncated float64 value")
	}
	return math.Float64frombits(getUintWidth(r.val[1:], 8)), nil
}

// AsString returns the decoded string, or a TypeMismatch error if the
// value is not a string.
func (r *Reader) AsString() (string, error) {
	tag := r.val[0]
	if length, ok := isShortString(tag); ok {
		if len(r.val) < 1+length {
			return "", newErr(KindCorruptData, "truncated short string value")
		}
		return string(r.val[1 : 1+length]), nil
	}
	if tag != tagString {
		return "", r.typeError(TypeString)
	}
	if len(r.val) < 5 {
		return "", newErr(KindCorruptData, "truncated long string header")
	}
	length := int(getUintWidth(r.val[1:], 4))
	if len(r.val) < 5+length {
		return "", newErr(KindCorruptData, "truncated long string value")
	}
	return string(r.val[5 : 5+length]), nil
}

// containerHeader holds the decoded fixed-shape fields common to arrays
// and objects: the three width fields packed by packSizing, the element
// count, and the byte offsets within r.val where each section begins.
type containerHeader struct {
	offsetWidth, countWidth, idWidth uint8
	count                            int
	idTableStart                     int // objects only: sorted key-id table
	permTableStart                   int // objects only: sorted-slot -> insertion-index table
	offsetTableStart                 int // insertion-ordered offset table
	payloadStart                     int
}

func (r *Reader) decodeContainerHeader(wantTag byte) (containerHeader, error) {
	var h containerHeader
	if r.val[0] != wantTag {
		if wantTag == tagArray {
			return h, r.typeError(TypeArray)
		}
		return h, r.typeError(TypeObject)
	}
	if len(r.val) < 2 {
		return h, newErr(KindCorruptData, "truncated container header")
	}
	h.offsetWidth, h.countWidth, h.idWidth = unpackSizing(r.val[1])
	cursor := 2
	if len(r.val) < cursor+int(h.countWidth) {
		return h, newErr(KindCorruptData, "truncated container count field")
	}
	h.count = int(getUintWidth(r.val[cursor:], h.countWidth))
	cursor += int(h.countWidth)

	if wantTag == tagObject {
		h.idTableStart = cursor
		cursor += int(h.idWidth) * h.count
		h.permTableStart = cursor
		cursor += int(h.countWidth) * h.count
	}
	h.offsetTableStart = cursor
	cursor += int(h.offsetWidth) * (h.count + 1)
	h.payloadStart = cursor

	if len(r.val) < h.payloadStart {
		return h, newErr(KindCorruptData, "truncated container offset table")
	}
	if !monotonicOffsets(r.val[h.offsetTableStart:h.payloadStart], h.offsetWidth, h.count+1) {
		return h, newErr(KindCorruptData, "container offsets are not monotonic")
	}
	lastOffset := getUintWidth(r.val[h.offsetTableStart+h.count*int(h.offsetWidth):], h.offsetWidth)
	if h.payloadStart+int(lastOffset) > len(r.val) {
		return h, newErr(KindCorruptData, "container payload shorter than declared")
	}
	return h, nil
}

func (r *Reader) elementAt(h containerHeader, slot int) ([]byte, error) {
	if slot < 0 || slot >= h.count {
		return nil, newErr(KindOutOfRange, "index %d out of range [0,%d)", slot, h.count)
	}
	off := h.offsetTableStart
	w := int(h.offsetWidth)
	start := getUintWidth(r.val[off+slot*w:], h.offsetWidth)
	end := getUintWidth(r.val[off+(slot+1)*w:], h.offsetWidth)
	if end < start {
		return nil, newErr(KindCorruptData, "element %d has inverted offsets", slot)
	}
	lo, hi := h.payloadStart+int(start), h.payloadStart+int(end)
	if hi > len(r.val) {
		return nil, newErr(KindCorruptData, "element %d extends past value buffer", slot)
	}
	return r.val[lo:hi], nil
}

// Len returns the number of elements in an array or fields in an object.
func (r *Reader) Len() (int, error) {
	switch r.val[0] {
	case tagArray:
		h, err := r.decodeContainerHeader(tagArray)
		if err != nil {
			return 0, err
		}
		return h.count, nil
	case tagObject:
		h, err := r.decodeContainerHeader(tagObject)
		if err != nil {
			return 0, err
		}
		return h.count, nil
	default:
		return 0, newErr(KindTypeMismatch, "value has no length")
	}
}

// GetIndex returns a Reader over the i-th array element, in insertion
// order.
func (r *Reader) GetIndex(i int) (*Reader, error) {
	h, err := r.decodeContainerHeader(tagArray)
	if err != nil {
		return nil, err
	}
	elem, err := r.elementAt(h, i)
	if err != nil {
		return nil, err
	}
	return newSubReader(r.meta, elem), nil
}

func (r *Reader) insertionIndexAt(h containerHeader, sortedSlot int) int {
	w := int(h.countWidth)
	return int(getUintWidth(r.val[h.permTableStart+sortedSlot*w:], h.countWidth))
}

// Get returns a Reader over the object field named key, and reports
// whether the field was present. Lookup is O(log n): the key is resolved
// to a dictionary id via the metadata view, then binary-searched against
// the object's sorted key-id table, per spec.md §4.2; the matching sorted
// slot is translated back to its original insertion index to locate the
// element in the insertion-ordered offset table.
func (r *Reader) Get(key string) (*Reader, bool, error) {
	h, err := r.decodeContainerHeader(tagObject)
	if err != nil {
		return nil, false, err
	}
	id, ok, err := r.meta.lookup(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	w := int(h.idWidth)
	idTable := r.val[h.idTableStart : h.idTableStart+w*h.count]
	slot := sort.Search(h.count, func(i int) bool {
		return getUintWidth(idTable[i*w:], h.idWidth) >= uint64(id)
	})
	if slot >= h.count || getUintWidth(idTable[slot*w:], h.idWidth) != uint64(id) {
		return nil, false, nil
	}

	elem, err := r.elementAt(h, r.insertionIndexAt(h, slot))
	if err != nil {
		return nil, false, err
	}
	return newSubReader(r.meta, elem), true, nil
}

// Fields calls fn for each field of an object, in insertion order, until
// fn returns false or all fields have been visited. Key names are
// recovered by inverting the sorted-slot-to-insertion-index permutation
// the object stores alongside its sorted key-id table.
func (r *Reader) Fields(fn func(key string, value *Reader) (bool, error)) error {
	h, err := r.decodeContainerHeader(tagObject)
	if err != nil {
		return err
	}
	idW := int(h.idWidth)
	idTable := r.val[h.idTableStart : h.idTableStart+idW*h.count]

	idAtInsertion := make([]int, h.count)
	for slot := 0; slot < h.count; slot++ {
		id := int(getUintWidth(idTable[slot*idW:], h.idWidth))
		idAtInsertion[r.insertionIndexAt(h, slot)] = id
	}

	for i := 0; i < h.count; i++ {
		name, err := r.meta.stringAt(idAtInsertion[i])
		if err != nil {
			return err
		}
		elem, err := r.elementAt(h, i)
		if err != nil {
			return err
		}
		cont, err := fn(name, newSubReader(r.meta, elem))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
