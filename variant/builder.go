package variant

import (
	"bytes"
	"io"
	"math"
	"sort"
	"unicode/utf8"
)

// builderState tracks the lifecycle of a single builder handle, per
// spec.md §4.2's state machine: Open (optionally Locked by an outstanding
// child) then Finished. Named and shaped after rsms-go-json's own
// builderState enum, though the alphabet here tracks container scoping
// rather than JSON printer punctuation.
type builderState uint8

const (
	stateOpen builderState = iota
	stateLocked
	stateFinished
)

// parent is implemented by whichever builder owns a sub-builder: the root
// Builder, an ArrayBuilder, or an ObjectBuilder. A sub-builder locks its
// parent on creation and, via childFinished, hands back its sealed bytes
// and unlocks the parent — the scoping discipline spec.md §9 describes
// ("a handle whose creation locks the parent... does not store a direct
// back-reference [beyond] which parent owns it").
type parent interface {
	dict() *dictionary
	lock() error
	unlock()
	childFinished(sealed []byte)
}

// Builder is the root handle for encoding a single Variant value. It
// accepts exactly one top-level append operation (scalar, new array, or
// new object) and, on Finish, writes the metadata and value buffers.
type Builder struct {
	d            *dictionary
	metadataSink io.Writer
	valueSink    io.Writer
	state        builderState
	wroteRoot    bool
	rootBytes    []byte
}

// NewBuilder creates a Builder that will write its metadata dictionary to
// metadataSink and its single value to valueSink once Finish is called.
//
// A Builder created here always starts from a fresh, empty dictionary.
// To have several value-builds share one dictionary, create them with
// NewBuilderWithDictionary over a common SharedDictionary instead — this
// is how scenario F's "one shared metadata sink, three value buffers" is
// expressed.
func NewBuilder(metadataSink, valueSink io.Writer) *Builder {
	return &Builder{
		d:            newDictionary(),
		metadataSink: metadataSink,
		valueSink:    valueSink,
	}
}

// NewBuilderWithDictionary creates a Builder that interns field names into
// an already-existing dictionary instead of starting a fresh, empty one.
// Use SharedDictionary to obtain one that multiple Builders can share.
func NewBuilderWithDictionary(d *SharedDictionary, valueSink io.Writer) *Builder {
	return &Builder{
		d:            d.dict,
		metadataSink: nil,
		valueSink:    valueSink,
	}
}

// SharedDictionary wraps a dictionary so that several Builder values can
// intern field names into it across separate build sessions, per spec.md
// §3's "dictionary grows monotonically across builder sessions that share
// it". Call Flush to write the accumulated dictionary out once all
// sharing Builders are done.
type SharedDictionary struct {
	dict *dictionary
}

// NewSharedDictionary creates an empty dictionary for multiple Builders to
// share.
func NewSharedDictionary() *SharedDictionary {
	return &SharedDictionary{dict: newDictionary()}
}

// Flush writes the current state of the shared dictionary to w. It may be
// called multiple times (e.g. after each value built against it); each
// call rewrites the full dictionary buffer, which only grows.
func (s *SharedDictionary) Flush(w io.Writer) error {
	_, err := w.Write(s.dict.bytes())
	if err != nil {
		return wrapErr(KindIOError, err, "failed to write metadata buffer")
	}
	return nil
}

func (b *Builder) dict() *dictionary { return b.d }

func (b *Builder) lock() error {
	if b.state == stateFinished {
		return newErr(KindInvalidState, "builder already finished")
	}
	if b.state == stateLocked {
		return newErr(KindInvalidState, "builder already has an open sub-builder")
	}
	if b.wroteRoot {
		return newErr(KindInvalidState, "builder already has a value")
	}
	b.state = stateLocked
	return nil
}

func (b *Builder) unlock() {
	b.state = stateOpen
}

func (b *Builder) childFinished(sealed []byte) {
	b.rootBytes = sealed
	b.wroteRoot = true
}

func (b *Builder) checkWritable() error {
	switch b.state {
	case stateFinished:
		return newErr(KindInvalidState, "builder already finished")
	case stateLocked:
		return newErr(KindInvalidState, "builder has an open sub-builder")
	}
	if b.wroteRoot {
		return newErr(KindInvalidState, "builder already has a value")
	}
	return nil
}

// Null appends a JSON null as the root value.
func (b *Builder) Null() error { return b.appendScalar(encodeNull()) }

// Bool appends a boolean as the root value.
func (b *Builder) Bool(v bool) error { return b.appendScalar(encodeBool(v)) }

// Int appends the smallest lossless integer encoding of v as the root value.
func (b *Builder) Int(v int64) error { return b.appendScalar(encodeInt(v)) }

// Float appends a 64-bit float as the root value.
func (b *Builder) Float(v float64) error { return b.appendScalar(encodeFloat(v)) }

// String appends a UTF-8 string as the root value.
func (b *Builder) String(v string) error {
	enc, err := encodeString(v)
	if err != nil {
		return err
	}
	return b.appendScalar(enc)
}

func (b *Builder) appendScalar(enc []byte) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	b.rootBytes = enc
	b.wroteRoot = true
	return nil
}

// NewArray opens a sub-builder for an array as the root value. The
// returned ArrayBuilder locks b until Finish is called on it.
func (b *Builder) NewArray() (*ArrayBuilder, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	return newArrayBuilder(b), nil
}

// NewObject opens a sub-builder for an object as the root value. The
// returned ObjectBuilder locks b until Finish is called on it.
func (b *Builder) NewObject() (*ObjectBuilder, error) {
	if err := b.lock(); err != nil {
		return nil, err
	}
	return newObjectBuilder(b), nil
}

// Finish seals the builder: writes the accumulated value bytes to the
// value sink, and — unless this Builder was created with
// NewBuilderWithDictionary, in which case the caller owns flushing the
// shared dictionary separately — writes the metadata buffer to the
// metadata sink.
func (b *Builder) Finish() error {
	if b.state == stateFinished {
		return newErr(KindInvalidState, "builder already finished")
	}
	if b.state == stateLocked {
		return newErr(KindInvalidState, "builder has an open sub-builder")
	}
	if !b.wroteRoot {
		return newErr(KindInvalidState, "builder has no value to finish")
	}

	err := newChain().
		run("write value", func() error {
			_, err := b.valueSink.Write(b.rootBytes)
			return err
		}).
		run("write metadata", func() error {
			if b.metadataSink == nil {
				return nil
			}
			_, err := b.metadataSink.Write(b.d.bytes())
			return err
		}).
		result()
	b.state = stateFinished
	return err
}

// ---- scalar encoders shared by root/array/object builders ----

func encodeNull() []byte { return []byte{tagNull} }

func encodeBool(v bool) []byte {
	if v {
		return []byte{tagTrue}
	}
	return []byte{tagFalse}
}

// encodeInt picks the smallest of int8/int16/int32/int64 that represents v
// losslessly, per spec.md §4.1.
func encodeInt(v int64) []byte {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return []byte{tagInt8, byte(v)}
	case v >= math.MinInt16 && v <= math.MaxInt16:
		buf := make([]byte, 3)
		buf[0] = tagInt16
		putUintWidth(buf[1:], 2, uint64(uint16(v)))
		return buf
	case v >= math.MinInt32 && v <= math.MaxInt32:
		buf := make([]byte, 5)
		buf[0] = tagInt32
		putUintWidth(buf[1:], 4, uint64(uint32(v)))
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = tagInt64
		putUintWidth(buf[1:], 8, uint64(v))
		return buf
	}
}

func encodeFloat(v float64) []byte {
	buf := make([]byte, 9)
	buf[0] = tagFloat64
	putUintWidth(buf[1:], 8, math.Float64bits(v))
	return buf
}

func encodeString(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, newErr(KindInvalidArgument, "string value is not valid UTF-8")
	}
	if len(s) <= shortStringMaxLen {
		buf := make([]byte, 1+len(s))
		buf[0] = shortStringTag(len(s))
		copy(buf[1:], s)
		return buf, nil
	}
	buf := make([]byte, 5+len(s))
	buf[0] = tagString
	putUintWidth(buf[1:], 4, uint64(len(s)))
	copy(buf[5:], s)
	return buf, nil
}

// ---- container builders (array/object) ----

// containerBuilder holds the state shared by ArrayBuilder and
// ObjectBuilder: a staging buffer for finished child byte-slices, the
// offsets delimiting them, and the scoping lock/unlock discipline.
//
// This uses the "buffered" strategy spec.md §4.1 permits: each container
// accumulates its children's already-sealed bytes in a private buffer and
// computes its own header only at Finish, mirroring the teacher's
// compactindexsized.Builder, which stages bucket entries in temporary
// storage and only assembles the final on-disk layout at SealAndClose.
type containerBuilder struct {
	p       parent
	payload bytes.Buffer
	offsets []uint64 // offsets[0] == 0; len(offsets) == number of children + 1
	state   builderState
	child   parent // set while a nested sub-builder is open
}

func newContainerBuilder(p parent) containerBuilder {
	return containerBuilder{p: p, offsets: []uint64{0}}
}

func (c *containerBuilder) dict() *dictionary { return c.p.dict() }

func (c *containerBuilder) lock() error {
	if c.state == stateFinished {
		return newErr(KindInvalidState, "sub-builder already finished")
	}
	if c.state == stateLocked {
		return newErr(KindInvalidState, "sub-builder already has an open child")
	}
	c.state = stateLocked
	return nil
}

func (c *containerBuilder) unlock() {
	c.state = stateOpen
	c.child = nil
}

func (c *containerBuilder) childFinished(sealed []byte) {
	c.payload.Write(sealed)
	c.offsets = append(c.offsets, c.offsets[len(c.offsets)-1]+uint64(len(sealed)))
}

func (c *containerBuilder) checkWritable() error {
	switch c.state {
	case stateFinished:
		return newErr(KindInvalidState, "sub-builder already finished")
	case stateLocked:
		return newErr(KindInvalidState, "sub-builder has an open child")
	}
	return nil
}

func (c *containerBuilder) appendRaw(enc []byte) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	c.payload.Write(enc)
	c.offsets = append(c.offsets, c.offsets[len(c.offsets)-1]+uint64(len(enc)))
	return nil
}

// ArrayBuilder is a scoped sub-builder for an array value. It must be
// finished before its parent can continue (spec.md §3's sub-builder
// scoping invariant).
type ArrayBuilder struct {
	containerBuilder
}

func newArrayBuilder(p parent) *ArrayBuilder {
	return &ArrayBuilder{containerBuilder: newContainerBuilder(p)}
}

func (a *ArrayBuilder) Null() error       { return a.appendRaw(encodeNull()) }
func (a *ArrayBuilder) Bool(v bool) error { return a.appendRaw(encodeBool(v)) }
func (a *ArrayBuilder) Int(v int64) error { return a.appendRaw(encodeInt(v)) }
func (a *ArrayBuilder) Float(v float64) error {
	return a.appendRaw(encodeFloat(v))
}
func (a *ArrayBuilder) String(v string) error {
	enc, err := encodeString(v)
	if err != nil {
		return err
	}
	return a.appendRaw(enc)
}

// NewArray opens a nested array element. a is locked until the returned
// builder's Finish is called.
func (a *ArrayBuilder) NewArray() (*ArrayBuilder, error) {
	if err := a.lock(); err != nil {
		return nil, err
	}
	child := newArrayBuilder(a)
	a.child = child
	return child, nil
}

// NewObject opens a nested object element. a is locked until the returned
// builder's Finish is called.
func (a *ArrayBuilder) NewObject() (*ObjectBuilder, error) {
	if err := a.lock(); err != nil {
		return nil, err
	}
	child := newObjectBuilder(a)
	a.child = child
	return child, nil
}

// Finish seals the array: writes its header, offset table and payload into
// a single byte slice, and hands it to the parent.
func (a *ArrayBuilder) Finish() error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	sealed := sealArray(a.offsets, a.payload.Bytes())
	a.state = stateFinished
	a.p.childFinished(sealed)
	a.p.unlock()
	return nil
}

func sealArray(offsets []uint64, payload []byte) []byte {
	n := len(offsets) - 1
	payloadLen := uint64(len(payload))
	offsetWidth := widthFor(payloadLen)
	countWidth := widthFor(uint64(n))

	headerLen := 1 + 1 + int(countWidth) + int(offsetWidth)*(n+1)
	out := make([]byte, headerLen+len(payload))
	out[0] = tagArray
	out[1] = packSizing(offsetWidth, countWidth, 1)
	putUintWidth(out[2:], countWidth, uint64(n))
	offTable := out[2+int(countWidth):]
	for i, off := range offsets {
		putUintWidth(offTable[i*int(offsetWidth):], offsetWidth, off)
	}
	copy(out[headerLen:], payload)
	return out
}

// ObjectBuilder is a scoped sub-builder for an object value. Every append
// interns its key into the shared dictionary (spec.md §4.1's field-name
// interning).
type ObjectBuilder struct {
	containerBuilder
	keyIDs []int // keyIDs[i] is the dictionary id of the i-th field written
}

func newObjectBuilder(p parent) *ObjectBuilder {
	return &ObjectBuilder{containerBuilder: newContainerBuilder(p)}
}

func (o *ObjectBuilder) internKey(key string) (int, error) {
	return o.dict().intern(key)
}

func (o *ObjectBuilder) appendField(key string, enc []byte) error {
	id, err := o.internKey(key)
	if err != nil {
		return err
	}
	if err := o.appendRaw(enc); err != nil {
		return err
	}
	o.keyIDs = append(o.keyIDs, id)
	return nil
}

func (o *ObjectBuilder) Null(key string) error       { return o.appendField(key, encodeNull()) }
func (o *ObjectBuilder) Bool(key string, v bool) error { return o.appendField(key, encodeBool(v)) }
func (o *ObjectBuilder) Int(key string, v int64) error { return o.appendField(key, encodeInt(v)) }
func (o *ObjectBuilder) Float(key string, v float64) error {
	return o.appendField(key, encodeFloat(v))
}
func (o *ObjectBuilder) String(key string, v string) error {
	enc, err := encodeString(v)
	if err != nil {
		return err
	}
	return o.appendField(key, enc)
}

// NewArray opens a nested array field. o is locked until the returned
// builder's Finish is called.
func (o *ObjectBuilder) NewArray(key string) (*ArrayBuilder, error) {
	id, err := o.internKey(key)
	if err != nil {
		return nil, err
	}
	if err := o.lock(); err != nil {
		return nil, err
	}
	o.keyIDs = append(o.keyIDs, id)
	child := newArrayBuilder(o)
	o.child = child
	return child, nil
}

// NewObject opens a nested object field. o is locked until the returned
// builder's Finish is called.
func (o *ObjectBuilder) NewObject(key string) (*ObjectBuilder, error) {
	id, err := o.internKey(key)
	if err != nil {
		return nil, err
	}
	if err := o.lock(); err != nil {
		return nil, err
	}
	o.keyIDs = append(o.keyIDs, id)
	child := newObjectBuilder(o)
	o.child = child
	return child, nil
}

// Finish seals the object. Per spec.md §4.1's "sort-on-finish", the
// Reader needs a key-id table sorted ascending to binary-search, but
// spec.md §8 also requires field-write order to survive a round trip.
// This implementation reconciles the two without reordering the payload:
// it stores the key-id table in sorted order alongside a parallel
// permutation table mapping each sorted slot back to its original
// insertion index, plus a single offset table over the untouched,
// insertion-ordered payload. Get() binary-searches the id table and
// follows the permutation to the right offset-table entry; Fields()
// walks the offset table directly and inverts the permutation to recover
// each slot's key.
func (o *ObjectBuilder) Finish() error {
	if err := o.checkWritable(); err != nil {
		return err
	}
	sealed := sealObject(o.keyIDs, o.offsets, o.payload.Bytes())
	o.state = stateFinished
	o.p.childFinished(sealed)
	o.p.unlock()
	return nil
}

func sealObject(keyIDs []int, insertionOffsets []uint64, payload []byte) []byte {
	n := len(keyIDs)

	// order[s] is the insertion index of the field that occupies sorted
	// slot s, i.e. the s-th smallest key id.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return keyIDs[order[i]] < keyIDs[order[j]] })

	payloadLen := uint64(len(payload))
	offsetWidth := widthFor(payloadLen)
	countWidth := widthFor(uint64(n))
	maxID := 0
	for _, id := range keyIDs {
		if id > maxID {
			maxID = id
		}
	}
	idWidth := widthFor(uint64(maxID))

	headerLen := 1 + 1 + int(countWidth) + int(idWidth)*n + int(countWidth)*n + int(offsetWidth)*(n+1)
	out := make([]byte, headerLen+len(payload))
	out[0] = tagObject
	out[1] = packSizing(offsetWidth, countWidth, idWidth)
	putUintWidth(out[2:], countWidth, uint64(n))

	cursor := 2 + int(countWidth)

	idTable := out[cursor : cursor+int(idWidth)*n]
	for slot, insertionIdx := range order {
		putUintWidth(idTable[slot*int(idWidth):], idWidth, uint64(keyIDs[insertionIdx]))
	}
	cursor += int(idWidth) * n

	permTable := out[cursor : cursor+int(countWidth)*n]
	for slot, insertionIdx := range order {
		putUintWidth(permTable[slot*int(countWidth):], countWidth, uint64(insertionIdx))
	}
	cursor += int(countWidth) * n

	offTable := out[cursor : cursor+int(offsetWidth)*(n+1)]
	for i, off := range insertionOffsets {
		putUintWidth(offTable[i*int(offsetWidth):], offsetWidth, off)
	}
	cursor += int(offsetWidth) * (n + 1)

	copy(out[headerLen:], payload)

	return out
}
