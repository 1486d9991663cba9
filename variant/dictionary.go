package variant

import (
	"log/slog"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// dictionary is the growable field-name dictionary a Builder interns field
// names into. IDs are assigned in insertion order and never change once
// assigned (spec invariant: dictionary monotonicity).
type dictionary struct {
	strings []string
	index   map[string]int
}

func newDictionary() *dictionary {
	return &dictionary{index: make(map[string]int)}
}

// intern returns the stable id for name, assigning a new one if this is the
// first time name has been seen.
func (d *dictionary) intern(name string) (int, error) {
	if !utf8.ValidString(name) {
		return 0, newErr(KindInvalidArgument, "field name %q is not valid UTF-8", name)
	}
	if id, ok := d.index[name]; ok {
		return id, nil
	}
	id := len(d.strings)
	d.strings = append(d.strings, name)
	d.index[name] = id
	return id, nil
}

// bytes finalises the metadata buffer: a 1-byte header, the dictionary
// size, a (count+1)-entry offset table into the string heap, then the
// concatenated UTF-8 string bytes — the layout of spec.md §6's metadata
// buffer. The offset width is also used for the size field, since both
// are bounded by (and close to) the heap length.
func (d *dictionary) bytes() []byte {
	heapLen := 0
	for _, s := range d.strings {
		heapLen += len(s)
	}
	n := len(d.strings)
	offsetWidth := widthFor(maxU64(uint64(heapLen), uint64(n)))
	w := int(offsetWidth)

	offTableStart := 1 + w
	heapStart := offTableStart + w*(n+1)
	out := make([]byte, heapStart+heapLen)

	out[0] = metaHeaderByte(offsetWidth)
	putUintWidth(out[1:], offsetWidth, uint64(n))

	offTable := out[offTableStart : offTableStart+w*(n+1)]
	heap := out[heapStart:]

	var cursor uint64
	heapCursor := 0
	for i, s := range d.strings {
		putUintWidth(offTable[i*w:], offsetWidth, cursor)
		copy(heap[heapCursor:], s)
		heapCursor += len(s)
		cursor += uint64(len(s))
	}
	putUintWidth(offTable[n*w:], offsetWidth, cursor)

	return out
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// metadataView is a read-only, borrowed view over a decoded metadata
// buffer, used by Reader to resolve field names to dictionary ids.
type metadataView struct {
	raw         []byte
	offsetWidth uint8
	count       int
	offsetBase  int // byte offset of the offset table within raw
	heapBase    int // byte offset of the string heap within raw

	// hashIndex is built lazily on the first lookup against a dictionary
	// large enough that a linear scan is worth avoiding. See spec.md
	// §4.2's note that "an optional auxiliary hash index may be built on
	// first lookup", grounded on compactindexsized's use of xxhash for
	// hashing keys into buckets (here: into a plain Go map, keyed on the
	// xxhash-derived bucket with the colliding field names it holds, so a
	// hash collision never returns the wrong id).
	hashIndex map[uint64][]dictEntry
}

type dictEntry struct {
	name string
	id   int
}

// hashIndexThreshold is the dictionary size above which Reader builds the
// auxiliary hash index instead of relying on a linear scan.
const hashIndexThreshold = 16

func parseMetadataView(meta []byte) (*metadataView, error) {
	if len(meta) < 1 {
		return nil, newErr(KindCorruptData, "metadata buffer is empty")
	}
	version, offsetWidth := unpackMetaHeaderByte(meta[0])
	if version != metadataVersion {
		return nil, newErr(KindCorruptData, "unsupported metadata version %d", version)
	}
	w := int(offsetWidth)
	if len(meta) < 1+w {
		return nil, newErr(KindCorruptData, "metadata buffer too short for dictionary size")
	}
	n := int(getUintWidth(meta[1:], offsetWidth))

	offsetBase := 1 + w
	offBytes := w * (n + 1)
	heapBase := offsetBase + offBytes
	if heapBase > len(meta) {
		return nil, newErr(KindCorruptData, "metadata buffer too short for offset table")
	}
	heapLen := len(meta) - heapBase
	if !monotonicOffsets(meta[offsetBase:offsetBase+offBytes], offsetWidth, n+1) {
		return nil, newErr(KindCorruptData, "metadata dictionary offsets are not monotonic")
	}
	last := int(getUintWidth(meta[offsetBase+n*w:], offsetWidth))
	if last != heapLen {
		return nil, newErr(KindCorruptData, "metadata dictionary heap length mismatch")
	}

	return &metadataView{
		raw:         meta,
		offsetWidth: offsetWidth,
		count:       n,
		offsetBase:  offsetBase,
		heapBase:    heapBase,
	}, nil
}

func monotonicOffsets(table []byte, width uint8, entries int) bool {
	var prev uint64
	for i := 0; i < entries; i++ {
		cur := getUintWidth(table[i*int(width):], width)
		if i > 0 && cur < prev {
			return false
		}
		prev = cur
	}
	return true
}

func (v *metadataView) stringAt(id int) (string, error) {
	if id < 0 || id >= v.count {
		return "", newErr(KindCorruptData, "dictionary id %d out of range [0,%d)", id, v.count)
	}
	w := int(v.offsetWidth)
	start := getUintWidth(v.raw[v.offsetBase+id*w:], v.offsetWidth)
	end := getUintWidth(v.raw[v.offsetBase+(id+1)*w:], v.offsetWidth)
	if end < start || int(end) > len(v.raw)-v.heapBase {
		return "", newErr(KindCorruptData, "dictionary string %d has invalid bounds", id)
	}
	return string(v.raw[v.heapBase+int(start) : v.heapBase+int(end)]), nil
}

// lookup resolves name to its dictionary id, building the auxiliary hash
// index on first use once the dictionary is large enough to benefit.
func (v *metadataView) lookup(name string) (int, bool, error) {
	if v.count > hashIndexThreshold {
		if v.hashIndex == nil {
			if err := v.buildHashIndex(); err != nil {
				return 0, false, err
			}
		}
		for _, e := range v.hashIndex[xxhash.Sum64String(name)] {
			if e.name == name {
				return e.id, true, nil
			}
		}
		return 0, false, nil
	}
	for id := 0; id < v.count; id++ {
		s, err := v.stringAt(id)
		if err != nil {
			return 0, false, err
		}
		if s == name {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (v *metadataView) buildHashIndex() error {
	slog.Info("warming up dictionary hash index", "entries", v.count)
	idx := make(map[uint64][]dictEntry, v.count)
	for id := 0; id < v.count; id++ {
		s, err := v.stringAt(id)
		if err != nil {
			return err
		}
		h := xxhash.Sum64String(s)
		idx[h] = append(idx[h], dictEntry{name: s, id: id})
	}
	v.hashIndex = idx
	return nil
}
