// Package variant implements the Variant binary encoding: a pair of byte
// buffers (metadata, value) representing a semi-structured JSON-shaped value
// with lazy, random-access decoding.
//
// The wire layout is internally consistent within this package only — tag
// byte values are this implementation's own choice, not a cross-language
// interoperability contract. See DESIGN.md for the rationale.
package variant

// Type identifies the logical kind of a decoded Variant value.
type Type uint8

const (
	TypeNull Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeArray
	TypeObject
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Tag bytes. Values below 0x40 are fixed-shape primaries; values in
// [0x40, 0x80) are short strings with the inline length in the low 6 bits.
const (
	tagNull    byte = 0x00
	tagFalse   byte = 0x01
	tagTrue    byte = 0x02
	tagInt8    byte = 0x03
	tagInt16   byte = 0x04
	tagInt32   byte = 0x05
	tagInt64   byte = 0x06
	tagFloat64 byte = 0x07
	tagString  byte = 0x08 // long string, 4-byte LE length prefix
	tagArray   byte = 0x09
	tagObject  byte = 0x0A

	tagShortStringMask byte = 0xC0 // top two bits select the family
	tagShortStringBits byte = 0x40 // family marker for short strings
	shortStringMaxLen       = 63
)

// isShortString reports whether tag belongs to the short-string family and,
// if so, returns the inline length.
func isShortString(tag byte) (length int, ok bool) {
	if tag&tagShortStringMask == tagShortStringBits {
		return int(tag & 0x3F), true
	}
	return 0, false
}

func shortStringTag(length int) byte {
	if length < 0 || length > shortStringMaxLen {
		panic("variant: short string length out of range")
	}
	return tagShortStringBits | byte(length)
}

// widthFor returns the smallest byte width in {1,2,3,4} able to hold n.
func widthFor(n uint64) uint8 {
	switch {
	case n <= 0xFF:
		return 1
	case n <= 0xFFFF:
		return 2
	case n <= 0xFFFFFF:
		return 3
	default:
		return 4
	}
}

// putUintWidth writes the low `width` bytes of v into buf, little-endian.
func putUintWidth(buf []byte, width uint8, v uint64) {
	for i := uint8(0); i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

// getUintWidth reads a little-endian unsigned integer of the given width.
func getUintWidth(buf []byte, width uint8) uint64 {
	var v uint64
	for i := uint8(0); i < width; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}

// packSizing packs three 2-bit width fields (each storing width-1, so 1..4
// fits in 2 bits) into a single header byte: offset width, count width, and
// (for objects) key-id width.
func packSizing(offsetWidth, countWidth, idWidth uint8) byte {
	return byte(offsetWidth-1) | byte(countWidth-1)<<2 | byte(idWidth-1)<<4
}

func unpackSizing(b byte) (offsetWidth, countWidth, idWidth uint8) {
	offsetWidth = (b & 0x03) + 1
	countWidth = ((b >> 2) & 0x03) + 1
	idWidth = ((b >> 4) & 0x03) + 1
	return
}

const metadataVersion byte = 1

// metaHeaderByte packs the format version (low 4 bits) and the dictionary
// offset width (next 2 bits, width-1) into the single leading byte of the
// metadata buffer, per spec's "[version_and_flags : 1 byte]" framing.
func metaHeaderByte(offsetWidth uint8) byte {
	return metadataVersion | (offsetWidth-1)<<4
}

func unpackMetaHeaderByte(b byte) (version byte, offsetWidth uint8) {
	version = b & 0x0F
	offsetWidth = ((b >> 4) & 0x03) + 1
	return
}
