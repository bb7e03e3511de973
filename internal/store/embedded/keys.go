package embedded

import "encoding/binary"

// Layout (strings length-prefixed with 2 bytes big-endian):
//   - s/{key}{member}        set member, empty value
//   - l/{key}/m              list tail sequence
//   - l/{key}/i/{seq_be8}    list item holding the member

var (
	setSeg      = []byte("s/")
	listSeg     = []byte("l/")
	listMetaSfx = []byte("/m")
	listItemSeg = []byte("/i/")
)

func appendStr(dst []byte, s string) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	dst = append(dst, b[:]...)
	return append(dst, s...)
}

func setPrefix(key string) []byte {
	k := make([]byte, 0, len(setSeg)+2+len(key)+48)
	k = append(k, setSeg...)
	return appendStr(k, key)
}

func setMemberKey(key, member string) []byte {
	return append(setPrefix(key), member...)
}

func listBase(key string) []byte {
	k := make([]byte, 0, len(listSeg)+2+len(key)+16)
	k = append(k, listSeg...)
	return appendStr(k, key)
}

func listMetaKey(key string) []byte {
	return append(listBase(key), listMetaSfx...)
}

func listItemPrefix(key string) []byte {
	return append(listBase(key), listItemSeg...)
}

func listItemKey(key string, seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(listItemPrefix(key), b[:]...)
}
