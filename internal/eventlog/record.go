package eventlog

import (
	"encoding/binary"
	"hash/crc32"
)

// Entry values: payload | crc32c(payload).
// Pending values: uvarint deliveredMs | uvarint deliveries | consumer | crc32c.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func appendCRC(out []byte) []byte {
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(out, castagnoli))
	return append(out, crcb[:]...)
}

func checkCRC(b []byte) ([]byte, bool) {
	if len(b) < 4 {
		return nil, false
	}
	body := b[:len(b)-4]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, false
	}
	return body, true
}

// EncodeEntry frames an entry payload with a checksum.
func EncodeEntry(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+4)
	out = append(out, payload...)
	return appendCRC(out)
}

// DecodeEntry verifies and returns a copy of the payload.
func DecodeEntry(b []byte) ([]byte, bool) {
	body, ok := checkCRC(b)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// pendingRecord tracks one delivered, unacknowledged entry.
type pendingRecord struct {
	Consumer    string
	DeliveredMs int64
	Deliveries  int64
}

func encodePending(p pendingRecord) []byte {
	out := make([]byte, 0, 2*binary.MaxVarintLen64+len(p.Consumer)+4)
	out = binary.AppendUvarint(out, uint64(p.DeliveredMs))
	out = binary.AppendUvarint(out, uint64(p.Deliveries))
	out = append(out, p.Consumer...)
	return appendCRC(out)
}

func decodePending(b []byte) (pendingRecord, bool) {
	body, ok := checkCRC(b)
	if !ok {
		return pendingRecord{}, false
	}
	ms, n := binary.Uvarint(body)
	if n <= 0 {
		return pendingRecord{}, false
	}
	body = body[n:]
	deliveries, n := binary.Uvarint(body)
	if n <= 0 {
		return pendingRecord{}, false
	}
	return pendingRecord{
		Consumer:    string(body[n:]),
		DeliveredMs: int64(ms),
		Deliveries:  int64(deliveries),
	}, true
}
