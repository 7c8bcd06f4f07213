package encode

import (
	"bytes"
	"encoding/binary"
)

// Ogg page header flags.
const (
	oggBOS = 0x02
	oggEOS = 0x04
)

// oggCRCTable is the lookup table for the Ogg CRC-32 (polynomial 0x04c11db7,
// not reflected, zero initial value and no final XOR).
var oggCRCTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = crc<<8 ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

// oggWriter lays out one logical bitstream, one packet per page.
type oggWriter struct {
	serial uint32
	seq    uint32
}

// page returns a single Ogg page carrying packet. Packets must be shorter
// than 255*255 bytes.
func (w *oggWriter) page(packet []byte, granule uint64, flags byte) []byte {
	segments := len(packet)/255 + 1
	var buf bytes.Buffer
	buf.Grow(27 + segments + len(packet))

	buf.WriteString("OggS")
	buf.WriteByte(0)
	buf.WriteByte(flags)
	binary.Write(&buf, binary.LittleEndian, granule)
	binary.Write(&buf, binary.LittleEndian, w.serial)
	binary.Write(&buf, binary.LittleEndian, w.seq)
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteByte(byte(segments))
	for range segments - 1 {
		buf.WriteByte(255)
	}
	buf.WriteByte(byte(len(packet) % 255))
	buf.Write(packet)

	out := buf.Bytes()
	binary.LittleEndian.PutUint32(out[22:], oggCRC(out))
	w.seq++
	return out
}
