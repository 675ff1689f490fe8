package types

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/driftframe/channelengine/ckerr"
)

// CacheMagic identifies a valid channel cache file.
const CacheMagic uint32 = 0x43484b31 // "CHK1"

// CurrentVersion is the current on-disk cache format version. Readers reject
// any version greater than this and trigger an LAi rebuild for any version
// less than this (see spec §4.1 load procedure).
const CurrentVersion uint16 = 20

// ChannelIDFieldSize is the fixed, NUL-terminated channel_id field width
// within the header. Header.Encode rejects a channel id of this many bytes
// or more, leaving room for the NUL terminator.
const ChannelIDFieldSize = 64

// HeaderFixedSize is the size of every header field up to and including the
// checksum, i.e. everything before the channel_id field.
const HeaderFixedSize = 4 + 2 + 2 + 4 + 4 + 4 + 4 + 4 // 28

// HeaderSize is the total fixed-width header size written to disk.
const HeaderSize = HeaderFixedSize + ChannelIDFieldSize // 92

// Header is the fixed-size prefix of a channel cache file.
type Header struct {
	Magic     uint32
	Version   uint16
	Flags     uint16
	CiCount   uint32
	LaiCount  uint32
	CiOffset  uint32
	LaiOffset uint32
	Checksum  uint32
	ChannelID string
}

// Encode writes h's 92-byte wire form into buf, which must be at least
// HeaderSize bytes. The checksum field is written as-is; the cache encoder
// then computes Checksum over the full file and writes it into bytes 24..28.
func (h Header) Encode(buf []byte) error {
	if len(buf) < HeaderSize {
		return ckerr.New(ckerr.InvalidArgument, "header buffer too small")
	}
	if len(h.ChannelID) >= ChannelIDFieldSize {
		return ckerr.Newf(ckerr.InvalidArgument, "channel id %q exceeds %d bytes", h.ChannelID, ChannelIDFieldSize-1)
	}
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint32(buf[8:12], h.CiCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.LaiCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.CiOffset)
	binary.LittleEndian.PutUint32(buf[20:24], h.LaiOffset)
	binary.LittleEndian.PutUint32(buf[24:28], h.Checksum)
	idField := buf[HeaderFixedSize:HeaderSize]
	for i := range idField {
		idField[i] = 0
	}
	copy(idField, h.ChannelID)
	return nil
}

// DecodeHeader parses the 92-byte header prefix of buf.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ckerr.New(ckerr.Corruption, "file too small for header")
	}
	var h Header
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Flags = binary.LittleEndian.Uint16(buf[6:8])
	h.CiCount = binary.LittleEndian.Uint32(buf[8:12])
	h.LaiCount = binary.LittleEndian.Uint32(buf[12:16])
	h.CiOffset = binary.LittleEndian.Uint32(buf[16:20])
	h.LaiOffset = binary.LittleEndian.Uint32(buf[20:24])
	h.Checksum = binary.LittleEndian.Uint32(buf[24:28])
	idField := buf[HeaderFixedSize:HeaderSize]
	n := 0
	for n < len(idField) && idField[n] != 0 {
		n++
	}
	h.ChannelID = string(idField[:n])
	return h, nil
}

// Checksum computes the CRC32 (IEEE polynomial, matching hash/crc32's
// default table) of the full file contents, with the header's checksum
// field treated as zero. Callers pass the complete buffer (header + Ci +
// LAi) exactly as it will be (or was) written to disk.
func Checksum(fileBuf []byte) uint32 {
	if len(fileBuf) < HeaderSize {
		return crc32.ChecksumIEEE(fileBuf)
	}
	tmp := make([]byte, len(fileBuf))
	copy(tmp, fileBuf)
	for i := 24; i < 28; i++ {
		tmp[i] = 0
	}
	return crc32.ChecksumIEEE(tmp)
}
