package cache

import (
	"encoding/binary"

	"github.com/driftframe/channelengine/ckerr"
	"github.com/driftframe/channelengine/types"
)

// encodeFile serializes header+Ci+LAi into a single buffer per spec §4.1,
// computing and filling in the checksum field.
func encodeFile(channelID string, ci []types.Entry, lai []int32) ([]byte, error) {
	ciOffset := uint32(types.HeaderSize)
	laiOffset := ciOffset + uint32(len(ci))*types.EntrySize
	total := int(laiOffset) + len(lai)*4

	buf := make([]byte, total)
	h := types.Header{
		Magic:     types.CacheMagic,
		Version:   types.CurrentVersion,
		CiCount:   uint32(len(ci)),
		LaiCount:  uint32(len(lai)),
		CiOffset:  ciOffset,
		LaiOffset: laiOffset,
		ChannelID: channelID,
	}
	if err := h.Encode(buf[:types.HeaderSize]); err != nil {
		return nil, err
	}

	off := int(ciOffset)
	for _, e := range ci {
		e.Encode(buf[off : off+types.EntrySize])
		off += types.EntrySize
	}

	off = int(laiOffset)
	for _, pid := range lai {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(pid))
		off += 4
	}

	checksum := types.Checksum(buf)
	binary.LittleEndian.PutUint32(buf[24:28], checksum)
	return buf, nil
}

// decodeFile parses a complete on-disk cache file, verifying magic, version,
// and checksum. A version older than CurrentVersion decodes successfully but
// signals the caller (via needsRebuild) to force an LAi rebuild from the
// vault, per the legacy-migration rule in spec §4.1.
func decodeFile(buf []byte) (ci []types.Entry, lai []int32, needsRebuild bool, err error) {
	h, err := types.DecodeHeader(buf)
	if err != nil {
		return nil, nil, false, err
	}
	if h.Magic != types.CacheMagic {
		return nil, nil, false, ckerr.New(ckerr.Corruption, "bad magic")
	}
	if h.Version > types.CurrentVersion {
		return nil, nil, false, ckerr.Newf(ckerr.Corruption, "unsupported version %d", h.Version)
	}
	needsRebuild = h.Version < types.CurrentVersion

	want := types.Checksum(buf)
	if want != h.Checksum {
		return nil, nil, false, ckerr.New(ckerr.Corruption, "checksum mismatch")
	}

	ciEnd := int(h.CiOffset) + int(h.CiCount)*types.EntrySize
	laiEnd := int(h.LaiOffset) + int(h.LaiCount)*4
	if ciEnd > len(buf) || laiEnd > len(buf) || int(h.CiOffset) > ciEnd || int(h.LaiOffset) > laiEnd {
		return nil, nil, false, ckerr.New(ckerr.Corruption, "truncated file")
	}

	ci = make([]types.Entry, h.CiCount)
	off := int(h.CiOffset)
	for i := range ci {
		e, derr := types.DecodeEntry(buf[off : off+types.EntrySize])
		if derr != nil {
			return nil, nil, false, derr
		}
		ci[i] = e
		off += types.EntrySize
	}

	lai = make([]int32, h.LaiCount)
	off = int(h.LaiOffset)
	for i := range lai {
		lai[i] = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	return ci, lai, needsRebuild, nil
}
