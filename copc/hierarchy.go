package copc

import "encoding/binary"

const hierEntrySize = 32

// childPageMarker in the point count field means the entry references a child
// hierarchy page instead of a point chunk.
const childPageMarker = -1

type hierEntry struct {
	Key        VoxelKey
	Offset     uint64
	ByteSize   int32
	PointCount int32
}

func (e hierEntry) isChildPage() bool { return e.PointCount == childPageMarker }

func parseHierarchyPage(path string, begin int64, buf []byte) ([]hierEntry, error) {
	if len(buf) == 0 || len(buf)%hierEntrySize != 0 {
		return nil, newFormatError(path, begin, begin+int64(len(buf)), buf,
			"hierarchy page size is not a multiple of the entry size")
	}
	le := binary.LittleEndian
	entries := make([]hierEntry, 0, len(buf)/hierEntrySize)
	for off := 0; off < len(buf); off += hierEntrySize {
		rec := buf[off : off+hierEntrySize]
		e := hierEntry{
			Key: VoxelKey{
				Level: int32(le.Uint32(rec[0:4])),
				X:     int32(le.Uint32(rec[4:8])),
				Y:     int32(le.Uint32(rec[8:12])),
				Z:     int32(le.Uint32(rec[12:16])),
			},
			Offset:     le.Uint64(rec[16:24]),
			ByteSize:   int32(le.Uint32(rec[24:28])),
			PointCount: int32(le.Uint32(rec[28:32])),
		}
		if e.Key.Level < 0 {
			return nil, newFormatError(path, begin, begin+int64(len(buf)), rec,
				"hierarchy entry with negative level")
		}
		entries = append(entries, e)
	}
	return entries, nil
}
