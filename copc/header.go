package copc

import (
	"encoding/binary"
	"math"

	"github.com/golang/geo/r3"
)

// HeaderSize is the size of a LAS 1.4 public header block.
const HeaderSize = 375

var lasMagic = []byte("LASF")

// compressionBit is set in the point data record format byte when chunks are
// laszip-compressed.
const compressionBit = 0x80

// Header is the subset of a LAS 1.4 public header the engine needs.
type Header struct {
	VersionMajor    uint8
	VersionMinor    uint8
	PointDataOffset uint32
	VLRCount        uint32
	PointFormat     uint8
	Compressed      bool
	PointRecordLen  uint16
	PointCount      uint64
	Scale           r3.Vector
	Offset          r3.Vector
	Min             r3.Vector
	Max             r3.Vector
	EVLRStart       uint64
	EVLRCount       uint32
}

// ParseHeader decodes the first HeaderSize bytes of a LAS 1.4 file.
func ParseHeader(path string, buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, newFormatError(path, 0, int64(len(buf)), buf, "short LAS header")
	}
	if string(buf[0:4]) != string(lasMagic) {
		return nil, newFormatError(path, 0, HeaderSize, buf, "missing LASF signature")
	}
	le := binary.LittleEndian
	h := &Header{
		VersionMajor:    buf[24],
		VersionMinor:    buf[25],
		PointDataOffset: le.Uint32(buf[96:100]),
		VLRCount:        le.Uint32(buf[100:104]),
		PointFormat:     buf[104] &^ compressionBit,
		Compressed:      buf[104]&compressionBit != 0,
		PointRecordLen:  le.Uint16(buf[105:107]),
		Scale: r3.Vector{
			X: f64(buf[131:]), Y: f64(buf[139:]), Z: f64(buf[147:]),
		},
		Offset: r3.Vector{
			X: f64(buf[155:]), Y: f64(buf[163:]), Z: f64(buf[171:]),
		},
		Max: r3.Vector{
			X: f64(buf[179:]), Y: f64(buf[195:]), Z: f64(buf[211:]),
		},
		Min: r3.Vector{
			X: f64(buf[187:]), Y: f64(buf[203:]), Z: f64(buf[219:]),
		},
		EVLRStart: le.Uint64(buf[235:243]),
		EVLRCount: le.Uint32(buf[243:247]),
	}
	h.PointCount = le.Uint64(buf[247:255])
	if h.PointCount == 0 {
		// pre-1.4 writers only fill the legacy count
		h.PointCount = uint64(le.Uint32(buf[107:111]))
	}
	if h.VersionMajor != 1 {
		return nil, newFormatError(path, 0, HeaderSize, buf, "unsupported LAS version")
	}
	if uint16(le.Uint16(buf[94:96])) < HeaderSize {
		return nil, newFormatError(path, 0, HeaderSize, buf, "header size below LAS 1.4 minimum")
	}
	if h.PointRecordLen == 0 {
		return nil, newFormatError(path, 0, HeaderSize, buf, "zero point record length")
	}
	return h, nil
}

func f64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[:8]))
}
