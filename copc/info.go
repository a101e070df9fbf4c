package copc

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/geo/r3"
)

const (
	vlrHeaderSize = 54
	copcUserID    = "copc"

	copcInfoRecordID = 1
	copcInfoSize     = 160
)

// Info is the COPC info VLR: the level-0 cube and the location of the root
// hierarchy page. The cube is centered at Center with half-width HalfSize on
// every axis.
type Info struct {
	Center         r3.Vector
	HalfSize       float64
	Spacing        float64
	RootHierOffset uint64
	RootHierSize   uint64
}

// Cube returns the level-0 bounds all node bounds subdivide.
func (i *Info) Cube() Bounds {
	h := r3.Vector{X: i.HalfSize, Y: i.HalfSize, Z: i.HalfSize}
	return Bounds{Min: i.Center.Sub(h), Max: i.Center.Add(h)}
}

// ParseInfo decodes the COPC info VLR, which the format requires immediately
// after the LAS header. buf starts at the VLR header.
func ParseInfo(path string, buf []byte) (*Info, error) {
	begin := int64(HeaderSize)
	end := begin + int64(len(buf))
	if len(buf) < vlrHeaderSize+copcInfoSize {
		return nil, newFormatError(path, begin, end, buf, "short COPC info VLR")
	}
	userID := string(bytes.TrimRight(buf[2:18], "\x00"))
	le := binary.LittleEndian
	recordID := le.Uint16(buf[18:20])
	recordLen := le.Uint16(buf[20:22])
	if userID != copcUserID || recordID != copcInfoRecordID {
		return nil, newFormatError(path, begin, end, buf, "first VLR is not the COPC info record")
	}
	if recordLen < copcInfoSize {
		return nil, newFormatError(path, begin, end, buf, "COPC info record too short")
	}
	rec := buf[vlrHeaderSize:]
	info := &Info{
		Center:         r3.Vector{X: f64(rec[0:]), Y: f64(rec[8:]), Z: f64(rec[16:])},
		HalfSize:       f64(rec[24:]),
		Spacing:        f64(rec[32:]),
		RootHierOffset: le.Uint64(rec[40:48]),
		RootHierSize:   le.Uint64(rec[48:56]),
	}
	if info.HalfSize <= 0 {
		return nil, newFormatError(path, begin, end, buf, "non-positive COPC cube halfsize")
	}
	if info.RootHierSize == 0 {
		return nil, newFormatError(path, begin, end, buf, "empty root hierarchy page")
	}
	return info, nil
}
