package gps

import (
	"encoding/binary"
	"time"
)

// UBX message classes and ids.
const (
	ubxSync1 = 0xB5
	ubxSync2 = 0x62

	ubxClassNAV = 0x01
	ubxClassACK = 0x05
	ubxClassCFG = 0x06
	ubxClassMON = 0x0A

	ubxNavPVT = 0x07
	ubxAckNak = 0x00
	ubxAckAck = 0x01
	ubxCfgMsg = 0x01
	ubxMonVer = 0x04

	navPVTLen    = 92
	maxUBXLength = 1024
)

// NAV-PVT fix types.
const (
	fixNone   = 0
	fix2D     = 2
	fix3D     = 3
	fixGNSSDR = 4
)

type ubxFrame struct {
	class   byte
	id      byte
	payload []byte
}

// ubxChecksum is the 8-bit Fletcher checksum over class, id, length and
// payload.
func ubxChecksum(b []byte) (ckA, ckB byte) {
	for _, c := range b {
		ckA += c
		ckB += ckA
	}
	return ckA, ckB
}

func encodeUBX(class, id byte, payload []byte) []byte {
	out := make([]byte, 0, 8+len(payload))
	out = append(out, ubxSync1, ubxSync2, class, id)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))
	out = append(out, payload...)
	ckA, ckB := ubxChecksum(out[2:])
	return append(out, ckA, ckB)
}

// ubxScanner reassembles frames from an arbitrary byte stream. Bytes that
// are not part of a frame (NMEA chatter, line noise) are skipped.
type ubxScanner struct {
	buf []byte
}

// push appends p and returns every complete, checksum-valid frame.
func (s *ubxScanner) push(p []byte) []ubxFrame {
	s.buf = append(s.buf, p...)
	var frames []ubxFrame
	for {
		start := -1
		for i := 0; i+1 < len(s.buf); i++ {
			if s.buf[i] == ubxSync1 && s.buf[i+1] == ubxSync2 {
				start = i
				break
			}
		}
		if start < 0 {
			// keep a trailing sync byte that may start the next frame
			if n := len(s.buf); n > 0 && s.buf[n-1] == ubxSync1 {
				s.buf = s.buf[n-1:]
			} else {
				s.buf = s.buf[:0]
			}
			return frames
		}
		s.buf = s.buf[start:]
		if len(s.buf) < 6 {
			return frames
		}
		n := int(binary.LittleEndian.Uint16(s.buf[4:6]))
		if n > maxUBXLength {
			s.buf = s.buf[2:]
			continue
		}
		if len(s.buf) < 8+n {
			return frames
		}
		ckA, ckB := ubxChecksum(s.buf[2 : 6+n])
		if ckA != s.buf[6+n] || ckB != s.buf[7+n] {
			s.buf = s.buf[2:]
			continue
		}
		payload := make([]byte, n)
		copy(payload, s.buf[6:6+n])
		frames = append(frames, ubxFrame{class: s.buf[2], id: s.buf[3], payload: payload})
		s.buf = s.buf[8+n:]
	}
}

// navPVT is the subset of UBX-NAV-PVT we use.
type navPVT struct {
	utc         time.Time
	timeValid   bool // validDate, validTime and fullyResolved
	fixType     byte
	gnssFixOK   bool
	numSV       byte
	lat, lon    float64
	heightMSL   int32 // mm
	hasPosition bool
}

func decodeNavPVT(p []byte) (navPVT, bool) {
	if len(p) < navPVTLen {
		return navPVT{}, false
	}
	var v navPVT
	le := binary.LittleEndian

	valid := p[11]
	v.timeValid = valid&0x07 == 0x07
	if v.timeValid {
		nano := int32(le.Uint32(p[16:20]))
		v.utc = time.Date(int(le.Uint16(p[4:6])), time.Month(p[6]), int(p[7]),
			int(p[8]), int(p[9]), int(p[10]), 0, time.UTC).Add(time.Duration(nano))
	}

	v.fixType = p[20]
	v.gnssFixOK = p[21]&0x01 != 0
	v.numSV = p[23]
	v.lon = float64(int32(le.Uint32(p[24:28]))) * 1e-7
	v.lat = float64(int32(le.Uint32(p[28:32]))) * 1e-7
	v.heightMSL = int32(le.Uint32(p[36:40]))
	v.hasPosition = v.gnssFixOK && v.fixType >= fix2D && v.fixType <= fixGNSSDR
	return v, true
}
