package fit

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes the file back to FIT bytes, recomputing the data
// size and both checksums. A 14-byte header is always written.
func Encode(f *File) []byte {
	var body bytes.Buffer
	for i := range f.Messages {
		encodeMessage(&body, &f.Messages[i])
	}

	hdr := make([]byte, headerMaxSize)
	hdr[0] = headerMaxSize
	hdr[1] = f.ProtocolVersion
	binary.LittleEndian.PutUint16(hdr[2:4], f.ProfileVersion)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(body.Len()))
	copy(hdr[8:12], ".FIT")
	binary.LittleEndian.PutUint16(hdr[12:14], checksum(hdr[:12]))

	out := make([]byte, 0, len(hdr)+body.Len()+2)
	out = append(out, hdr...)
	out = append(out, body.Bytes()...)

	crc := checksum(out)
	out = append(out, byte(crc), byte(crc>>8))
	return out
}

func encodeMessage(buf *bytes.Buffer, m *Message) {
	if !m.IsDefinition {
		buf.WriteByte(m.Header)
		buf.Write(m.Data)
		return
	}

	def := m.Def
	hdr := hdrDefinition | (def.LocalType & hdrLocalMask)
	if len(def.DevFields) > 0 {
		hdr |= hdrDevData
	}
	buf.WriteByte(hdr)

	buf.WriteByte(0) // reserved
	var global [2]byte
	if def.BigEndian {
		buf.WriteByte(1)
		binary.BigEndian.PutUint16(global[:], def.GlobalNum)
	} else {
		buf.WriteByte(0)
		binary.LittleEndian.PutUint16(global[:], def.GlobalNum)
	}
	buf.Write(global[:])

	buf.WriteByte(byte(len(def.Fields)))
	for _, f := range def.Fields {
		buf.WriteByte(f.Num)
		buf.WriteByte(f.Size)
		buf.WriteByte(f.BaseType)
	}

	if len(def.DevFields) > 0 {
		buf.WriteByte(byte(len(def.DevFields)))
		for _, f := range def.DevFields {
			buf.WriteByte(f.Num)
			buf.WriteByte(f.Size)
			buf.WriteByte(f.DevIndex)
		}
	}
}
