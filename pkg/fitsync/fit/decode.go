package fit

import (
	"encoding/binary"
	"fmt"
)

const (
	headerMinSize = 12
	headerMaxSize = 14

	// Record header bits.
	hdrCompressed  = 0x80
	hdrDefinition  = 0x40
	hdrDevData     = 0x20
	hdrLocalMask   = 0x0F
	hdrCompLocal   = 0x60 // local type bits of a compressed header
	hdrCompLocalSh = 5
)

// Decode parses a complete FIT file from raw bytes. The trailing CRC
// is verified; a mismatch or any malformed framing yields an error.
func Decode(raw []byte) (*File, error) {
	if len(raw) < headerMinSize+2 {
		return nil, fmt.Errorf("file too short (%d bytes)", len(raw))
	}

	hdrSize := int(raw[0])
	if hdrSize != headerMinSize && hdrSize != headerMaxSize {
		return nil, fmt.Errorf("unsupported header size %d", hdrSize)
	}
	if len(raw) < hdrSize+2 {
		return nil, fmt.Errorf("file shorter than its header")
	}
	if string(raw[8:12]) != ".FIT" {
		return nil, fmt.Errorf("missing .FIT signature")
	}

	f := &File{
		ProtocolVersion: raw[1],
		ProfileVersion:  binary.LittleEndian.Uint16(raw[2:4]),
	}
	dataSize := int(binary.LittleEndian.Uint32(raw[4:8]))

	if hdrSize == headerMaxSize {
		// The header CRC is optional; zero means not computed.
		if hc := binary.LittleEndian.Uint16(raw[12:14]); hc != 0 && hc != checksum(raw[:12]) {
			return nil, fmt.Errorf("header checksum mismatch")
		}
	}

	if len(raw) < hdrSize+dataSize+2 {
		return nil, fmt.Errorf("truncated data section: header claims %d bytes", dataSize)
	}

	body := raw[hdrSize : hdrSize+dataSize]
	want := binary.LittleEndian.Uint16(raw[hdrSize+dataSize : hdrSize+dataSize+2])
	if got := checksum(raw[:hdrSize+dataSize]); got != want {
		return nil, fmt.Errorf("file checksum mismatch: computed %04x, stored %04x", got, want)
	}

	defs := make(map[byte]*Definition)
	pos := 0
	for pos < len(body) {
		hdr := body[pos]
		pos++

		if hdr&hdrCompressed != 0 {
			// Compressed timestamp header: always a data message.
			local := (hdr & hdrCompLocal) >> hdrCompLocalSh
			msg, n, err := decodeData(body[pos:], hdr, defs[local])
			if err != nil {
				return nil, err
			}
			pos += n
			f.Messages = append(f.Messages, msg)
			continue
		}

		local := hdr & hdrLocalMask
		if hdr&hdrDefinition != 0 {
			def, n, err := decodeDefinition(body[pos:], hdr, local)
			if err != nil {
				return nil, err
			}
			pos += n
			defs[local] = def
			f.Messages = append(f.Messages, Message{
				Kind:         def.kind(),
				Header:       hdr,
				IsDefinition: true,
				Def:          def,
			})
			continue
		}

		msg, n, err := decodeData(body[pos:], hdr, defs[local])
		if err != nil {
			return nil, err
		}
		pos += n
		f.Messages = append(f.Messages, msg)
	}

	return f, nil
}

func decodeDefinition(b []byte, hdr, local byte) (*Definition, int, error) {
	if len(b) < 5 {
		return nil, 0, fmt.Errorf("truncated definition message")
	}

	arch := b[1]
	if arch > 1 {
		return nil, 0, fmt.Errorf("invalid architecture byte %#x", arch)
	}
	def := &Definition{
		LocalType: local,
		BigEndian: arch == 1,
	}
	if def.BigEndian {
		def.GlobalNum = binary.BigEndian.Uint16(b[2:4])
	} else {
		def.GlobalNum = binary.LittleEndian.Uint16(b[2:4])
	}

	nFields := int(b[4])
	pos := 5
	if len(b) < pos+nFields*3 {
		return nil, 0, fmt.Errorf("truncated field definitions")
	}
	for i := 0; i < nFields; i++ {
		def.Fields = append(def.Fields, FieldDef{
			Num:      b[pos],
			Size:     b[pos+1],
			BaseType: b[pos+2],
		})
		pos += 3
	}

	if hdr&hdrDevData != 0 {
		if len(b) < pos+1 {
			return nil, 0, fmt.Errorf("truncated developer field count")
		}
		nDev := int(b[pos])
		pos++
		if len(b) < pos+nDev*3 {
			return nil, 0, fmt.Errorf("truncated developer field definitions")
		}
		for i := 0; i < nDev; i++ {
			def.DevFields = append(def.DevFields, DevFieldDef{
				Num:      b[pos],
				Size:     b[pos+1],
				DevIndex: b[pos+2],
			})
			pos += 3
		}
	}

	return def, pos, nil
}

func decodeData(b []byte, hdr byte, def *Definition) (Message, int, error) {
	if def == nil {
		return Message{}, 0, fmt.Errorf("data message without prior definition (header %#x)", hdr)
	}
	size := def.DataSize()
	if len(b) < size {
		return Message{}, 0, fmt.Errorf("truncated data message for global %d", def.GlobalNum)
	}
	data := make([]byte, size)
	copy(data, b[:size])
	return Message{
		Kind:   def.kind(),
		Header: hdr,
		Def:    def,
		Data:   data,
	}, size, nil
}

// readUint extracts an unsigned field value of 1, 2 or 4 bytes at the
// given offset, honoring the definition's byte order.
func readUint(data []byte, off, size int, bigEndian bool) (uint32, bool) {
	if off+size > len(data) {
		return 0, false
	}
	switch size {
	case 1:
		return uint32(data[off]), true
	case 2:
		if bigEndian {
			return uint32(binary.BigEndian.Uint16(data[off : off+2])), true
		}
		return uint32(binary.LittleEndian.Uint16(data[off : off+2])), true
	case 4:
		if bigEndian {
			return binary.BigEndian.Uint32(data[off : off+4]), true
		}
		return binary.LittleEndian.Uint32(data[off : off+4]), true
	default:
		return 0, false
	}
}

// writeUint stores an unsigned field value in place.
func writeUint(data []byte, off, size int, bigEndian bool, v uint32) {
	switch size {
	case 1:
		data[off] = byte(v)
	case 2:
		if bigEndian {
			binary.BigEndian.PutUint16(data[off:off+2], uint16(v))
		} else {
			binary.LittleEndian.PutUint16(data[off:off+2], uint16(v))
		}
	case 4:
		if bigEndian {
			binary.BigEndian.PutUint32(data[off:off+4], v)
		} else {
			binary.LittleEndian.PutUint32(data[off:off+4], v)
		}
	}
}

// invalidValue returns the FIT "invalid" sentinel for an unsigned
// field of the given size.
func invalidValue(size int) uint32 {
	switch size {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}
