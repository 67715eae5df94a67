package fit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fitsync/fitsync/pkg/fitsync/logging"
)

// Transform reads the activity at srcPath, rewrites its message
// stream and writes the result to destPath. The source file is never
// modified and destPath only appears once the rewrite has fully
// succeeded.
//
// The rewrite drops lap messages, removes the temperature field from
// sample records, and fills session averages that the recorder left
// at zero with the mean of the accumulated samples.
func Transform(srcPath, destPath string) error {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return &TransformError{Path: srcPath, Err: err}
	}

	out, err := transformBytes(raw)
	if err != nil {
		return &TransformError{Path: srcPath, Structural: true, Err: err}
	}

	if err := writeAtomic(destPath, out); err != nil {
		return &TransformError{Path: destPath, Err: err}
	}
	return nil
}

// accumulator collects per-sample values between session boundaries.
type accumulator struct {
	heartRate []uint32
	cadence   []uint32
	power     []uint32
}

func (a *accumulator) reset() {
	a.heartRate = a.heartRate[:0]
	a.cadence = a.cadence[:0]
	a.power = a.power[:0]
}

// mean returns the truncated arithmetic mean. Zero samples count
// toward the mean; an empty series has no mean.
func mean(vals []uint32) (uint32, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	var sum uint64
	for _, v := range vals {
		sum += uint64(v)
	}
	return uint32(sum / uint64(len(vals))), true
}

// strippedDef pairs a rewritten sample definition with the byte range
// the removal cut from its data messages.
type strippedDef struct {
	def  *Definition
	off  int
	size int
}

func transformBytes(raw []byte) ([]byte, error) {
	f, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	log := logging.Get("fit")

	var acc accumulator
	stripped := make(map[byte]*strippedDef)
	out := &File{
		ProtocolVersion: f.ProtocolVersion,
		ProfileVersion:  f.ProfileVersion,
		Messages:        make([]Message, 0, len(f.Messages)),
	}

	laps := 0
	for _, m := range f.Messages {
		switch {
		case m.Kind == KindLap:
			if !m.IsDefinition {
				laps++
			}
			continue

		case m.IsDefinition:
			if m.Kind == KindSample {
				if off, size, ok := m.Def.fieldOffset(fieldRecordTemperature); ok {
					sd := &strippedDef{def: m.Def.clone(), off: off, size: size}
					sd.def.Fields = removeField(sd.def.Fields, fieldRecordTemperature)
					stripped[m.Def.LocalType] = sd
					m.Def = sd.def
					out.Messages = append(out.Messages, m)
					continue
				}
			}
			delete(stripped, m.Def.LocalType)
			out.Messages = append(out.Messages, m)

		case m.Kind == KindSample:
			acc.heartRate = append(acc.heartRate, sampleValue(&m, fieldRecordHeartRate))
			acc.cadence = append(acc.cadence, sampleValue(&m, fieldRecordCadence))
			acc.power = append(acc.power, sampleValue(&m, fieldRecordPower))

			if sd, ok := stripped[localTypeOf(m.Header)]; ok && sd != nil {
				m.Data = append(m.Data[:sd.off:sd.off], m.Data[sd.off+sd.size:]...)
				m.Def = sd.def
			}
			out.Messages = append(out.Messages, m)

		case m.Kind == KindSessionSummary:
			fillAverage(&m, fieldSessionAvgHeartRate, acc.heartRate)
			fillAverage(&m, fieldSessionAvgCadence, acc.cadence)
			fillAverage(&m, fieldSessionAvgPower, acc.power)
			acc.reset()
			out.Messages = append(out.Messages, m)

		default:
			out.Messages = append(out.Messages, m)
		}
	}

	if laps > 0 {
		log.Debug("dropped lap messages", "count", laps)
	}

	return Encode(out), nil
}

// localTypeOf extracts the local message type from a data message
// header, handling compressed timestamp headers.
func localTypeOf(hdr byte) byte {
	if hdr&hdrCompressed != 0 {
		return (hdr & hdrCompLocal) >> hdrCompLocalSh
	}
	return hdr & hdrLocalMask
}

// sampleValue reads a sample field, substituting zero when the field
// is absent or holds the invalid sentinel.
func sampleValue(m *Message, num byte) uint32 {
	off, size, ok := m.Def.fieldOffset(num)
	if !ok {
		return 0
	}
	v, ok := readUint(m.Data, off, size, m.Def.BigEndian)
	if !ok || v == invalidValue(size) {
		return 0
	}
	return v
}

// fillAverage overwrites a session average that is zero or invalid
// with the mean of the collected samples. Averages the recorder
// actually produced are left alone.
func fillAverage(m *Message, num byte, samples []uint32) {
	off, size, ok := m.Def.fieldOffset(num)
	if !ok {
		return
	}
	cur, ok := readUint(m.Data, off, size, m.Def.BigEndian)
	if !ok {
		return
	}
	if cur != 0 && cur != invalidValue(size) {
		return
	}
	avg, ok := mean(samples)
	if !ok {
		return
	}
	writeUint(m.Data, off, size, m.Def.BigEndian, avg)
}

func removeField(fields []FieldDef, num byte) []FieldDef {
	out := fields[:0]
	for _, f := range fields {
		if f.Num != num {
			out = append(out, f)
		}
	}
	return out
}

// writeAtomic writes data through a temp file in the destination
// directory followed by a rename, so a crash mid-write never leaves a
// half-written activity behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".fitsync-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
