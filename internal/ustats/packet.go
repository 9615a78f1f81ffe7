package ustats

import (
	"github.com/pkg/errors"
)

// Live records start with a two character tag. Payloads are big-endian and
// use 32-bit string length prefixes.
const (
	PacketStatDescription  = "SD"
	PacketCycleUpdate      = "UC"
	PacketIntegerUpdate    = "UD"
	PacketFloatUpdate      = "UF"
	PacketGroupDescription = "GD"
	PacketConversionFactor = "PC"
	PacketNewFrame         = "NF"
)

const packetTagLen = 2

// ErrUnknownPacket is returned by ApplyPacket for an unrecognized tag.
var ErrUnknownPacket = errors.New("unknown packet type")

// PacketType returns the tag of a live record.
func PacketType(data []byte) (string, error) {
	if len(data) < packetTagLen {
		return "", errors.Wrapf(ErrOutOfRange, "packet of %d bytes has no type", len(data))
	}
	return string(data[:packetTagLen]), nil
}

// ApplyPacket decodes one live record and routes it to the matching Append
// method. It returns the record's tag. FixupRecentItems must be called once
// the current batch of records has been applied.
func (s *StatFile) ApplyPacket(data []byte) (string, error) {
	tag, err := PacketType(data)
	if err != nil {
		return "", err
	}
	r := NewReader(data[packetTagLen:], BigEndian)

	switch tag {
	case PacketStatDescription:
		sd, err := readStatDescription(r, true)
		if err != nil {
			return tag, errors.Wrap(err, "stat description packet")
		}
		s.AppendStatDescription(sd)
	case PacketCycleUpdate:
		st, err := readCycleStat(r)
		if err != nil {
			return tag, errors.Wrap(err, "cycle update packet")
		}
		s.AppendStat(st)
	case PacketIntegerUpdate:
		id, err := r.Word()
		if err != nil {
			return tag, errors.Wrap(err, "integer update packet")
		}
		v, err := r.Int()
		if err != nil {
			return tag, errors.Wrap(err, "integer update packet")
		}
		s.AppendStat(NewIntegerStat(id, v))
	case PacketFloatUpdate:
		id, err := r.Word()
		if err != nil {
			return tag, errors.Wrap(err, "float update packet")
		}
		v, err := r.Double()
		if err != nil {
			return tag, errors.Wrap(err, "float update packet")
		}
		s.AppendStat(NewFloatStat(id, v))
	case PacketGroupDescription:
		g, err := readGroupDescription(r, true)
		if err != nil {
			return tag, errors.Wrap(err, "group description packet")
		}
		s.AppendGroupDescription(g)
	case PacketConversionFactor:
		if err := s.UpdateConversionFactor(data[packetTagLen:]); err != nil {
			return tag, err
		}
	case PacketNewFrame:
		n, err := r.Int()
		if err != nil {
			return tag, errors.Wrap(err, "new frame packet")
		}
		s.AppendFrame(NewFrame(n))
	default:
		return tag, errors.Wrapf(ErrUnknownPacket, "%q", tag)
	}
	return tag, nil
}

func newPacket(tag string) *Writer {
	w := NewWriter(BigEndian)
	w.Raw([]byte(tag))
	return w
}

// EncodeStatDescriptionPacket builds an SD record.
func EncodeStatDescriptionPacket(d StatDescription) ([]byte, error) {
	w := newPacket(PacketStatDescription)
	w.Word(d.StatID)
	if err := w.FString(d.Name, true); err != nil {
		return nil, err
	}
	w.Byte(uint8(d.Type))
	w.Word(d.GroupID)
	return w.Bytes(), nil
}

// EncodeGroupDescriptionPacket builds a GD record.
func EncodeGroupDescriptionPacket(g Group) ([]byte, error) {
	w := newPacket(PacketGroupDescription)
	w.Word(g.GroupID)
	if err := w.FString(g.Name, true); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// EncodeStatPacket builds the UC, UD or UF record matching the stat's sample.
func EncodeStatPacket(st Stat) ([]byte, error) {
	switch v := st.Sample.(type) {
	case CycleSample:
		w := newPacket(PacketCycleUpdate)
		w.Word(st.StatID)
		w.Int(v.InstanceID)
		w.Int(v.ParentInstanceID)
		w.Int(v.ThreadID)
		w.Int(v.Cycles)
		w.Word(v.CallsPerFrame)
		return w.Bytes(), nil
	case IntegerSample:
		w := newPacket(PacketIntegerUpdate)
		w.Word(st.StatID)
		w.Int(v.Value)
		return w.Bytes(), nil
	case FloatSample:
		w := newPacket(PacketFloatUpdate)
		w.Word(st.StatID)
		w.Double(v.Value)
		return w.Bytes(), nil
	}
	return nil, errors.Errorf("stat %d has no sample", st.StatID)
}

// EncodeConversionFactorPacket builds a PC record.
func EncodeConversionFactorPacket(secondsPerCycle float64) []byte {
	w := newPacket(PacketConversionFactor)
	w.Double(secondsPerCycle)
	return w.Bytes()
}

// EncodeNewFramePacket builds an NF record.
func EncodeNewFramePacket(frameNumber int32) []byte {
	w := newPacket(PacketNewFrame)
	w.Int(frameNumber)
	return w.Bytes()
}

// EncodePackets replays a whole session as the sequence of live records a
// running game would send.
func EncodePackets(file *StatFile) ([][]byte, error) {
	out := [][]byte{EncodeConversionFactorPacket(file.SecondsPerCycle)}
	for _, id := range file.sortedDescriptionIDs() {
		p, err := EncodeStatDescriptionPacket(*file.Descriptions[id])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for _, id := range file.sortedGroupIDs() {
		p, err := EncodeGroupDescriptionPacket(*file.Groups[id])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	for _, f := range file.Frames {
		out = append(out, EncodeNewFramePacket(f.FrameNumber))
		for _, st := range f.Stats {
			p, err := EncodeStatPacket(st)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return out, nil
}
