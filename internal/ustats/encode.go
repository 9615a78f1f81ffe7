package ustats

import (
	"math"
	"os"

	"github.com/pkg/errors"
)

// EncodeOptions selects the format version and byte order to write.
type EncodeOptions struct {
	Version    int32
	Endianness Endianness
}

// DefaultEncodeOptions writes the newest version in little-endian order.
var DefaultEncodeOptions = EncodeOptions{Version: CurrentVersion, Endianness: LittleEndian}

// Encode serializes a session into the binary stats format.
func Encode(file *StatFile, opts EncodeOptions) ([]byte, error) {
	if opts.Version < MinSupportedVersion || opts.Version > CurrentVersion {
		return nil, &VersionError{Version: opts.Version, Min: MinSupportedVersion, Max: CurrentVersion}
	}
	e := &encoder{w: NewWriter(opts.Endianness), version: opts.Version}
	e.w.Raw([]byte(MagicTag))
	e.w.Int(opts.Version)
	e.w.Double(file.SecondsPerCycle)

	stats := make([]StatDescription, 0, len(file.Descriptions))
	for _, id := range file.sortedDescriptionIDs() {
		stats = append(stats, *file.Descriptions[id])
	}
	groups := make([]Group, 0, len(file.Groups))
	for _, id := range file.sortedGroupIDs() {
		groups = append(groups, *file.Groups[id])
	}

	if opts.Version >= ChunkedVersion {
		e.w.Int(int32(ChunkStatDescriptions))
	}
	if err := e.statDescriptions(stats); err != nil {
		return nil, err
	}
	if opts.Version >= ChunkedVersion {
		e.w.Int(int32(ChunkGroupDescriptions))
	}
	if err := e.groupDescriptions(groups); err != nil {
		return nil, err
	}
	for _, f := range file.Frames {
		if opts.Version >= ChunkedVersion {
			e.w.Int(int32(ChunkFrameData))
		}
		if err := e.frame(f); err != nil {
			return nil, errors.Wrapf(err, "frame %d", f.FrameNumber)
		}
	}
	return e.w.Bytes(), nil
}

// SaveStatsFile encodes a session and writes it to path.
func SaveStatsFile(path string, file *StatFile, opts EncodeOptions) error {
	data, err := Encode(file, opts)
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "failed to write stats file")
}

type encoder struct {
	w       *Writer
	version int32
}

func (e *encoder) longStrings() bool { return e.version >= ViewpointVersion }

func (e *encoder) count(n int, what string) error {
	if n > math.MaxUint16 {
		return errors.Errorf("too many %s: %d", what, n)
	}
	e.w.Word(uint16(n))
	return nil
}

func (e *encoder) statDescriptions(stats []StatDescription) error {
	if err := e.count(len(stats), "stat descriptions"); err != nil {
		return err
	}
	for _, sd := range stats {
		e.w.Word(sd.StatID)
		if err := e.w.FString(sd.Name, e.longStrings()); err != nil {
			return err
		}
		e.w.Byte(uint8(sd.Type))
		e.w.Word(sd.GroupID)
	}
	return nil
}

func (e *encoder) groupDescriptions(groups []Group) error {
	if err := e.count(len(groups), "group descriptions"); err != nil {
		return err
	}
	for _, g := range groups {
		e.w.Word(g.GroupID)
		if err := e.w.FString(g.Name, e.longStrings()); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) frame(f *Frame) error {
	e.w.Int(f.FrameNumber)
	if e.version >= ViewpointVersion {
		var vp Viewpoint
		if f.Viewpoint != nil {
			vp = *f.Viewpoint
		}
		for _, v := range vp.Location {
			e.w.Float(v)
		}
		for _, v := range vp.Rotation {
			e.w.Int(v)
		}
	}

	var (
		cycles []Stat
		ints   []Stat
		floats []Stat
	)
	for _, st := range f.Stats {
		switch st.Sample.(type) {
		case CycleSample:
			cycles = append(cycles, st)
		case IntegerSample:
			ints = append(ints, st)
		case FloatSample:
			floats = append(floats, st)
		}
	}

	if err := e.count(len(cycles), "cycle stats"); err != nil {
		return err
	}
	for _, st := range cycles {
		c := st.Sample.(CycleSample)
		e.w.Word(st.StatID)
		e.w.Int(c.InstanceID)
		e.w.Int(c.ParentInstanceID)
		e.w.Int(c.ThreadID)
		e.w.Int(c.Cycles)
		e.w.Word(c.CallsPerFrame)
	}
	if err := e.count(len(ints), "integer stats"); err != nil {
		return err
	}
	for _, st := range ints {
		e.w.Word(st.StatID)
		e.w.Int(st.Sample.(IntegerSample).Value)
	}
	if err := e.count(len(floats), "float stats"); err != nil {
		return err
	}
	for _, st := range floats {
		e.w.Word(st.StatID)
		e.w.Double(st.Sample.(FloatSample).Value)
	}
	return nil
}
