package ustats

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

const (
	// MagicTag opens every stats file.
	MagicTag = "USTATS"

	MinSupportedVersion int32 = 1
	// ViewpointVersion added the camera viewpoint to frame data.
	ViewpointVersion int32 = 2
	// ChunkedVersion introduced tagged chunks.
	ChunkedVersion int32 = 3
	CurrentVersion int32 = ChunkedVersion

	// A version at or above this value was written in the other byte order.
	endianFlipThreshold = 0x01000000
)

// ChunkTag identifies the payload of a chunk in version 3 files.
type ChunkTag int32

const (
	ChunkFrameData         ChunkTag = 1
	ChunkGroupDescriptions ChunkTag = 2
	ChunkStatDescriptions  ChunkTag = 3
)

func (t ChunkTag) String() string {
	switch t {
	case ChunkFrameData:
		return "FrameData"
	case ChunkGroupDescriptions:
		return "GroupDescriptions"
	case ChunkStatDescriptions:
		return "StatDescriptions"
	}
	return fmt.Sprintf("ChunkTag(%d)", int32(t))
}

// ErrInvalidHeader is returned when the file does not start with MagicTag or
// its header is cut short.
var ErrInvalidHeader = errors.New("invalid stats file header")

// VersionError reports a file version this reader cannot decode.
type VersionError struct {
	Version int32
	Min     int32
	Max     int32
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("stats file version mismatch: file is version %d, supported versions are %d to %d", e.Version, e.Min, e.Max)
}

// ChunkError reports an unrecognized chunk tag, which means the file is corrupt.
type ChunkError struct {
	Tag    int32
	Offset int
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("unknown chunk tag %d at offset %d", e.Tag, e.Offset)
}

// RecordError reports a chunk that was fully present but held an invalid
// record, which means the file is corrupt rather than cut short.
type RecordError struct {
	Offset int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("corrupt chunk at offset %d: %v", e.Offset, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// LoadResult is a successfully decoded stats file. Truncated is set when the
// chunk stream ended early; everything decoded before that point is kept.
type LoadResult struct {
	File       *StatFile
	Version    int32
	Endianness Endianness
	Truncated  bool
	// Warnings holds the truncation warning, if any, followed by the fix-up warnings.
	Warnings []string
}

// LoadOption adjusts a StatFile before its first fix-up pass.
type LoadOption func(*StatFile)

// WithMetadata attaches display metadata so scales apply while loading.
func WithMetadata(m Metadata) LoadOption {
	return func(f *StatFile) { f.SetMetadata(m) }
}

// WithFrameTimeStat overrides the name of the stat that measures a whole frame.
func WithFrameTimeStat(name string) LoadOption {
	return func(f *StatFile) {
		if name != "" {
			f.FrameTimeStatName = name
		}
	}
}

// LoadStatsFile reads and decodes a .ustats file.
func LoadStatsFile(path string, opts ...LoadOption) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stats file")
	}
	res, err := Decode(data, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	return res, nil
}

// Decode parses a complete stats file held in memory.
func Decode(data []byte, opts ...LoadOption) (*LoadResult, error) {
	if len(data) < len(MagicTag) || string(data[:len(MagicTag)]) != MagicTag {
		return nil, ErrInvalidHeader
	}
	r := NewReader(data, LittleEndian)
	if err := r.Seek(len(MagicTag)); err != nil {
		return nil, err
	}

	versionOffset := r.Offset()
	version, err := r.Int()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidHeader, "missing version")
	}
	if uint32(version) >= endianFlipThreshold {
		r.SetEndianness(r.Endianness().Flip())
		if err := r.Seek(versionOffset); err != nil {
			return nil, err
		}
		if version, err = r.Int(); err != nil {
			return nil, err
		}
	}
	if version < MinSupportedVersion || version > CurrentVersion {
		return nil, &VersionError{Version: version, Min: MinSupportedVersion, Max: CurrentVersion}
	}

	spc, err := r.Double()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidHeader, "missing seconds per cycle")
	}

	file := NewStatFile()
	file.Version = version
	file.SetSecondsPerCycle(spc)
	for _, opt := range opts {
		opt(file)
	}

	d := &decoder{r: r, version: version, file: file}
	res := &LoadResult{File: file, Version: version, Endianness: r.Endianness()}

	if version < ChunkedVersion {
		if err := d.legacyHeader(); err != nil {
			return nil, err
		}
	}
	if err := d.chunks(); err != nil {
		var chunkErr *ChunkError
		if errors.As(err, &chunkErr) {
			return nil, err
		}
		// Only running out of data is a possible EOF; anything else is corruption.
		if !errors.Is(err, ErrOutOfRange) {
			return nil, &RecordError{Offset: d.chunkStart, Err: err}
		}
		res.Truncated = true
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"Possible EOF at offset %d of %d, data may be incomplete: %v", d.chunkStart, len(data), err))
	}

	file.FixupRecentItems()
	res.Warnings = append(res.Warnings, file.RepairWarningMessages...)
	return res, nil
}

type decoder struct {
	r       *Reader
	version int32
	file    *StatFile
	// chunkStart is the offset of the chunk being decoded.
	chunkStart int
}

func (d *decoder) longStrings() bool { return d.version >= ViewpointVersion }

// legacyHeader reads the description blocks of files older than version 3.
// Records here carry their own counts, so a short read is fatal.
func (d *decoder) legacyHeader() error {
	stats, err := d.statDescriptions()
	if err != nil {
		return errors.Wrap(err, "reading stat descriptions")
	}
	groups, err := d.groupDescriptions()
	if err != nil {
		return errors.Wrap(err, "reading group descriptions")
	}
	d.commitDescriptions(stats, groups)
	return nil
}

func (d *decoder) commitDescriptions(stats []StatDescription, groups []Group) {
	for _, sd := range stats {
		d.file.AppendStatDescription(sd)
	}
	for _, g := range groups {
		d.file.AppendGroupDescription(g)
	}
}

// chunks consumes the rest of the buffer. A chunk is committed only once it
// has been decoded completely.
func (d *decoder) chunks() error {
	for d.r.Len() > 0 {
		d.chunkStart = d.r.Offset()

		if d.version < ChunkedVersion {
			f, err := d.frame()
			if err != nil {
				return err
			}
			d.commitFrame(f)
			continue
		}

		tag, err := d.r.Int()
		if err != nil {
			return err
		}
		switch ChunkTag(tag) {
		case ChunkFrameData:
			f, err := d.frame()
			if err != nil {
				return errors.Wrap(err, "frame data chunk")
			}
			d.commitFrame(f)
		case ChunkGroupDescriptions:
			groups, err := d.groupDescriptions()
			if err != nil {
				return errors.Wrap(err, "group descriptions chunk")
			}
			d.commitDescriptions(nil, groups)
		case ChunkStatDescriptions:
			stats, err := d.statDescriptions()
			if err != nil {
				return errors.Wrap(err, "stat descriptions chunk")
			}
			d.commitDescriptions(stats, nil)
		default:
			return &ChunkError{Tag: tag, Offset: d.chunkStart}
		}
	}
	return nil
}

func (d *decoder) commitFrame(f *Frame) {
	stats := f.Stats
	f.Stats = nil
	d.file.AppendFrame(f)
	for _, st := range stats {
		d.file.AppendStat(st)
	}
}

func (d *decoder) statDescriptions() ([]StatDescription, error) {
	count, err := d.r.Word()
	if err != nil {
		return nil, err
	}
	out := make([]StatDescription, 0, count)
	for i := 0; i < int(count); i++ {
		sd, err := readStatDescription(d.r, d.longStrings())
		if err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, nil
}

func (d *decoder) groupDescriptions() ([]Group, error) {
	count, err := d.r.Word()
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, count)
	for i := 0; i < int(count); i++ {
		g, err := readGroupDescription(d.r, d.longStrings())
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func readStatDescription(r *Reader, long bool) (StatDescription, error) {
	var sd StatDescription
	var err error
	if sd.StatID, err = r.Word(); err != nil {
		return sd, err
	}
	if sd.Name, err = r.FString(long); err != nil {
		return sd, err
	}
	t, err := r.Byte()
	if err != nil {
		return sd, err
	}
	sd.Type = StatType(t)
	if !sd.Type.Valid() {
		return sd, errors.Errorf("stat %d (%s) has unknown type %d", sd.StatID, sd.Name, t)
	}
	if sd.GroupID, err = r.Word(); err != nil {
		return sd, err
	}
	return sd, nil
}

func readGroupDescription(r *Reader, long bool) (Group, error) {
	var g Group
	var err error
	if g.GroupID, err = r.Word(); err != nil {
		return g, err
	}
	if g.Name, err = r.FString(long); err != nil {
		return g, err
	}
	return g, nil
}

func (d *decoder) frame() (*Frame, error) {
	number, err := d.r.Int()
	if err != nil {
		return nil, err
	}
	f := NewFrame(number)

	if d.version >= ViewpointVersion {
		vp := &Viewpoint{}
		for i := range vp.Location {
			if vp.Location[i], err = d.r.Float(); err != nil {
				return nil, err
			}
		}
		for i := range vp.Rotation {
			if vp.Rotation[i], err = d.r.Int(); err != nil {
				return nil, err
			}
		}
		f.Viewpoint = vp
	}

	count, err := d.r.Word()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		st, err := readCycleStat(d.r)
		if err != nil {
			return nil, err
		}
		f.Stats = append(f.Stats, st)
	}

	if count, err = d.r.Word(); err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		id, err := d.r.Word()
		if err != nil {
			return nil, err
		}
		v, err := d.r.Int()
		if err != nil {
			return nil, err
		}
		f.Stats = append(f.Stats, NewIntegerStat(id, v))
	}

	if count, err = d.r.Word(); err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		id, err := d.r.Word()
		if err != nil {
			return nil, err
		}
		v, err := d.r.Double()
		if err != nil {
			return nil, err
		}
		f.Stats = append(f.Stats, NewFloatStat(id, v))
	}
	return f, nil
}

func readCycleStat(r *Reader) (Stat, error) {
	var c CycleSample
	id, err := r.Word()
	if err != nil {
		return Stat{}, err
	}
	for _, dst := range []*int32{&c.InstanceID, &c.ParentInstanceID, &c.ThreadID, &c.Cycles} {
		if *dst, err = r.Int(); err != nil {
			return Stat{}, err
		}
	}
	if c.CallsPerFrame, err = r.Word(); err != nil {
		return Stat{}, err
	}
	return NewCycleStat(id, c), nil
}
