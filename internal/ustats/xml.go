package ustats

import (
	"encoding/xml"
	"io"
	"os"

	"github.com/pkg/errors"
)

type xmlStatFile struct {
	XMLName           xml.Name             `xml:"StatFile"`
	Version           int32                `xml:"Version,attr"`
	SecondsPerCycle   float64              `xml:"SecondsPerCycle"`
	FrameTimeStatName string               `xml:"FrameTimeStatName,omitempty"`
	Stats             []xmlStatDescription `xml:"Descriptions>Stat"`
	Groups            []xmlGroup           `xml:"Groups>Group"`
	Frames            []xmlFrame           `xml:"Frames>Frame"`
}

type xmlStatDescription struct {
	StatID  uint16 `xml:"StatId,attr"`
	Name    string `xml:"Name,attr"`
	Type    string `xml:"Type,attr"`
	GroupID uint16 `xml:"GroupId,attr"`
}

type xmlGroup struct {
	GroupID uint16 `xml:"GroupId,attr"`
	Name    string `xml:"Name,attr"`
}

type xmlFrame struct {
	FrameNumber int32         `xml:"FrameNumber,attr"`
	Viewpoint   *xmlViewpoint `xml:"Viewpoint"`
	Stats       []xmlStat     `xml:"Stat"`
}

type xmlViewpoint struct {
	X     float32 `xml:"X,attr"`
	Y     float32 `xml:"Y,attr"`
	Z     float32 `xml:"Z,attr"`
	Yaw   int32   `xml:"Yaw,attr"`
	Pitch int32   `xml:"Pitch,attr"`
	Roll  int32   `xml:"Roll,attr"`
}

type xmlStat struct {
	StatID           uint16  `xml:"StatId,attr"`
	Type             string  `xml:"Type,attr"`
	InstanceID       int32   `xml:"InstanceId,attr,omitempty"`
	ParentInstanceID int32   `xml:"ParentInstanceId,attr,omitempty"`
	ThreadID         int32   `xml:"ThreadId,attr,omitempty"`
	CallsPerFrame    uint16  `xml:"CallsPerFrame,attr,omitempty"`
	Value            float64 `xml:"Value,attr"`
}

// WriteXML serializes the raw session data. Derived values are not written;
// they are recomputed by the fix-up pass on load.
func WriteXML(w io.Writer, file *StatFile) error {
	doc := xmlStatFile{
		Version:           file.Version,
		SecondsPerCycle:   file.SecondsPerCycle,
		FrameTimeStatName: file.FrameTimeStatName,
	}
	for _, id := range file.sortedDescriptionIDs() {
		d := file.Descriptions[id]
		doc.Stats = append(doc.Stats, xmlStatDescription{StatID: d.StatID, Name: d.Name, Type: d.Type.String(), GroupID: d.GroupID})
	}
	for _, id := range file.sortedGroupIDs() {
		doc.Groups = append(doc.Groups, xmlGroup{GroupID: id, Name: file.Groups[id].Name})
	}
	for _, f := range file.Frames {
		xf := xmlFrame{FrameNumber: f.FrameNumber}
		if vp := f.Viewpoint; vp != nil {
			xf.Viewpoint = &xmlViewpoint{
				X: vp.Location[0], Y: vp.Location[1], Z: vp.Location[2],
				Yaw: vp.Rotation[0], Pitch: vp.Rotation[1], Roll: vp.Rotation[2],
			}
		}
		for _, st := range f.Stats {
			xs := xmlStat{StatID: st.StatID}
			switch v := st.Sample.(type) {
			case CycleSample:
				xs.Type = CycleCounter.String()
				xs.InstanceID = v.InstanceID
				xs.ParentInstanceID = v.ParentInstanceID
				xs.ThreadID = v.ThreadID
				xs.CallsPerFrame = v.CallsPerFrame
				xs.Value = float64(v.Cycles)
			case IntegerSample:
				xs.Type = IntegerCounter.String()
				xs.Value = float64(v.Value)
			case FloatSample:
				xs.Type = FloatCounter.String()
				xs.Value = v.Value
			default:
				continue
			}
			xf.Stats = append(xf.Stats, xs)
		}
		doc.Frames = append(doc.Frames, xf)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "failed to encode stats xml")
	}
	return enc.Flush()
}

// ReadXML rebuilds a session from WriteXML output and runs the fix-up pass.
func ReadXML(r io.Reader, opts ...LoadOption) (*StatFile, error) {
	var doc xmlStatFile
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode stats xml")
	}

	file := NewStatFile()
	file.Version = doc.Version
	file.SetSecondsPerCycle(doc.SecondsPerCycle)
	if doc.FrameTimeStatName != "" {
		file.FrameTimeStatName = doc.FrameTimeStatName
	}
	for _, opt := range opts {
		opt(file)
	}
	for _, xd := range doc.Stats {
		t, err := ParseStatType(xd.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "stat description %d", xd.StatID)
		}
		file.AppendStatDescription(StatDescription{StatID: xd.StatID, Name: xd.Name, Type: t, GroupID: xd.GroupID})
	}
	for _, xg := range doc.Groups {
		file.AppendGroupDescription(Group{GroupID: xg.GroupID, Name: xg.Name})
	}
	for _, xf := range doc.Frames {
		f := NewFrame(xf.FrameNumber)
		if vp := xf.Viewpoint; vp != nil {
			f.Viewpoint = &Viewpoint{
				Location: [3]float32{vp.X, vp.Y, vp.Z},
				Rotation: [3]int32{vp.Yaw, vp.Pitch, vp.Roll},
			}
		}
		file.AppendFrame(f)
		for _, xs := range xf.Stats {
			t, err := ParseStatType(xs.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "frame %d stat %d", xf.FrameNumber, xs.StatID)
			}
			switch t {
			case CycleCounter:
				file.AppendStat(NewCycleStat(xs.StatID, CycleSample{
					InstanceID:       xs.InstanceID,
					ParentInstanceID: xs.ParentInstanceID,
					ThreadID:         xs.ThreadID,
					Cycles:           int32(xs.Value),
					CallsPerFrame:    xs.CallsPerFrame,
				}))
			case IntegerCounter:
				file.AppendStat(NewIntegerStat(xs.StatID, int32(xs.Value)))
			case FloatCounter:
				file.AppendStat(NewFloatStat(xs.StatID, xs.Value))
			}
		}
	}
	file.FixupRecentItems()
	return file, nil
}

// SaveXMLFile writes a session to an XML file.
func SaveXMLFile(path string, file *StatFile) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create xml file")
	}
	if err := WriteXML(f, file); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadXMLFile reads a session saved with SaveXMLFile.
func LoadXMLFile(path string, opts ...LoadOption) (*StatFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open xml file")
	}
	defer f.Close()
	return ReadXML(f, opts...)
}
