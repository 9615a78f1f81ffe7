package config

import (
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"statsviewer-mcp/internal/ustats"
)

type metadataFile struct {
	Stats []metadataEntry `yaml:"stats"`
}

type metadataEntry struct {
	Name   string  `yaml:"name"`
	Scale  float64 `yaml:"scale"`
	Suffix string  `yaml:"suffix"`
	Units  string  `yaml:"units"`
}

// LoadMetadata reads the stat metadata table. An empty path yields no metadata.
//
//	stats:
//	  - name: TextureMemory
//	    scale: 1
//	    units: bytes
//	  - name: PhysicsBodies
//	    suffix: bodies
func LoadMetadata(path string) (ustats.Metadata, error) {
	if path == "" {
		return nil, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read metadata file")
	}
	return ParseMetadata(buf)
}

// ParseMetadata decodes a metadata table from YAML.
func ParseMetadata(buf []byte) (ustats.Metadata, error) {
	var doc metadataFile
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return nil, errors.Wrap(err, "parse metadata")
	}

	md := make(ustats.Metadata, len(doc.Stats))
	var merr error
	for i, e := range doc.Stats {
		if e.Name == "" {
			merr = multierror.Append(merr, errors.Errorf("entry %d: missing name", i))
			continue
		}
		if _, dup := md[e.Name]; dup {
			merr = multierror.Append(merr, errors.Errorf("entry %d: duplicate stat %q", i, e.Name))
			continue
		}
		units, err := parseUnits(e.Units)
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "entry %d (%s)", i, e.Name))
			continue
		}
		scale := e.Scale
		if scale == 0 {
			scale = 1
		}
		md[e.Name] = ustats.StatMetadata{Scale: scale, Suffix: e.Suffix, Units: units}
	}
	if merr != nil {
		return nil, merr
	}
	return md, nil
}

func parseUnits(s string) (ustats.Units, error) {
	switch strings.ToLower(s) {
	case "", "generic":
		return ustats.UnitsGeneric, nil
	case "bytes":
		return ustats.UnitsBytes, nil
	}
	return 0, errors.Errorf("unknown units %q", s)
}
