// Package tbd renders a decoded dylib as a text-based-stub document, §4.10.
package tbd

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// ExportSet is one entry in the exports list: the symbols/classes/ivars a
// given arch set provides, plus any re-exported libraries.
type ExportSet struct {
	Archs      []string `yaml:"archs"`
	Symbols    []string `yaml:"symbols,omitempty"`
	ObjCClasses []string `yaml:"objc-classes,omitempty"`
	ObjCIvars  []string `yaml:"objc-ivars,omitempty"`
	ReExports  []string `yaml:"re-exports,omitempty"`
}

// Stub is the top-level document emitted for one dylib.
type Stub struct {
	Archs                 []string    `yaml:"archs"`
	Platform              string      `yaml:"platform"`
	InstallName           string      `yaml:"install-name"`
	CurrentVersion        string      `yaml:"current-version"`
	CompatibilityVersion  string      `yaml:"compatibility-version"`
	Exports               []ExportSet `yaml:"exports"`
}

// Source is the minimal view of a decoded dylib tbd.Emit needs: kept
// narrow and field-based (rather than importing the core macho package)
// so this package has no dependency on the parser it renders output for.
type Source struct {
	Archs                string
	Platform             string
	InstallName          string
	CurrentVersion       string
	CompatibilityVersion string
	Symbols              []string
	ObjCClasses          []string
	ObjCIvars            []string
	ReExports            []string
}

// Emit builds a canonical Stub from src: every list is sorted so two runs
// over the same binary produce byte-identical output (§4.10: "stable and
// canonical").
func Emit(src Source) *Stub {
	symbols := sortedCopy(src.Symbols)
	classes := sortedCopy(src.ObjCClasses)
	ivars := sortedCopy(src.ObjCIvars)
	reexports := sortedCopy(src.ReExports)

	return &Stub{
		Archs:                []string{src.Archs},
		Platform:             src.Platform,
		InstallName:          src.InstallName,
		CurrentVersion:       src.CurrentVersion,
		CompatibilityVersion: src.CompatibilityVersion,
		Exports: []ExportSet{{
			Archs:       []string{src.Archs},
			Symbols:     symbols,
			ObjCClasses: classes,
			ObjCIvars:   ivars,
			ReExports:   reexports,
		}},
	}
}

// Marshal renders s as YAML bytes.
func (s *Stub) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
