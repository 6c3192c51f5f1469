package macho

import (
	"sort"
	"strings"

	"github.com/saagarjha/ktool/types/objc"
)

// HeaderEmitter renders decoded Objective-C metadata back into
// Objective-C-like source text, §4.9. The actual per-class/protocol/
// category rendering already lives on objc.Class/Protocol/Category as
// dump/String/Verbose/WithAddrs; this emitter's job is the ordering
// policy in front of it — sort declarations so output is stable across
// runs regardless of the order classes happened to sit in the classlist.
type HeaderEmitter struct {
	Verbose bool
	Addrs   bool
}

func (e HeaderEmitter) render(s interface{ String() string; Verbose() string; WithAddrs() string }) string {
	switch {
	case e.Verbose && e.Addrs:
		return s.WithAddrs()
	case e.Verbose:
		return s.Verbose()
	default:
		return s.String()
	}
}

func sortMethods(methods []objc.Method) {
	sort.Slice(methods, func(i, j int) bool { return methods[i].Name < methods[j].Name })
}

func sortProperties(props []objc.Property) {
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
}

// sortClassMembers orders a class's methods and properties by name so two
// decodes of the same binary always print identically, independent of
// on-disk method-list order (which may itself differ between a "sorted"
// and "uniqued" dyld-shared-cache image and a fresh-off-disk one).
func sortClassMembers(c *objc.Class) {
	sortMethods(c.InstanceMethods)
	sortMethods(c.ClassMethods)
	sortProperties(c.Props)
}

// EmitClasses renders one decoded class per header, ordered by name.
func (e HeaderEmitter) EmitClasses(classes []*objc.Class) string {
	ordered := make([]*objc.Class, len(classes))
	copy(ordered, classes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	var out []string
	for _, c := range ordered {
		sortClassMembers(c)
		out = append(out, e.render(c))
	}
	return strings.Join(out, "\n")
}

// EmitProtocols renders every decoded protocol, ordered by name.
func (e HeaderEmitter) EmitProtocols(protocols []*objc.Protocol) string {
	ordered := make([]*objc.Protocol, len(protocols))
	copy(ordered, protocols)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	var out []string
	for _, p := range ordered {
		sortMethods(p.InstanceMethods)
		sortMethods(p.ClassMethods)
		sortMethods(p.OptionalInstanceMethods)
		sortMethods(p.OptionalClassMethods)
		sortProperties(p.InstanceProperties)
		out = append(out, e.render(p))
	}
	return strings.Join(out, "\n")
}

// EmitCategories renders every decoded category, ordered by (class, name)
// so categories on the same class print adjacently.
func (e HeaderEmitter) EmitCategories(cats []*objc.Category) string {
	ordered := make([]*objc.Category, len(cats))
	copy(ordered, cats)
	sort.Slice(ordered, func(i, j int) bool {
		ci, cj := ordered[i], ordered[j]
		var ni, nj string
		if ci.Class != nil {
			ni = ci.Class.Name
		}
		if cj.Class != nil {
			nj = cj.Class.Name
		}
		if ni != nj {
			return ni < nj
		}
		return ci.Name < cj.Name
	})

	var out []string
	for _, c := range ordered {
		sortMethods(c.InstanceMethods)
		sortMethods(c.ClassMethods)
		sortProperties(c.Properties)
		out = append(out, e.render(c))
	}
	return strings.Join(out, "\n")
}
