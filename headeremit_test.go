package macho

import (
	"strings"
	"testing"

	"github.com/saagarjha/ktool/types/objc"
)

func TestEmitClassesSortsByName(t *testing.T) {
	zebra := &objc.Class{Name: "Zebra", ReadOnlyData: objc.ClassRO64{Flags: objc.RO_ROOT}}
	apple := &objc.Class{Name: "Apple", ReadOnlyData: objc.ClassRO64{Flags: objc.RO_ROOT}}

	e := HeaderEmitter{}
	out := e.EmitClasses([]*objc.Class{zebra, apple})

	appleIdx := strings.Index(out, "Apple")
	zebraIdx := strings.Index(out, "Zebra")
	if appleIdx == -1 || zebraIdx == -1 || appleIdx > zebraIdx {
		t.Fatalf("expected Apple before Zebra, got: %q", out)
	}
}

func TestEmitClassesSortsMethodsWithinClass(t *testing.T) {
	c := &objc.Class{
		Name:         "Widget",
		ReadOnlyData: objc.ClassRO64{Flags: objc.RO_ROOT},
		InstanceMethods: []objc.Method{
			{Name: "zMethod", Types: "v16@0:8"},
			{Name: "aMethod", Types: "v16@0:8"},
		},
	}
	e := HeaderEmitter{}
	e.EmitClasses([]*objc.Class{c})
	if c.InstanceMethods[0].Name != "aMethod" || c.InstanceMethods[1].Name != "zMethod" {
		t.Fatalf("methods not sorted in place: %+v", c.InstanceMethods)
	}
}
