package tbd

import "testing"

func TestEmitSortsEveryList(t *testing.T) {
	src := Source{
		Archs:                "x86_64",
		Platform:             "macos",
		InstallName:          "/usr/lib/libFoo.dylib",
		CurrentVersion:       "1.0.0",
		CompatibilityVersion: "1.0.0",
		Symbols:              []string{"_z", "_a", "_m"},
		ObjCClasses:          []string{"Zebra", "Apple"},
		ObjCIvars:            []string{"_z_ivar", "_a_ivar"},
		ReExports:            []string{"/usr/lib/libB.dylib", "/usr/lib/libA.dylib"},
	}
	stub := Emit(src)
	if len(stub.Exports) != 1 {
		t.Fatalf("got %d export sets, want 1", len(stub.Exports))
	}
	exp := stub.Exports[0]
	if got := exp.Symbols; len(got) != 3 || got[0] != "_a" || got[1] != "_m" || got[2] != "_z" {
		t.Fatalf("symbols not sorted: %v", got)
	}
	if got := exp.ObjCClasses; len(got) != 2 || got[0] != "Apple" || got[1] != "Zebra" {
		t.Fatalf("classes not sorted: %v", got)
	}
	if got := exp.ReExports; len(got) != 2 || got[0] != "/usr/lib/libA.dylib" {
		t.Fatalf("re-exports not sorted: %v", got)
	}
	if stub.InstallName != "/usr/lib/libFoo.dylib" || stub.Platform != "macos" {
		t.Fatalf("unexpected top-level fields: %+v", stub)
	}
}

func TestEmitEmptyListsOmitted(t *testing.T) {
	stub := Emit(Source{Archs: "arm64", InstallName: "/usr/lib/libBare.dylib"})
	if stub.Exports[0].Symbols != nil {
		t.Fatalf("want nil Symbols for empty input, got %v", stub.Exports[0].Symbols)
	}
}

func TestMarshalProducesYAML(t *testing.T) {
	stub := Emit(Source{Archs: "x86_64", InstallName: "/usr/lib/libFoo.dylib"})
	out, err := stub.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(out) == 0 {
		t.Fatal("expected non-empty YAML output")
	}
}
