// Command ktool-dump is a thin demonstration entrypoint over the core
// parsing/editing packages: the real CLI, TUI, update-checker, and IMG4
// codec live outside this repo (§1/§6).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/apex/log"
	apexcli "github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"

	macho "github.com/saagarjha/ktool"
	"github.com/saagarjha/ktool/diag"
	"github.com/saagarjha/ktool/pkg/tbd"
)

func main() {
	log.SetHandler(apexcli.Default)

	headers := flag.Bool("headers", false, "emit decoded Objective-C headers")
	tbdOut := flag.Bool("tbd", false, "emit a text-based-stub document")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		diag.SetLevel(log.DebugLevel)
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ktool-dump [-headers] [-tbd] [-v] <path>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	if err := run(path, *headers, *tbdOut); err != nil {
		log.WithError(err).WithField("path", path).Error("dump failed")
		os.Exit(1)
	}
}

func run(path string, headers, emitTBD bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read file")
	}

	if macho.IsFat(data) {
		slices, err := macho.ReadFat(data)
		if err != nil {
			return errors.Wrap(err, "read fat")
		}
		log.WithField("slices", len(slices)).Info("fat binary")
		for _, s := range slices {
			lib, err := macho.NewLibrary(s.Data)
			if err != nil {
				log.WithError(err).WithField("cpu", s.CPU).Warn("skipping slice")
				continue
			}
			dumpLibrary(lib, headers, emitTBD)
		}
		return nil
	}

	lib, err := macho.NewLibrary(data)
	if err != nil {
		return errors.Wrap(err, "parse")
	}
	dumpLibrary(lib, headers, emitTBD)
	return nil
}

func dumpLibrary(lib *macho.Library, headers, emitTBD bool) {
	fields := log.Fields{
		"is64":     lib.Header.Is64,
		"segments": len(lib.Segments.Segments),
		"symbols":  len(lib.Symbols.Symbols),
		"dylibs":   len(lib.Dylibs.Imports),
	}
	if name, ok := lib.InstallName(); ok {
		fields["install-name"] = name
	}
	if id, ok := lib.UUID(); ok {
		fields["uuid"] = id.String()
	}
	log.WithFields(fields).Info("decoded library")

	if headers {
		reader := lib.ObjC()
		classes, err := reader.ReadClasses()
		if err != nil {
			log.WithError(err).Warn("objc class decode failed")
		}
		protocols, err := reader.ReadProtocols()
		if err != nil {
			log.WithError(err).Warn("objc protocol decode failed")
		}
		categories, err := reader.ReadCategories()
		if err != nil {
			log.WithError(err).Warn("objc category decode failed")
		}
		emitter := macho.HeaderEmitter{Verbose: true, Addrs: false}
		fmt.Println(emitter.EmitProtocols(protocols))
		fmt.Println(emitter.EmitClasses(classes))
		fmt.Println(emitter.EmitCategories(categories))
	}

	if emitTBD {
		name, _ := lib.InstallName()
		var symbols []string
		for _, e := range lib.Binding.Exports {
			symbols = append(symbols, e.Name)
		}
		var classes []string
		if reader := lib.ObjC(); reader != nil {
			if cs, err := reader.ReadClasses(); err == nil {
				for _, c := range cs {
					classes = append(classes, c.Name)
				}
			}
		}
		stub := tbd.Emit(tbd.Source{
			InstallName: name,
			Symbols:     symbols,
			ObjCClasses: classes,
		})
		out, err := stub.Marshal()
		if err != nil {
			log.WithError(err).Warn("tbd marshal failed")
			return
		}
		os.Stdout.Write(out)
	}
}
