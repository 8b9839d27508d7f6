// nethervm runs a function from a compiled QuakeC progs file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/nethervm/nethervm/manifest"
	"github.com/nethervm/nethervm/savestore"
	"github.com/nethervm/nethervm/snapshot"
	"github.com/nethervm/nethervm/vm"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("nethervm.cmd")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	config   string
	entry    string
	verbose  bool
	trace    bool
	disasm   bool
	profile  int
	save     string
	restore  string
	edicts   int
	progPath string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("nethervm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.config, "c", "", "Config file (default: nethervm.toml found upward from the working directory)")
	fs.StringVar(&o.entry, "f", "", "Entry function (default: test_main)")
	fs.BoolVar(&o.verbose, "v", false, "Verbose output")
	fs.BoolVar(&o.trace, "trace", false, "Print every statement as it executes")
	fs.BoolVar(&o.disasm, "disasm", false, "Print the entry function's statements and exit")
	fs.IntVar(&o.profile, "profile", 0, "Print the n most expensive functions after the run")
	fs.StringVar(&o.save, "save", "", "Save the VM state to this slot after the run")
	fs.StringVar(&o.restore, "restore", "", "Restore the VM state from this slot before the run")
	fs.IntVar(&o.edicts, "edicts", 0, "Edict capacity (overrides the config)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: nethervm [options] [progs.dat]\n\n")
		fmt.Fprintf(stderr, "Loads a progs file, binds the host builtins and runs the entry function.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  nethervm                        # run test_main from ./progs.dat\n")
		fmt.Fprintf(stderr, "  nethervm -f worldspawn qw.dat   # run another entry point\n")
		fmt.Fprintf(stderr, "  nethervm -disasm -f think       # list a function\n")
		fmt.Fprintf(stderr, "  nethervm -save s1 && nethervm -restore s1\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected at most one progs path, got %d", fs.NArg())
	}
	o.progPath = fs.Arg(0)
	return o, nil
}

func loadConfig(o *options) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	var err error
	if o.config != "" {
		m, err = manifest.LoadFile(o.config)
	} else {
		m, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}

	if o.entry != "" {
		m.Program.Entry = o.entry
	}
	if o.edicts > 0 {
		m.Edicts.Max = o.edicts
	}
	if o.trace {
		m.VM.Trace = true
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest, verbose bool) {
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	var path *string
	if f := m.LogFile(); f != "" {
		path = &f
	}
	commonlog.Configure(verbosity, path)
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	m, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	configureLogging(m, o.verbose)

	progPath := m.ProgramPath()
	if o.progPath != "" {
		progPath = o.progPath
	}
	data, err := os.ReadFile(progPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	h := newHost(stdout, o.verbose)
	qcvm := vm.New(vm.Config{
		Printer: func(msg string, debug bool) {
			if !debug || o.verbose {
				fmt.Fprint(stdout, msg)
			}
		},
		ErrorHandler: func(msg string) {
			fmt.Fprintf(stderr, "NVM error: %s\n", msg)
		},
		UserData:        h,
		MaxStackDepth:   m.VM.StackDepth,
		LocalStackSize:  m.VM.LocalStack,
		MaxInstructions: m.VM.MaxInstructions,
	})
	if err := qcvm.LoadProgram(progPath, data, m.Program.FatalVersion); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	qcvm.SetReservedEdicts(m.Edicts.Reserved)
	if err := qcvm.AllocateEdicts(m.Edicts.Max); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	h.bind(qcvm)
	qcvm.SetTrace(m.VM.Trace)

	fn := qcvm.FindFunction(m.Program.Entry)
	if fn < 0 {
		fmt.Fprintf(stderr, "Error: no function %q in %s\n", m.Program.Entry, progPath)
		return 1
	}
	if o.disasm {
		text, err := qcvm.Disassemble(fn)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprint(stdout, text)
		return 0
	}

	var store *savestore.Store
	if o.save != "" || o.restore != "" {
		store, err = savestore.Open(m.DatabasePath())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer store.Close()
	}
	if o.restore != "" {
		snap, err := store.Load(o.restore)
		if err == nil {
			err = snap.Restore(qcvm)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: restoring %s: %v\n", o.restore, err)
			return 1
		}
		log.Infof("restored %s (%s)", o.restore, snap.ID)
	}

	execErr := qcvm.Execute(fn)
	if h.counter != 0 {
		fmt.Fprintf(stdout, "counter: %d\n", h.counter)
	}
	if o.profile > 0 {
		printProfile(stdout, qcvm.Profile(o.profile))
	}
	if execErr != nil {
		log.Errorf("%s failed: %v", m.Program.Entry, execErr)
		return 1
	}

	if o.save != "" {
		snap, err := snapshot.Capture(qcvm)
		if err == nil {
			err = store.Save(o.save, snap)
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: saving %s: %v\n", o.save, err)
			return 1
		}
	}
	return 0
}

func printProfile(w io.Writer, rows []vm.FunctionProfile) {
	fmt.Fprintf(w, "%10s  %-24s %s\n", "instrs", "function", "file")
	for _, p := range rows {
		fmt.Fprintf(w, "%10d  %-24s %s\n", p.Instructions, p.Name, p.File)
	}
}
