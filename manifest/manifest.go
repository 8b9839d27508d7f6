// Package manifest handles nethervm.toml configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "nethervm.toml"

// ErrInvalid reports a setting out of range.
var ErrInvalid = errors.New("invalid manifest")

// Manifest represents a nethervm.toml configuration.
type Manifest struct {
	Program ProgramConfig `toml:"program"`
	Edicts  EdictConfig   `toml:"edicts"`
	VM      VMConfig      `toml:"vm"`
	Log     LogConfig     `toml:"log"`
	Saves   SavesConfig   `toml:"saves"`

	// Dir is the directory containing the nethervm.toml file (set at load time).
	Dir string `toml:"-"`
}

// ProgramConfig selects the progs file and the function to run.
type ProgramConfig struct {
	Path         string `toml:"path"`
	Entry        string `toml:"entry"`
	FatalVersion bool   `toml:"fatal-version"`
}

// EdictConfig sizes the edict arena.
type EdictConfig struct {
	Max      int `toml:"max"`
	Reserved int `toml:"reserved"`
}

// VMConfig holds interpreter limits.
type VMConfig struct {
	MaxInstructions int  `toml:"max-instructions"`
	StackDepth      int  `toml:"stack-depth"`
	LocalStack      int  `toml:"local-stack"`
	Trace           bool `toml:"trace"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// SavesConfig locates the save slot database.
type SavesConfig struct {
	Database string `toml:"database"`
}

// Default returns the settings used when no nethervm.toml exists.
func Default() *Manifest {
	m := &Manifest{Dir: "."}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Program.Path == "" {
		m.Program.Path = "progs.dat"
	}
	if m.Program.Entry == "" {
		m.Program.Entry = "test_main"
	}
	if m.Edicts.Max == 0 {
		m.Edicts.Max = 600
	}
	if m.Saves.Database == "" {
		m.Saves.Database = filepath.Join(".nethervm", "saves.db")
	}
}

// Validate checks that the limits make sense.
func (m *Manifest) Validate() error {
	switch {
	case m.Edicts.Max < 1:
		return fmt.Errorf("%w: edicts.max = %d", ErrInvalid, m.Edicts.Max)
	case m.Edicts.Reserved < 0 || m.Edicts.Reserved >= m.Edicts.Max:
		return fmt.Errorf("%w: edicts.reserved = %d with max %d", ErrInvalid, m.Edicts.Reserved, m.Edicts.Max)
	case m.VM.MaxInstructions < 0, m.VM.StackDepth < 0, m.VM.LocalStack < 0:
		return fmt.Errorf("%w: negative vm limit", ErrInvalid)
	}
	return nil
}

// Load parses a nethervm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration at path. Relative paths inside it are
// taken relative to its directory.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a nethervm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns p relative to the manifest directory unless it is
// already absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// ProgramPath is the absolute or manifest-relative progs path.
func (m *Manifest) ProgramPath() string {
	return m.Resolve(m.Program.Path)
}

// DatabasePath is the save database location.
func (m *Manifest) DatabasePath() string {
	return m.Resolve(m.Saves.Database)
}

// LogFile is the log destination, empty for stderr.
func (m *Manifest) LogFile() string {
	return m.Resolve(m.Log.File)
}
