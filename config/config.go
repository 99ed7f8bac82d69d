// Package config handles bfdb.toml debugger configuration.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/bfdb/pkg/bytecode"
	"github.com/chazu/bfdb/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "bfdb.toml"

var log = commonlog.GetLogger("bfdb.config")

//go:embed schema.cue
var schemaSrc string

// Config represents a bfdb.toml file. The json tags name the fields for
// schema validation.
type Config struct {
	Machine Machine   `toml:"machine" json:"machine"`
	Repl    Repl      `toml:"repl" json:"repl"`
	Server  Server    `toml:"server" json:"server"`
	Log     LogConfig `toml:"log" json:"log"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `toml:"-" json:"-"`
}

// Machine sizes the compiler and the tape.
type Machine struct {
	TapeSize        int `toml:"tape-size" json:"tape-size"`
	CellBits        int `toml:"cell-bits" json:"cell-bits"`
	ProgramCapacity int `toml:"program-capacity" json:"program-capacity"`
	NestingDepth    int `toml:"nesting-depth" json:"nesting-depth"`
}

// Repl configures the interactive front end.
type Repl struct {
	Prompt          string `toml:"prompt" json:"prompt"`
	EchoInstruction bool   `toml:"echo-instruction" json:"echo-instruction"`
}

// Server configures the remote debugging server. Root is the directory
// clients may load programs from by path; empty disables path loads. A
// relative Root is resolved against the configuration file's directory.
type Server struct {
	Addr     string `toml:"addr" json:"addr"`
	MaxSteps int    `toml:"max-steps" json:"max-steps"`
	Root     string `toml:"root" json:"root"`
}

// DefaultMaxSteps bounds each remote Next or Continue call by default.
const DefaultMaxSteps = 10_000_000

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no bfdb.toml exists.
func Default() *Config {
	limits := bytecode.DefaultLimits()
	return &Config{
		Machine: Machine{
			TapeSize:        vm.DefaultTapeSize,
			CellBits:        vm.DefaultCellBits,
			ProgramCapacity: limits.ProgramCapacity,
			NestingDepth:    limits.NestingDepth,
		},
		Repl: Repl{
			Prompt:          "(bfdb) ",
			EchoInstruction: true,
		},
		Server: Server{
			Addr:     ":4567",
			MaxSteps: DefaultMaxSteps,
		},
		Log: LogConfig{
			Verbosity: -1,
		},
	}
}

// Load parses the bfdb.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file. Keys missing from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("%s: unknown key %s", path, key)
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if c.Server.Root != "" && !filepath.IsAbs(c.Server.Root) {
		c.Server.Root = filepath.Join(filepath.Dir(c.Path), c.Server.Root)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	log.Infof("loaded %s", c.Path)
	return c, nil
}

// FindAndLoad walks up from startDir to find a bfdb.toml file, then loads
// it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks the configuration against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + schemaSrc + "})")
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config: bad schema: %w", err)
	}

	value := ctx.Encode(c)
	if err := value.Err(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config: invalid %s: %s", FileName, strings.ReplaceAll(err.Error(), "\n", "; "))
	}
	return nil
}

// Limits returns the compiler capacities.
func (c *Config) Limits() bytecode.Limits {
	return bytecode.Limits{
		ProgramCapacity: c.Machine.ProgramCapacity,
		NestingDepth:    c.Machine.NestingDepth,
	}
}

// DebuggerOptions returns the vm options for the machine table.
func (c *Config) DebuggerOptions() []vm.Option {
	return []vm.Option{
		vm.WithLimits(c.Limits()),
		vm.WithTapeSize(c.Machine.TapeSize),
		vm.WithCellBits(c.Machine.CellBits),
	}
}
