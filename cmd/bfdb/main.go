// bfdb - an interactive brainfuck debugger
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bfdb/config"
	"github.com/chazu/bfdb/pkg/bytecode"
	"github.com/chazu/bfdb/server"
	"github.com/chazu/bfdb/vm"
)

var (
	_ session = (*vm.Debugger)(nil)
	_ session = (*server.Client)(nil)
)

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest bfdb.toml)")
	verbosity := flag.Int("v", 0, "Log verbosity (overrides [log] verbosity)")
	serveMode := flag.Bool("serve", false, "Start the debug server (Connect + gRPC)")
	addr := flag.String("addr", "", "Debug server address (used with -serve, default from config)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	attach := flag.String("attach", "", "Debug on a remote server at host:port")
	inputPath := flag.String("input", "", "File fed to the program's input (used with -attach)")
	output := flag.String("o", "", "Compile the program to a bytecode image and exit")
	disasm := flag.Bool("S", false, "Print the program's disassembly and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bfdb [options] [program]\n\n")
		fmt.Fprintf(os.Stderr, "Debugs a brainfuck program (source or compiled image).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bfdb hello.b                  # Debug hello.b\n")
		fmt.Fprintf(os.Stderr, "  bfdb -S hello.b               # Print the disassembly\n")
		fmt.Fprintf(os.Stderr, "  bfdb -o hello.bfbc hello.b    # Compile to an image\n")
		fmt.Fprintf(os.Stderr, "\nRemote debugging:\n")
		fmt.Fprintf(os.Stderr, "  bfdb -serve -addr :4567                 # Start the debug server\n")
		fmt.Fprintf(os.Stderr, "  bfdb -attach localhost:4567 hello.b     # Debug on the server\n")
		fmt.Fprintf(os.Stderr, "\nEditors:\n")
		fmt.Fprintf(os.Stderr, "  bfdb -lsp                     # Language server on stdio\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Log.Verbosity
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			level = *verbosity
		}
	})
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(level, logPath)
	if cfg.Path != "" {
		commonlog.GetLogger("bfdb").Infof("using configuration %s", cfg.Path)
	}

	program := flag.Arg(0)

	if *output != "" || *disasm {
		if program == "" {
			fmt.Fprintf(os.Stderr, "Error: no program given\n")
			os.Exit(2)
		}
		if err := compileProgram(cfg, program, *output, *disasm); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *serveMode {
		if *addr == "" {
			*addr = cfg.Server.Addr
		}
		srv := server.New(
			server.WithMaxSteps(cfg.Server.MaxSteps),
			server.WithRoot(cfg.Server.Root),
			server.WithDebuggerOptions(cfg.DebuggerOptions()...),
		)
		defer srv.Stop()
		if err := srv.ListenAndServe(*addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *lspMode {
		if err := server.NewLSP(cfg.Limits()).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	in := bufio.NewReader(os.Stdin)
	r := &repl{
		in:     in,
		out:    os.Stdout,
		errOut: os.Stderr,
		prompt: cfg.Repl.Prompt,
		echo:   cfg.Repl.EchoInstruction,
	}

	if *attach != "" {
		client, err := attachClient(*attach, program, *inputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer client.Close()
		r.s = client
	} else {
		opts := append(cfg.DebuggerOptions(), vm.WithInput(in), vm.WithOutput(os.Stdout))
		r.s = vm.NewDebugger(opts...)
	}

	if program != "" {
		r.load(program)
	}
	r.loop()
}

// loadConfig reads path, or the nearest bfdb.toml when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.FindAndLoad(".")
}

// compileProgram compiles the source at path, then writes an image to
// output and/or prints the disassembly.
func compileProgram(cfg *config.Config, path, output string, disasm bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var p *bytecode.Program
	if bytecode.IsImage(data) {
		p, err = bytecode.Deserialize(data)
	} else {
		p, err = bytecode.CompileString(string(data), cfg.Limits())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if disasm {
		fmt.Print(p.DisassembleWithName(filepath.Base(path)))
	}
	if output == "" {
		return nil
	}

	image, err := p.Serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, image, 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d instructions)\n", output, p.Len())
	return nil
}

// attachClient opens a session on the debug server at addr. The program
// reads inputPath, if given, as its input.
func attachClient(addr, name, inputPath string) (*server.Client, error) {
	var input []byte
	if inputPath != "" {
		var err error
		if input, err = os.ReadFile(inputPath); err != nil {
			return nil, err
		}
	}

	baseURL := addr
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	client := server.NewClient(http.DefaultClient, baseURL, os.Stdout)
	if err := client.Open(context.Background(), name, string(input)); err != nil {
		return nil, fmt.Errorf("attach %s: %w", addr, err)
	}
	commonlog.GetLogger("bfdb").Infof("attached to %s as session %s", addr, client.SessionID())
	return client, nil
}
