package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/bfdb/vm"
)

// writeProgram writes src to a temporary file and returns its path.
func writeProgram(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.b")
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// runScript feeds script to a local debugging session. Commands and the
// program's input share the script, as they share stdin interactively.
func runScript(t *testing.T, script string, opts ...vm.Option) (string, string) {
	t.Helper()
	in := bufio.NewReader(strings.NewReader(script))
	var out, errOut bytes.Buffer

	opts = append(opts, vm.WithInput(in), vm.WithOutput(&out))
	r := &repl{
		s:      vm.NewDebugger(opts...),
		in:     in,
		out:    &out,
		errOut: &errOut,
		prompt: "(bfdb) ",
		echo:   true,
	}
	r.loop()
	return out.String(), errOut.String()
}

func wantContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q\n--- got ---\n%s", want, got)
		}
	}
}

func TestHelp(t *testing.T) {
	out, _ := runScript(t, "help\n")
	wantContains(t, out,
		"List of commands:\n\n",
		"(h)elp -- Print this help.\n",
		"(f)ile <filename> -- Use file.\n",
		"(j)ump <instr_index> -- Jumps to an instruction.\n",
		"(p)rint [index = $ptr] -- Print cell.\n",
	)
}

func TestLookupCommand(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"next", "next"},
		{"n", "next"},
		{"c", "continue"},
		{"d", "dataptr"},
		{"print", "print"},
	}
	for _, tt := range tests {
		c, ok := lookupCommand(tt.in)
		if !ok || c.name != tt.want {
			t.Errorf("lookupCommand(%q) = %q, %v; want %q", tt.in, c.name, ok, tt.want)
		}
	}

	for _, in := range []string{"ne", "x", "nextt", ""} {
		if _, ok := lookupCommand(in); ok {
			t.Errorf("lookupCommand(%q) should not match", in)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	out, _ := runScript(t, "frobnicate\n\nquit\n")
	wantContains(t, out, "Undefined command: \"frobnicate\". Try \"help\".\n")
}

func TestNothingLoaded(t *testing.T) {
	out, _ := runScript(t, "run\nnext\ncontinue\ndataptr\nlist\njump\n")
	wantContains(t, out,
		"No brainfuck file specified, use 'file'.\n",
		"The program is not being run.\n",
	)
	if strings.Contains(out, "takes exactly one") {
		t.Errorf("bare 'jump' should report that nothing runs first:\n%s", out)
	}
}

func TestFileErrors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.b")
	out, errOut := runScript(t, "file\nfile a b\nfile "+missing+"\n")
	wantContains(t, out, "error: 'file' takes exactly one file path argument.\n")
	wantContains(t, errOut, missing+": No such file or directory.\n")
	if strings.Contains(out, "Reading") {
		t.Errorf("a missing file should not be read:\n%s", out)
	}

	bad := writeProgram(t, "+[")
	out, errOut = runScript(t, "file "+bad+"\nrun\n")
	wantContains(t, out,
		"Reading "+bad+"...\n",
		"Could not read from "+bad+".\n",
		"No brainfuck file specified, use 'file'.\n",
	)
	wantContains(t, errOut, "error: 1:2: unmatched '['")
}

func TestScenario(t *testing.T) {
	path := writeProgram(t, "++>+<-.")
	out, _ := runScript(t, "file "+path+"\nrun\nnext 7\ndataptr\nprint 0\np 1\ncontinue\ncontinue\nquit\n")

	want := "(bfdb) Reading " + path + "...\n" +
		"(bfdb) " +
		"@1: +\n(bfdb) \x01" +
		"@8: EOF\n(bfdb) $ptr: 0\n" +
		"@8: EOF\n(bfdb) $[0]: 1.\n" +
		"@8: EOF\n(bfdb) $[1]: 1.\n" +
		"@8: EOF\n(bfdb) Brainfuck exited normally.\n" +
		"(bfdb) The program is not being run.\n" +
		"(bfdb) "
	if out != want {
		t.Errorf("transcript mismatch\n--- got ---\n%q\n--- want ---\n%q", out, want)
	}
}

func TestAbbreviations(t *testing.T) {
	path := writeProgram(t, ">>")
	out, _ := runScript(t, "f "+path+"\nr\nn 2\nd\nq\n")
	wantContains(t, out, "$ptr: 2\n")
}

func TestNext_Errors(t *testing.T) {
	path := writeProgram(t, "+")
	out, _ := runScript(t, "file "+path+"\nrun\nnext -1\nnext x\n")
	wantContains(t, out,
		"-1: Not a valid step count\n",
		"x: Not a number.\n",
	)
}

func TestFault(t *testing.T) {
	path := writeProgram(t, "+<")
	out, errOut := runScript(t, "file "+path+"\nrun\nnext 5\nnext\n")

	wantContains(t, errOut,
		"error: trying to decrement the data pointer below 0\n",
		"At instruction 2 ('<'). $[$ptr: 0]: 1.\n",
	)
	wantContains(t, out,
		"Brainfuck exited with error.\n",
		"The program is not being run.\n",
	)
}

func TestJump(t *testing.T) {
	path := writeProgram(t, "+++.")
	out, _ := runScript(t, "file "+path+"\nrun\njump\njump 99\njump 4\nnext\n")
	wantContains(t, out,
		"error: 'jump' takes exactly one instruction index argument.\n",
		"99: Not in range of program's instructions [1..5]\n",
		"@4: .\n",
	)
}

func TestSharedInput(t *testing.T) {
	path := writeProgram(t, ",.")
	// ',' consumes the 'A' on the line after 'next'; the rest of that line
	// is an empty command.
	out, _ := runScript(t, "file "+path+"\nrun\nnext\nA\nnext\nquit\n")
	wantContains(t, out, "(bfdb) A@3: EOF\n")
}

func TestSetTapeList(t *testing.T) {
	path := writeProgram(t, ">+<")
	out, _ := runScript(t, "file "+path+"\nrun\nnext 2\nset 65\ntape\nlist\nset 70000\nset\n", vm.WithTapeSize(8))

	wantContains(t, out,
		"$[1]: 65 ('A').\n",
		"=> $[1]: 65 ('A').\n",
		"   $[0]: 0.\n",
		"=>    3  <",
		"70000: Not in range [0..65535].\n",
		"error: 'set' takes exactly one value argument.\n",
	)
}

func TestEndOfInput(t *testing.T) {
	out, _ := runScript(t, "help")
	if !strings.HasSuffix(out, "(bfdb) \n") {
		t.Errorf("output should end with a fresh line after the last prompt:\n%q", out)
	}
}
