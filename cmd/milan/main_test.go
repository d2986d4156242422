package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeSource writes a .mil source file into dir and returns its path.
func writeSource(t *testing.T, dir, name, source string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(source), 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
	return p
}

// cli runs the command line and returns exit code, stdout and stderr.
func cli(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const gcd = `begin
  a := read; b := read;
  while a != b do
    if a > b then a := a - b else b := b - a fi
  od;
  write(a)
end
`

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCLIPrintsListing(t *testing.T) {
	src := writeSource(t, t.TempDir(), "one.mil", "begin x := 1 end")
	code, stdout, stderr := cli(t, "", src)
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	want := "0:\tPUSH\t1\n1:\tSTORE\t0\n2:\tSTOP\n"
	if stdout != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
}

func TestCLIReportsDiagnostics(t *testing.T) {
	src := writeSource(t, t.TempDir(), "bad.mil", "begin\n  break;\n  continue\nend")
	code, stdout, stderr := cli(t, "", src)
	if code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
	if stdout != "" {
		t.Errorf("stdout = %q, want nothing on failure", stdout)
	}
	want := "Line 2: 'break' statement outside of loop\nLine 3: 'continue' statement outside of loop\n"
	if stderr != want {
		t.Errorf("stderr = %q, want %q", stderr, want)
	}
}

func TestCLIMissingFile(t *testing.T) {
	code, _, stderr := cli(t, "", filepath.Join(t.TempDir(), "none.mil"))
	if code != 1 || !strings.Contains(stderr, "cannot read") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestCLIBadFlags(t *testing.T) {
	if code, _, _ := cli(t, "", "-nope"); code != 2 {
		t.Errorf("unknown flag: exit %d, want 2", code)
	}
	if code, _, _ := cli(t, "", "a.mil", "b.mil"); code != 2 {
		t.Errorf("two files: exit %d, want 2", code)
	}
	if code, _, _ := cli(t, "", "-max-steps", "-5", "a.mil"); code != 2 {
		t.Errorf("negative max-steps: exit %d, want 2", code)
	}
}

func TestCLILegacyAnd(t *testing.T) {
	src := writeSource(t, t.TempDir(), "and.mil", "begin x := true && false end")

	_, stdout, _ := cli(t, "", src)
	if strings.Contains(stdout, "POP") {
		t.Errorf("default listing contains POP:\n%s", stdout)
	}
	_, stdout, _ = cli(t, "", "-legacy-and", src)
	if !strings.Contains(stdout, "3:\tPOP\n") {
		t.Errorf("legacy listing lacks POP at 3:\n%s", stdout)
	}
}

// ---------------------------------------------------------------------------
// Run, images
// ---------------------------------------------------------------------------

func TestCLIRun(t *testing.T) {
	src := writeSource(t, t.TempDir(), "gcd.mil", gcd)
	code, stdout, stderr := cli(t, "84 36\n", "-run", src)
	if code != 0 {
		t.Fatalf("exit %d, stderr: %s", code, stderr)
	}
	if stdout != "12\n" {
		t.Errorf("stdout = %q, want 12", stdout)
	}
}

func TestCLIRunTrace(t *testing.T) {
	src := writeSource(t, t.TempDir(), "gcd.mil", gcd)
	code, stdout, stderr := cli(t, "9 6", "-run", "-trace", src)
	if code != 0 || stdout != "3\n" {
		t.Errorf("exit %d, stdout %q, stderr %q", code, stdout, stderr)
	}
}

func TestCLIRunStepLimit(t *testing.T) {
	src := writeSource(t, t.TempDir(), "loop.mil", "begin while true do od end")
	code, _, stderr := cli(t, "", "-run", "-max-steps", "500", src)
	if code != 1 || !strings.Contains(stderr, "step limit exceeded") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestCLIImageRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "gcd.mil", gcd)
	image := filepath.Join(dir, "out", "gcd.milc")

	code, listing, stderr := cli(t, "", "-o", image, src)
	if code != 0 {
		t.Fatalf("compile: exit %d, stderr: %s", code, stderr)
	}

	code, disasm, stderr := cli(t, "", "-disasm", image)
	if code != 0 {
		t.Fatalf("disasm: exit %d, stderr: %s", code, stderr)
	}
	if disasm != listing {
		t.Errorf("disasm differs from compile listing:\n%s\nwant:\n%s", disasm, listing)
	}

	code, stdout, stderr := cli(t, "14 35", "-exec", image)
	if code != 0 || stdout != "7\n" {
		t.Errorf("exec: exit %d, stdout %q, stderr %q", code, stdout, stderr)
	}
}

func TestCLIExecBadImage(t *testing.T) {
	bad := writeSource(t, t.TempDir(), "bad.milc", "not an image")
	if code, _, _ := cli(t, "", "-exec", bad); code != 1 {
		t.Errorf("exit %d, want 1", code)
	}
}

// ---------------------------------------------------------------------------
// Manifest
// ---------------------------------------------------------------------------

func TestCLIManifest(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "milan.toml", `
[project]
name = "gcd"

[compile]
legacy-and = true

[output]
image = "build/gcd.milc"
listing = false

[cache]
path = ".milan/cache.db"
`)
	src := writeSource(t, dir, "main.mil", "begin x := true && false end")

	for i := 0; i < 2; i++ {
		code, stdout, stderr := cli(t, "", src)
		if code != 0 {
			t.Fatalf("run %d: exit %d, stderr: %s", i, code, stderr)
		}
		if stdout != "" {
			t.Errorf("run %d: listing printed although disabled: %q", i, stdout)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, ".milan", "cache.db")); err != nil {
		t.Errorf("cache not created: %v", err)
	}

	_, disasm, _ := cli(t, "", "-disasm", filepath.Join(dir, "build", "gcd.milc"))
	if !strings.Contains(disasm, "POP") {
		t.Errorf("manifest legacy-and not applied:\n%s", disasm)
	}

	// -no-cache still compiles.
	if code, _, stderr := cli(t, "", "-no-cache", src); code != 0 {
		t.Errorf("-no-cache: exit %d, stderr %s", code, stderr)
	}
}
