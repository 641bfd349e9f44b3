package aggregate

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vormadev/srcconcat/kit/colorlog"
	"golang.org/x/crypto/blake2b"
)

func setupTestDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(dir string) Config {
	return Config{
		SourceDir: filepath.Join(dir, "src"),
		Output:    filepath.Join(dir, "source_code.md"),
		ExtraFile: filepath.Join(dir, "tailwind.config.ts"),
		Logger:    colorlog.Discard(),
	}
}

func runAggregate(t *testing.T, cfg Config) (*Result, string) {
	t.Helper()
	res, err := Run(cfg)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	content, err := os.ReadFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	return res, string(content)
}

// =============================================================================
// Concrete scenarios
// =============================================================================

func TestSingleMatchNoExtraFile(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":          "export const a=1;",
		"src/b/readme.md":   "ignore me",
		"unrelated/file.ts": "outside the source root",
	})

	res, got := runAggregate(t, testConfig(dir))

	if got != "export const a=1;\n\n" {
		t.Errorf("output = %q, want %q", got, "export const a=1;\n\n")
	}
	if res.Extra {
		t.Error("Extra should be false when the extra file is missing")
	}
	if len(res.Files) != 1 {
		t.Errorf("Files = %v, want one entry", res.Files)
	}
}

func TestSingleMatchWithExtraFile(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":           "export const a=1;",
		"src/b/readme.md":    "ignore me",
		"tailwind.config.ts": "module.exports={}",
	})

	res, got := runAggregate(t, testConfig(dir))

	want := "export const a=1;\n\nmodule.exports={}\n\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if !res.Extra {
		t.Error("Extra should be true")
	}
}

// =============================================================================
// Selection
// =============================================================================

func TestOnlyRecognizedExtensionsAreCopied(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/App.tsx":          "APP_TSX",
		"src/index.ts":         "INDEX_TS",
		"src/styles/main.css":  "MAIN_CSS",
		"src/data/config.json": "CONFIG_JSON",
		"src/notes.md":         "NOTES_MD",
		"src/script.js":        "SCRIPT_JS",
		"src/logo.svg":         "LOGO_SVG",
		"src/types.d.ts":       "DTS",
		"src/tsx":              "NO_DOT",
	})

	_, got := runAggregate(t, testConfig(dir))

	for _, want := range []string{"APP_TSX\n\n", "INDEX_TS\n\n", "MAIN_CSS\n\n", "CONFIG_JSON\n\n", "DTS\n\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in output %q", want, got)
		}
	}
	for _, unwanted := range []string{"NOTES_MD", "SCRIPT_JS", "LOGO_SVG", "NO_DOT"} {
		if strings.Contains(got, unwanted) {
			t.Errorf("did not expect %q in output %q", unwanted, got)
		}
	}
}

func TestCustomExtensions(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/main.go": "package main",
		"src/a.ts":    "ts",
	})
	cfg := testConfig(dir)
	cfg.Extensions = []string{".go"}

	_, got := runAggregate(t, cfg)

	if got != "package main\n\n" {
		t.Errorf("output = %q", got)
	}
}

func TestExcludePatterns(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":                  "A",
		"src/generated/b.ts":        "GENERATED",
		"src/c.test.ts":             "TEST",
		"src/deep/generated/d.json": "DEEP",
	})
	cfg := testConfig(dir)
	cfg.Exclude = []string{"**/generated", "**/*.test.ts"}

	_, got := runAggregate(t, cfg)

	if got != "A\n\n" {
		t.Errorf("output = %q, want %q", got, "A\n\n")
	}
}

func TestOutputInsideSourceIsNotCopiedIntoItself(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":     "A",
		"src/out.json": "stale",
	})
	cfg := testConfig(dir)
	cfg.Output = filepath.Join(dir, "src", "out.json")

	_, got := runAggregate(t, cfg)

	if got != "A\n\n" {
		t.Errorf("output = %q, want %q", got, "A\n\n")
	}
}

// =============================================================================
// Ordering and determinism
// =============================================================================

func TestLexicalTraversalOrder(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/z.ts":     "Z",
		"src/a.ts":     "A",
		"src/b/c.ts":   "BC",
		"src/b.css":    "BCSS",
		"src/b/a/d.ts": "BAD",
	})

	res, got := runAggregate(t, testConfig(dir))

	want := "A\n\nBAD\n\nBC\n\nBCSS\n\nZ\n\n"
	if got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if len(res.Files) != 5 || filepath.Base(res.Files[0]) != "a.ts" {
		t.Errorf("Files = %v", res.Files)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":           "A",
		"src/sub/b.tsx":      "B",
		"tailwind.config.ts": "EXTRA",
	})
	cfg := testConfig(dir)

	res1, first := runAggregate(t, cfg)
	res2, second := runAggregate(t, cfg)

	if first != second {
		t.Errorf("second run differs:\n%q\n%q", first, second)
	}
	if res1.Digest != res2.Digest {
		t.Errorf("digests differ: %s vs %s", res1.Digest, res2.Digest)
	}
}

func TestPreviousContentIsDiscarded(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":       "A",
		"source_code.md": "old content that must disappear",
	})

	_, got := runAggregate(t, testConfig(dir))

	if got != "A\n\n" {
		t.Errorf("output = %q, want %q", got, "A\n\n")
	}
}

// =============================================================================
// Extra file
// =============================================================================

func TestExtraFileIsLastSegment(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":           "A",
		"src/z/z.ts":         "Z",
		"tailwind.config.ts": "EXTRA",
	})

	_, got := runAggregate(t, testConfig(dir))

	if !strings.HasSuffix(got, "Z\n\nEXTRA\n\n") {
		t.Errorf("extra file should be the last segment: %q", got)
	}
}

func TestExtraFileWithEmptySourceDir(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"tailwind.config.ts": "EXTRA",
	})
	os.Mkdir(filepath.Join(dir, "src"), 0755)

	_, got := runAggregate(t, testConfig(dir))

	if got != "EXTRA\n\n" {
		t.Errorf("output = %q, want %q", got, "EXTRA\n\n")
	}
}

func TestEmptyExtraFileDisablesIt(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":           "A",
		"tailwind.config.ts": "EXTRA",
	})
	cfg := testConfig(dir)
	cfg.ExtraFile = ""

	_, got := runAggregate(t, cfg)

	if got != "A\n\n" {
		t.Errorf("output = %q, want %q", got, "A\n\n")
	}
}

// =============================================================================
// Missing / invalid source root
// =============================================================================

func TestMissingSourceLeavesDestinationUntouched(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"source_code.md": "previous",
	})
	var logs bytes.Buffer
	cfg := testConfig(dir)
	cfg.Logger = colorlog.New("test", colorlog.Options{Output: &logs})

	res, err := Run(cfg)

	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Run() error = %v, want ErrSourceNotFound", err)
	}
	if res != nil {
		t.Errorf("Result = %+v, want nil", res)
	}
	got, _ := os.ReadFile(cfg.Output)
	if string(got) != "previous" {
		t.Errorf("destination was modified: %q", got)
	}
	if !strings.Contains(logs.String(), "does not exist") {
		t.Errorf("missing-directory condition not reported: %q", logs.String())
	}
}

func TestMissingSourceDoesNotCreateDestination(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	if _, err := Run(cfg); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("Run() error = %v, want ErrSourceNotFound", err)
	}
	if _, err := os.Stat(cfg.Output); !os.IsNotExist(err) {
		t.Errorf("destination should not exist, stat error = %v", err)
	}
}

func TestSourceIsAFile(t *testing.T) {
	dir := setupTestDir(t, map[string]string{"src": "not a dir"})

	if _, err := Run(testConfig(dir)); !errors.Is(err, ErrSourceNotDir) {
		t.Errorf("Run() error = %v, want ErrSourceNotDir", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no source", Config{Output: "out.md"}},
		{"no output", Config{SourceDir: "src"}},
		{"bad pattern", Config{SourceDir: "src", Output: "out.md", Exclude: []string{"[a-"}}},
		{"empty extension", Config{SourceDir: "src", Output: "out.md", Extensions: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Run() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

// =============================================================================
// Text handling and failures
// =============================================================================

func TestLineEndingsAreNormalized(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts": "line1\r\nline2\rline3\n",
	})

	_, got := runAggregate(t, testConfig(dir))

	if got != "line1\nline2\nline3\n\n\n" {
		t.Errorf("output = %q", got)
	}
}

func TestInvalidUTF8AbortsRun(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts": "A",
		"src/b.ts": "\xff\xfe bad",
		"src/c.ts": "C",
	})
	cfg := testConfig(dir)

	res, err := Run(cfg)

	if !errors.Is(err, ErrInvalidText) {
		t.Fatalf("Run() error = %v, want ErrInvalidText", err)
	}
	if !strings.Contains(err.Error(), "b.ts") {
		t.Errorf("error should name the offending file: %v", err)
	}
	if res == nil || len(res.Files) != 1 {
		t.Errorf("partial result should list the file copied before the failure: %+v", res)
	}
	got, _ := os.ReadFile(cfg.Output)
	if string(got) != "A\n\n" {
		t.Errorf("destination = %q, want the segments appended before the failure", got)
	}
}

func TestSymlinkedFileIsFollowed(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":        "A",
		"shared/link.ts":  "LINKED",
		"shared/sub/x.ts": "DIR_LINK",
	})
	if err := os.Symlink(filepath.Join(dir, "shared", "link.ts"), filepath.Join(dir, "src", "b.ts")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(dir, "shared", "sub"), filepath.Join(dir, "src", "c.ts")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, got := runAggregate(t, testConfig(dir))

	if got != "A\n\nLINKED\n\n" {
		t.Errorf("output = %q, want %q", got, "A\n\nLINKED\n\n")
	}
}

// =============================================================================
// Reporting
// =============================================================================

func TestResultDigestAndSize(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":           "A",
		"src/b.json":         "{}",
		"tailwind.config.ts": "EXTRA",
	})

	res, got := runAggregate(t, testConfig(dir))

	sum := blake2b.Sum256([]byte(got))
	if res.Digest != hex.EncodeToString(sum[:]) {
		t.Errorf("Digest = %s, want digest of the written document", res.Digest)
	}
	if res.Bytes != int64(len(got)) {
		t.Errorf("Bytes = %d, want %d", res.Bytes, len(got))
	}
}

func TestProgressIsLogged(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts":           "A",
		"src/b.ts":           "B",
		"tailwind.config.ts": "EXTRA",
	})
	var logs bytes.Buffer
	cfg := testConfig(dir)
	cfg.Logger = colorlog.New("test", colorlog.Options{Output: &logs})

	runAggregate(t, cfg)

	out := logs.String()
	if n := strings.Count(out, "Copied content from"); n != 3 {
		t.Errorf("expected 3 copy lines (2 sources + extra), got %d:\n%s", n, out)
	}
	if !strings.Contains(out, "tailwind.config.ts") {
		t.Errorf("extra file copy should be reported:\n%s", out)
	}
	if !strings.Contains(out, "All contents copied to") {
		t.Errorf("completion line missing:\n%s", out)
	}
}

func TestPaceDelaysEachSourceFile(t *testing.T) {
	dir := setupTestDir(t, map[string]string{
		"src/a.ts": "A",
		"src/b.ts": "B",
	})
	cfg := testConfig(dir)
	cfg.Pace = 25 * time.Millisecond

	start := time.Now()
	runAggregate(t, cfg)

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("run took %v, want at least 50ms with two paced files", elapsed)
	}
}
