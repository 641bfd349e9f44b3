// Package aggregate concatenates the text of selected source files into a
// single destination document.
//
// A run validates the source root, truncates the destination, walks the
// source root appending every candidate file followed by Separator, and
// finally appends the extra file (if it exists) the same way.
//
// Candidates are regular files whose base name ends with one of the
// configured extensions. Entries are visited in lexical order, so two runs
// over an unchanged tree produce byte-identical documents.
package aggregate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/vormadev/srcconcat/kit/colorlog"
	"github.com/vormadev/srcconcat/kit/fsutil"
	"golang.org/x/crypto/blake2b"
)

// Separator is written after every appended file.
const Separator = "\n\n"

// DefaultExtensions are the name suffixes that select candidate files.
var DefaultExtensions = []string{".tsx", ".ts", ".css", ".json"}

var (
	ErrSourceNotFound = errors.New("source directory does not exist")
	ErrSourceNotDir   = errors.New("source path is not a directory")
	ErrInvalidText    = errors.New("file is not valid UTF-8 text")
	ErrInvalidConfig  = errors.New("invalid config")
)

type Config struct {
	SourceDir string // Directory to scan recursively
	Output    string // Destination document, truncated at the start of a run
	ExtraFile string // Appended last if it exists; empty disables it

	// Extensions defaults to DefaultExtensions.
	Extensions []string
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to SourceDir. A matching directory is not descended.
	Exclude []string
	// Pace is slept after each source file copy. Zero means no delay.
	Pace time.Duration
	// Logger defaults to colorlog labelled "srcconcat".
	Logger *slog.Logger
}

type Result struct {
	Output string
	Files  []string // copied source files, as visited
	Extra  bool     // whether ExtraFile was appended
	Bytes  int64
	Digest string // hex BLAKE2b-256 of the document
}

func (c Config) validate() error {
	if c.SourceDir == "" {
		return fmt.Errorf("%w: SourceDir is required", ErrInvalidConfig)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: Output is required", ErrInvalidConfig)
	}
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: bad exclude pattern %q", ErrInvalidConfig, p)
		}
	}
	for _, ext := range c.Extensions {
		if ext == "" {
			return fmt.Errorf("%w: empty extension", ErrInvalidConfig)
		}
	}
	return nil
}

// Run performs one aggregation pass. On any error after the destination
// has been truncated, the destination keeps the segments appended so far.
func Run(cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	if cfg.Logger == nil {
		cfg.Logger = colorlog.New("srcconcat")
	}

	a := &aggregator{cfg: cfg, log: cfg.Logger}
	return a.run()
}

type aggregator struct {
	cfg     Config
	log     *slog.Logger
	outInfo os.FileInfo
	digest  hash.Hash
	res     Result
}

func (a *aggregator) run() (*Result, error) {
	src := a.cfg.SourceDir

	info, err := os.Stat(src)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.log.Warn(fmt.Sprintf("Source directory '%s' does not exist.", src))
		return nil, fmt.Errorf("aggregate: %s: %w", src, ErrSourceNotFound)
	case err != nil:
		return nil, fmt.Errorf("aggregate: stat source %s: %w", src, err)
	case !info.IsDir():
		return nil, fmt.Errorf("aggregate: %s: %w", src, ErrSourceNotDir)
	}

	if err := a.resetOutput(); err != nil {
		return nil, err
	}

	if err := filepath.WalkDir(src, a.visit); err != nil {
		return &a.res, err
	}

	if err := a.appendExtra(); err != nil {
		return &a.res, err
	}

	a.res.Digest = hex.EncodeToString(a.digest.Sum(nil))
	a.log.Info(fmt.Sprintf("All contents copied to '%s'", a.cfg.Output),
		"files", len(a.res.Files),
		"size", formatSize(a.res.Bytes),
		"digest", a.res.Digest[:12],
	)
	return &a.res, nil
}

func (a *aggregator) resetOutput() error {
	out := a.cfg.Output
	if err := fsutil.EnsureParentDir(out); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := fsutil.Truncate(out); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("aggregate: stat output %s: %w", out, err)
	}
	a.outInfo = info
	a.digest, _ = blake2b.New256(nil) // only errors on an oversized key
	a.res = Result{Output: out}
	return nil
}

func (a *aggregator) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		return fmt.Errorf("aggregate: walk %s: %w", path, err)
	}

	rel := a.relPath(path)
	if d.IsDir() {
		if rel != "." && a.excluded(rel) {
			return filepath.SkipDir
		}
		return nil
	}

	if !a.isCandidate(d.Name()) || a.excluded(rel) {
		return nil
	}

	info, err := a.fileInfo(path, d)
	if err != nil {
		return err
	}
	if info == nil || os.SameFile(info, a.outInfo) {
		return nil
	}

	if err := a.appendSegment(path); err != nil {
		return err
	}
	a.res.Files = append(a.res.Files, path)

	if a.cfg.Pace > 0 {
		time.Sleep(a.cfg.Pace)
	}
	return nil
}

// fileInfo returns nil for entries that are not (links to) regular files.
// Linked directories are not descended.
func (a *aggregator) fileInfo(path string, d fs.DirEntry) (os.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("aggregate: resolve link %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return info, nil
	}
	if !d.Type().IsRegular() {
		return nil, nil
	}
	info, err := d.Info()
	if err != nil {
		return nil, fmt.Errorf("aggregate: stat %s: %w", path, err)
	}
	return info, nil
}

func (a *aggregator) isCandidate(name string) bool {
	for _, ext := range a.cfg.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func (a *aggregator) excluded(rel string) bool {
	for _, p := range a.cfg.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func (a *aggregator) relPath(path string) string {
	rel, err := filepath.Rel(a.cfg.SourceDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (a *aggregator) appendExtra() error {
	extra := a.cfg.ExtraFile
	if extra == "" || !fsutil.Exists(extra) {
		return nil
	}
	if fsutil.SameFile(extra, a.cfg.Output) {
		return nil
	}
	if err := a.appendSegment(extra); err != nil {
		return err
	}
	a.res.Extra = true
	return nil
}

func (a *aggregator) appendSegment(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("aggregate: read %s: %w", path, err)
	}
	text, err := decodeText(raw)
	if err != nil {
		return fmt.Errorf("aggregate: %s: %w", path, err)
	}

	n, err := fsutil.AppendFile(a.cfg.Output, text, []byte(Separator))
	a.res.Bytes += n
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	a.digest.Write(text)
	a.digest.Write([]byte(Separator))

	a.log.Info(fmt.Sprintf("Copied content from '%s' to '%s'", path, a.cfg.Output))
	return nil
}
