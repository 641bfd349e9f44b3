// Package watch re-runs a full aggregation whenever a file that could
// change the destination document is created, written, renamed or removed.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vormadev/srcconcat/aggregate"
	"github.com/vormadev/srcconcat/kit/colorlog"
	"github.com/vormadev/srcconcat/kit/debounce"
	"github.com/vormadev/srcconcat/kit/fsutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const DefaultDebounce = 100 * time.Millisecond

type Options struct {
	// Debounce is how long the tree must stay quiet before a re-run.
	// Default: DefaultDebounce.
	Debounce time.Duration
	// OnRun, if set, is called after every aggregation (including the
	// initial one) with its outcome.
	OnRun func(*aggregate.Result, error)
}

type runner struct {
	cfg    aggregate.Config
	opts   Options
	log    *slog.Logger
	filter *filter
	fsw    *fsnotify.Watcher
	sem    *semaphore.Weighted
	dirs   map[string]bool // watched directories, absolute
}

// Run aggregates once, then keeps the destination up to date until ctx is
// done. Errors that make watching pointless (missing source directory,
// invalid config) are returned; errors from individual runs are logged
// and the watch continues.
func Run(ctx context.Context, cfg aggregate.Config, opts Options) error {
	if cfg.Logger == nil {
		cfg.Logger = colorlog.New("srcconcat")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = aggregate.DefaultExtensions
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	r := &runner{
		cfg:  cfg,
		opts: opts,
		log:  cfg.Logger,
		sem:  semaphore.NewWeighted(1),
		dirs: make(map[string]bool),
	}

	if err := r.aggregate(ctx); err != nil {
		return err
	}

	f, err := newFilter(cfg)
	if err != nil {
		return err
	}
	r.filter = f

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.fsw = fsw

	if err := r.addTree(cfg.SourceDir); err != nil {
		fsw.Close()
		return err
	}
	if cfg.ExtraFile != "" {
		if dir := filepath.Dir(cfg.ExtraFile); fsutil.IsDir(dir) {
			if err := r.addDir(dir); err != nil {
				fsw.Close()
				return err
			}
		}
	}

	r.log.Info("Watching for changes", "dir", cfg.SourceDir)
	return r.loop(ctx)
}

// aggregate runs one pass. Only fatal conditions are returned.
func (r *runner) aggregate(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil // shutting down
	}
	defer r.sem.Release(1)

	res, err := aggregate.Run(r.cfg)
	if r.opts.OnRun != nil {
		r.opts.OnRun(res, err)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, aggregate.ErrSourceNotFound),
		errors.Is(err, aggregate.ErrSourceNotDir),
		errors.Is(err, aggregate.ErrInvalidConfig):
		return err
	default:
		r.log.Error("Aggregation failed", "error", err)
		return nil
	}
}

func (r *runner) loop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	deb := debounce.New(r.opts.Debounce, func(events []fsnotify.Event) {
		r.log.Debug("Change detected", "events", len(events), "first", events[0].Name)
		if err := r.aggregate(gctx); err != nil {
			r.log.Error("Aggregation failed", "error", err)
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		deb.Stop()
		return r.fsw.Close()
	})

	g.Go(func() error {
		for {
			select {
			case evt, ok := <-r.fsw.Events:
				if !ok {
					return nil
				}
				if r.handle(evt) {
					deb.Add(evt)
				}
			case err, ok := <-r.fsw.Errors:
				if !ok {
					return nil
				}
				r.log.Error("Watcher error", "error", err)
			case <-gctx.Done():
				return nil
			}
		}
	})

	err := g.Wait()
	// wait out an in-flight run; the permit is never released, so any
	// late debounced run gives up on its cancelled context
	_ = r.sem.Acquire(context.Background(), 1)
	return err
}

// handle keeps the watch set in sync with the tree and reports whether
// evt should trigger a re-run.
func (r *runner) handle(evt fsnotify.Event) bool {
	path := norm(evt.Name)

	if evt.Has(fsnotify.Create) && fsutil.IsDir(evt.Name) && r.filter.underSource(path) {
		if err := r.addTree(evt.Name); err != nil {
			r.log.Error("Failed to watch new directory", "dir", evt.Name, "error", err)
		}
		// files created inside before the watch was added are picked up
		// by the re-run this triggers
		return true
	}

	if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
		if r.dirs[path] {
			delete(r.dirs, path)
			return true
		}
	}

	if chmodOnly(evt) {
		return false
	}
	return r.filter.relevant(path)
}

func (r *runner) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if r.filter != nil && path != root && r.filter.excludedDir(norm(path)) {
			return filepath.SkipDir
		}
		return r.addDir(path)
	})
}

func (r *runner) addDir(dir string) error {
	key := norm(dir)
	if r.dirs[key] {
		return nil
	}
	if err := r.fsw.Add(dir); err != nil {
		return err
	}
	r.dirs[key] = true
	return nil
}

func chmodOnly(evt fsnotify.Event) bool {
	return evt.Has(fsnotify.Chmod) &&
		!evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) &&
		!evt.Has(fsnotify.Remove) && !evt.Has(fsnotify.Rename)
}
