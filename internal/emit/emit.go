// Package emit writes a rehashed asset map to disk.
package emit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/vormadev/outhash/engine"
	"github.com/vormadev/outhash/kit/colorlog"
	"github.com/vormadev/outhash/kit/fsutil"
	"github.com/vormadev/outhash/kit/pipeline"
	"github.com/vormadev/outhash/kit/source"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 100
	StepName           = "emit"
)

// files smaller than this are not worth a compressed sibling
const minCompressSize = 256

type Options struct {
	Gzip        bool
	Zstd        bool
	Concurrency int64
	Log         *slog.Logger
}

type File struct {
	Name     string `json:"name"`
	Path     string `json:"-"`
	Size     int64  `json:"size"`
	GzipSize int64  `json:"gzipSize,omitempty"`
	ZstdSize int64  `json:"zstdSize,omitempty"`
}

type Report struct {
	Files []File `json:"files"`
	Bytes int64  `json:"bytes"`
}

// Write stores every asset under dir, each atomically, and re-points the
// assets to linked sources at their written paths.
func Write(ctx context.Context, dir string, assets *engine.Assets, opts Options) (*Report, error) {
	log := colorlog.Or(opts.Log)
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, err
	}

	var zenc *zstd.Encoder
	if opts.Zstd {
		var err error
		zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, errors.Wrap(err, "emit: zstd encoder")
		}
		defer zenc.Close()
	}

	start := time.Now()
	names := assets.Names()
	files := make([]File, len(names))
	var total atomic.Int64

	sem := semaphore.NewWeighted(opts.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		a, _ := assets.Get(name)
		data := a.Source.Bytes()
		g.Go(func() error {
			defer sem.Release(1)
			f, err := writeOne(dir, name, data, opts.Gzip, zenc)
			if err != nil {
				return err
			}
			files[i] = f
			total.Add(f.Size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "emit")
	}

	for _, f := range files {
		a, _ := assets.Get(f.Name)
		a.Source = source.NewLinked(f.Path, a.Source.Bytes())
	}

	log.Info("emitted", "dir", dir, "files", len(files), "bytes", total.Load(), "took", time.Since(start).Round(time.Millisecond))
	return &Report{Files: files, Bytes: total.Load()}, nil
}

func writeOne(dir, name string, data []byte, gz bool, zenc *zstd.Encoder) (File, error) {
	p := filepath.Join(dir, filepath.FromSlash(name))
	f := File{Name: name, Path: p, Size: int64(len(data))}

	if err := fsutil.WriteFileAtomicBytes(p, data); err != nil {
		return f, errors.Wrapf(err, "emit %s", name)
	}
	if len(data) < minCompressSize {
		return f, nil
	}

	if gz {
		var buf bytes.Buffer
		if err := gzipTo(&buf, data); err != nil {
			return f, errors.Wrapf(err, "gzip %s", name)
		}
		if err := fsutil.WriteFileAtomicBytes(p+".gz", buf.Bytes()); err != nil {
			return f, errors.Wrapf(err, "emit %s.gz", name)
		}
		f.GzipSize = int64(buf.Len())
	}
	if zenc != nil {
		compressed := zenc.EncodeAll(data, nil)
		if err := fsutil.WriteFileAtomicBytes(p+".zst", compressed); err != nil {
			return f, errors.Wrapf(err, "emit %s.zst", name)
		}
		f.ZstdSize = int64(len(compressed))
	}
	return f, nil
}

func gzipTo(w io.Writer, data []byte) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// RemoveStale deletes files, and their compressed siblings, left in dir
// under names that were renamed away. Names still present in assets are
// kept.
func RemoveStale(dir string, renames map[string]string, assets *engine.Assets) ([]string, error) {
	var removed []string
	olds := make([]string, 0, len(renames))
	for old := range renames {
		olds = append(olds, old)
	}
	slices.Sort(olds)

	for _, old := range olds {
		if _, live := assets.Get(old); live {
			continue
		}
		base := filepath.Join(dir, filepath.FromSlash(old))
		for _, p := range []string{base, base + ".gz", base + ".zst"} {
			ok, err := fsutil.RemoveIfExists(p)
			if err != nil {
				return removed, err
			}
			if ok {
				removed = append(removed, p)
			}
		}
	}
	return removed, nil
}

// Summary is the JSON report of a pass.
type Summary struct {
	Order        []string                `json:"order"`
	Renames      map[string]string       `json:"renames"`
	Fingerprints []engine.Pair           `json:"fingerprints"`
	Skipped      []engine.SkippedFile    `json:"skipped,omitempty"`
	Stale        []engine.StaleReference `json:"stale,omitempty"`
	Emitted      *Report                 `json:"emitted,omitempty"`
}

// WriteReport writes the outcome of a pass, and optionally of the emit that
// followed it, as JSON.
func WriteReport(path string, res *engine.Result, emitted *Report) error {
	if res == nil {
		return errors.New("emit: no result to report")
	}
	s := Summary{
		Order:   res.Order,
		Renames: res.Renames,
		Skipped: res.Skipped,
		Stale:   res.Stale,
		Emitted: emitted,
	}
	if res.Fingerprints != nil {
		s.Fingerprints = res.Fingerprints.Pairs()
	}
	return fsutil.WriteJSONAtomic(path, s)
}

// Stage is the emit step of a build pipeline. It writes the build's assets
// to its OutDir and, with Clean, removes files left under renamed names.
// Report holds the outcome of the last run.
type Stage struct {
	Options Options
	Clean   bool
	Report  *Report
}

func (s *Stage) Run(inv *pipeline.Invocation[*engine.Build]) error {
	b := inv.Compilation
	if strings.TrimSpace(b.OutDir) == "" {
		return errors.New("emit: build has no output directory")
	}
	opts := s.Options
	if opts.Log == nil {
		opts.Log = inv.Log
	}
	report, err := Write(inv.Context, b.OutDir, b.Assets, opts)
	if err != nil {
		return err
	}
	s.Report = report

	if s.Clean && b.Result != nil {
		removed, err := RemoveStale(b.OutDir, b.Result.Renames, b.Assets)
		if err != nil {
			return err
		}
		if len(removed) > 0 {
			inv.Log.Info("removed stale files", "count", len(removed))
		}
	}
	return nil
}
