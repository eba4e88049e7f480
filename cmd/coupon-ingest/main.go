package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/repository"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000
)

type options struct {
	dataDir     string
	databaseURL string
	expected    uint
	readers     int
	dryRun      bool
}

type stats struct {
	read, invalid, duplicate, inserted, updated int
}

func main() {
	var opts options

	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected number of distinct codes, sizes the bloom filter")
	flag.IntVar(&opts.readers, "readers", 4, "files indexed in parallel")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate files without writing to the database")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" && !opts.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

// upserter stores one coupon and reports whether it was new.
type upserter func(ctx context.Context, c *coupon.Coupon) (bool, error)

func run(ctx context.Context, opts options) error {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, "*.csv.gz"))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		slog.Info("no coupon files found", slog.String("dir", opts.dataDir))
		return nil
	}
	sort.Strings(files)

	store := upserter(func(context.Context, *coupon.Coupon) (bool, error) { return true, nil })
	if !opts.dryRun {
		slog.Info("connecting to database")

		pool, err := repository.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()

		store = repository.NewCouponRepository(pool).Upsert
	}

	st, err := ingest(ctx, files, opts, store, time.Now().UTC())
	if err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Int("files", len(files)),
		slog.Int("rows", st.read),
		slog.Int("invalid", st.invalid),
		slog.Int("duplicates", st.duplicate),
		slog.Int("inserted", st.inserted),
		slog.Int("updated", st.updated),
	)
	return nil
}

// ingest stores every valid coupon once; the first occurrence of a code in
// file order wins. Pass 1 indexes the files concurrently into per-file bloom
// filters, pass 2 streams them in order and writes.
func ingest(ctx context.Context, files []string, opts options, store upserter, now time.Time) (stats, error) {
	slog.Info("pass 1: indexing codes", slog.Int("files", len(files)))
	idx, err := indexFiles(ctx, files, opts)
	if err != nil {
		return stats{}, errors.Wrap(err, "index files")
	}

	slog.Info("pass 2: storing coupons")
	var st stats
	for i, path := range files {
		name := filepath.Base(path)
		err := streamFile(ctx, path, func(line int, rec []string) error {
			st.read++
			if st.read%progressEvery == 0 {
				slog.Info("pass 2 progress", slog.Int("rows", st.read))
			}

			c, err := parseRecord(rec, now)
			if err != nil {
				st.invalid++
				slog.Warn("invalid coupon row",
					slog.String("file", name),
					slog.Int("line", line),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if !idx.First(i, c.Code) {
				st.duplicate++
				return nil
			}

			inserted, err := store(ctx, c)
			if err != nil {
				return errors.Wrapf(err, "%s:%d", name, line)
			}
			if inserted {
				st.inserted++
			} else {
				st.updated++
			}
			return nil
		})
		if err != nil {
			return st, err
		}
		slog.Info("file complete", slog.String("file", name))
	}
	return st, nil
}

// indexFiles builds one bloom filter per file, up to opts.readers at a time.
func indexFiles(ctx context.Context, files []string, opts options) (*codeIndex, error) {
	idx := newCodeIndex(len(files), opts.expected, bloomFPR)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.readers, 1))
	for i, path := range files {
		g.Go(func() error {
			return streamFile(ctx, path, func(_ int, rec []string) error {
				if code := recordCode(rec); code != "" {
					idx.Observe(i, code)
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return idx, nil
}

// streamFile decodes a gzip-compressed CSV file and calls fn for every
// record with its 1-based line. A leading header row is skipped.
func streamFile(ctx context.Context, path string, fn func(line int, rec []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	name := filepath.Base(path)
	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	for line := 1; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
}
