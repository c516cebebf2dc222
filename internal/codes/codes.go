// Package codes finds coupon codes shared by several partner code lists.
//
// Lists are gzip-compressed text files with one code per line. A first pass
// builds a bloom filter per list; a second pass keeps the codes that the
// filters of enough other lists report, then confirms them exactly.
package codes

import (
	"bufio"
	"context"
	"io"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxLists bounds the number of lists, one bit of a mask per list.
const maxLists = bits.UintSize

// Options tune the matcher.
type Options struct {
	// Quorum is the number of lists a code must appear in. Defaults to 2.
	Quorum int
	// MinLen and MaxLen bound accepted code lengths. Codes outside the bounds
	// are skipped.
	MinLen int
	MaxLen int
	// Capacity is the expected number of codes per list.
	Capacity uint
	// FalsePositiveRate of each bloom filter.
	FalsePositiveRate float64
	// ProgressEvery logs progress after that many codes of a list.
	ProgressEvery uint64
}

func (o *Options) setDefaults() {
	if o.Quorum <= 0 {
		o.Quorum = 2
	}
	if o.MinLen <= 0 {
		o.MinLen = 1
	}
	if o.MaxLen <= 0 {
		o.MaxLen = 255
	}
	if o.Capacity == 0 {
		o.Capacity = 1_000_000
	}
	if o.FalsePositiveRate <= 0 {
		o.FalsePositiveRate = 0.001
	}
	if o.ProgressEvery == 0 {
		o.ProgressEvery = 10_000_000
	}
}

// Normalize upper-cases and trims code. Coupon codes compare
// case-insensitively.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Find returns the sorted codes found in at least opts.Quorum of the lists
// at paths.
func Find(ctx context.Context, paths []string, opts Options) ([]string, error) {
	opts.setDefaults()
	switch {
	case len(paths) == 0:
		return nil, errors.New("no code lists")
	case len(paths) > maxLists:
		return nil, errors.Errorf("too many code lists: %d > %d", len(paths), maxLists)
	case opts.Quorum > len(paths):
		return nil, errors.Errorf("quorum %d exceeds %d lists", opts.Quorum, len(paths))
	}

	m := &matcher{paths: paths, opts: opts, lg: zctx.From(ctx)}

	m.lg.Info("Building bloom filters", zap.Int("lists", len(paths)))
	filters, err := m.buildFilters(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	m.lg.Info("Matching codes", zap.Int("quorum", opts.Quorum))
	found, err := m.match(ctx, filters)
	if err != nil {
		return nil, errors.Wrap(err, "match codes")
	}
	return found, nil
}

type matcher struct {
	paths []string
	opts  Options
	lg    *zap.Logger
}

func (m *matcher) accept(code string) bool {
	return len(code) >= m.opts.MinLen && len(code) <= m.opts.MaxLen
}

// buildFilters creates one bloom filter per list, concurrently.
func (m *matcher) buildFilters(ctx context.Context) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(m.paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range m.paths {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(m.opts.Capacity, m.opts.FalsePositiveRate)
			var count uint64
			err := streamFile(ctx, path, func(code string) {
				if !m.accept(code) {
					return
				}
				filter.AddString(code)
				count++
				if count%m.opts.ProgressEvery == 0 {
					m.lg.Info("Filter progress", zap.Int("list", i+1), zap.Uint64("codes", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "list %d", i+1)
			}
			m.lg.Info("Filter built", zap.Int("list", i+1), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// match re-streams every list and keeps codes that enough other filters
// report. Each list marks its own bit, so the merged masks count actual
// occurrences and bloom false positives drop out.
func (m *matcher) match(ctx context.Context, filters []*bloom.BloomFilter) ([]string, error) {
	masks := make([]map[string]uint, len(m.paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range m.paths {
		g.Go(func() error {
			candidates := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamFile(ctx, path, func(code string) {
				if !m.accept(code) {
					return
				}
				others := 0
				for j, f := range filters {
					if j != i && f.TestString(code) {
						others++
					}
				}
				if others+1 >= m.opts.Quorum {
					candidates[code] |= bit
				}
			})
			if err != nil {
				return errors.Wrapf(err, "list %d", i+1)
			}
			m.lg.Info("List matched", zap.Int("list", i+1), zap.Int("candidates", len(candidates)))
			masks[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range masks {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}

	var found []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= m.opts.Quorum {
			found = append(found, code)
		}
	}
	slices.Sort(found)
	return found, nil
}

// streamFile calls fn with every normalized non-empty code of the gzip list
// at path.
func streamFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	return Stream(ctx, f, fn)
}

// Stream decompresses r and calls fn with every normalized non-empty line.
func Stream(ctx context.Context, r io.Reader, fn func(code string)) error {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := Normalize(scanner.Text()); code != "" {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
