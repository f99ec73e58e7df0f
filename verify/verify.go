// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package verify checks a sort backend against a CPU reference.
//
// Run generates seeded random key/value pairs, sorts them on the backend
// while a stable CPU sort computes the expected result, and checks the
// properties every sort must keep: sortedness over the covered digits,
// permutation coherence between keys and values, stability, a zero key
// mask leaving the data untouched, and idempotence.
package verify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/backend"
)

// ErrFailed is returned by Report.Err when any case failed.
var ErrFailed = errors.New("verify: sort verification failed")

// Config selects the cases Run executes.
type Config struct {
	// Sizes are the element counts to test.
	Sizes []int

	// Mask is the key mask passed to Sort.
	Mask uint32

	// KeyBits masks the generated keys. Zero means all 32 bits. A narrow
	// key range produces duplicates, which makes stability observable.
	KeyBits uint32

	// Seed drives key generation. Each case derives its own seed.
	Seed uint64

	// Trials is the number of runs per size. Zero means one.
	Trials int

	// DumpOffsets, when set, receives the Offset Storage dump of a re-run
	// of every failing case.
	DumpOffsets io.Writer

	// Logger receives one record per case. Nil uses gpusort.Logger().
	Logger *slog.Logger
}

// Result is the outcome of one case.
type Result struct {
	Size     int
	Trial    int
	Seed     uint64
	Passes   int
	Duration time.Duration
	Checksum uint64
	Failures []string
}

// OK reports whether every check passed.
func (r Result) OK() bool { return len(r.Failures) == 0 }

func (r *Result) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Report collects the results of Run.
type Report struct {
	Backend string
	Mask    uint32
	Results []Result
}

// Failed returns the number of failing cases.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// Err returns ErrFailed describing the first failure, or nil.
func (r Report) Err() error {
	for _, res := range r.Results {
		if !res.OK() {
			return fmt.Errorf("%w: %d of %d cases, first: size=%d trial=%d: %s",
				ErrFailed, r.Failed(), len(r.Results), res.Size, res.Trial, res.Failures[0])
		}
	}
	return nil
}

// Run executes every case of cfg on b, which must be initialized. The
// returned error reports infrastructure failures (allocation, transfer,
// device errors); check failures are recorded in the Report.
func Run(ctx context.Context, b backend.SortBackend, cfg Config) (Report, error) {
	dev := b.Device()
	if dev == nil {
		return Report{}, backend.ErrNotInitialized
	}
	log := cfg.Logger
	if log == nil {
		log = gpusort.Logger()
	}
	trials := max(cfg.Trials, 1)
	report := Report{Backend: b.Name(), Mask: cfg.Mask}
	sorter := gpusort.NewSorter(dev, gpusort.WithLogger(log), gpusort.WithLabel("verify"))

	for _, size := range cfg.Sizes {
		for trial := range trials {
			c := newCase(size, trial, cfg)
			res, err := c.run(ctx, b, sorter)
			if err != nil {
				return report, fmt.Errorf("verify: size=%d trial=%d: %w", size, trial, err)
			}
			if !res.OK() && cfg.DumpOffsets != nil {
				fmt.Fprintf(cfg.DumpOffsets, "== %s size=%d trial=%d seed=%#x\n", b.Name(), size, trial, c.seed)
				dumper := gpusort.NewSorter(dev, gpusort.WithLogger(log), gpusort.WithOffsetDump(cfg.DumpOffsets))
				dr, err := c.sortOnDevice(ctx, b, dumper, c.keys, c.values)
				if err != nil {
					log.Warn("verify: offset dump re-run failed", "size", size, "err", err)
				}
				if dr != nil {
					b.ReleaseBuffers(dr.bufs)
				}
			}
			log.Debug("verify: case done",
				"backend", b.Name(),
				"size", size,
				"trial", trial,
				"ok", res.OK(),
				"duration", res.Duration)
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

// CoveredBits returns the key bits ordered by a sort with keyMask: the
// union of the digits of every executed pass.
func CoveredBits(keyMask uint32) uint32 {
	var bits uint32
	for _, pass := range gpusort.PassesFor(keyMask) {
		bits |= gpusort.PassBits(pass)
	}
	return bits
}

// testCase is one generated input.
type testCase struct {
	size    int
	trial   int
	seed    uint64
	mask    uint32
	covered uint32
	keys    []uint32
	values  []uint32
}

func newCase(size, trial int, cfg Config) *testCase {
	seed := cfg.Seed ^ uint64(size)<<20 ^ uint64(trial)
	keyBits := cfg.KeyBits
	if keyBits == 0 {
		keyBits = 0xFFFFFFFF
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	keys := make([]uint32, size)
	values := make([]uint32, size)
	for i := range keys {
		keys[i] = r.Uint32() & keyBits
		values[i] = uint32(i)
	}
	return &testCase{
		size:    size,
		trial:   trial,
		seed:    seed,
		mask:    cfg.Mask,
		covered: CoveredBits(cfg.Mask),
		keys:    keys,
		values:  values,
	}
}

// deviceResult is the data read back after a device sort.
type deviceResult struct {
	slot   int
	keys   []uint32
	values []uint32
	bufs   gpusort.Buffers
}

func (c *testCase) run(ctx context.Context, b backend.SortBackend, s *gpusort.Sorter) (Result, error) {
	res := Result{
		Size:   c.size,
		Trial:  c.trial,
		Seed:   c.seed,
		Passes: len(gpusort.PassesFor(c.mask)),
	}

	var want, got []pair
	var dr *deviceResult
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		want = c.reference()
		return nil
	})
	g.Go(func() error {
		var err error
		dr, err = c.sortOnDevice(gctx, b, s, c.keys, c.values)
		return err
	})
	if err := g.Wait(); err != nil {
		if dr != nil {
			b.ReleaseBuffers(dr.bufs)
		}
		return res, err
	}
	defer b.ReleaseBuffers(dr.bufs)
	res.Duration = time.Since(start)

	got = zip(dr.keys, dr.values)
	res.Checksum = checksum(dr.keys, dr.values)
	c.checkSorted(&res, got)
	c.checkPermutation(&res, got)
	if wantSum := checksumPairs(want); wantSum != res.Checksum {
		i := firstDifference(want, got)
		res.failf("stability: result differs from stable reference at %d: got (%d,%d), want (%d,%d)",
			i, got[i].key, got[i].value, want[i].key, want[i].value)
	}

	if err := c.checkMaskNoop(ctx, b, s, dr, &res); err != nil {
		return res, err
	}
	if err := c.checkIdempotent(ctx, b, s, dr, &res); err != nil {
		return res, err
	}
	return res, nil
}

// sortOnDevice uploads keys and values to a fresh slot 0, sorts and reads
// back the result slot. The caller releases the returned buffers.
func (c *testCase) sortOnDevice(ctx context.Context, b backend.SortBackend, s *gpusort.Sorter, keys, values []uint32) (*deviceResult, error) {
	bufs, err := b.NewBuffers(len(keys))
	if err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}
	dr := &deviceResult{bufs: bufs}
	if err := b.Upload(ctx, bufs.Keys[0], keys); err != nil {
		return dr, fmt.Errorf("upload keys: %w", err)
	}
	if err := b.Upload(ctx, bufs.Values[0], values); err != nil {
		return dr, fmt.Errorf("upload values: %w", err)
	}
	if err := bufs.Validate(0, len(keys)); err != nil {
		return dr, err
	}

	slot, sub, err := s.Sort(bufs, 0, c.mask, len(keys))
	if err != nil {
		return dr, err
	}
	if err := sub.Wait(ctx); err != nil {
		return dr, fmt.Errorf("wait: %w", err)
	}
	dr.slot = slot
	if err := dr.download(ctx, b, len(keys)); err != nil {
		return dr, err
	}
	return dr, nil
}

func (dr *deviceResult) download(ctx context.Context, b backend.SortBackend, n int) error {
	slot := dr.bufs.Slot(dr.slot)
	keys, err := b.Download(ctx, slot.Keys, n)
	if err != nil {
		return fmt.Errorf("download keys: %w", err)
	}
	values, err := b.Download(ctx, slot.Values, n)
	if err != nil {
		return fmt.Errorf("download values: %w", err)
	}
	dr.keys, dr.values = keys, values
	return nil
}

// checkMaskNoop sorts the result slot with a zero mask, which must return
// the same slot and leave the data bit-for-bit unchanged.
func (c *testCase) checkMaskNoop(ctx context.Context, b backend.SortBackend, s *gpusort.Sorter, dr *deviceResult, res *Result) error {
	slot, sub, err := s.Sort(dr.bufs, dr.slot, 0, c.size)
	if err != nil {
		return err
	}
	if err := sub.Wait(ctx); err != nil {
		return err
	}
	if slot != dr.slot {
		res.failf("mask no-op: result slot %d, want %d", slot, dr.slot)
		return nil
	}
	prev := res.Checksum
	if err := dr.download(ctx, b, c.size); err != nil {
		return err
	}
	if sum := checksum(dr.keys, dr.values); sum != prev {
		res.failf("mask no-op: data changed (checksum %#x, want %#x)", sum, prev)
	}
	return nil
}

// checkIdempotent sorts the sorted result again in place.
func (c *testCase) checkIdempotent(ctx context.Context, b backend.SortBackend, s *gpusort.Sorter, dr *deviceResult, res *Result) error {
	slot, sub, err := s.Sort(dr.bufs, dr.slot, c.mask, c.size)
	if err != nil {
		return err
	}
	if err := sub.Wait(ctx); err != nil {
		return err
	}
	dr.slot = slot
	if err := dr.download(ctx, b, c.size); err != nil {
		return err
	}
	if sum := checksum(dr.keys, dr.values); sum != res.Checksum {
		res.failf("idempotence: second sort changed the data (checksum %#x, want %#x)", sum, res.Checksum)
	}
	return nil
}

func (c *testCase) checkSorted(res *Result, got []pair) {
	for i := 1; i < len(got); i++ {
		if got[i-1].key&c.covered > got[i].key&c.covered {
			res.failf("sortedness: key[%d]=%#x > key[%d]=%#x", i-1, got[i-1].key, i, got[i].key)
			return
		}
	}
}

// checkPermutation verifies every value is an original index used once and
// still travels with its key.
func (c *testCase) checkPermutation(res *Result, got []pair) {
	seen := make([]bool, c.size)
	for i, p := range got {
		if int(p.value) >= c.size || seen[p.value] {
			res.failf("permutation: value %d at %d is out of range or duplicated", p.value, i)
			return
		}
		seen[p.value] = true
		if c.keys[p.value] != p.key {
			res.failf("permutation: key %#x at %d does not belong to value %d", p.key, i, p.value)
			return
		}
	}
}

type pair struct{ key, value uint32 }

func zip(keys, values []uint32) []pair {
	out := make([]pair, len(keys))
	for i := range out {
		out[i] = pair{keys[i], values[i]}
	}
	return out
}

// reference is the expected result: a stable sort on the covered bits.
func (c *testCase) reference() []pair {
	want := zip(c.keys, c.values)
	if c.covered == 0 {
		return want
	}
	sort.SliceStable(want, func(a, b int) bool {
		return want[a].key&c.covered < want[b].key&c.covered
	})
	return want
}

func firstDifference(a, b []pair) int {
	for i := range min(len(a), len(b)) {
		if a[i] != b[i] {
			return i
		}
	}
	return min(len(a), len(b)) - 1
}

// checksum fingerprints keys and values, element order included.
func checksum(keys, values []uint32) uint64 {
	buf := make([]byte, 0, 8*len(keys))
	for i := range keys {
		buf = binary.LittleEndian.AppendUint32(buf, keys[i])
		buf = binary.LittleEndian.AppendUint32(buf, values[i])
	}
	return xxhash.Sum64(buf)
}

func checksumPairs(pairs []pair) uint64 {
	buf := make([]byte, 0, 8*len(pairs))
	for _, p := range pairs {
		buf = binary.LittleEndian.AppendUint32(buf, p.key)
		buf = binary.LittleEndian.AppendUint32(buf, p.value)
	}
	return xxhash.Sum64(buf)
}

// Sizes returns the default size set: the small, partial-tile and scale
// boundary cases.
func Sizes() []int {
	boundary := gpusort.MaxGroupCount * gpusort.TileSize
	return []int{
		1, 9, 1000, gpusort.TileSize + 1, 5000,
		boundary, boundary + 1, 3*boundary + 777,
	}
}
