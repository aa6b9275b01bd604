// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"
)

const defaultPrefetchBatch = 16

// Engine is the top-level orchestrator described in spec.md §2/§4:
// it owns one GenotypeSource per chromosome, the named sample
// subsets queries may restrict to, an optional Cache, and the Z-walk
// traversal that drives compute_region/compute_single_variant/
// compute_scores.
type Engine struct {
	segmentWidth uint64

	sources       map[string]GenotypeSource
	sourceDigests map[string]string
	allSamples    []string
	subsets       map[string][]string

	cache            Cache
	cacheFingerprint string

	admitted      map[uint64]bool
	prefetchBatch int

	log *logrus.Entry
}

// NewEngine constructs an Engine bucketing positions into segments of
// segmentWidth base pairs, per spec.md §3.
func NewEngine(segmentWidth uint64) *Engine {
	return &Engine{
		segmentWidth:  segmentWidth,
		sources:       map[string]GenotypeSource{},
		sourceDigests: map[string]string{},
		subsets:       map[string][]string{},
		admitted:      map[uint64]bool{},
		prefetchBatch: defaultPrefetchBatch,
		log:           logrus.WithField("component", "engine"),
	}
}

// SetGenotypeSource registers source for chromosome. The first source
// registered on the Engine fixes the "ALL" sample subset order per
// spec.md §3. Per SPEC_FULL.md §4.10, a source that can report its own
// digest has that digest compared against any digest previously seen
// for the same chromosome; a mismatch is logged, not failed, since the
// dataset fingerprint alone is not sufficient grounds to refuse a
// legitimate reload.
func (e *Engine) SetGenotypeSource(chromosome string, source GenotypeSource) error {
	if e.allSamples == nil {
		e.allSamples = source.Samples()
		e.subsets["ALL"] = e.allSamples
	}
	if digest := source.Fingerprint(); digest != "" {
		if prior, ok := e.sourceDigests[chromosome]; ok && prior != digest {
			e.log.WithFields(logrus.Fields{
				"chromosome":    chromosome,
				"prior_digest":  prior,
				"newest_digest": digest,
			}).Warn("genotype source digest changed on reload")
		}
		e.sourceDigests[chromosome] = digest
	}
	e.sources[chromosome] = source
	return nil
}

// SetSampleSubset registers a named sample subset, validated against
// the "ALL" sample list fixed by the first registered source.
func (e *Engine) SetSampleSubset(name string, samples []string) error {
	known := map[string]bool{}
	for _, s := range e.allSamples {
		known[s] = true
	}
	for _, s := range samples {
		if !known[s] {
			return newError(InvalidArgument, "sample subset references unknown sample: "+s)
		}
	}
	e.subsets[name] = samples
	return nil
}

// EnableCache turns on cell/segment caching through cache, tagged with
// callerFingerprint. Per SPEC_FULL.md §4.10, the dataset fingerprint
// alone is not a safe cache key: the caller must supply a fingerprint
// that also reflects whatever external state it considers part of the
// cached computation's identity (e.g. the genotype file's own content
// hash plus any mask/annotation version in play).
func (e *Engine) EnableCache(cache Cache, callerFingerprint string) error {
	if callerFingerprint == "" {
		return newError(InvalidArgument, "EnableCache requires a non-empty caller fingerprint")
	}
	e.cache = cache
	e.cacheFingerprint = callerFingerprint
	return nil
}

// DisableCache turns off caching.
func (e *Engine) DisableCache() {
	e.cache = nil
	e.cacheFingerprint = ""
}

// SetPrefetchBatch overrides the single-variant prefetch pool's batch
// size (default 16, per spec.md §5).
func (e *Engine) SetPrefetchBatch(n int) {
	if n > 0 {
		e.prefetchBatch = n
	}
}

// AddAdmittedSegment restricts traversal to cells whose two segment
// indices are both admitted; with none admitted, every segment is
// eligible (the default).
func (e *Engine) AddAdmittedSegment(index uint64) { e.admitted[index] = true }

// ClearAdmittedSegments removes any admission restriction.
func (e *Engine) ClearAdmittedSegments() { e.admitted = map[uint64]bool{} }

func (e *Engine) admissible(x, y uint64) bool {
	if len(e.admitted) == 0 {
		return true
	}
	return e.admitted[x] && e.admitted[y]
}

func storeModeFor(kind StatKind) StorageMode {
	switch kind {
	case StatCov:
		return StoreValuesCSC
	case StatR2Approx:
		return StoreBitset
	default:
		return StoreAllOnesCSC
	}
}

func (e *Engine) segmentBounds(index uint64) (startBP, stopBP uint64) {
	startBP = index * e.segmentWidth
	stopBP = startBP + e.segmentWidth - 1
	return
}

// loadSegment loads segment index on chromosome restricted to
// subsetName, consulting the cache (names only) before falling back
// to a full scan of the genotype source.
func (e *Engine) loadSegment(chromosome string, index uint64, subsetName string, mode StorageMode) (*Segment, error) {
	source, ok := e.sources[chromosome]
	if !ok {
		return nil, newError(InvalidArgument, "no genotype source registered for chromosome "+chromosome)
	}
	samples, ok := e.subsets[subsetName]
	if !ok {
		return nil, newError(InvalidArgument, "unknown sample subset: "+subsetName)
	}
	startBP, stopBP := e.segmentBounds(index)
	seg := NewSegment(chromosome, startBP, stopBP, mode)

	if e.cache != nil {
		key := segmentCacheKey(e.cacheFingerprint, subsetName, chromosome, startBP, stopBP)
		if blob, found, err := e.cache.Get(key); err == nil && found {
			if err := seg.DeserializeNames(bytes.NewReader(blob)); err == nil {
				if err := seg.LoadGenotypesOnly(source, samples, mode); err == nil {
					return seg, nil
				}
				e.log.WithError(err).Warn("cached segment names could not be reconciled with a fresh genotype scan; reloading")
				seg = NewSegment(chromosome, startBP, stopBP, mode)
			}
		}
	}

	if err := seg.LoadFromSource(source, samples, mode); err != nil {
		return nil, err
	}
	if e.cache != nil {
		var buf bytes.Buffer
		if err := seg.SerializeNames(&buf); err == nil {
			if err := e.cache.Set(segmentCacheKey(e.cacheFingerprint, subsetName, chromosome, startBP, stopBP), buf.Bytes()); err != nil {
				e.log.WithError(err).Warn("failed to write segment names to cache")
			}
		}
	}
	return seg, nil
}

// loadCell loads (from cache, if enabled) or computes the cell for
// segment pair (x, y), also returning the two segments involved
// (segI == segJ when x == y).
func (e *Engine) loadCell(chromosome string, x, y uint64, subsetName string, kind StatKind) (*Cell, *Segment, *Segment, error) {
	mode := storeModeFor(kind)
	segI, err := e.loadSegment(chromosome, x, subsetName, mode)
	if err != nil {
		return nil, nil, nil, err
	}
	segJ := segI
	if y != x {
		segJ, err = e.loadSegment(chromosome, y, subsetName, mode)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	cell := NewCell(x, y, kind)
	if e.cache != nil {
		key := cellCacheKey(e.cacheFingerprint, subsetName, chromosome, kind, MortonEncode(x, y))
		if blob, found, err := e.cache.Get(key); err == nil && found {
			if err := cell.LoadFromCache(blob, segI.NVariants(), segJ.NVariants()); err == nil {
				return cell, segI, segJ, nil
			}
		}
	}
	if err := cell.Compute(segI, segJ); err != nil {
		return nil, nil, nil, err
	}
	if e.cache != nil && segI.NVariants() > 0 && segJ.NVariants() > 0 {
		key := cellCacheKey(e.cacheFingerprint, subsetName, chromosome, kind, MortonEncode(x, y))
		if err := e.cache.Set(key, cell.ToBytes()); err != nil {
			e.log.WithError(err).Warn("failed to write cell to cache")
		}
	}
	return cell, segI, segJ, nil
}

// ComputeRegion implements spec.md §4.5's compute_region operation: a
// single-threaded Z-order walk of the upper-triangle cell rectangle
// covering [startBP,stopBP]x[startBP,stopBP], extracting entries into
// a bounded, resumable page. Per SPEC_FULL.md §4.8, resumeToken (if
// given) is honored unconditionally, including against a narrower
// region than the one that produced it.
func (e *Engine) ComputeRegion(ctx context.Context, chromosome string, startBP, stopBP uint64, subsetName string, kind StatKind, includeDiagonal bool, limit int, resumeToken string) (*PairwisePage, error) {
	page := NewPairwisePage(limit)
	cursor, pageNumber, z, zMax, iLo, iHi, err := e.setupRegionWalk(startBP, stopBP, resumeToken)
	if err != nil {
		return nil, err
	}
	page.PageNumber = pageNumber

	for z <= zMax {
		if err := ctx.Err(); err != nil {
			page.Err = wrapError(Cancelled, "compute_region cancelled", err)
			page.Cursor = Cursor{LastCell: z, LastI: -1, LastJ: -1}
			page.PageNumber++
			return page, nil
		}
		z = NextZ(iLo, iHi, MortonEncode(iLo, iLo), zMax, z)
		if z > zMax {
			break
		}
		x, y := MortonDecode(z)
		if !e.admissible(x, y) {
			z++
			continue
		}
		cell, segI, segJ, err := e.loadCell(chromosome, x, y, subsetName, kind)
		if err != nil {
			page.Err = asError(err)
			page.Cursor = Cursor{LastCell: z, LastI: -1, LastJ: -1}
			page.PageNumber++
			return page, nil
		}
		fromI, toI, okI := segI.OverlapsRange(startBP, stopBP)
		fromJ, toJ, okJ := segJ.OverlapsRange(startBP, stopBP)
		if !okI || !okJ {
			z++
			continue
		}
		resumeI, resumeJ := -1, -1
		if z == cursor.LastCell && !cursor.isTerminalSentinel() {
			resumeI, resumeJ = cursor.LastI, cursor.LastJ
		}
		nextI, nextJ := cell.Extract(segI, segJ, fromI, toI, fromJ, toJ, resumeI, resumeJ, includeDiagonal, page)
		if nextI != -1 || nextJ != -1 {
			page.Cursor = Cursor{LastCell: z, LastI: nextI, LastJ: nextJ}
			page.PageNumber++
			return page, nil
		}
		z++
	}
	page.Cursor = Cursor{LastCell: zMax, LastI: -1, LastJ: -1}
	page.PageNumber++
	return page, nil
}

func (e *Engine) setupRegionWalk(startBP, stopBP uint64, resumeToken string) (cursor Cursor, pageNumber int, z, zMax, iLo, iHi uint64, err error) {
	iLo = startBP / e.segmentWidth
	iHi = stopBP / e.segmentWidth
	zMax = MortonEncode(iHi, iHi)
	z = MortonEncode(iLo, iLo)
	cursor = Cursor{LastCell: z, LastI: -1, LastJ: -1} // never matches a real mid-cell resume
	if resumeToken != "" {
		c, pn, perr := ParseToken(resumeToken)
		if perr != nil {
			err = perr
			return
		}
		if c.isTerminalSentinel() {
			err = newError(InvalidArgument, "resume token is already terminal")
			return
		}
		cursor, pageNumber = c, pn
		z = c.LastCell
	}
	return
}

// asError normalizes err into an *Error, treating anything else as an
// IOFailure (the boundary's catch-all kind).
func asError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return wrapError(IOFailure, "unexpected error", err)
}

// ComputeSingleVariant implements spec.md §4.6's compute_single_variant
// operation: the same Z-walk restricted to cells touching the index
// variant's segment, with a bounded worker pool computing upcoming
// cells concurrently while extraction is reapplied strictly in Z
// order, per SPEC_FULL.md §4.9 and the teacher's throttle pattern.
func (e *Engine) ComputeSingleVariant(ctx context.Context, chromosome string, indexVariantID string, startBP, stopBP uint64, subsetName string, kind StatKind, includeDiagonal bool, limit int, resumeToken string) (*SingleVariantPage, error) {
	indexVariant, err := ParseVariant(indexVariantID)
	if err != nil {
		return nil, err
	}
	page := NewSingleVariantPage(limit)
	page.IndexVariant = VariantRef{Name: indexVariantID, Chromosome: chromosome, Position: indexVariant.Position}

	// terminalSingleVariant marks page as the terminal page for this
	// query, carrying err as its error-kind tag, per spec.md §7 ("Each
	// page carries an error field ... Exceptions are never exposed
	// across the boundary; all failure is a page-level tag").
	terminalSingleVariant := func(err error) (*SingleVariantPage, error) {
		page.Err = asError(err)
		page.Cursor = Cursor{LastI: -1, LastJ: -1}
		page.PageNumber++
		return page, nil
	}

	mode := storeModeFor(kind)
	indexSeg := indexVariant.Position / e.segmentWidth

	indexSegment, err := e.loadSegment(chromosome, indexSeg, subsetName, mode)
	if err != nil {
		return terminalSingleVariant(err)
	}
	indexCol, ok := indexSegment.LocateVariant(indexVariantID, indexVariant.Position)
	if !ok {
		return terminalSingleVariant(newError(InvalidArgument, "index variant not found (monomorphic or absent): "+indexVariantID))
	}

	iLo := startBP / e.segmentWidth
	iHi := stopBP / e.segmentWidth
	zMax := MortonEncode(iHi, iHi)
	z := MortonEncode(iLo, iLo)
	cursor := Cursor{LastCell: z, LastI: -1, LastJ: -1} // never matches a real mid-cell resume
	if resumeToken != "" {
		c, pn, perr := ParseToken(resumeToken)
		if perr != nil {
			return terminalSingleVariant(perr)
		}
		if c.LastJ == -1 && pn > 0 {
			return terminalSingleVariant(newError(InvalidArgument, "resume token is already terminal"))
		}
		cursor = c
		page.PageNumber = pn
		z = c.LastCell
	}

	for z <= zMax {
		if err := ctx.Err(); err != nil {
			return terminalSingleVariant(wrapError(Cancelled, "compute_single_variant cancelled", err))
		}
		batch := e.nextSingleVariantBatch(indexSeg, iLo, iHi, zMax, z)
		if len(batch) == 0 {
			break
		}
		results := e.computeBatch(chromosome, batch, subsetName, kind)
		for k, z := range batch {
			res := results[k]
			if res.err != nil {
				return terminalSingleVariant(res.err)
			}
			indexIsRow := res.x == indexSeg
			var otherSeg *Segment
			var otherSegIndex uint64
			if indexIsRow {
				otherSeg, otherSegIndex = res.segJ, res.y
			} else {
				otherSeg, otherSegIndex = res.segI, res.x
			}
			otherFrom, otherTo, ok := otherSeg.OverlapsRange(startBP, stopBP)
			if !ok {
				continue
			}
			resumeJ := -1
			if z == cursor.LastCell && cursor.LastJ != -1 {
				resumeJ = cursor.LastJ
			}
			nextJ := res.cell.ExtractSingleVariant(indexIsRow, indexCol, otherSeg, otherSegIndex, otherFrom, otherTo, resumeJ, includeDiagonal, page)
			if nextJ != -1 {
				page.Cursor = Cursor{LastCell: z, LastI: -1, LastJ: nextJ}
				page.PageNumber++
				return page, nil
			}
		}
		z = batch[len(batch)-1] + 1
	}
	page.Cursor = Cursor{LastCell: zMax, LastI: -1, LastJ: -1}
	page.PageNumber++
	return page, nil
}

// nextSingleVariantBatch collects up to prefetchBatch successive valid
// Z codes starting at zInit, in ascending order.
func (e *Engine) nextSingleVariantBatch(indexSeg, iLo, iHi, zMax, zInit uint64) []uint64 {
	batch := make([]uint64, 0, e.prefetchBatch)
	z := zInit
	for len(batch) < e.prefetchBatch && z <= zMax {
		z = NextZSingleVariant(indexSeg, iLo, iHi, MortonEncode(iLo, iLo), zMax, z)
		if z > zMax {
			break
		}
		x, y := MortonDecode(z)
		if e.admissible(x, y) {
			batch = append(batch, z)
		}
		z++
	}
	return batch
}

type cellResult struct {
	x, y       uint64
	cell       *Cell
	segI, segJ *Segment
	err        error
}

// computeBatch computes each cell in z concurrently, bounded by
// prefetchBatch in flight, via the same throttle primitive the teacher
// uses for bounded-concurrency fan-out (throttle.go). Results are
// returned in the same order as z, so callers extract them strictly in
// Z order regardless of completion order.
func (e *Engine) computeBatch(chromosome string, z []uint64, subsetName string, kind StatKind) []cellResult {
	results := make([]cellResult, len(z))
	var t throttle
	t.Max = e.prefetchBatch
	for i, zv := range z {
		i, zv := i, zv
		t.Acquire()
		go func() {
			defer t.Release()
			x, y := MortonDecode(zv)
			cell, segI, segJ, err := e.loadCell(chromosome, x, y, subsetName, kind)
			results[i] = cellResult{x: x, y: y, cell: cell, segI: segI, segJ: segJ, err: err}
		}()
	}
	t.Wait()
	return results
}
