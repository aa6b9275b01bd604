// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"encoding/binary"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// StorageMode selects which of the three genotype storage disciplines a
// Segment uses, per spec.md §4.2. Only one mode is alive at a time.
type StorageMode int

const (
	// StoreAllOnesCSC is used for r and r² on
	// bi-allelic, unphased 0/1 haplotype columns: only the positions
	// of the 1s are stored.
	StoreAllOnesCSC StorageMode = iota
	// StoreValuesCSC is used for covariance: the column value is the
	// dosage in {0,1,2}, possibly NaN for missing.
	StoreValuesCSC
	// StoreBitset is used for approximate r²: only carrier-set
	// membership matters.
	StoreBitset
)

// Segment is the column-slice of genotypes for one fixed-width bucket
// of base-pair positions on one chromosome, per spec.md §3.
type Segment struct {
	chromosome  string
	startBP     uint64
	stopBP      uint64
	nHaplotypes uint64

	names     []string
	positions []uint64

	store StorageMode

	// triplet (COO-style) sparse storage, mirroring original_source's
	// Segment.h sp_mat_rowind/sp_mat_colind/sp_mat_values members.
	rowIndex []int
	colIndex []int
	values   []float64 // only populated for StoreValuesCSC
	means    []float64 // per-column mean over non-missing entries (StoreValuesCSC)
	hasNaN   bool

	freqs       []float64   // per-variant alt allele frequency
	altCarriers [][]uint32  // per-variant sorted carrier haplotype/sample indices (StoreBitset)

	hasNames     bool
	hasGenotypes bool
	cached       bool
}

// NewSegment constructs an empty segment for the bucket
// [startBP, stopBP] (both ends inclusive) on chromosome.
func NewSegment(chromosome string, startBP, stopBP uint64, store StorageMode) *Segment {
	return &Segment{chromosome: chromosome, startBP: startBP, stopBP: stopBP, store: store}
}

func (s *Segment) Chromosome() string  { return s.chromosome }
func (s *Segment) StartBP() uint64     { return s.startBP }
func (s *Segment) StopBP() uint64      { return s.stopBP }
func (s *Segment) NHaplotypes() uint64 { return s.nHaplotypes }
func (s *Segment) NVariants() int      { return len(s.names) }
func (s *Segment) Store() StorageMode  { return s.store }
func (s *Segment) HasNames() bool      { return s.hasNames }
func (s *Segment) HasGenotypes() bool  { return s.hasGenotypes }
func (s *Segment) IsCached() bool      { return s.cached }
func (s *Segment) IsEmpty() bool       { return len(s.names) == 0 }
func (s *Segment) HasNaN() bool        { return s.hasNaN }
func (s *Segment) Means() []float64    { return s.means }
func (s *Segment) Freqs() []float64    { return s.freqs }

func (s *Segment) Name(i int) string      { return s.names[i] }
func (s *Segment) Position(i int) uint64  { return s.positions[i] }
func (s *Segment) AltCarriers(i int) []uint32 { return s.altCarriers[i] }

func outputModeFor(store StorageMode) OutputMode {
	if store == StoreValuesCSC {
		return DosageMode
	}
	return HaplotypeMode
}

// LoadFromSource reads all variant sites in [startBP, stopBP], dropping
// sites whose non-zero allele count over sampleSubset is zero, and
// populates both names/positions and the genotype storage for store.
func (s *Segment) LoadFromSource(source GenotypeSource, sampleSubset []string, mode StorageMode) error {
	s.store = mode
	if mode == StoreValuesCSC {
		s.nHaplotypes = uint64(len(sampleSubset))
	} else {
		s.nHaplotypes = uint64(2 * len(sampleSubset))
	}

	scanner, err := source.Scan(s.chromosome, s.startBP, s.stopBP, sampleSubset, outputModeFor(mode))
	if err != nil {
		return wrapError(IOFailure, "scanning genotype source", err)
	}
	defer scanner.Close()

	col := 0
	lastPos := uint64(0)
	for scanner.Next() {
		rec := scanner.Record()
		if len(s.positions) > 0 && rec.Position < lastPos {
			return newError(ConsistencyViolation, "genotype source returned positions out of order")
		}
		altCount := 0.0
		for _, v := range rec.Values {
			if v == v { // skip NaN
				altCount += v
			}
		}
		if altCount == 0 {
			continue
		}
		s.appendColumn(rec, col, mode)
		lastPos = rec.Position
		col++
	}
	if err := scanner.Err(); err != nil {
		return wrapError(IOFailure, "reading genotype records", err)
	}
	s.hasNames = true
	s.hasGenotypes = true
	return nil
}

func (s *Segment) appendColumn(rec GenotypeRecord, col int, mode StorageMode) {
	s.names = append(s.names, rec.Name())
	s.positions = append(s.positions, rec.Position)
	freq := alleleFreq(rec.Values)
	if mode == StoreValuesCSC {
		freq /= 2 // rec.Values are dosages in {0,1,2}; frequency is per-allele
	}
	s.freqs = append(s.freqs, freq)
	s.appendGenotypeOnly(rec, col, mode)
}

func alleleFreq(values []float64) float64 {
	sum, n := 0.0, 0
	for _, v := range values {
		if v == v {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// LoadNamesOnly performs the same scan as LoadFromSource but stores
// only names and positions, never genotypes.
func (s *Segment) LoadNamesOnly(source GenotypeSource, sampleSubset []string) error {
	scanner, err := source.Scan(s.chromosome, s.startBP, s.stopBP, sampleSubset, HaplotypeMode)
	if err != nil {
		return wrapError(IOFailure, "scanning genotype source", err)
	}
	defer scanner.Close()
	s.nHaplotypes = uint64(2 * len(sampleSubset))
	for scanner.Next() {
		rec := scanner.Record()
		altCount := 0.0
		for _, v := range rec.Values {
			if v == v { // skip NaN
				altCount += v
			}
		}
		if altCount == 0 {
			continue
		}
		s.names = append(s.names, rec.Name())
		s.positions = append(s.positions, rec.Position)
	}
	if err := scanner.Err(); err != nil {
		return wrapError(IOFailure, "reading genotype records", err)
	}
	s.hasNames = true
	return nil
}

// LoadGenotypesOnly fills in the genotype storage for a segment whose
// names/positions were already loaded (typically from the cache); it
// re-scans the source for exactly the variants already known, so the
// set of retained variants must match (a ConsistencyViolation otherwise).
func (s *Segment) LoadGenotypesOnly(source GenotypeSource, sampleSubset []string, mode StorageMode) error {
	if !s.hasNames {
		return newError(ConsistencyViolation, "LoadGenotypesOnly called before names were loaded")
	}
	s.store = mode
	if mode == StoreValuesCSC {
		s.nHaplotypes = uint64(len(sampleSubset))
	} else {
		s.nHaplotypes = uint64(2 * len(sampleSubset))
	}
	scanner, err := source.Scan(s.chromosome, s.startBP, s.stopBP, sampleSubset, outputModeFor(mode))
	if err != nil {
		return wrapError(IOFailure, "scanning genotype source", err)
	}
	defer scanner.Close()

	col := 0
	for scanner.Next() {
		rec := scanner.Record()
		if col >= len(s.names) {
			break
		}
		if rec.Name() != s.names[col] {
			continue // site dropped as monomorphic-zero when names were first built
		}
		freq := alleleFreq(rec.Values)
		if mode == StoreValuesCSC {
			freq /= 2 // rec.Values are dosages in {0,1,2}; frequency is per-allele
		}
		s.freqs = append(s.freqs, freq)
		s.appendGenotypeOnly(rec, col, mode)
		col++
	}
	if col != len(s.names) {
		return newError(ConsistencyViolation, "genotype reload did not reproduce the cached variant set")
	}
	s.hasGenotypes = true
	return nil
}

func (s *Segment) appendGenotypeOnly(rec GenotypeRecord, col int, mode StorageMode) {
	switch mode {
	case StoreAllOnesCSC:
		for row, v := range rec.Values {
			if v == 1 {
				s.rowIndex = append(s.rowIndex, row)
				s.colIndex = append(s.colIndex, col)
			}
		}
	case StoreValuesCSC:
		sum, n := 0.0, 0
		for row, v := range rec.Values {
			if v != v {
				s.hasNaN = true
				s.rowIndex = append(s.rowIndex, row)
				s.colIndex = append(s.colIndex, col)
				s.values = append(s.values, math.NaN())
				continue
			}
			if v != 0 {
				s.rowIndex = append(s.rowIndex, row)
				s.colIndex = append(s.colIndex, col)
				s.values = append(s.values, v)
			}
			sum += v
			n++
		}
		mean := 0.0
		if n > 0 {
			mean = sum / float64(n)
		}
		s.means = append(s.means, mean)
	case StoreBitset:
		carriers := make([]uint32, 0)
		for row, v := range rec.Values {
			if v == 1 {
				carriers = append(carriers, uint32(row))
			}
		}
		s.altCarriers = append(s.altCarriers, carriers)
	}
}

// SerializeNames writes the "names only" wire form used by the cache:
// n_haplotypes, then the list of names, then the list of positions.
// Genotypes are never included.
func (s *Segment) SerializeNames(w io.Writer) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], s.nHaplotypes)
	if _, err := w.Write(hdr[:]); err != nil {
		return wrapError(IOFailure, "writing segment header", err)
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(s.names)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return wrapError(IOFailure, "writing segment variant count", err)
	}
	for _, name := range s.names {
		binary.BigEndian.PutUint32(countBuf[:], uint32(len(name)))
		if _, err := w.Write(countBuf[:]); err != nil {
			return wrapError(IOFailure, "writing variant name length", err)
		}
		if _, err := io.WriteString(w, name); err != nil {
			return wrapError(IOFailure, "writing variant name", err)
		}
	}
	for _, pos := range s.positions {
		binary.BigEndian.PutUint64(hdr[:], pos)
		if _, err := w.Write(hdr[:]); err != nil {
			return wrapError(IOFailure, "writing variant position", err)
		}
	}
	return nil
}

// DeserializeNames reads back the wire form written by SerializeNames.
// A short read is reported as a ConsistencyViolation per spec.md §7
// ("cached segment blob shorter than its header claims").
func (s *Segment) DeserializeNames(r io.Reader) error {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return wrapError(ConsistencyViolation, "segment blob missing header", err)
	}
	s.nHaplotypes = binary.BigEndian.Uint64(hdr[:])

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return wrapError(ConsistencyViolation, "segment blob missing variant count", err)
	}
	n := binary.BigEndian.Uint32(countBuf[:])

	names := make([]string, n)
	for i := range names {
		if _, err := io.ReadFull(r, countBuf[:]); err != nil {
			return wrapError(ConsistencyViolation, "segment blob truncated in name length", err)
		}
		length := binary.BigEndian.Uint32(countBuf[:])
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return wrapError(ConsistencyViolation, "segment blob truncated in name", err)
		}
		names[i] = string(buf)
	}
	positions := make([]uint64, n)
	for i := range positions {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return wrapError(ConsistencyViolation, "segment blob truncated in positions", err)
		}
		positions[i] = binary.BigEndian.Uint64(hdr[:])
	}
	s.names = names
	s.positions = positions
	s.hasNames = true
	s.hasGenotypes = false
	s.cached = true
	return nil
}

// GenotypesMatrix materializes the segment's genotype columns as a
// dense haplotype/sample-by-variant matrix. Valid for StoreAllOnesCSC
// and StoreValuesCSC; StoreBitset segments compute directly from their
// carrier sets instead (see cell.go's approximate r² kernel).
func (s *Segment) GenotypesMatrix() *mat.Dense {
	m := mat.NewDense(int(s.nHaplotypes), len(s.names), nil)
	switch s.store {
	case StoreAllOnesCSC:
		for k := range s.rowIndex {
			m.Set(s.rowIndex[k], s.colIndex[k], 1)
		}
	case StoreValuesCSC:
		for k := range s.rowIndex {
			m.Set(s.rowIndex[k], s.colIndex[k], s.values[k])
		}
	}
	return m
}

// OverlapsRange returns the column index interval
// [from,to] (both inclusive) whose positions lie in
// [rangeStartBP, rangeStopBP], or ok=false if none do.
func (s *Segment) OverlapsRange(rangeStartBP, rangeStopBP uint64) (from, to int, ok bool) {
	n := len(s.positions)
	from = sort.Search(n, func(i int) bool { return s.positions[i] >= rangeStartBP })
	if from >= n || s.positions[from] > rangeStopBP {
		return 0, 0, false
	}
	to = sort.Search(n, func(i int) bool { return s.positions[i] > rangeStopBP }) - 1
	if to < from {
		return 0, 0, false
	}
	return from, to, true
}

// LocateVariant returns the column index of the variant with the given
// name at position bp, scanning forward from the lower bound of bp.
func (s *Segment) LocateVariant(name string, bp uint64) (int, bool) {
	n := len(s.positions)
	i := sort.Search(n, func(i int) bool { return s.positions[i] >= bp })
	for ; i < n && s.positions[i] == bp; i++ {
		if s.names[i] == name {
			return i, true
		}
	}
	return 0, false
}
