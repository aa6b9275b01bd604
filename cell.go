// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"encoding/binary"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StatKind selects which pairwise statistic a Cell computes, per
// spec.md §4.3.
type StatKind int

const (
	StatR StatKind = iota
	StatR2
	StatCov
	StatR2Approx
)

func (k StatKind) String() string {
	switch k {
	case StatR:
		return "r"
	case StatR2:
		return "rsquare"
	case StatCov:
		return "cov"
	case StatR2Approx:
		return "rsquare_approx"
	default:
		return "unknown"
	}
}

// Cell is the dense value matrix for one pair of segments (I, J), per
// spec.md §3/§4.3. Row a corresponds to the a'th variant of segment I,
// column b to the b'th variant of segment J. Cells built by the region
// walk have I <= J; cells built by the single-variant walk have I >= J,
// so I <= J does not hold there.
type Cell struct {
	I, J   uint64
	Kind   StatKind
	matrix *mat.Dense
	cached bool
}

// NewCell constructs an empty, uncomputed cell for the segment pair (i, j).
func NewCell(i, j uint64, kind StatKind) *Cell {
	return &Cell{I: i, J: j, Kind: kind}
}

func (c *Cell) IsDiagonal() bool { return c.I == c.J }
func (c *Cell) IsCached() bool   { return c.cached }

// Compute populates the cell's value matrix from the two segments'
// genotype storage, dispatching on Kind. Grounded directly on
// original_source/core/src/Cell.cpp's CellR/CellCov/CellR2Approx
// subclasses, each a private helper here instead of a polymorphic type.
func (c *Cell) Compute(segI, segJ *Segment) error {
	p, q := segI.NVariants(), segJ.NVariants()
	if p == 0 || q == 0 {
		c.matrix = nil // no variants on one side; never extracted or cached
		return nil
	}
	switch c.Kind {
	case StatR, StatR2:
		c.matrix = computeCorrelation(segI, segJ, c.Kind == StatR2)
	case StatCov:
		c.matrix = computeCovariance(segI, segJ)
	case StatR2Approx:
		c.matrix = computeApproxR2(segI, segJ)
	default:
		return newError(InvalidArgument, "unknown statistic kind: "+c.Kind.String())
	}
	return nil
}

// computeCorrelation implements Pearson r (and, squared, r²) over the
// all-ones CSC haplotype encoding: for variants a in segI and b in
// segJ with carrier counts c1[a], c2[b] out of n haplotypes and
// co-carrier count cab,
//
//	r = (n*cab - c1*c2) / sqrt(c1*c2*(n-c1)*(n-c2))
//
// the standard phi-coefficient form of Pearson correlation on 0/1
// vectors, per spec.md §4.3.
func computeCorrelation(segI, segJ *Segment, squared bool) *mat.Dense {
	gi := segI.GenotypesMatrix()
	gj := segJ.GenotypesMatrix()
	n, p := gi.Dims()
	_, q := gj.Dims()

	c1 := colSums(gi)
	c2 := colSums(gj)
	var sts mat.Dense
	sts.Mul(gi.T(), gj)

	out := mat.NewDense(p, q, nil)
	nf := float64(n)
	for a := 0; a < p; a++ {
		for b := 0; b < q; b++ {
			m := c1[a] * c2[b]
			denom := m * (nf - c1[a]) * (nf - c2[b])
			var r float64
			if denom <= 0 {
				r = math.NaN()
			} else {
				r = (nf*sts.At(a, b) - m) / math.Sqrt(denom)
			}
			if squared {
				r *= r
			}
			out.Set(a, b, r)
		}
	}
	return out
}

// computeCovariance implements the numeric-CSC covariance kernel:
// mean-impute each column to its own non-missing mean (which also
// centers it, since an imputed entry equals the mean), then
// cov = (GiᵀGj)/n, per spec.md §4.3/§4.5.
func computeCovariance(segI, segJ *Segment) *mat.Dense {
	gi := centerImpute(segI.GenotypesMatrix(), segI.Means())
	gj := centerImpute(segJ.GenotypesMatrix(), segJ.Means())
	var prod mat.Dense
	prod.Mul(gi.T(), gj)
	n, _ := gi.Dims()
	prod.Scale(1/float64(n), &prod)
	return &prod
}

func centerImpute(g *mat.Dense, means []float64) *mat.Dense {
	rows, cols := g.Dims()
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		mean := 0.0
		if j < len(means) {
			mean = means[j]
		}
		for i := 0; i < rows; i++ {
			v := g.At(i, j)
			if v != v {
				out.Set(i, j, 0)
				continue
			}
			out.Set(i, j, v-mean)
		}
	}
	return out
}

// computeApproxR2 implements the bitset-carrier approximation to r²:
// for variants with allele frequencies fi, fj and co-carrier count p
// out of n haplotypes,
//
//	r2 = (p/n - fi*fj)^2 / (fi*(1-fi)*fj*(1-fj))
//
// per spec.md §4.3's approximate statistic.
func computeApproxR2(segI, segJ *Segment) *mat.Dense {
	p, q := segI.NVariants(), segJ.NVariants()
	n := float64(segI.NHaplotypes())
	out := mat.NewDense(p, q, nil)
	for a := 0; a < p; a++ {
		fi := segI.Freqs()[a]
		ci := segI.AltCarriers(a)
		for b := 0; b < q; b++ {
			fj := segJ.Freqs()[b]
			cj := segJ.AltCarriers(b)
			denom := fi * (1 - fi) * fj * (1 - fj)
			var r2 float64
			if denom <= 0 {
				r2 = math.NaN()
			} else {
				d := intersectCount(ci, cj)/n - fi*fj
				r2 = (d * d) / denom
			}
			out.Set(a, b, r2)
		}
	}
	return out
}

// intersectCount counts the common elements of two ascending-sorted
// carrier-index slices via a linear merge.
func intersectCount(a, b []uint32) float64 {
	i, j, count := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			count++
			i++
			j++
		}
	}
	return float64(count)
}

func colSums(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, cols)
	for j := 0; j < cols; j++ {
		s := 0.0
		for i := 0; i < rows; i++ {
			s += m.At(i, j)
		}
		out[j] = s
	}
	return out
}

// LoadFromCache populates the cell's matrix from a cached blob of
// row-major little-endian float32 values (spec.md §6: "Cell blob: raw
// little-endian float32 array of length n_i · n_j; no header"), given
// the expected dimensions (the segments' variant counts, known
// independently of the blob).
func (c *Cell) LoadFromCache(blob []byte, rows, cols int) error {
	if len(blob) != rows*cols*4 {
		return newError(ConsistencyViolation, "cached cell blob size does not match segment dimensions")
	}
	if rows == 0 || cols == 0 {
		c.matrix = nil
		c.cached = true
		return nil
	}
	m := mat.NewDense(rows, cols, nil)
	idx := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			bits := binary.LittleEndian.Uint32(blob[idx : idx+4])
			m.Set(i, j, float64(math.Float32frombits(bits)))
			idx += 4
		}
	}
	c.matrix = m
	c.cached = true
	return nil
}

// ToBytes serializes the cell's matrix to the same row-major
// little-endian float32 wire form read by LoadFromCache, per spec.md §6.
func (c *Cell) ToBytes() []byte {
	if c.matrix == nil {
		return nil
	}
	rows, cols := c.matrix.Dims()
	buf := make([]byte, rows*cols*4)
	idx := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint32(buf[idx:idx+4], math.Float32bits(float32(c.matrix.At(i, j))))
			idx += 4
		}
	}
	return buf
}

// Extract appends the cell's entries within column ranges
// [fromI,toI]x[fromJ,toJ] to page, honoring a mid-cell resume position
// (resumeI, resumeJ; a negative resumeI starts at fromI, a negative
// resumeJ starts the first row at fromJ)
// and the page's entry limit. It returns the position to resume at on
// the next call, or (-1,-1) if the cell was fully drained. When I==J
// (a diagonal cell) only pairs with a<=b are ever considered, since the
// other half is the transpose of an already-visited pair; includeDiagonal
// additionally controls whether the a==b pair itself (a variant against
// itself) is emitted, per spec.md §4.3/§8's include_diagonal parameter.
func (c *Cell) Extract(segI *Segment, segJ *Segment, fromI, toI, fromJ, toJ, resumeI, resumeJ int, includeDiagonal bool, page *PairwisePage) (nextI, nextJ int) {
	startI := fromI
	if resumeI >= 0 {
		startI = resumeI
	}
	for a := startI; a <= toI; a++ {
		startJ := fromJ
		if a == startI && resumeJ >= 0 {
			startJ = resumeJ
		}
		for b := startJ; b <= toJ; b++ {
			if c.I == c.J {
				if a > b || (a == b && !includeDiagonal) {
					continue
				}
			}
			if page.full() {
				return a, b
			}
			page.appendEntry(c.I, segI, a, c.J, segJ, b, c.matrix.At(a, b))
		}
	}
	return -1, -1
}

// ExtractSingleVariant appends this cell's values along the row or
// column fixed by the index variant (indexIsRow selects which) to
// page, over the other segment's column range [otherFrom,otherTo],
// honoring a resume position and the page's limit. On the diagonal
// cell (c.I==c.J, the index segment paired with itself), includeDiagonal
// controls whether the index variant's entry against itself
// (otherCol==indexCol) is emitted. Returns the resume column, or -1 if
// drained.
func (c *Cell) ExtractSingleVariant(indexIsRow bool, indexCol int, otherSeg *Segment, otherSegIndex uint64, otherFrom, otherTo, resumeJ int, includeDiagonal bool, page *SingleVariantPage) int {
	start := otherFrom
	if resumeJ >= 0 {
		start = resumeJ
	}
	for b := start; b <= otherTo; b++ {
		if c.I == c.J && b == indexCol && !includeDiagonal {
			continue
		}
		if page.full() {
			return b
		}
		var v float64
		if indexIsRow {
			v = c.matrix.At(indexCol, b)
		} else {
			v = c.matrix.At(b, indexCol)
		}
		page.appendEntry(otherSegIndex, otherSeg, b, v)
	}
	return -1
}
