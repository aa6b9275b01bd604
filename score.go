// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"context"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// normalDist is the standard normal used for score p-values, mirroring
// chisquare.go's package-scope distuv distribution with a
// golang.org/x/exp/rand source.
var normalDist = distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(rand.Uint64())}

// ComputeScores implements spec.md §4.7's compute_scores operation,
// the per-variant score statistic used by rare-variant aggregation
// tests: U = gᵀy over mean-imputed, centered dosage genotypes and a
// centered phenotype, V = ĝᵀĝ·σ², and a two-sided normal p-value
// 2·Φ(-|U/√V|) (the RAREMETAL convention), per SPEC_FULL.md §4. The
// phenotype vector must be aligned, in order, with the named sample
// subset.
func (e *Engine) ComputeScores(ctx context.Context, chromosome string, startBP, stopBP uint64, subsetName string, phenotype []float64, limit int, resumeToken string) (*ScorePage, error) {
	samples, ok := e.subsets[subsetName]
	if !ok {
		return nil, newError(InvalidArgument, "unknown sample subset: "+subsetName)
	}
	if len(phenotype) != len(samples) {
		return nil, newError(InvalidArgument, "phenotype length does not match sample subset size")
	}

	// Per spec.md §4.7, samples with a missing phenotype are dropped
	// before any statistic is computed; every subsequent mean-impute,
	// center, and variance is taken over the retained rows only.
	retainedRows := retainedRowsFor(phenotype)
	retainedPhenotype := make([]float64, len(retainedRows))
	for k, row := range retainedRows {
		retainedPhenotype[k] = phenotype[row]
	}
	yCentered, sigma2 := centerPhenotype(retainedPhenotype)
	if len(retainedRows) == 0 {
		return nil, newError(InvalidArgument, "no samples with a non-missing phenotype")
	}

	page := NewScorePage(limit)
	page.Sigma2 = JSONFloat(sigma2)
	page.N = len(retainedRows)

	iLo := startBP / e.segmentWidth
	iHi := stopBP / e.segmentWidth

	segIndex := iLo
	colStart := 0
	if resumeToken != "" {
		c, pn, err := ParseToken(resumeToken)
		if err != nil {
			return nil, err
		}
		if c.LastI == -1 && pn > 0 {
			return nil, newError(InvalidArgument, "resume token is already terminal")
		}
		segIndex = uint64(c.LastI)
		colStart = c.LastJ
		page.PageNumber = pn
	}

	for ; segIndex <= iHi; segIndex++ {
		if err := ctx.Err(); err != nil {
			page.Err = wrapError(Cancelled, "compute_scores cancelled", err)
			page.Cursor = Cursor{LastI: -1, LastJ: -1}
			page.PageNumber++
			return page, nil
		}
		seg, err := e.loadSegment(chromosome, segIndex, subsetName, StoreValuesCSC)
		if err != nil {
			page.Err = asError(err)
			page.Cursor = Cursor{LastI: -1, LastJ: -1}
			page.PageNumber++
			return page, nil
		}
		fromCol, toCol, ok := seg.OverlapsRange(startBP, stopBP)
		if !ok {
			colStart = 0
			continue
		}
		start := fromCol
		if colStart > start {
			start = colStart
		}
		g := seg.GenotypesMatrix()
		for col := start; col <= toCol; col++ {
			if page.full() {
				page.Cursor = Cursor{LastI: int(segIndex), LastJ: col}
				page.PageNumber++
				return page, nil
			}
			u, v := scoreColumn(g, col, retainedRows, yCentered, sigma2)
			p := scorePValue(u, v)
			if v == 0 {
				// Monomorphic variant (zero genotype variance on the
				// retained samples): the score statistic is undefined,
				// per spec.md §4.7 ("monomorphic variants emit NaN").
				u = math.NaN()
			}
			page.Entries = append(page.Entries, ScoreEntry{
				Variant:    seg.Name(col),
				Chromosome: seg.Chromosome(),
				Position:   seg.Position(col),
				U:          JSONFloat(u),
				PValue:     JSONFloat(p),
				AltFreq:    JSONFloat(seg.Freqs()[col]),
			})
		}
		colStart = 0
	}
	page.Cursor = Cursor{LastI: -1, LastJ: -1}
	page.PageNumber++
	return page, nil
}

// retainedRowsFor returns the indices of phenotype entries that are not
// missing (NaN), in ascending order, per spec.md §4.7's "drop samples
// for which the phenotype is missing".
func retainedRowsFor(phenotype []float64) []int {
	rows := make([]int, 0, len(phenotype))
	for i, y := range phenotype {
		if y == y {
			rows = append(rows, i)
		}
	}
	return rows
}

// centerPhenotype centers phenotype about its mean and returns the
// centered vector alongside the population variance σ².
func centerPhenotype(phenotype []float64) (centered []float64, sigma2 float64) {
	n := float64(len(phenotype))
	sum := 0.0
	for _, y := range phenotype {
		sum += y
	}
	mean := sum / n
	centered = make([]float64, len(phenotype))
	ss := 0.0
	for i, y := range phenotype {
		c := y - mean
		centered[i] = c
		ss += c * c
	}
	sigma2 = ss / n
	return
}

// scoreColumn computes U = ĝᵀy and V = ĝᵀĝ·σ² for one variant column,
// restricted to retainedRows (the samples with a non-missing phenotype)
// and mean-imputing missing dosage entries to the column's own mean
// over those retained rows (which also centers them to zero, the same
// identity computeCovariance relies on).
func scoreColumn(g *mat.Dense, col int, retainedRows []int, yCentered []float64, sigma2 float64) (u, v float64) {
	sum, n := 0.0, 0
	for _, row := range retainedRows {
		val := g.At(row, col)
		if val == val {
			sum += val
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}
	for k, row := range retainedRows {
		val := g.At(row, col)
		var gc float64
		if val != val {
			gc = 0
		} else {
			gc = val - mean
		}
		u += gc * yCentered[k]
		v += gc * gc
	}
	v *= sigma2
	return
}

func scorePValue(u, v float64) float64 {
	if v <= 0 {
		return math.NaN()
	}
	z := math.Abs(u / math.Sqrt(v))
	return 2 * normalDist.CDF(-z)
}
