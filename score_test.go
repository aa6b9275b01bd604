// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"context"
	"math"

	"gopkg.in/check.v1"
)

type scoreSuite struct{}

var _ = check.Suite(&scoreSuite{})

func scoreFixtureEngine() *Engine {
	src := NewMemorySource(cellFixtureSamples(), cellFixtureRecords())
	e := NewEngine(1000)
	e.SetGenotypeSource("chr1", src)
	return e
}

func (s *scoreSuite) TestComputeScores(c *check.C) {
	e := scoreFixtureEngine()
	page, err := e.ComputeScores(context.Background(), "chr1", 0, 99, "ALL", []float64{1, 3}, 100, "")
	c.Assert(err, check.IsNil)
	c.Assert(page.Err, check.IsNil)
	c.Assert(len(page.Entries), check.Equals, 3)
	c.Check(float64(page.Sigma2), check.Equals, 1.0)

	v0, v1, v2 := page.Entries[0], page.Entries[1], page.Entries[2]
	c.Check(v0.Variant, check.Equals, "chr1:10_A/G")
	c.Check(float64(v0.U), check.Equals, -2.0)
	c.Check(math.IsNaN(float64(v0.PValue)), check.Equals, false)

	// V1 is monomorphic on these two samples (dosage 1,1 everywhere
	// after centering): zero genotype variance, so U and its p-value
	// are undefined and must serialize as NaN (JSON null).
	c.Check(v1.Variant, check.Equals, "chr1:20_C/T")
	c.Check(math.IsNaN(float64(v1.U)), check.Equals, true)
	c.Check(math.IsNaN(float64(v1.PValue)), check.Equals, true)

	c.Check(v2.Variant, check.Equals, "chr1:30_G/A")
	c.Check(float64(v2.U), check.Equals, 2.0)
}

func (s *scoreSuite) TestComputeScoresRejectsMismatchedPhenotypeLength(c *check.C) {
	e := scoreFixtureEngine()
	_, err := e.ComputeScores(context.Background(), "chr1", 0, 99, "ALL", []float64{1, 2, 3}, 100, "")
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, InvalidArgument)
}

func (s *scoreSuite) TestComputeScoresPaginates(c *check.C) {
	e := scoreFixtureEngine()
	page, err := e.ComputeScores(context.Background(), "chr1", 0, 99, "ALL", []float64{1, 3}, 1, "")
	c.Assert(err, check.IsNil)
	c.Assert(len(page.Entries), check.Equals, 1)
	c.Check(page.IsTerminal(), check.Equals, false)

	token := Token(page.Cursor, page.PageNumber)
	page2, err := e.ComputeScores(context.Background(), "chr1", 0, 99, "ALL", []float64{1, 3}, 1, token)
	c.Assert(err, check.IsNil)
	c.Assert(len(page2.Entries), check.Equals, 1)
	c.Check(page2.Entries[0].Variant, check.Equals, "chr1:20_C/T")
}

func (s *scoreSuite) TestScorePValueMonomorphicIsNaN(c *check.C) {
	p := scorePValue(0, 0)
	c.Check(math.IsNaN(p), check.Equals, true)
}

// TestComputeScoresDropsMissingPhenotype exercises spec.md §4.7's "drop
// samples for which the phenotype is missing": with S1's phenotype
// missing, σ² and every variant's U/V must be computed over S0 alone,
// not over both samples with S1 silently zeroed.
func (s *scoreSuite) TestComputeScoresDropsMissingPhenotype(c *check.C) {
	e := scoreFixtureEngine()
	page, err := e.ComputeScores(context.Background(), "chr1", 0, 99, "ALL", []float64{1, math.NaN()}, 100, "")
	c.Assert(err, check.IsNil)
	c.Assert(page.Err, check.IsNil)
	c.Check(page.N, check.Equals, 1)
	c.Check(float64(page.Sigma2), check.Equals, 0.0)

	// A single retained sample makes every column monomorphic on the
	// retained set (zero variance), so every U/p-value is undefined.
	for _, entry := range page.Entries {
		c.Check(math.IsNaN(float64(entry.U)), check.Equals, true)
		c.Check(math.IsNaN(float64(entry.PValue)), check.Equals, true)
	}
}

func (s *scoreSuite) TestComputeScoresAllPhenotypesMissing(c *check.C) {
	e := scoreFixtureEngine()
	_, err := e.ComputeScores(context.Background(), "chr1", 0, 99, "ALL", []float64{math.NaN(), math.NaN()}, 100, "")
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, InvalidArgument)
}

// TestComputeScoresUnregisteredChromosomeIsTerminal exercises spec.md's
// "reject chromosomes ... not yet registered; mark page terminal and
// return": the error surfaces from loadSegment inside the per-segment
// loop, not from an up-front validation, so it must still come back as
// a terminal page rather than a bare error.
func (s *scoreSuite) TestComputeScoresUnregisteredChromosomeIsTerminal(c *check.C) {
	e := scoreFixtureEngine()
	page, err := e.ComputeScores(context.Background(), "chr2", 0, 99, "ALL", []float64{1, 3}, 100, "")
	c.Assert(err, check.IsNil)
	c.Assert(page, check.NotNil)
	c.Check(page.IsTerminal(), check.Equals, true)
	c.Assert(page.Err, check.NotNil)
	c.Check(KindOf(page.Err), check.Equals, InvalidArgument)
}
