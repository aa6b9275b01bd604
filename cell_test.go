// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"gopkg.in/check.v1"
)

type cellSuite struct{}

var _ = check.Suite(&cellSuite{})

// cellFixtureRecords lays out three variants over two diploid samples
// (four haplotypes) such that, after haploid splitting:
//
//	V0 carriers = {hap0, hap1} (both haplotypes of S0)
//	V1 carriers = {hap0, hap2} (first haplotype of each sample)
//	V2 carriers = {hap2, hap3} (both haplotypes of S1)
//
// giving clean closed-form correlations: r(V0,V1)=0, r(V0,V2)=-1,
// r(V1,V2)=0, and diagonal r=1 throughout.
func cellFixtureRecords() []GenotypeRecord {
	return []GenotypeRecord{
		{Chromosome: "chr1", Position: 10, Ref: "A", Alt: "G", Values: []float64{2, 0}},
		{Chromosome: "chr1", Position: 20, Ref: "C", Alt: "T", Values: []float64{1, 1}},
		{Chromosome: "chr1", Position: 30, Ref: "G", Alt: "A", Values: []float64{0, 2}},
	}
}

func cellFixtureSamples() []string { return []string{"S0", "S1"} }

func loadCellFixture(c *check.C, mode StorageMode) *Segment {
	src := NewMemorySource(cellFixtureSamples(), cellFixtureRecords())
	seg := NewSegment("chr1", 0, 99, mode)
	c.Assert(seg.LoadFromSource(src, cellFixtureSamples(), mode), check.IsNil)
	return seg
}

func (s *cellSuite) TestComputeCorrelation(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR)
	c.Assert(cell.Compute(seg, seg), check.IsNil)

	want := [][]float64{
		{1, 0, -1},
		{0, 1, 0},
		{-1, 0, 1},
	}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			c.Check(cell.matrix.At(a, b), check.Equals, want[a][b])
		}
	}
}

func (s *cellSuite) TestComputeRSquareIsSquaredCorrelation(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR2)
	c.Assert(cell.Compute(seg, seg), check.IsNil)
	c.Check(cell.matrix.At(0, 2), check.Equals, 1.0) // r=-1 squared
	c.Check(cell.matrix.At(0, 1), check.Equals, 0.0)
}

func (s *cellSuite) TestComputeCovariance(c *check.C) {
	seg := loadCellFixture(c, StoreValuesCSC)
	cell := NewCell(0, 0, StatCov)
	c.Assert(cell.Compute(seg, seg), check.IsNil)

	want := [][]float64{
		{1, 0, -1},
		{0, 0, 0},
		{-1, 0, 1},
	}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			c.Check(cell.matrix.At(a, b), check.Equals, want[a][b])
		}
	}
}

func (s *cellSuite) TestComputeApproxR2MatchesExact(c *check.C) {
	seg := loadCellFixture(c, StoreBitset)
	cell := NewCell(0, 0, StatR2Approx)
	c.Assert(cell.Compute(seg, seg), check.IsNil)
	c.Check(cell.matrix.At(0, 1), check.Equals, 0.0)
	c.Check(cell.matrix.At(0, 2), check.Equals, 1.0)
}

func (s *cellSuite) TestCacheRoundTrip(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR)
	c.Assert(cell.Compute(seg, seg), check.IsNil)
	blob := cell.ToBytes()

	loaded := NewCell(0, 0, StatR)
	c.Assert(loaded.LoadFromCache(blob, 3, 3), check.IsNil)
	c.Check(loaded.IsCached(), check.Equals, true)
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			c.Check(loaded.matrix.At(a, b), check.Equals, cell.matrix.At(a, b))
		}
	}
}

func (s *cellSuite) TestLoadFromCacheRejectsWrongSize(c *check.C) {
	cell := NewCell(0, 0, StatR)
	err := cell.LoadFromCache(make([]byte, 10), 3, 3)
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, ConsistencyViolation)
}

func (s *cellSuite) TestExtractExcludesDiagonalByDefault(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR)
	c.Assert(cell.Compute(seg, seg), check.IsNil)

	page := NewPairwisePage(100)
	nextI, nextJ := cell.Extract(seg, seg, 0, 2, 0, 2, -1, -1, false, page)
	c.Check(nextI, check.Equals, -1)
	c.Check(nextJ, check.Equals, -1)
	// upper triangle, diagonal excluded: (0,1),(0,2),(1,2) = 3 entries.
	total := 0
	for _, entries := range page.Correlations {
		total += len(entries)
	}
	c.Check(total, check.Equals, 3)
}

func (s *cellSuite) TestExtractIncludesDiagonalWhenRequested(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR)
	c.Assert(cell.Compute(seg, seg), check.IsNil)

	page := NewPairwisePage(100)
	cell.Extract(seg, seg, 0, 2, 0, 2, -1, -1, true, page)
	// upper triangle including diagonal: (0,0),(0,1),(0,2),(1,1),(1,2),(2,2) = 6 entries.
	total := 0
	for _, entries := range page.Correlations {
		total += len(entries)
	}
	c.Check(total, check.Equals, 6)
}

func (s *cellSuite) TestExtractResumesMidCellOnPageLimit(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR)
	c.Assert(cell.Compute(seg, seg), check.IsNil)

	page := NewPairwisePage(2)
	nextI, nextJ := cell.Extract(seg, seg, 0, 2, 0, 2, -1, -1, false, page)
	c.Check(nextI == -1 && nextJ == -1, check.Equals, false)
	firstTotal := 0
	for _, entries := range page.Correlations {
		firstTotal += len(entries)
	}
	c.Check(firstTotal, check.Equals, 2)

	page.clearData()
	page.Limit = 100
	finalI, finalJ := cell.Extract(seg, seg, 0, 2, 0, 2, nextI, nextJ, false, page)
	c.Check(finalI, check.Equals, -1)
	c.Check(finalJ, check.Equals, -1)
	secondTotal := 0
	for _, entries := range page.Correlations {
		secondTotal += len(entries)
	}
	c.Check(firstTotal+secondTotal, check.Equals, 3)
}

func (s *cellSuite) TestExtractSingleVariantDiagonalToggle(c *check.C) {
	seg := loadCellFixture(c, StoreAllOnesCSC)
	cell := NewCell(0, 0, StatR)
	c.Assert(cell.Compute(seg, seg), check.IsNil)

	page := NewSingleVariantPage(100)
	next := cell.ExtractSingleVariant(true, 0, seg, 0, 0, 2, -1, false, page)
	c.Check(next, check.Equals, -1)
	c.Check(len(page.Values), check.Equals, 2) // variants 1,2; variant 0 (self) excluded

	page2 := NewSingleVariantPage(100)
	cell.ExtractSingleVariant(true, 0, seg, 0, 0, 2, -1, true, page2)
	c.Check(len(page2.Values), check.Equals, 3) // variant 0 (self) included
}
