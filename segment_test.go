// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"bytes"

	"gopkg.in/check.v1"
)

type segmentSuite struct{}

var _ = check.Suite(&segmentSuite{})

func testRecords() []GenotypeRecord {
	return []GenotypeRecord{
		{Chromosome: "chr1", Position: 10, Ref: "A", Alt: "G", Values: []float64{0, 1, 2, 1}},
		{Chromosome: "chr1", Position: 20, Ref: "C", Alt: "T", Values: []float64{1, 1, 1, 1}},
		{Chromosome: "chr1", Position: 40, Ref: "G", Alt: "A", Values: []float64{0, 0, 0, 0}}, // monomorphic-zero, dropped
		{Chromosome: "chr1", Position: 150, Ref: "G", Alt: "A", Values: []float64{2, 0, 0, 2}},
	}
}

func testSamples() []string { return []string{"S0", "S1", "S2", "S3"} }

func (s *segmentSuite) TestLoadFromSourceDropsMonomorphicZero(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	seg := NewSegment("chr1", 0, 99, StoreValuesCSC)
	c.Assert(seg.LoadFromSource(src, testSamples(), StoreValuesCSC), check.IsNil)
	c.Check(seg.NVariants(), check.Equals, 2) // positions 10, 20; 40 dropped, 150 out of range
	c.Check(seg.Name(0), check.Equals, "chr1:10_A/G")
	c.Check(seg.Name(1), check.Equals, "chr1:20_C/T")
	c.Check(seg.NHaplotypes(), check.Equals, uint64(4)) // sample count for StoreValuesCSC
}

func (s *segmentSuite) TestLoadFromSourceHaplotypeSplit(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	seg := NewSegment("chr1", 0, 99, StoreAllOnesCSC)
	c.Assert(seg.LoadFromSource(src, testSamples(), StoreAllOnesCSC), check.IsNil)
	c.Check(seg.NHaplotypes(), check.Equals, uint64(8)) // 2x sample count, haploid-split
	g := seg.GenotypesMatrix()
	rows, cols := g.Dims()
	c.Check(rows, check.Equals, 8)
	c.Check(cols, check.Equals, 2)
	// variant 0 (dosages [0,1,2,1]) splits to haplotypes [0,0,1,0,1,1,1,0].
	want := []float64{0, 0, 1, 0, 1, 1, 1, 0}
	for i, w := range want {
		c.Check(g.At(i, 0), check.Equals, w)
	}
}

func (s *segmentSuite) TestOverlapsRange(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	seg := NewSegment("chr1", 0, 99, StoreValuesCSC)
	c.Assert(seg.LoadFromSource(src, testSamples(), StoreValuesCSC), check.IsNil)

	from, to, ok := seg.OverlapsRange(0, 99)
	c.Assert(ok, check.Equals, true)
	c.Check(from, check.Equals, 0)
	c.Check(to, check.Equals, 1)

	from, to, ok = seg.OverlapsRange(15, 99)
	c.Assert(ok, check.Equals, true)
	c.Check(from, check.Equals, 1)
	c.Check(to, check.Equals, 1)

	_, _, ok = seg.OverlapsRange(1000, 2000)
	c.Check(ok, check.Equals, false)
}

func (s *segmentSuite) TestLocateVariant(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	seg := NewSegment("chr1", 0, 99, StoreValuesCSC)
	c.Assert(seg.LoadFromSource(src, testSamples(), StoreValuesCSC), check.IsNil)

	col, ok := seg.LocateVariant("chr1:20_C/T", 20)
	c.Assert(ok, check.Equals, true)
	c.Check(col, check.Equals, 1)

	_, ok = seg.LocateVariant("chr1:20_WRONG/ID", 20)
	c.Check(ok, check.Equals, false)

	_, ok = seg.LocateVariant("chr1:999_A/G", 999)
	c.Check(ok, check.Equals, false)
}

func (s *segmentSuite) TestSerializeDeserializeNamesRoundTrip(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	seg := NewSegment("chr1", 0, 99, StoreValuesCSC)
	c.Assert(seg.LoadFromSource(src, testSamples(), StoreValuesCSC), check.IsNil)

	var buf bytes.Buffer
	c.Assert(seg.SerializeNames(&buf), check.IsNil)

	loaded := NewSegment("chr1", 0, 99, StoreValuesCSC)
	c.Assert(loaded.DeserializeNames(&buf), check.IsNil)
	c.Check(loaded.NHaplotypes(), check.Equals, seg.NHaplotypes())
	c.Check(loaded.NVariants(), check.Equals, seg.NVariants())
	for i := 0; i < seg.NVariants(); i++ {
		c.Check(loaded.Name(i), check.Equals, seg.Name(i))
		c.Check(loaded.Position(i), check.Equals, seg.Position(i))
	}
	c.Check(loaded.HasNames(), check.Equals, true)
	c.Check(loaded.HasGenotypes(), check.Equals, false)
	c.Check(loaded.IsCached(), check.Equals, true)
}

func (s *segmentSuite) TestDeserializeNamesRejectsShortBlob(c *check.C) {
	loaded := NewSegment("chr1", 0, 99, StoreValuesCSC)
	err := loaded.DeserializeNames(bytes.NewReader([]byte{0, 1, 2}))
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, ConsistencyViolation)
}

func (s *segmentSuite) TestLoadGenotypesOnlyAfterNames(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	seg := NewSegment("chr1", 0, 99, StoreValuesCSC)
	c.Assert(seg.LoadNamesOnly(src, testSamples()), check.IsNil)
	c.Check(seg.HasGenotypes(), check.Equals, false)

	c.Assert(seg.LoadGenotypesOnly(src, testSamples(), StoreValuesCSC), check.IsNil)
	c.Check(seg.HasGenotypes(), check.Equals, true)
	g := seg.GenotypesMatrix()
	c.Check(g.At(0, 0), check.Equals, 0.0)
	c.Check(g.At(1, 0), check.Equals, 1.0)
}
