// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"strings"

	"gopkg.in/check.v1"
)

type genotypeSuite struct{}

var _ = check.Suite(&genotypeSuite{})

func (s *genotypeSuite) TestTextSourceParsesDosageMatrix(c *check.C) {
	text := "#CHROM\tPOS\tREF\tALT\tS0\tS1\n" +
		"chr1\t10\tA\tG\t2\t0\n" +
		"chr1\t20\tC\tT\t1\tNA\n"
	src, err := NewTextSource(strings.NewReader(text))
	c.Assert(err, check.IsNil)
	c.Check(src.Samples(), check.DeepEquals, []string{"S0", "S1"})
	c.Check(src.Chromosomes(), check.DeepEquals, []string{"chr1"})
	c.Check(src.Fingerprint() != "", check.Equals, true)

	scanner, err := src.Scan("chr1", 0, 99, []string{"S0", "S1"}, DosageMode)
	c.Assert(err, check.IsNil)
	var got []GenotypeRecord
	for scanner.Next() {
		got = append(got, scanner.Record())
	}
	c.Assert(scanner.Err(), check.IsNil)
	c.Assert(len(got), check.Equals, 2)
	c.Check(got[0].Values, check.DeepEquals, []float64{2, 0})
	c.Check(got[1].Values[0], check.Equals, 1.0)
	c.Check(got[1].Values[1] != got[1].Values[1], check.Equals, true) // NaN
}

func (s *genotypeSuite) TestTextSourceRejectsMissingSampleColumns(c *check.C) {
	_, err := NewTextSource(strings.NewReader("#CHROM\tPOS\tREF\tALT\n"))
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, InvalidArgument)
}

func (s *genotypeSuite) TestTextSourceRejectsWrongColumnCount(c *check.C) {
	text := "#CHROM\tPOS\tREF\tALT\tS0\n" +
		"chr1\t10\tA\tG\t1\t2\n"
	_, err := NewTextSource(strings.NewReader(text))
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, InvalidArgument)
}

func (s *genotypeSuite) TestMemorySourceScanRejectsUnknownSample(c *check.C) {
	src := NewMemorySource(testSamples(), testRecords())
	_, err := src.Scan("chr1", 0, 99, []string{"nope"}, DosageMode)
	c.Assert(err, check.NotNil)
	c.Check(KindOf(err), check.Equals, InvalidArgument)
}
