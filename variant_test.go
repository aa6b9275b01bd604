// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"gopkg.in/check.v1"
)

type variantSuite struct{}

var _ = check.Suite(&variantSuite{})

func (s *variantSuite) TestParseVariantRoundTrip(c *check.C) {
	for _, id := range []string{"chr1:1000_A/G", "chrX:55_AT/A", "chr2:9_A/G_rs123"} {
		v, err := ParseVariant(id)
		c.Assert(err, check.IsNil)
		c.Check(v.CanonicalID(), check.Equals, id)
	}
}

func (s *variantSuite) TestParseVariantFields(c *check.C) {
	v, err := ParseVariant("chr7:12345_C/T")
	c.Assert(err, check.IsNil)
	c.Check(v.Chromosome, check.Equals, "chr7")
	c.Check(v.Position, check.Equals, uint64(12345))
	c.Check(v.Ref, check.Equals, "C")
	c.Check(v.Alt, check.Equals, "T")
	c.Check(v.Extra, check.Equals, "")
}

func (s *variantSuite) TestParseVariantMalformed(c *check.C) {
	for _, id := range []string{"", "chr1-1000-A-G", "chr1:A_A/G", "chr1:1000"} {
		_, err := ParseVariant(id)
		c.Assert(err, check.NotNil)
		c.Check(KindOf(err), check.Equals, InvalidArgument)
	}
}
