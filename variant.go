// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"regexp"
	"strconv"
)

// variantPattern parses the canonical variant identifier
// "chrom:pos_ref/alt" with an optional trailing "_extra", compiled once
// at package scope per the teacher's practice (tilelib.go's tag regexes).
var variantPattern = regexp.MustCompile(`^([^:]+):(\d+)_([^/_]+)/([^_]+)(?:_(.+))?$`)

// Variant is a parsed canonical variant identifier.
type Variant struct {
	Chromosome string
	Position   uint64
	Ref        string
	Alt        string
	Extra      string
}

// ParseVariant parses a canonical "chrom:pos_ref/alt[_extra]" identifier.
func ParseVariant(id string) (Variant, error) {
	m := variantPattern.FindStringSubmatch(id)
	if m == nil {
		return Variant{}, newError(InvalidArgument, "malformed variant identifier: "+id)
	}
	pos, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return Variant{}, wrapError(InvalidArgument, "malformed variant position: "+id, err)
	}
	return Variant{
		Chromosome: m[1],
		Position:   pos,
		Ref:        m[3],
		Alt:        m[4],
		Extra:      m[5],
	}, nil
}

// CanonicalID reconstructs the canonical string form of the variant.
func (v Variant) CanonicalID() string {
	id := v.Chromosome + ":" + strconv.FormatUint(v.Position, 10) + "_" + v.Ref + "/" + v.Alt
	if v.Extra != "" {
		id += "_" + v.Extra
	}
	return id
}
