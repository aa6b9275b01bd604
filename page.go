// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// JSONFloat is a float64 that marshals NaN (and, defensively, ±Inf) as
// JSON null instead of erroring, per spec.md §7/§9: "NaN must be
// serialized to JSON as null" and "do not serialize NaN as a quoted
// string" — encoding/json's default float64 handling rejects
// non-finite values outright, so every float the query surface emits
// that can be NaN (correlation/covariance values, score statistics)
// is carried as this type instead of a bare float64.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

// Cursor is the resume token for a region/single-variant query: the
// Morton cell last visited, and where inside that cell extraction
// should resume. LastI == LastJ == -1 after LastCell has been set is
// the terminal sentinel per spec.md §6.
type Cursor struct {
	LastCell uint64
	LastI    int
	LastJ    int
}

// isTerminalSentinel reports whether a cursor marks query exhaustion.
func (c Cursor) isTerminalSentinel() bool { return c.LastI == -1 && c.LastJ == -1 }

// Token encodes a Cursor plus a page number into the short text form
// used across the query surface: "last_cell_z:last_i:last_j:page_number".
func Token(c Cursor, pageNumber int) string {
	return fmt.Sprintf("%d:%d:%d:%d", c.LastCell, c.LastI, c.LastJ, pageNumber)
}

// ParseToken decodes a token produced by Token.
func ParseToken(s string) (Cursor, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Cursor{}, 0, newError(InvalidArgument, "malformed resume token: "+s)
	}
	var nums [4]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return Cursor{}, 0, wrapError(InvalidArgument, "malformed resume token: "+s, err)
		}
		nums[i] = n
	}
	return Cursor{LastCell: uint64(nums[0]), LastI: int(nums[1]), LastJ: int(nums[2])}, int(nums[3]), nil
}

// VariantKey identifies a variant by the segment it was loaded from and
// its column index within that segment, the deduplication key for a
// page's variants table (§3, Pairwise-result page).
type VariantKey struct {
	Segment uint64
	Column  int
}

// VariantRef is the metadata a page records for each distinct variant
// it emits, keyed by VariantKey and assigned a dense page-local id in
// first-seen insertion order.
type VariantRef struct {
	Name       string
	Chromosome string
	Position   uint64
}

// variantTable is the shared "variants" dictionary used by both
// pairwise and single-variant pages.
type variantTable struct {
	index map[VariantKey]int
	refs  []VariantRef
}

func newVariantTable() variantTable {
	return variantTable{index: map[VariantKey]int{}}
}

// idFor returns the page-local id for (segmentIndex, column), assigning
// a new dense id the first time it is seen.
func (t *variantTable) idFor(segmentIndex uint64, seg *Segment, column int) int {
	key := VariantKey{Segment: segmentIndex, Column: column}
	if id, ok := t.index[key]; ok {
		return id
	}
	id := len(t.refs)
	t.index[key] = id
	t.refs = append(t.refs, VariantRef{
		Name:       seg.Name(column),
		Chromosome: seg.Chromosome(),
		Position:   seg.Position(column),
	})
	return id
}

// CorrelationEntry is one (second-variant, value) pair in a
// pairwise-result page's compact correlation map.
type CorrelationEntry struct {
	SecondID int
	Value    JSONFloat
}

// PairwisePage is the result object for compute_region: a bounded,
// resumable page of pairwise correlation/covariance values plus the
// variants table needed to resolve each page-local id back to a
// variant identifier, chromosome, and position. Mirrors spec.md §3's
// "Pairwise-result page".
type PairwisePage struct {
	Limit      int
	PageNumber int
	Cursor     Cursor
	Err        *Error

	table        variantTable
	Correlations map[int][]CorrelationEntry
	count        int
}

// NewPairwisePage constructs an empty page with the given per-page
// entry limit.
func NewPairwisePage(limit int) *PairwisePage {
	return &PairwisePage{
		Limit:        limit,
		table:        newVariantTable(),
		Correlations: map[int][]CorrelationEntry{},
	}
}

// IsTerminal reports whether this page is the last one for its query.
func (p *PairwisePage) IsTerminal() bool {
	return p.PageNumber > 0 && p.Cursor.isTerminalSentinel()
}

// Variants returns the page's deduplicated variant table in
// first-seen insertion order.
func (p *PairwisePage) Variants() []VariantRef { return p.table.refs }

// clearData resets the page's per-call accumulators in place, the way
// the original implementation clears `result.data` at the top of every
// compute_region_ld call while keeping the cursor/limit.
func (p *PairwisePage) clearData() {
	p.table = newVariantTable()
	p.Correlations = map[int][]CorrelationEntry{}
	p.count = 0
}

// full reports whether the page has reached its entry limit.
func (p *PairwisePage) full() bool { return p.count >= p.Limit }

// appendEntry appends one correlation entry, assigning page-local
// variant ids as needed.
func (p *PairwisePage) appendEntry(segI uint64, si *Segment, colI int, segJ uint64, sj *Segment, colJ int, value float64) {
	firstID := p.table.idFor(segI, si, colI)
	secondID := p.table.idFor(segJ, sj, colJ)
	p.Correlations[firstID] = append(p.Correlations[firstID], CorrelationEntry{SecondID: secondID, Value: JSONFloat(value)})
	p.count++
}

// SingleVariantPage is compute_single_variant's result object: the
// first variant is fixed, so the correlation map collapses to one list.
type SingleVariantPage struct {
	Limit      int
	PageNumber int
	Cursor     Cursor // LastI is unused (kept -1); LastJ is the resume column.
	Err        *Error

	IndexVariant VariantRef
	table        variantTable
	Values       []CorrelationEntry
	count        int
}

func NewSingleVariantPage(limit int) *SingleVariantPage {
	return &SingleVariantPage{Limit: limit, Cursor: Cursor{LastI: -1}, table: newVariantTable()}
}

func (p *SingleVariantPage) IsTerminal() bool {
	return p.PageNumber > 0 && p.Cursor.LastJ == -1
}

func (p *SingleVariantPage) Variants() []VariantRef { return p.table.refs }

func (p *SingleVariantPage) clearData() {
	p.table = newVariantTable()
	p.Values = nil
	p.count = 0
}

func (p *SingleVariantPage) full() bool { return p.count >= p.Limit }

func (p *SingleVariantPage) appendEntry(segJ uint64, sj *Segment, colJ int, value float64) {
	secondID := p.table.idFor(segJ, sj, colJ)
	p.Values = append(p.Values, CorrelationEntry{SecondID: secondID, Value: JSONFloat(value)})
	p.count++
}

// ScoreEntry is one variant's score statistic, per spec.md §3's Score page.
type ScoreEntry struct {
	Variant    string
	Chromosome string
	Position   uint64
	U          JSONFloat
	PValue     JSONFloat
	AltFreq    JSONFloat
}

// ScorePage accumulates per-variant score statistics across a region
// traversal, paused/resumed like the pairwise pages.
type ScorePage struct {
	Limit      int
	PageNumber int
	Cursor     Cursor // LastI = segment index to resume at (the
	// absolute segment index on the chromosome, not a Morton cell);
	// LastJ = next within-segment column. LastI == -1 is terminal.
	Err *Error

	Sigma2  JSONFloat
	N       int
	Entries []ScoreEntry
}

func NewScorePage(limit int) *ScorePage {
	return &ScorePage{Limit: limit, Cursor: Cursor{LastI: -1}}
}

func (p *ScorePage) IsTerminal() bool {
	return p.PageNumber > 0 && p.Cursor.LastI == -1
}

func (p *ScorePage) clearData() { p.Entries = nil }

func (p *ScorePage) full() bool { return len(p.Entries) >= p.Limit }
