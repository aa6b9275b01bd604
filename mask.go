package lightning

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
)

type interval struct {
	start int
	end   int
}

type intervalTreeNode struct {
	interval interval
	maxend   int
}

type intervalTree []intervalTreeNode

type mask struct {
	intervals map[string][]interval
	itrees    map[string]intervalTree
	frozen    bool
}

func (m *mask) Add(seqname string, start, end int) {
	if m.intervals == nil {
		m.intervals = map[string][]interval{}
	}
	m.intervals[seqname] = append(m.intervals[seqname], interval{start, end})
}

func (m *mask) Freeze() {
	m.itrees = map[string]intervalTree{}
	for seqname, intervals := range m.intervals {
		m.itrees[seqname] = m.freeze(intervals)
	}
	m.frozen = true
}

func (m *mask) Check(seqname string, start, end int) bool {
	if !m.frozen {
		panic("bug: (*mask)Check() called before Freeze()")
	}
	return m.itrees[seqname].check(0, interval{start, end})
}

func (m *mask) freeze(in []interval) intervalTree {
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		return in[i].start < in[j].start
	})
	itreesize := 1
	for itreesize < len(in) {
		itreesize = itreesize * 2
	}
	itree := make(intervalTree, itreesize)
	itree.importSlice(0, in)
	for i := len(in); i < itreesize; i++ {
		itree[i].maxend = -1
	}
	return itree
}

func (itree intervalTree) check(root int, q interval) bool {
	return root < len(itree) &&
		itree[root].maxend >= q.start &&
		((itree[root].interval.start <= q.end && itree[root].interval.end >= q.start) ||
			itree.check(root*2+1, q) ||
			itree.check(root*2+2, q))
}

func (itree intervalTree) importSlice(root int, in []interval) int {
	mid := len(in) / 2
	node := intervalTreeNode{interval: in[mid], maxend: in[mid].end}
	if mid > 0 {
		end := itree.importSlice(root*2+1, in[0:mid])
		if end > node.maxend {
			node.maxend = end
		}
	}
	if mid+1 < len(in) {
		end := itree.importSlice(root*2+2, in[mid+1:])
		if end > node.maxend {
			node.maxend = end
		}
	}
	itree[root] = node
	return node.maxend
}

// MaskGroup is one named group of variants from a mask file, per
// spec.md §6: a rare-variant aggregation unit (typically a gene), its
// bounding chromosome interval (the start/stop given for the group,
// stored as given and not checked against the member positions), and
// the explicit member variant list.
type MaskGroup struct {
	Name       string
	Chromosome string
	Start, Stop int
	Variants   []string
}

// Mask maps named groups to their bounding interval and member variant
// list, per the mask-file layout in original_source/ld/src/Mask.h: the
// first four tab-separated columns are group/chrom/start/stop, then a
// tab-delimited list of variants in "chrom:pos_ref/alt" form. The
// bounding interval is indexed by the teacher's repeat-mask interval
// tree (mask.go's lowercase `mask`) so a caller can cheaply ask "does
// any group overlap this region" without a linear scan; segment
// admission itself (AdmitSegments) uses the member variants' own
// positions, not the bounding box, so a group spanning a large
// interval only admits the segments its variants actually occupy.
type Mask struct {
	groups   map[string]MaskGroup
	byChrom  mask
	finished bool
}

// NewMask constructs an empty Mask.
func NewMask() *Mask {
	return &Mask{groups: map[string]MaskGroup{}}
}

// AddGroup registers group on chromosome with bounding interval
// [start,end] and member variants, per the mask-file contract.
func (mk *Mask) AddGroup(group, chromosome string, start, end int, variants []string) {
	mk.groups[group] = MaskGroup{Name: group, Chromosome: chromosome, Start: start, Stop: end, Variants: variants}
	mk.byChrom.Add(chromosome, start, end)
	mk.finished = false
}

// Freeze finalizes the mask's interval trees; must be called before Covers.
func (mk *Mask) Freeze() {
	mk.byChrom.Freeze()
	mk.finished = true
}

// Covers reports whether [start,end] on chromosome overlaps any
// region in any group.
func (mk *Mask) Covers(chromosome string, start, end int) bool {
	if !mk.finished {
		panic("bug: (*Mask)Covers() called before Freeze()")
	}
	return mk.byChrom.Check(chromosome, start, end)
}

// Groups returns every group name known to the mask, in no particular order.
func (mk *Mask) Groups() []string {
	out := make([]string, 0, len(mk.groups))
	for g := range mk.groups {
		out = append(out, g)
	}
	return out
}

// Group returns the named group's bounding interval and variant list,
// or ok=false if the group is unknown.
func (mk *Mask) Group(group string) (g MaskGroup, ok bool) {
	g, ok = mk.groups[group]
	return
}

// GroupVariants returns the member variant identifiers of group, in
// file order.
func (mk *Mask) GroupVariants(group string) []string {
	return mk.groups[group].Variants
}

// LoadMaskTSV reads a tab-separated mask file with columns
// group, chromosome, start, stop, variant1, variant2, ..., variantK,
// one group per line, per spec.md §6's mask-file contract ("Persisted
// blob layout: Mask file") and original_source/ld/src/Mask.h's loader
// documentation. Blank lines and lines starting with '#' are skipped.
func LoadMaskTSV(r io.Reader) (*Mask, error) {
	mk := NewMask()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			return nil, newError(InvalidArgument, "mask file: too few columns on line "+strconv.Itoa(lineNo))
		}
		start, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, wrapError(InvalidArgument, "mask file: bad start on line "+strconv.Itoa(lineNo), err)
		}
		stop, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, wrapError(InvalidArgument, "mask file: bad stop on line "+strconv.Itoa(lineNo), err)
		}
		variants := append([]string(nil), fields[4:]...)
		mk.AddGroup(fields[0], fields[1], start, stop, variants)
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapError(IOFailure, "reading mask file", err)
	}
	mk.Freeze()
	return mk, nil
}

// AdmitSegments registers, for each member variant of group, the
// segment index containing that variant's position as admitted on e,
// restricting subsequent region/single-variant queries to cells
// touching only the segments the group's variants actually occupy
// (not the group's whole bounding interval, which may span many more
// segments than the variants themselves touch).
func (e *Engine) AdmitSegments(mk *Mask, group string) error {
	for _, name := range mk.GroupVariants(group) {
		v, err := ParseVariant(name)
		if err != nil {
			return err
		}
		e.AddAdmittedSegment(v.Position / e.segmentWidth)
	}
	return nil
}
