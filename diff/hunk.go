package diff

// Hunk replaces base lines [BaseStart, BaseEnd) with Lines. An insertion has
// BaseStart == BaseEnd; a deletion has no Lines.
type Hunk struct {
	BaseStart int      `json:"base_start"`
	BaseEnd   int      `json:"base_end"`
	Lines     []string `json:"lines,omitempty"`
}

// IsInsert reports whether h adds lines without consuming any base lines.
func (h Hunk) IsInsert() bool { return h.BaseStart == h.BaseEnd }

// Equal reports whether two hunks make the same edit.
func (h Hunk) Equal(o Hunk) bool {
	if h.BaseStart != o.BaseStart || h.BaseEnd != o.BaseEnd || len(h.Lines) != len(o.Lines) {
		return false
	}
	for i := range h.Lines {
		if h.Lines[i] != o.Lines[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether h and o touch the same region of the base. Two
// insertions at the same point overlap, as do an insertion strictly inside a
// replaced range and the replacement itself.
func (h Hunk) Overlaps(o Hunk) bool {
	switch {
	case h.IsInsert() && o.IsInsert():
		return h.BaseStart == o.BaseStart
	case h.IsInsert():
		return h.BaseStart > o.BaseStart && h.BaseStart < o.BaseEnd
	case o.IsInsert():
		return o.BaseStart > h.BaseStart && o.BaseStart < h.BaseEnd
	default:
		return h.BaseStart < o.BaseEnd && o.BaseStart < h.BaseEnd
	}
}

// Hunks returns the base-anchored edits turning base into other, in base order.
func Hunks(base, other []string) []Hunk {
	var hunks []Hunk
	for _, op := range opcodes(base, other) {
		if op.Tag == 'e' {
			continue
		}
		h := Hunk{BaseStart: op.I1, BaseEnd: op.I2}
		if op.J2 > op.J1 {
			h.Lines = append([]string(nil), other[op.J1:op.J2]...)
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// Apply rewrites base with hunks, which must be sorted by BaseStart and must
// not overlap. Insertions at the same point as a replacement go first.
func Apply(base []string, hunks []Hunk) []string {
	out := make([]string, 0, len(base))
	pos := 0
	for _, h := range hunks {
		out = append(out, base[pos:h.BaseStart]...)
		out = append(out, h.Lines...)
		pos = h.BaseEnd
	}
	return append(out, base[pos:]...)
}
