package render

import (
	"errors"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrBadPatch is returned by Apply when an op does not fit the fragment list.
var ErrBadPatch = errors.New("patch does not apply")

// OpKind is the kind of a patch operation.
type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
)

// Op is a single edit. Ops are applied in order, and each Index refers to the
// list as left by the ops before it.
type Op struct {
	Kind     OpKind `json:"op"`
	Index    int    `json:"index"`
	Fragment string `json:"fragment,omitempty"`
}

// Diff computes the ops that turn old into cur. Fragments present in both at
// matching positions produce no op.
func Diff(old, cur []string) []Op {
	a, b := encode(old, cur)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(a, b, false)

	var (
		ops     []Op
		pos     int // index into the list being patched
		curPos  int // index into cur
		deletes int
		inserts []string
	)
	flushPending := func() {
		n := min(deletes, len(inserts))
		for i := 0; i < n; i++ {
			ops = append(ops, Op{Kind: OpReplace, Index: pos, Fragment: inserts[i]})
			pos++
		}
		for i := n; i < deletes; i++ {
			ops = append(ops, Op{Kind: OpDelete, Index: pos})
		}
		for _, frag := range inserts[n:] {
			ops = append(ops, Op{Kind: OpInsert, Index: pos, Fragment: frag})
			pos++
		}
		deletes = 0
		inserts = inserts[:0]
	}

	for _, d := range diffs {
		count := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flushPending()
			pos += count
			curPos += count
		case diffmatchpatch.DiffDelete:
			deletes += count
		case diffmatchpatch.DiffInsert:
			inserts = append(inserts, cur[curPos:curPos+count]...)
			curPos += count
		}
	}
	flushPending()
	return ops
}

// Apply returns a copy of frags with ops applied. frags is not modified.
func Apply(frags []string, ops []Op) ([]string, error) {
	out := append([]string(nil), frags...)
	for i, op := range ops {
		switch op.Kind {
		case OpInsert:
			if op.Index < 0 || op.Index > len(out) {
				return nil, fmt.Errorf("%w: op %d inserts at %d of %d", ErrBadPatch, i, op.Index, len(out))
			}
			out = append(out, "")
			copy(out[op.Index+1:], out[op.Index:])
			out[op.Index] = op.Fragment
		case OpDelete:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("%w: op %d deletes %d of %d", ErrBadPatch, i, op.Index, len(out))
			}
			out = append(out[:op.Index], out[op.Index+1:]...)
		case OpReplace:
			if op.Index < 0 || op.Index >= len(out) {
				return nil, fmt.Errorf("%w: op %d replaces %d of %d", ErrBadPatch, i, op.Index, len(out))
			}
			out[op.Index] = op.Fragment
		default:
			return nil, fmt.Errorf("%w: op %d has unknown kind %q", ErrBadPatch, i, op.Kind)
		}
	}
	return out, nil
}

// encode maps every distinct fragment to one rune so the character differ
// can work on whole fragments. Surrogate code points are skipped since they
// do not survive the differ's string conversions.
func encode(old, cur []string) ([]rune, []rune) {
	table := make(map[string]rune, len(old)+len(cur))
	next := rune(0x100)
	symbol := func(frag string) rune {
		if r, ok := table[frag]; ok {
			return r
		}
		r := next
		next++
		if next == 0xD800 {
			next = 0xE000
		}
		table[frag] = r
		return r
	}

	a := make([]rune, len(old))
	for i, f := range old {
		a[i] = symbol(f)
	}
	b := make([]rune, len(cur))
	for i, f := range cur {
		b[i] = symbol(f)
	}
	return a, b
}
