// Package symbolid defines the addressable units the orchestration engine
// reasons about: symbols, outlines, and code spans.
package symbolid

import (
	"fmt"
	"path/filepath"
)

// Range is a half-open line range within a file, 0-indexed, end-exclusive.
type Range struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Identifier uniquely addresses a code symbol: a name at a file path, with
// an optional range narrowing it to one definition among overloads. Two
// identifiers are structurally equal once their file paths are
// canonicalized — callers should always construct via New rather than the
// struct literal so canonicalization is never skipped.
type Identifier struct {
	Name     string `json:"name"`
	FilePath string `json:"file_path"`
	Range    *Range `json:"range,omitempty"`
}

// New builds an Identifier with a canonicalized file path.
func New(name, filePath string, rng *Range) Identifier {
	return Identifier{
		Name:     name,
		FilePath: canonicalize(filePath),
		Range:    rng,
	}
}

func canonicalize(p string) string {
	if p == "" {
		return p
	}
	clean := filepath.Clean(p)
	if abs, err := filepath.Abs(clean); err == nil {
		return abs
	}
	return clean
}

// Equal reports structural equality: same name, same canonicalized path,
// and equal (possibly both-nil) ranges.
func (id Identifier) Equal(other Identifier) bool {
	if id.Name != other.Name || id.FilePath != other.FilePath {
		return false
	}
	if (id.Range == nil) != (other.Range == nil) {
		return false
	}
	if id.Range == nil {
		return true
	}
	return *id.Range == *other.Range
}

// Key returns a stable string usable as a map key — the event bus and
// worker pool index workers by this.
func (id Identifier) Key() string {
	if id.Range == nil {
		return fmt.Sprintf("%s::%s", id.FilePath, id.Name)
	}
	return fmt.Sprintf("%s::%s::%d-%d", id.FilePath, id.Name, id.Range.StartLine, id.Range.EndLine)
}

func (id Identifier) String() string {
	return id.Key()
}

// OutlineKind names the kind of definition an OutlineNode summarizes.
type OutlineKind string

const (
	OutlineClass    OutlineKind = "class"
	OutlineFunction OutlineKind = "function"
	OutlineMethod   OutlineKind = "method"
	OutlineStruct   OutlineKind = "struct"
	OutlineImpl     OutlineKind = "impl"
)

// Outline is a tree node describing one definition (class/function/method/
// struct/impl), with a source range and child outline nodes. Produced by
// the editor bridge from tree-sitter parses; treated as immutable once
// returned — callers must copy before mutating.
type Outline struct {
	Name     string      `json:"name"`
	Kind     OutlineKind `json:"kind"`
	FilePath string      `json:"file_path"`
	Range    Range       `json:"range"`
	Children []Outline   `json:"children,omitempty"`
}

// Identifier returns the SymbolIdentifier this outline node addresses.
func (o Outline) Identifier() Identifier {
	r := o.Range
	return New(o.Name, o.FilePath, &r)
}

// Flatten returns this node and all descendants in pre-order.
func (o Outline) Flatten() []Outline {
	out := []Outline{o}
	for _, c := range o.Children {
		out = append(out, c.Flatten()...)
	}
	return out
}

// Find returns the first descendant (including o itself) whose name
// matches, and whether one was found.
func (o Outline) Find(name string) (Outline, bool) {
	for _, node := range o.Flatten() {
		if node.Name == name {
			return node, true
		}
	}
	return Outline{}, false
}

// Span is a (file, start-line, end-line, text) value derived from a
// selection or search result. Immutable; Merge and Intersects produce new
// values rather than mutating the receiver.
type Span struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
}

// Intersects reports whether two spans in the same file overlap.
func (s Span) Intersects(other Span) bool {
	if s.FilePath != other.FilePath {
		return false
	}
	return s.StartLine <= other.EndLine && other.StartLine <= s.EndLine
}

// Merge combines two overlapping-or-adjacent spans in the same file into
// one. If they don't overlap or touch, the wider envelope is returned —
// callers that need to distinguish "true merge" from "envelope" should
// check Intersects/adjacency first.
func (s Span) Merge(other Span) Span {
	start := s.StartLine
	if other.StartLine < start {
		start = other.StartLine
	}
	end := s.EndLine
	if other.EndLine > end {
		end = other.EndLine
	}
	text := s.Text
	if other.StartLine >= s.StartLine {
		text = s.Text + other.Text
	} else {
		text = other.Text + s.Text
	}
	return Span{FilePath: s.FilePath, StartLine: start, EndLine: end, Text: text}
}

// MergeConsecutiveSpans sorts spans by (file, start-line) and merges
// consecutive overlapping-or-adjacent ones. Idempotent: calling it again on
// its own output returns an equal slice, and the set of lines covered per
// file is preserved.
func MergeConsecutiveSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0; j-- {
			a, b := sorted[j-1], sorted[j]
			if a.FilePath > b.FilePath || (a.FilePath == b.FilePath && a.StartLine > b.StartLine) {
				sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
				continue
			}
			break
		}
	}

	merged := []Span{sorted[0]}
	for _, next := range sorted[1:] {
		last := merged[len(merged)-1]
		if last.FilePath == next.FilePath && next.StartLine <= last.EndLine+1 {
			merged[len(merged)-1] = last.Merge(next)
			continue
		}
		merged = append(merged, next)
	}
	return merged
}
