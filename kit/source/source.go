// Package source models the content backing an emitted file. A Source is one
// of a closed set of variants; ReplaceAll is the only mutation and it knows
// every variant. Anything else is rejected rather than silently skipped.
package source

import (
	"bytes"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrUnsupportedSource = errors.New("unsupported content representation")

// Source is anything that can produce its current bytes.
type Source interface {
	Bytes() []byte
}

// Raw holds plain bytes.
type Raw struct {
	data []byte
}

func NewRaw(data []byte) *Raw { return &Raw{data: data} }
func NewString(s string) *Raw { return &Raw{data: []byte(s)} }
func (r *Raw) Bytes() []byte  { return r.data }
func (r *Raw) String() string { return string(r.data) }

// Cached memoizes the bytes of an inner Source.
type Cached struct {
	Inner Source
	memo  []byte
	valid bool
}

func NewCached(inner Source) *Cached { return &Cached{Inner: inner} }

func (c *Cached) Bytes() []byte {
	if !c.valid {
		c.memo = c.Inner.Bytes()
		c.valid = true
	}
	return c.memo
}

// Linked is content associated with a file on disk, typically the location
// an emitter wrote it to. Path is informational; Bytes never touches disk.
type Linked struct {
	Path string
	data []byte
}

func NewLinked(path string, data []byte) *Linked {
	return &Linked{Path: path, data: data}
}

func (l *Linked) Bytes() []byte { return l.data }

// Concat joins children in order. Search tokens are assumed never to span two
// children.
type Concat struct {
	Children []Source
}

func NewConcat(children ...Source) *Concat { return &Concat{Children: children} }

func (c *Concat) Bytes() []byte {
	parts := make([][]byte, len(c.Children))
	for i, child := range c.Children {
		parts[i] = child.Bytes()
	}
	return bytes.Join(parts, nil)
}

// ReplaceAll replaces every occurrence of search with replacement inside src,
// mutating it in place, and returns the updated Source.
func ReplaceAll(src Source, search, replacement string) (Source, error) {
	if search == "" {
		return src, nil
	}
	return replaceAll(src, []byte(search), []byte(replacement))
}

func replaceAll(src Source, search, repl []byte) (Source, error) {
	switch s := src.(type) {
	case *Raw:
		s.data = bytes.ReplaceAll(s.data, search, repl)
		return s, nil
	case *Linked:
		s.data = bytes.ReplaceAll(s.data, search, repl)
		return s, nil
	case *Cached:
		inner, err := replaceAll(s.Inner, search, repl)
		if err != nil {
			return nil, err
		}
		s.Inner = inner
		s.valid = false
		s.memo = nil
		return s, nil
	case *Concat:
		for i, child := range s.Children {
			updated, err := replaceAll(child, search, repl)
			if err != nil {
				return nil, errors.Wrapf(err, "concat child %d", i)
			}
			s.Children[i] = updated
		}
		return s, nil
	default:
		return nil, errors.WithHint(
			errors.Wrapf(ErrUnsupportedSource, "%T", src),
			"wrap the content in source.Raw, source.Cached, source.Linked or source.Concat",
		)
	}
}

// Contains reports whether the current bytes of src contain token.
func Contains(src Source, token string) bool {
	return token != "" && bytes.Contains(src.Bytes(), []byte(token))
}

// Clone returns a deep copy of a supported Source.
func Clone(src Source) (Source, error) {
	switch s := src.(type) {
	case *Raw:
		return &Raw{data: slices.Clone(s.data)}, nil
	case *Linked:
		return &Linked{Path: s.Path, data: slices.Clone(s.data)}, nil
	case *Cached:
		inner, err := Clone(s.Inner)
		if err != nil {
			return nil, err
		}
		return &Cached{Inner: inner}, nil
	case *Concat:
		children := make([]Source, len(s.Children))
		for i, child := range s.Children {
			c, err := Clone(child)
			if err != nil {
				return nil, err
			}
			children[i] = c
		}
		return &Concat{Children: children}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedSource, "%T", src)
	}
}

// Describe names the variant of src, for logs.
func Describe(src Source) string {
	switch s := src.(type) {
	case *Raw:
		return "raw"
	case *Linked:
		return "linked(" + s.Path + ")"
	case *Cached:
		return "cached(" + Describe(s.Inner) + ")"
	case *Concat:
		names := make([]string, len(s.Children))
		for i, c := range s.Children {
			names[i] = Describe(c)
		}
		return "concat[" + strings.Join(names, ",") + "]"
	default:
		return "unsupported"
	}
}
