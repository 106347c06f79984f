package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"gopkg.in/yaml.v3"

	"github.com/roach88/compositefk/internal/ir"
)

type nodeKind int

const (
	scalarNode nodeKind = iota
	objectNode
	listNode
)

// Position locates a declaration in its source file.
type Position struct {
	File   string
	Line   int
	Column int
}

// IsValid reports whether the position carries a line.
func (p Position) IsValid() bool { return p.Line > 0 }

func (p Position) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// node is a declaration value from either CUE or YAML. Object keys keep
// their source order since field order is significant.
type node struct {
	kind   nodeKind
	value  ir.IRValue // scalarNode
	keys   []string   // objectNode
	fields map[string]*node
	items  []*node // listNode
	pos    Position
}

func (n *node) get(key string) (*node, bool) {
	if n.kind != objectNode {
		return nil, false
	}
	c, ok := n.fields[key]
	return c, ok
}

func (n *node) kindName() string {
	switch n.kind {
	case objectNode:
		return "object"
	case listNode:
		return "list"
	default:
		switch n.value.(type) {
		case ir.IRString:
			return "string"
		case ir.IRInt:
			return "int"
		case ir.IRBool:
			return "bool"
		default:
			return "null"
		}
	}
}

func cuePosition(v cue.Value) Position {
	p := v.Pos()
	if !p.IsValid() {
		return Position{}
	}
	return Position{File: p.Filename(), Line: p.Line(), Column: p.Column()}
}

// fromCUE converts a concrete CUE value. Definitions, hidden fields and
// optional fields are skipped.
func fromCUE(v cue.Value) (*node, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	pos := cuePosition(v)

	switch v.IncompleteKind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n := &node{kind: objectNode, fields: make(map[string]*node), pos: pos}
		for iter.Next() {
			child, err := fromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			label := iter.Label()
			n.keys = append(n.keys, label)
			n.fields[label] = child
		}
		return n, nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n := &node{kind: listNode, pos: pos}
		for iter.Next() {
			child, err := fromCUE(iter.Value())
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, child)
		}
		return n, nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: "value", Message: "float values are forbidden - use int instead", Pos: pos}
	}

	if !v.IsConcrete() {
		return nil, &CompileError{Field: "value", Message: fmt.Sprintf("value must be concrete, got %v", v), Pos: pos}
	}

	n := &node{kind: scalarNode, pos: pos}
	switch v.Kind() {
	case cue.NullKind:
		n.value = ir.IRNull{}
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n.value = ir.IRBool(b)
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n.value = ir.IRInt(i)
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		n.value = ir.IRString(s)
	default:
		return nil, &CompileError{Field: "value", Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()), Pos: pos}
	}
	return n, nil
}

// fromYAML converts a decoded YAML node. Anchors and aliases are expanded.
func fromYAML(file string, y *yaml.Node) (*node, error) {
	pos := Position{File: file, Line: y.Line, Column: y.Column}

	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return &node{kind: objectNode, fields: map[string]*node{}, pos: pos}, nil
		}
		return fromYAML(file, y.Content[0])

	case yaml.AliasNode:
		return fromYAML(file, y.Alias)

	case yaml.MappingNode:
		n := &node{kind: objectNode, fields: make(map[string]*node), pos: pos}
		for i := 0; i+1 < len(y.Content); i += 2 {
			k := y.Content[i]
			if k.Kind != yaml.ScalarNode {
				return nil, &CompileError{Field: "key", Message: "mapping keys must be scalars",
					Pos: Position{File: file, Line: k.Line, Column: k.Column}}
			}
			if _, dup := n.fields[k.Value]; dup {
				return nil, &CompileError{Field: k.Value, Message: "duplicate key",
					Pos: Position{File: file, Line: k.Line, Column: k.Column}}
			}
			child, err := fromYAML(file, y.Content[i+1])
			if err != nil {
				return nil, err
			}
			n.keys = append(n.keys, k.Value)
			n.fields[k.Value] = child
		}
		return n, nil

	case yaml.SequenceNode:
		n := &node{kind: listNode, pos: pos}
		for _, item := range y.Content {
			child, err := fromYAML(file, item)
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, child)
		}
		return n, nil

	case yaml.ScalarNode:
		n := &node{kind: scalarNode, pos: pos}
		switch y.ShortTag() {
		case "!!null":
			n.value = ir.IRNull{}
		case "!!bool":
			var b bool
			if err := y.Decode(&b); err != nil {
				return nil, &CompileError{Field: "value", Message: err.Error(), Pos: pos}
			}
			n.value = ir.IRBool(b)
		case "!!int":
			var i int64
			if err := y.Decode(&i); err != nil {
				return nil, &CompileError{Field: "value", Message: err.Error(), Pos: pos}
			}
			n.value = ir.IRInt(i)
		case "!!str":
			n.value = ir.IRString(y.Value)
		case "!!float":
			return nil, &CompileError{Field: "value", Message: "float values are forbidden - use int instead", Pos: pos}
		default:
			return nil, &CompileError{Field: "value", Message: fmt.Sprintf("unsupported tag %s", y.ShortTag()), Pos: pos}
		}
		return n, nil
	}

	return nil, &CompileError{Field: "value", Message: "unsupported YAML node", Pos: pos}
}
