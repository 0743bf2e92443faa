package normalize

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PathSeparator joins path segments of a line item.
const PathSeparator = " > "

// Node is one entry of a report tree: a *Leaf carrying a value or a
// *Branch carrying children.
type Node interface {
	Label() string
	isNode()
}

// Leaf is a line item with no children.
type Leaf struct {
	Name      string
	AccountID string
	Value     decimal.Decimal
}

// Branch groups child nodes under a label. Branches are never emitted.
type Branch struct {
	Name     string
	Children []Node
}

func (l *Leaf) Label() string   { return l.Name }
func (b *Branch) Label() string { return b.Name }
func (*Leaf) isNode()           {}
func (*Branch) isNode()         {}

// FlatLeaf is a leaf together with the labels of its ancestors and itself.
type FlatLeaf struct {
	Segments []string
	Leaf     *Leaf
}

// Path renders the segments as "Parent > Child".
func (f FlatLeaf) Path() string {
	return strings.Join(f.Segments, PathSeparator)
}

// Flatten walks nodes depth first and returns every leaf in document order.
// The input tree is not modified.
func Flatten(nodes []Node) []FlatLeaf {
	return flatten(nodes, nil)
}

func flatten(nodes []Node, prefix []string) []FlatLeaf {
	var out []FlatLeaf
	for _, n := range nodes {
		segments := make([]string, len(prefix), len(prefix)+1)
		copy(segments, prefix)
		segments = append(segments, n.Label())

		switch n := n.(type) {
		case *Leaf:
			out = append(out, FlatLeaf{Segments: segments, Leaf: n})
		case *Branch:
			out = append(out, flatten(n.Children, segments)...)
		}
	}
	return out
}
