package tree

import (
	"sort"

	"github.com/fruitsalade/navigator/pkg/models"
)

// Kind distinguishes file nodes from folder nodes.
type Kind int

const (
	KindFile Kind = iota
	KindFolder
)

func (k Kind) String() string {
	if k == KindFolder {
		return "folder"
	}
	return "file"
}

func kindOf(e *models.Element) Kind {
	if e.IsFolder() {
		return KindFolder
	}
	return KindFile
}

// Node is one entry of the navigator tree.
//
// A file node's counter is its own validation total. A folder node's counter
// is only ever changed by propagation from below and equals the sum of the
// counters of its contributing (not hidden) children.
type Node struct {
	tree     *Tree
	id       string
	name     string
	kind     Kind
	expanded bool
	hidden   bool

	// parent is a back reference used for upward propagation only.
	parent *Node

	element      *models.Element
	children     []*Node
	materialized bool

	counter Counter
}

func newNode(t *Tree, e *models.Element, parent *Node) *Node {
	n := &Node{
		tree:    t,
		id:      e.Path,
		name:    e.Name,
		kind:    kindOf(e),
		parent:  parent,
		element: e,
	}
	if n.id == "" {
		if parent != nil {
			n.id = BuildChildPath(parent.id, e.Name)
		} else {
			n.id = RootPath
		}
		e.Path = n.id
	}
	if n.name == "" {
		n.name = BaseName(n.id)
	}
	return n
}

// ID returns the full path of the node.
func (n *Node) ID() string { return n.id }

// Name returns the last path segment.
func (n *Node) Name() string { return n.name }

// Kind returns whether the node is a file or a folder.
func (n *Node) Kind() Kind { return n.kind }

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool { return n.kind == KindFolder }

// Parent returns the containing folder, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Expanded reports whether a folder is expanded. Files are never expanded.
func (n *Node) Expanded() bool { return n.expanded }

// SetExpanded expands or collapses a folder. It is a no-op for files.
func (n *Node) SetExpanded(expanded bool) {
	if n.kind == KindFolder {
		n.expanded = expanded
	}
}

// Visible reports the node's own visibility flag.
func (n *Node) Visible() bool { return !n.hidden }

// Validation returns the node's counter: the own total for files, the
// propagated sum for folders.
func (n *Node) Validation() Counter { return n.counter }

// Element returns a deep copy of the element subtree backing n.
func (n *Node) Element() *models.Element {
	if n.element == nil {
		return &models.Element{Name: n.name, Path: n.id, Type: models.TypeFolder}
	}
	return n.element.Clone()
}

// Children returns the child nodes sorted by name, materializing them from
// the backing element on first access.
func (n *Node) Children() []*Node {
	n.materialize()
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

func (n *Node) materialize() {
	if n.materialized {
		return
	}
	n.materialized = true
	if n.element == nil {
		return
	}
	n.children = make([]*Node, 0, len(n.element.Children))
	for _, e := range n.element.Children {
		n.children = append(n.children, newNode(n.tree, e, n))
	}
	sort.SliceStable(n.children, func(i, j int) bool {
		return n.tree.less(n.children[i].name, n.children[j].name)
	})
}

// child returns the materialized child with the given name.
func (n *Node) child(name string) (*Node, int) {
	n.materialize()
	for i, c := range n.children {
		if c.name == name {
			return c, i
		}
	}
	return nil, -1
}

func (n *Node) insertSorted(c *Node) {
	i := sort.Search(len(n.children), func(i int) bool {
		return !n.tree.less(n.children[i].name, c.name)
	})
	n.children = append(n.children, nil)
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
}

func (n *Node) detach(c *Node) {
	for i, child := range n.children {
		if child == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			break
		}
	}
	if n.element == nil {
		return
	}
	for i, e := range n.element.Children {
		if e == c.element {
			n.element.Children = append(n.element.Children[:i], n.element.Children[i+1:]...)
			break
		}
	}
}

// relocate rewrites the ids of n and every descendant after a rename of
// the subtree rooted at oldBase.
func (n *Node) relocate(oldBase, newBase string) {
	n.id = relocate(n.id, oldBase, newBase)
	if n.element != nil {
		n.element.Path = n.id
		n.element.Name = n.name
	}
	if !n.materialized {
		if n.element != nil {
			for _, e := range n.element.Children {
				relocateElement(e, oldBase, newBase)
			}
		}
		return
	}
	for _, c := range n.children {
		c.relocate(oldBase, newBase)
	}
}

func relocateElement(e *models.Element, oldBase, newBase string) {
	if e.Path != "" {
		e.Path = relocate(e.Path, oldBase, newBase)
	}
	for _, c := range e.Children {
		relocateElement(c, oldBase, newBase)
	}
}

// ForEach visits n and its descendants depth-first in pre-order, siblings
// in name order.
func (n *Node) ForEach(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children() {
		c.ForEach(fn)
	}
}

// FindFirst returns the first node in pre-order satisfying pred.
func (n *Node) FindFirst(pred func(*Node) bool) (*Node, bool) {
	if pred(n) {
		return n, true
	}
	for _, c := range n.Children() {
		if found, ok := c.FindFirst(pred); ok {
			return found, true
		}
	}
	return nil, false
}

// displaysChildren reports whether the children of n are part of the
// displayed sequence.
func (n *Node) displaysChildren() bool {
	return n.kind == KindFolder && n.expanded && !n.hidden
}

// NextVisible returns the node following n in the displayed pre-order
// sequence: hidden nodes and their subtrees are skipped and collapsed
// folders are not descended into.
func (n *Node) NextVisible() (*Node, bool) {
	if n.displaysChildren() {
		for _, c := range n.Children() {
			if !c.hidden {
				return c, true
			}
		}
	}
	for cur := n; cur.parent != nil; cur = cur.parent {
		siblings := cur.parent.children
		for i := indexOf(siblings, cur) + 1; i < len(siblings); i++ {
			if !siblings[i].hidden {
				return siblings[i], true
			}
		}
	}
	return nil, false
}

// PreviousVisible returns the node preceding n in the displayed pre-order
// sequence.
func (n *Node) PreviousVisible() (*Node, bool) {
	if n.parent == nil {
		return nil, false
	}
	siblings := n.parent.children
	for i := indexOf(siblings, n) - 1; i >= 0; i-- {
		if !siblings[i].hidden {
			return siblings[i].lastDisplayed(), true
		}
	}
	return n.parent, true
}

func (n *Node) lastDisplayed() *Node {
	cur := n
	for cur.displaysChildren() {
		children := cur.Children()
		var last *Node
		for i := len(children) - 1; i >= 0; i-- {
			if !children[i].hidden {
				last = children[i]
				break
			}
		}
		if last == nil {
			break
		}
		cur = last
	}
	return cur
}

func indexOf(nodes []*Node, n *Node) int {
	for i, c := range nodes {
		if c == n {
			return i
		}
	}
	return -1
}
