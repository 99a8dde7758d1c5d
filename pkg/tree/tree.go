// Package tree implements the navigator's workspace tree with incrementally
// aggregated validation totals and collaborator activities.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/navigator/pkg/models"
)

var (
	ErrRemoveRoot = errors.New("tree: cannot remove the root node")
	ErrRenameRoot = errors.New("tree: cannot rename the root node")
	ErrNotFolder  = errors.New("tree: parent is not a folder")
	ErrExists     = errors.New("tree: a sibling with that name already exists")
	ErrDetached   = errors.New("tree: node is not part of this tree")
)

// Tree owns the root node and the activity registry.
type Tree struct {
	root       *Node
	less       func(a, b string) bool
	activities *CompositeActivities
	logger     *zap.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithCaseInsensitiveNames orders siblings ignoring case, falling back to a
// case-sensitive comparison for names that differ only in case.
func WithCaseInsensitiveNames() Option {
	return func(t *Tree) {
		t.less = func(a, b string) bool {
			la, lb := strings.ToLower(a), strings.ToLower(b)
			if la != lb {
				return la < lb
			}
			return a < b
		}
	}
}

// WithLogger sets the logger used for ingestion diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tree) {
		t.logger = l
	}
}

// New builds a tree over the element graph rooted at root. A nil root
// yields an empty root folder.
func New(root *models.Element, opts ...Option) *Tree {
	t := &Tree{
		less:       func(a, b string) bool { return a < b },
		activities: NewCompositeActivities(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if root == nil {
		root = &models.Element{Path: RootPath, Type: models.TypeFolder}
	}
	t.root = newNode(t, root, nil)
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Find resolves path to a node, materializing the folders along the way.
func (t *Tree) Find(path string) (*Node, bool) {
	if path == t.root.id {
		return t.root, true
	}
	if !IsWithin(path, t.root.id) {
		return nil, false
	}
	rel := strings.TrimPrefix(path, t.root.id)
	cur := t.root
	for _, seg := range strings.Split(strings.Trim(rel, "/"), "/") {
		next, _ := cur.child(seg)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Len returns the number of nodes in the tree, materializing all of them.
func (t *Tree) Len() int {
	n := 0
	t.root.ForEach(func(*Node) { n++ })
	return n
}

// propagate adds diff to from and each of its ancestors. A hidden ancestor
// absorbs the difference without passing it further, since its own
// contribution has already been withdrawn from the levels above.
//
// This deliberately departs from walking every ancestor regardless of
// visibility: doing so would count the change twice above the hidden
// folder once SetVisible re-admits its counter, breaking root = sum of
// visible files. Keep the early return.
func propagate(from *Node, diff Counter) {
	if diff.IsZero() {
		return
	}
	for a := from; a != nil; a = a.parent {
		a.counter = a.counter.Add(diff)
		if a.hidden {
			return
		}
	}
}

// SetValidation assigns a file's own counter and propagates the difference
// to its ancestors. Folders derive their counters and ignore the call.
func (t *Tree) SetValidation(n *Node, c Counter) {
	if n.kind != KindFile {
		return
	}
	diff := c.Sub(n.counter)
	n.counter = c
	if !n.hidden && n.parent != nil {
		propagate(n.parent, diff)
	}
}

// SetValidationAt resolves path and assigns its counter.
func (t *Tree) SetValidationAt(path string, c Counter) bool {
	n, ok := t.Find(path)
	if !ok {
		return false
	}
	t.SetValidation(n, c)
	return true
}

// ApplyMarkers assigns counters file by file and returns the paths that did
// not resolve to a node.
func (t *Tree) ApplyMarkers(markers map[string]Counter) []string {
	paths := make([]string, 0, len(markers))
	for p := range markers {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var missing []string
	for _, p := range paths {
		if !t.SetValidationAt(p, markers[p]) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		t.logger.Debug("markers for unknown paths ignored", zap.Strings("paths", missing))
	}
	return missing
}

// SetVisible shows or hides n. Hiding withdraws the node's counter from its
// ancestors and showing re-admits it; the node's own counter is unchanged.
func (t *Tree) SetVisible(n *Node, show bool) {
	if n.Visible() == show {
		return
	}
	n.hidden = !show
	if n.parent == nil {
		return
	}
	if show {
		propagate(n.parent, n.counter)
	} else {
		propagate(n.parent, n.counter.Negate())
	}
}

// Insert adds a node for e below parent and returns it.
func (t *Tree) Insert(parent *Node, e *models.Element) (*Node, error) {
	if parent.tree != t {
		return nil, ErrDetached
	}
	if parent.kind != KindFolder {
		return nil, fmt.Errorf("insert %s into %s: %w", e.Name, parent.id, ErrNotFolder)
	}
	if e.Name == "" {
		e.Name = BaseName(e.Path)
	}
	if existing, _ := parent.child(e.Name); existing != nil {
		return nil, fmt.Errorf("insert %s into %s: %w", e.Name, parent.id, ErrExists)
	}
	e.Path = BuildChildPath(parent.id, e.Name)
	relocateChildren(e)
	if parent.element != nil {
		parent.element.Children = append(parent.element.Children, e)
	}
	n := newNode(t, e, parent)
	parent.insertSorted(n)
	return n, nil
}

// relocateChildren makes the paths below e consistent with e.Path.
func relocateChildren(e *models.Element) {
	for _, c := range e.Children {
		if c.Name == "" {
			c.Name = BaseName(c.Path)
		}
		c.Path = BuildChildPath(e.Path, c.Name)
		relocateChildren(c)
	}
}

// Remove detaches n from its parent, withdrawing its counter from the
// ancestors first if it was visible.
func (t *Tree) Remove(n *Node) error {
	if n.tree != t {
		return ErrDetached
	}
	if n.parent == nil {
		return ErrRemoveRoot
	}
	if !n.hidden {
		propagate(n.parent, n.counter.Negate())
	}
	n.parent.detach(n)
	n.parent = nil
	n.tree = nil
	return nil
}

// Rename changes the name of n in place. The node keeps its identity,
// counters and activities; its id, the ids of its descendants and the
// activity entries registered below it are rewritten.
func (t *Tree) Rename(n *Node, newName string) error {
	if n.tree != t {
		return ErrDetached
	}
	if n.parent == nil {
		return ErrRenameRoot
	}
	if newName == n.name {
		return nil
	}
	if existing, _ := n.parent.child(newName); existing != nil {
		return fmt.Errorf("rename %s to %s: %w", n.id, newName, ErrExists)
	}
	oldID := n.id
	n.name = newName
	n.relocate(oldID, BuildChildPath(n.parent.id, newName))
	t.activities.Move(oldID, n.id)

	siblings := n.parent.children
	sort.SliceStable(siblings, func(i, j int) bool {
		return t.less(siblings[i].name, siblings[j].name)
	})
	return nil
}

// SetActivities registers the activity set reported for path.
func (t *Tree) SetActivities(path string, set ActivitySet) {
	t.activities.Set(path, set)
}

// ReplaceActivities replaces the whole activity registry.
func (t *Tree) ReplaceActivities(c *CompositeActivities) {
	if c == nil {
		c = NewCompositeActivities()
	}
	t.activities = c
}

// AllActivities returns the activity registry.
func (t *Tree) AllActivities() *CompositeActivities {
	return t.activities
}

// Activities returns the activities to display on n: its own entry plus
// every entry below it that no displayed child of n would show instead.
// Activity on a path that is not displayed bubbles up to the nearest
// displayed ancestor.
func (t *Tree) Activities(n *Node) *CompositeActivities {
	expanded := n.displaysChildren()
	if expanded {
		n.materialize()
	}
	return t.activities.Filter(func(p string) bool {
		if p == n.id {
			return true
		}
		if !IsWithin(p, n.id) {
			return false
		}
		if !expanded {
			return true
		}
		for _, c := range n.children {
			if !c.hidden && (p == c.id || IsWithin(p, c.id)) {
				return false
			}
		}
		return true
	})
}
