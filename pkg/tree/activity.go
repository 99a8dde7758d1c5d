package tree

import (
	"sort"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// ActivitySet is the query contract shared by LeafActivities and
// CompositeActivities. The interface is sealed to those two variants.
type ActivitySet interface {
	// Users returns every user with at least one activity, deduplicated.
	Users() []string
	// Types returns every activity type present, deduplicated.
	Types() []string
	// Empty reports whether the set holds no activity.
	Empty() bool

	activitySet()
}

// LeafActivities maps activity types to the users performing them. The zero
// value is an empty set ready to use.
type LeafActivities struct {
	types  []string
	byType map[string][]string
}

// NewLeafActivities returns an empty leaf set.
func NewLeafActivities() *LeafActivities {
	return &LeafActivities{byType: make(map[string][]string)}
}

func (*LeafActivities) activitySet() {}

// Add records user performing an activity of the given type. Duplicates are kept.
func (l *LeafActivities) Add(user, activityType string) {
	if l.byType == nil {
		l.byType = make(map[string][]string)
	}
	if _, ok := l.byType[activityType]; !ok {
		l.types = append(l.types, activityType)
	}
	l.byType[activityType] = append(l.byType[activityType], user)
}

// UsersOf returns the users recorded for one activity type, in insertion order.
func (l *LeafActivities) UsersOf(activityType string) []string {
	if l == nil {
		return nil
	}
	users := l.byType[activityType]
	out := make([]string, len(users))
	copy(out, users)
	return out
}

func (l *LeafActivities) Users() []string {
	if l == nil {
		return nil
	}
	var d dedup
	for _, t := range l.types {
		d.addAll(l.byType[t])
	}
	return d.items
}

func (l *LeafActivities) Types() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.types))
	copy(out, l.types)
	return out
}

func (l *LeafActivities) Empty() bool {
	return l == nil || len(l.types) == 0
}

// CompositeActivities maps element paths to activity sets. Entries are keyed
// by path rather than node so that activity may be reported for paths the
// tree has not materialized yet. The zero value is an empty composite.
type CompositeActivities struct {
	entries map[string]ActivitySet
}

// NewCompositeActivities returns an empty composite.
func NewCompositeActivities() *CompositeActivities {
	return &CompositeActivities{entries: make(map[string]ActivitySet)}
}

// FromElementActivities builds a composite of leaf sets from the wire list.
// Repeated elements are merged into one leaf.
func FromElementActivities(items []protocol.ElementActivities) *CompositeActivities {
	c := NewCompositeActivities()
	for _, item := range items {
		leaf, ok := c.entries[item.Element].(*LeafActivities)
		if !ok {
			leaf = NewLeafActivities()
		}
		for _, a := range item.Activities {
			leaf.Add(a.User, a.Type)
		}
		if leaf.Empty() {
			continue
		}
		c.entries[item.Element] = leaf
	}
	return c
}

func (*CompositeActivities) activitySet() {}

// Set registers set for path, replacing any existing entry. Empty sets,
// typed nil sets included, remove the entry.
func (c *CompositeActivities) Set(path string, set ActivitySet) {
	if set == nil || set.Empty() {
		delete(c.entries, path)
		return
	}
	if c.entries == nil {
		c.entries = make(map[string]ActivitySet)
	}
	c.entries[path] = set
}

// Move re-keys the entry for oldBase and every entry below it to lie below
// newBase, replacing entries already registered there.
func (c *CompositeActivities) Move(oldBase, newBase string) {
	if oldBase == newBase {
		return
	}
	moved := make(map[string]ActivitySet)
	for p, set := range c.entries {
		if p == oldBase || IsWithin(p, oldBase) {
			moved[relocate(p, oldBase, newBase)] = set
			delete(c.entries, p)
		}
	}
	for p, set := range moved {
		c.entries[p] = set
	}
}

// Delete removes the entry for path.
func (c *CompositeActivities) Delete(path string) {
	delete(c.entries, path)
}

// Get returns the entry registered for exactly path.
func (c *CompositeActivities) Get(path string) (ActivitySet, bool) {
	set, ok := c.entries[path]
	return set, ok
}

// UsersAt returns the users of the entry for exactly path, or nothing.
func (c *CompositeActivities) UsersAt(path string) []string {
	if set, ok := c.entries[path]; ok {
		return set.Users()
	}
	return nil
}

// TypesAt returns the types of the entry for exactly path, or nothing.
func (c *CompositeActivities) TypesAt(path string) []string {
	if set, ok := c.entries[path]; ok {
		return set.Types()
	}
	return nil
}

// Paths returns the registered paths in sorted order.
func (c *CompositeActivities) Paths() []string {
	if c == nil {
		return nil
	}
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of entries.
func (c *CompositeActivities) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

func (c *CompositeActivities) Users() []string {
	var d dedup
	for _, p := range c.Paths() {
		d.addAll(c.entries[p].Users())
	}
	return d.items
}

func (c *CompositeActivities) Types() []string {
	var d dedup
	for _, p := range c.Paths() {
		d.addAll(c.entries[p].Types())
	}
	return d.items
}

func (c *CompositeActivities) Empty() bool {
	if c == nil {
		return true
	}
	for _, set := range c.entries {
		if !set.Empty() {
			return false
		}
	}
	return true
}

// Filter returns a view holding only the entries whose path satisfies keep.
// Entry sets are shared, not copied.
func (c *CompositeActivities) Filter(keep func(path string) bool) *CompositeActivities {
	out := NewCompositeActivities()
	for p, set := range c.entries {
		if keep(p) {
			out.entries[p] = set
		}
	}
	return out
}

type dedup struct {
	seen  map[string]struct{}
	items []string
}

func (d *dedup) addAll(values []string) {
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	for _, v := range values {
		if _, ok := d.seen[v]; ok {
			continue
		}
		d.seen[v] = struct{}{}
		d.items = append(d.items, v)
	}
}
