// Package models contains the workspace data types shared by the transport and the tree.
package models

// ElementType distinguishes files from folders in the workspace.
type ElementType string

const (
	TypeFile   ElementType = "file"
	TypeFolder ElementType = "folder"
)

// Element is one entry of the workspace element graph as delivered by the
// server. Tree nodes materialize lazily from it.
type Element struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     ElementType `json:"type"`
	Children []*Element  `json:"children,omitempty"`
}

// IsFolder reports whether the element is a folder.
func (e *Element) IsFolder() bool {
	return e.Type == TypeFolder
}

// Clone returns a deep copy of the element subtree.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	c := &Element{Name: e.Name, Path: e.Path, Type: e.Type}
	if len(e.Children) > 0 {
		c.Children = make([]*Element, len(e.Children))
		for i, child := range e.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}
