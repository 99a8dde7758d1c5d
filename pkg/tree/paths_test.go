package tree

import "testing"

func TestBuildChildPath(t *testing.T) {
	tests := []struct {
		parent, name, want string
	}{
		{"/", "file.tcl", "/file.tcl"},
		{"", "file.tcl", "/file.tcl"},
		{"/dir", "file.tcl", "/dir/file.tcl"},
		{"/a/b", "c", "/a/b/c"},
	}
	for _, tt := range tests {
		got := BuildChildPath(tt.parent, tt.name)
		if got != tt.want {
			t.Errorf("BuildChildPath(%q, %q) = %q, want %q", tt.parent, tt.name, got, tt.want)
		}
	}
}

func TestParentPathAndBaseName(t *testing.T) {
	tests := []struct {
		path, parent, base string
	}{
		{"/a.tcl", "/", "a.tcl"},
		{"/dir/b.tcl", "/dir", "b.tcl"},
		{"/a/b/c", "/a/b", "c"},
	}
	for _, tt := range tests {
		if got := ParentPath(tt.path); got != tt.parent {
			t.Errorf("ParentPath(%q) = %q, want %q", tt.path, got, tt.parent)
		}
		if got := BaseName(tt.path); got != tt.base {
			t.Errorf("BaseName(%q) = %q, want %q", tt.path, got, tt.base)
		}
	}
}

func TestIsWithin(t *testing.T) {
	tests := []struct {
		path, base string
		want       bool
	}{
		{"/dir/a", "/dir", true},
		{"/dir", "/dir", false},
		{"/dirx/a", "/dir", false},
		{"/a", "/", true},
		{"/", "/", false},
	}
	for _, tt := range tests {
		if got := IsWithin(tt.path, tt.base); got != tt.want {
			t.Errorf("IsWithin(%q, %q) = %v, want %v", tt.path, tt.base, got, tt.want)
		}
	}
}
