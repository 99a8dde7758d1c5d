package tree

import "strings"

// RootPath is the id of a workspace root when the server does not name one.
const RootPath = "/"

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == RootPath || parentPath == "" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// ParentPath returns the path of the folder containing path.
func ParentPath(path string) string {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return RootPath
	}
	return path[:i]
}

// BaseName returns the last segment of path.
func BaseName(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// IsWithin reports whether path lies strictly below base, segment-wise.
func IsWithin(path, base string) bool {
	if base == RootPath || base == "" {
		return strings.HasPrefix(path, "/") && path != "/"
	}
	return strings.HasPrefix(path, base+"/")
}

// relocate rewrites a path below oldBase so that it lies below newBase.
func relocate(path, oldBase, newBase string) string {
	if path == oldBase {
		return newBase
	}
	return newBase + strings.TrimPrefix(path, oldBase)
}
