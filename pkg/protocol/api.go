// Package protocol defines the API request/response types.
package protocol

import (
	"github.com/fruitsalade/navigator/pkg/models"
)

// PullRequest is the body for POST /api/v1/workspace/pull.
// Resources lists critical paths first, then non-critical ones.
type PullRequest struct {
	Resources      []string `json:"resources"`
	DirtyResources []string `json:"dirtyResources"`
}

// BackupEntry pairs a locally dirty resource with the copy the server made of it.
type BackupEntry struct {
	Resource       string `json:"resource"`
	BackupResource string `json:"backupResource"`
}

// PullResponse is returned by POST /api/v1/workspace/pull.
type PullResponse struct {
	Failure           bool          `json:"failure"`
	DiffExists        bool          `json:"diffExists"`
	HeadCommit        string        `json:"headCommit"`
	ChangedResources  []string      `json:"changedResources"`
	BackedUpResources []BackupEntry `json:"backedUpResources"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ElementsResponse is returned by GET /api/v1/workspace/elements.
type ElementsResponse struct {
	Root *models.Element `json:"root"`
}

// RenameRequest is the body for POST /api/v1/workspace/rename.
type RenameRequest struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

// CopyRequest is the body for POST /api/v1/workspace/copy.
type CopyRequest struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

// DeleteRequest is the body for POST /api/v1/workspace/delete.
type DeleteRequest struct {
	Path string `json:"path"`
}

// CreateRequest is the body for POST /api/v1/workspace/create.
type CreateRequest struct {
	Path string             `json:"path"`
	Type models.ElementType `json:"type"`
}

// ActionResponse is returned by the workspace action endpoints.
type ActionResponse struct {
	Path    string          `json:"path"`
	Element *models.Element `json:"element,omitempty"`
}

// Counter is the wire form of a validation marker summary.
type Counter struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// MarkersResponse is returned by GET /api/v1/workspace/markers and carried
// by "markers" events. Keys are element paths.
type MarkersResponse map[string]Counter

// UserActivity is a single collaborator action reported against an element.
type UserActivity struct {
	User string `json:"user"`
	Type string `json:"type"`
}

// ElementActivities lists the activities reported against one element path.
type ElementActivities struct {
	Element    string         `json:"element"`
	Activities []UserActivity `json:"activities"`
}
