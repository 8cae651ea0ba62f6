// internal/snapshot/models.go
package snapshot

import "time"

// ChangeStatus classifies one path in a snapshot's change list.
type ChangeStatus string

const (
	StatusAdded    ChangeStatus = "added"
	StatusModified ChangeStatus = "modified"
	StatusDeleted  ChangeStatus = "deleted"
)

// FileChange is one entry in a snapshot's ordered change list.
type FileChange struct {
	Path   string       `json:"path"`
	Status ChangeStatus `json:"status"`
}

// TreeSnapshot is a content-addressed fingerprint of a working tree
// plus the changes relative to its base commit. BaseCommit is empty
// when the tree had no commit history at capture time.
type TreeSnapshot struct {
	ID          string       `json:"id"`
	TreeHash    string       `json:"tree_hash"`
	BaseCommit  string       `json:"base_commit,omitempty"`
	Changes     []FileChange `json:"changes"`
	Timestamp   time.Time    `json:"timestamp"`
	Trigger     string       `json:"trigger,omitempty"` // "manual" or "auto"
	Interrupted bool         `json:"interrupted,omitempty"`

	// ArchivePath is set when capture materialized the changed files
	// locally; ArchiveURL once the archive was uploaded. Either may be
	// empty: a snapshot whose changes were all deletions has no
	// content to carry.
	ArchivePath string `json:"archive_path,omitempty"`
	ArchiveURL  string `json:"archive_url,omitempty"`
}
