// Package remote defines the collaborators the sync coordinator talks to:
// a tabular row store, a blob store and a credential provider.
package remote

import (
	"context"
)

// Scopes requested from the credential provider.
const (
	ScopeSheets = "https://www.googleapis.com/auth/spreadsheets"
	ScopeDrive  = "https://www.googleapis.com/auth/drive.file"
)

// TabularStore reads and writes rows addressed by A1-style ranges
// such as "TestResults!A:Q".
type TabularStore interface {
	Get(ctx context.Context, rng string) ([][]string, error)
	Append(ctx context.Context, rng string, rows [][]string) error
	Update(ctx context.Context, rng string, rows [][]string) error
}

// BlobStore stores attachment bytes and returns shareable links.
type BlobStore interface {
	// EnsureFolder returns the id of the folder name under parent, creating it
	// if needed. An empty parent means the store root.
	EnsureFolder(ctx context.Context, name, parent string) (string, error)
	// Upload stores data in folder and returns a retrievable link.
	Upload(ctx context.Context, data []byte, filename, mimeType, folder string) (string, error)
}

// CredentialProvider yields bearer tokens. RequestAccess may prompt the
// user and may be denied.
type CredentialProvider interface {
	IsAuthenticated(ctx context.Context) bool
	Token(ctx context.Context) (string, error)
	RequestAccess(ctx context.Context, scope string) (bool, error)
}
