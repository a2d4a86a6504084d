// Package contentstore talks to the content repository that backs published
// results. It offers single-file reads and writes plus the low-level git object
// primitives (blob, tree, commit, branch ref) needed to change many files in
// one commit. Client speaks to GitHub; Memory is an in-process twin used for
// tests and offline runs.
package contentstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a path, ref or object does not exist.
	ErrNotFound = errors.New("contentstore: not found")
	// ErrConflict is returned when a write lost a race: a stale file sha or a
	// branch that moved since it was read.
	ErrConflict = errors.New("contentstore: conflict")
)

// Encoding tells the store how blob content is transmitted.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
)

// File is a decoded file read from the branch tip.
type File struct {
	Path    string
	SHA     string
	Content []byte
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Path string
	SHA  string
	Dir  bool
}

// TreeEntry places a blob at a path in a new tree.
type TreeEntry struct {
	Path    string
	BlobSHA string
}

// Head is the tip of the target branch.
type Head struct {
	Commit string
	Tree   string
}

// Store is the full content store surface.
type Store interface {
	GetFile(ctx context.Context, path string) (File, error)
	ListDir(ctx context.Context, path string) ([]Entry, error)
	// PutFile creates or replaces one file in its own commit. priorSHA must
	// carry the current blob sha when replacing an existing file.
	PutFile(ctx context.Context, path string, content []byte, message, priorSHA string) (string, error)
	CreateBlob(ctx context.Context, content []byte, enc Encoding) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, message, tree string, parents ...string) (string, error)
	BranchHead(ctx context.Context) (Head, error)
	// UpdateBranch fast-forwards the branch to commit; it never forces.
	UpdateBranch(ctx context.Context, commit string) error
}

// Logger receives diagnostic lines from the client.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// FileSHA returns the blob sha of path, or "" when it does not exist yet.
func FileSHA(ctx context.Context, s Store, path string) (string, error) {
	f, err := s.GetFile(ctx, path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return f.SHA, nil
}
