package contentstore

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Op names a Store operation for failure injection and call counting.
type Op string

const (
	OpGetFile      Op = "get_file"
	OpListDir      Op = "list_dir"
	OpPutFile      Op = "put_file"
	OpCreateBlob   Op = "create_blob"
	OpCreateTree   Op = "create_tree"
	OpCreateCommit Op = "create_commit"
	OpBranchHead   Op = "branch_head"
	OpUpdateBranch Op = "update_branch"
)

// Memory is an in-process content store with git-like object semantics:
// blobs, flat trees and commits are immutable and only the branch ref moves.
type Memory struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	trees   map[string]map[string]string
	commits map[string]MemoryCommit
	head    string
	seq     int
	failing map[Op]error
	calls   map[Op]int
}

// MemoryCommit is a commit recorded by Memory.
type MemoryCommit struct {
	SHA     string
	Message string
	Tree    string
	Parents []string
}

// NewMemory returns a store whose branch points at an empty root commit.
func NewMemory() *Memory {
	m := &Memory{
		blobs:   map[string][]byte{},
		trees:   map[string]map[string]string{},
		commits: map[string]MemoryCommit{},
		failing: map[Op]error{},
		calls:   map[Op]int{},
	}
	tree := m.putTree(map[string]string{})
	m.head = m.putCommit("initial commit", tree, nil)
	return m
}

// Seed writes files directly onto the branch in a single commit.
func (m *Memory) Seed(files map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := cloneTree(m.trees[m.commits[m.head].Tree])
	for p, content := range files {
		entries[cleanPath(p)] = m.putBlob(content)
	}
	tree := m.putTree(entries)
	m.head = m.putCommit("seed", tree, []string{m.head})
}

// FailOn makes every later call of op return err until cleared with a nil err.
func (m *Memory) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, op)
		return
	}
	m.failing[op] = err
}

// Calls reports how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Head returns the current branch tip commit sha.
func (m *Memory) Head() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

// Commit looks up a recorded commit.
func (m *Memory) Commit(sha string) (MemoryCommit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	return c, ok
}

// Changed lists the paths whose blobs differ between a commit and its first parent.
func (m *Memory) Changed(sha string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[sha]
	if !ok {
		return nil
	}
	var before map[string]string
	if len(c.Parents) > 0 {
		before = m.trees[m.commits[c.Parents[0]].Tree]
	}
	after := m.trees[c.Tree]
	var out []string
	for p, blob := range after {
		if before[p] != blob {
			out = append(out, p)
		}
	}
	for p := range before {
		if _, ok := after[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Files returns every file at the branch tip.
func (m *Memory) Files() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]byte{}
	for p, blob := range m.trees[m.commits[m.head].Tree] {
		out[p] = append([]byte(nil), m.blobs[blob]...)
	}
	return out
}

// MoveBranch simulates another writer committing to the branch.
func (m *Memory) MoveBranch(message string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree := m.commits[m.head].Tree
	m.head = m.putCommit(message, tree, []string{m.head})
	return m.head
}

func (m *Memory) GetFile(ctx context.Context, p string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpGetFile); err != nil {
		return File{}, err
	}
	p = cleanPath(p)
	blob, ok := m.trees[m.commits[m.head].Tree][p]
	if !ok {
		return File{}, fmt.Errorf("contentstore: get_file %s: %w", p, ErrNotFound)
	}
	return File{Path: p, SHA: blob, Content: append([]byte(nil), m.blobs[blob]...)}, nil
}

func (m *Memory) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpListDir); err != nil {
		return nil, err
	}
	dir = cleanPath(dir)
	prefix := dir + "/"
	seen := map[string]Entry{}
	for p, blob := range m.trees[m.commits[m.head].Tree] {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			name := rest[:i]
			seen[name] = Entry{Name: name, Path: prefix + name, Dir: true}
			continue
		}
		seen[rest] = Entry{Name: rest, Path: p, SHA: blob}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("contentstore: list_dir %s: %w", dir, ErrNotFound)
	}
	out := make([]Entry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) PutFile(ctx context.Context, p string, content []byte, message, priorSHA string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpPutFile); err != nil {
		return "", err
	}
	p = cleanPath(p)
	entries := cloneTree(m.trees[m.commits[m.head].Tree])
	current, exists := entries[p]
	if exists && current != priorSHA {
		return "", fmt.Errorf("contentstore: put_file %s: %w: sha does not match", p, ErrConflict)
	}
	if !exists && priorSHA != "" {
		return "", fmt.Errorf("contentstore: put_file %s: %w: file does not exist", p, ErrConflict)
	}
	entries[p] = m.putBlob(content)
	tree := m.putTree(entries)
	m.head = m.putCommit(message, tree, []string{m.head})
	return m.head, nil
}

func (m *Memory) CreateBlob(ctx context.Context, content []byte, _ Encoding) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCreateBlob); err != nil {
		return "", err
	}
	return m.putBlob(content), nil
}

func (m *Memory) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCreateTree); err != nil {
		return "", err
	}
	base, ok := m.trees[baseTree]
	if !ok {
		return "", fmt.Errorf("contentstore: create_tree base %s: %w", baseTree, ErrNotFound)
	}
	next := cloneTree(base)
	for _, e := range entries {
		if _, ok := m.blobs[e.BlobSHA]; !ok {
			return "", fmt.Errorf("contentstore: create_tree blob %s: %w", e.BlobSHA, ErrNotFound)
		}
		next[cleanPath(e.Path)] = e.BlobSHA
	}
	return m.putTree(next), nil
}

func (m *Memory) CreateCommit(ctx context.Context, message, tree string, parents ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCreateCommit); err != nil {
		return "", err
	}
	if _, ok := m.trees[tree]; !ok {
		return "", fmt.Errorf("contentstore: create_commit tree %s: %w", tree, ErrNotFound)
	}
	for _, p := range parents {
		if _, ok := m.commits[p]; !ok {
			return "", fmt.Errorf("contentstore: create_commit parent %s: %w", p, ErrNotFound)
		}
	}
	return m.putCommit(message, tree, parents), nil
}

func (m *Memory) BranchHead(ctx context.Context) (Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpBranchHead); err != nil {
		return Head{}, err
	}
	return Head{Commit: m.head, Tree: m.commits[m.head].Tree}, nil
}

func (m *Memory) UpdateBranch(ctx context.Context, commit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpUpdateBranch); err != nil {
		return err
	}
	c, ok := m.commits[commit]
	if !ok {
		return fmt.Errorf("contentstore: update_branch %s: %w", commit, ErrNotFound)
	}
	if !m.descendsFrom(c, m.head) {
		return fmt.Errorf("contentstore: update_branch: %w: not a fast forward", ErrConflict)
	}
	m.head = commit
	return nil
}

func (m *Memory) enter(ctx context.Context, op Op) error {
	m.calls[op]++
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("contentstore: %s: %w", op, err)
		}
	}
	if err, ok := m.failing[op]; ok {
		return fmt.Errorf("contentstore: %s: %w", op, err)
	}
	return nil
}

func (m *Memory) descendsFrom(c MemoryCommit, ancestor string) bool {
	if c.SHA == ancestor {
		return true
	}
	for _, p := range c.Parents {
		if parent, ok := m.commits[p]; ok && m.descendsFrom(parent, ancestor) {
			return true
		}
	}
	return false
}

func (m *Memory) putBlob(content []byte) string {
	sha := hash("blob", string(content))
	if _, ok := m.blobs[sha]; !ok {
		m.blobs[sha] = append([]byte(nil), content...)
	}
	return sha
}

func (m *Memory) putTree(entries map[string]string) string {
	keys := make([]string, 0, len(entries))
	for p := range entries {
		keys = append(keys, p)
	}
	sort.Strings(keys)
	parts := []string{"tree"}
	for _, p := range keys {
		parts = append(parts, p, entries[p])
	}
	sha := hash(parts...)
	if _, ok := m.trees[sha]; !ok {
		m.trees[sha] = entries
	}
	return sha
}

func (m *Memory) putCommit(message, tree string, parents []string) string {
	m.seq++
	parts := append([]string{"commit", fmt.Sprint(m.seq), message, tree}, parents...)
	sha := hash(parts...)
	m.commits[sha] = MemoryCommit{SHA: sha, Message: message, Tree: tree, Parents: append([]string(nil), parents...)}
	return sha
}

func hash(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneTree(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(p)), "/")
}
