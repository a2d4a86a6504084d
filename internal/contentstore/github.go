package contentstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
)

// DefaultRetryDelay is the pause before the single retry of a transient failure.
const DefaultRetryDelay = 750 * time.Millisecond

// Settings identifies the repository and branch the client writes to.
type Settings struct {
	Owner  string
	Repo   string
	Branch string
	Token  string
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string
}

// Client implements Store against the GitHub REST API.
type Client struct {
	gh         *github.Client
	owner      string
	repo       string
	branch     string
	retryDelay time.Duration
	logger     Logger
}

// Option customises a Client.
type Option func(*Client)

// WithLogger routes request diagnostics to l.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryDelay overrides the pause before retrying a transient failure.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

// WithHTTPClient replaces the HTTP client, including any token transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			base := c.gh.BaseURL
			c.gh = github.NewClient(hc)
			c.gh.BaseURL = base
		}
	}
}

// NewClient builds a GitHub-backed store.
func NewClient(settings Settings, opts ...Option) (*Client, error) {
	owner := strings.TrimSpace(settings.Owner)
	repo := strings.TrimSpace(settings.Repo)
	branch := strings.TrimSpace(settings.Branch)
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("contentstore: owner and repo are required")
	}
	if branch == "" {
		branch = "main"
	}
	var httpClient *http.Client
	if token := strings.TrimSpace(settings.Token); token != "" {
		httpClient = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	c := &Client{
		gh:         github.NewClient(httpClient),
		owner:      owner,
		repo:       repo,
		branch:     branch,
		retryDelay: DefaultRetryDelay,
		logger:     nopLogger{},
	}
	if raw := strings.TrimSpace(settings.BaseURL); raw != "" {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("contentstore: parse base url: %w", err)
		}
		c.gh.BaseURL = u
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Branch returns the branch the client targets.
func (c *Client) Branch() string { return c.branch }

// GetFile reads and decodes one file at the branch tip.
func (c *Client) GetFile(ctx context.Context, path string) (File, error) {
	var out File
	err := c.do(ctx, "get_file", func() error {
		file, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{Ref: c.branch})
		if err != nil {
			return err
		}
		if file == nil {
			return backoff.Permanent(fmt.Errorf("contentstore: %s is a directory", path))
		}
		content, err := file.GetContent()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("contentstore: decode %s: %w", path, err))
		}
		out = File{Path: file.GetPath(), SHA: file.GetSHA(), Content: []byte(content)}
		return nil
	})
	return out, err
}

// ListDir lists a directory at the branch tip.
func (c *Client) ListDir(ctx context.Context, path string) ([]Entry, error) {
	var out []Entry
	err := c.do(ctx, "list_dir", func() error {
		file, dir, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{Ref: c.branch})
		if err != nil {
			return err
		}
		if file != nil {
			return backoff.Permanent(fmt.Errorf("contentstore: %s is not a directory", path))
		}
		out = make([]Entry, 0, len(dir))
		for _, item := range dir {
			out = append(out, Entry{
				Name: item.GetName(),
				Path: item.GetPath(),
				SHA:  item.GetSHA(),
				Dir:  item.GetType() == "dir",
			})
		}
		return nil
	})
	return out, err
}

// PutFile creates or updates a single file, returning the new commit sha.
func (c *Client) PutFile(ctx context.Context, path string, content []byte, message, priorSHA string) (string, error) {
	var commit string
	err := c.do(ctx, "put_file", func() error {
		opts := &github.RepositoryContentFileOptions{
			Message: github.String(message),
			Content: content,
			Branch:  github.String(c.branch),
		}
		var (
			resp *github.RepositoryContentResponse
			err  error
		)
		if priorSHA != "" {
			opts.SHA = github.String(priorSHA)
			resp, _, err = c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
		} else {
			resp, _, err = c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
		}
		if err != nil {
			return err
		}
		commit = resp.Commit.GetSHA()
		return nil
	})
	return commit, err
}

// CreateBlob stores content as an unreferenced git blob.
func (c *Client) CreateBlob(ctx context.Context, content []byte, enc Encoding) (string, error) {
	payload := string(content)
	if enc == EncodingBase64 {
		payload = base64.StdEncoding.EncodeToString(content)
	} else {
		enc = EncodingUTF8
	}
	var sha string
	err := c.do(ctx, "create_blob", func() error {
		blob, _, err := c.gh.Git.CreateBlob(ctx, c.owner, c.repo, &github.Blob{
			Content:  github.String(payload),
			Encoding: github.String(string(enc)),
		})
		if err != nil {
			return err
		}
		sha = blob.GetSHA()
		return nil
	})
	return sha, err
}

// CreateTree layers entries on top of baseTree.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error) {
	items := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, &github.TreeEntry{
			Path: github.String(e.Path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  github.String(e.BlobSHA),
		})
	}
	var sha string
	err := c.do(ctx, "create_tree", func() error {
		tree, _, err := c.gh.Git.CreateTree(ctx, c.owner, c.repo, baseTree, items)
		if err != nil {
			return err
		}
		sha = tree.GetSHA()
		return nil
	})
	return sha, err
}

// CreateCommit records tree with the given parents.
func (c *Client) CreateCommit(ctx context.Context, message, tree string, parents ...string) (string, error) {
	commit := &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(tree)},
	}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.String(p)})
	}
	var sha string
	err := c.do(ctx, "create_commit", func() error {
		created, _, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, commit, nil)
		if err != nil {
			return err
		}
		sha = created.GetSHA()
		return nil
	})
	return sha, err
}

// BranchHead resolves the branch tip commit and its tree.
func (c *Client) BranchHead(ctx context.Context) (Head, error) {
	var head Head
	err := c.do(ctx, "branch_head", func() error {
		ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+c.branch)
		if err != nil {
			return err
		}
		sha := ref.GetObject().GetSHA()
		commit, _, err := c.gh.Git.GetCommit(ctx, c.owner, c.repo, sha)
		if err != nil {
			return err
		}
		head = Head{Commit: sha, Tree: commit.GetTree().GetSHA()}
		return nil
	})
	return head, err
}

// UpdateBranch fast-forwards the branch. A branch that moved since it was
// read is reported as ErrConflict.
func (c *Client) UpdateBranch(ctx context.Context, commit string) error {
	return c.do(ctx, "update_branch", func() error {
		_, _, err := c.gh.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
			Ref:    github.String("refs/heads/" + c.branch),
			Object: &github.GitObject{SHA: github.String(commit)},
		}, false)
		return err
	})
}

// do runs fn, retrying it once after a transient failure, and maps the
// final error onto the package sentinels.
func (c *Client) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	err := backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt == 1 {
			retryCounter.WithLabelValues(op).Inc()
			c.logger.Printf("contentstore: %s transient failure, retrying: %v", op, err)
		}
		return err
	}, policy)
	observe(op, err)
	if err != nil {
		c.logger.Printf("contentstore: %s failed: %v", op, err)
		return classify(op, err)
	}
	return nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response == nil {
			return false
		}
		code := respErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func classify(op string, err error) error {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("contentstore: %s: %w", op, ErrNotFound)
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return fmt.Errorf("contentstore: %s: %w: %s", op, ErrConflict, respErr.Message)
		}
	}
	return fmt.Errorf("contentstore: %s: %w", op, err)
}
