// Package github creates repositories and pushes a workspace snapshot as a
// single commit through the Git Data API.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// APIError is a non-2xx GitHub response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API error %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Repo is the subset of a repository resource the pipeline needs.
type Repo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// File is one workspace file to commit.
type File struct {
	Path    string
	Content []byte
}

// Client talks to the GitHub REST API with a caller-supplied token.
type Client struct {
	cfg        *Config
	httpClient *http.Client
}

// NewClient creates a new GitHub client.
func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// CurrentUser returns the login that owns token.
func (c *Client) CurrentUser(ctx context.Context, token string) (string, error) {
	var out struct {
		Login string `json:"login"`
	}
	if err := c.do(ctx, token, http.MethodGet, "/user", nil, &out); err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	return out.Login, nil
}

// CreateRepo creates a repository for the authenticated user. A repository
// that already exists (422) is looked up and returned instead.
func (c *Client) CreateRepo(ctx context.Context, token, name, description string, private bool) (*Repo, error) {
	in := map[string]any{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   true,
	}
	var repo Repo
	err := c.do(ctx, token, http.MethodPost, "/user/repos", in, &repo)
	if err == nil {
		return &repo, nil
	}
	if !IsStatus(err, http.StatusUnprocessableEntity) {
		return nil, fmt.Errorf("create repo: %w", err)
	}

	owner, err := c.CurrentUser(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.do(ctx, token, http.MethodGet, "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(name), nil, &repo); err != nil {
		return nil, fmt.Errorf("get existing repo: %w", err)
	}
	return &repo, nil
}

// PushFiles commits files as the complete tree of branch and moves the
// branch to the new commit. The previous head, if any, becomes the parent.
func (c *Client) PushFiles(ctx context.Context, token, owner, repo, branch, message string, files []File) (string, error) {
	if len(files) == 0 {
		return "", errors.New("no files to push")
	}
	if branch == "" {
		branch = c.cfg.Branch
	}
	base := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/git"

	parents := []string{}
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	err := c.do(ctx, token, http.MethodGet, base+"/ref/heads/"+branch, nil, &ref)
	switch {
	case err == nil:
		parents = []string{ref.Object.SHA}
	case IsStatus(err, http.StatusNotFound), IsStatus(err, http.StatusConflict):
		// empty repository
	default:
		return "", fmt.Errorf("get ref: %w", err)
	}

	type treeEntry struct {
		Path string `json:"path"`
		Mode string `json:"mode"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	}
	tree := make([]treeEntry, 0, len(files))
	for _, f := range files {
		var blob struct {
			SHA string `json:"sha"`
		}
		in := map[string]string{
			"content":  base64.StdEncoding.EncodeToString(f.Content),
			"encoding": "base64",
		}
		if err := c.do(ctx, token, http.MethodPost, base+"/blobs", in, &blob); err != nil {
			return "", fmt.Errorf("create blob %s: %w", f.Path, err)
		}
		tree = append(tree, treeEntry{Path: f.Path, Mode: "100644", Type: "blob", SHA: blob.SHA})
	}

	var treeOut struct {
		SHA string `json:"sha"`
	}
	if err := c.do(ctx, token, http.MethodPost, base+"/trees", map[string]any{"tree": tree}, &treeOut); err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	commitIn := map[string]any{"message": message, "tree": treeOut.SHA, "parents": parents}
	if err := c.do(ctx, token, http.MethodPost, base+"/commits", commitIn, &commit); err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	err = c.do(ctx, token, http.MethodPatch, base+"/refs/heads/"+branch, map[string]any{"sha": commit.SHA, "force": true}, nil)
	if IsStatus(err, http.StatusNotFound) || IsStatus(err, http.StatusUnprocessableEntity) {
		err = c.do(ctx, token, http.MethodPost, base+"/refs", map[string]any{"ref": "refs/heads/" + branch, "sha": commit.SHA}, nil)
	}
	if err != nil {
		return "", fmt.Errorf("update ref: %w", err)
	}
	return commit.SHA, nil
}

// Excluded reports whether a workspace path is left out of a push.
func Excluded(path string) bool {
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		switch segment {
		case "node_modules", ".git", "dist":
			return true
		}
	}
	return false
}

func (c *Client) do(ctx context.Context, token, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.Message == "" {
			msg.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg.Message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
