package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sykell/site-replicator/internal/crawler"
	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/github"
	"github.com/sykell/site-replicator/internal/llm"
	"github.com/sykell/site-replicator/internal/logger"
	"github.com/sykell/site-replicator/internal/safety"
	"github.com/sykell/site-replicator/internal/sandbox"
	"github.com/sykell/site-replicator/internal/service"
)

type fakeImage struct {
	data        []byte
	contentType string
}

type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string]string
	images    map[string]fakeImage
	fetches   []string
	downloads []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, images: map[string]fakeImage{}}
}

func (f *fakeFetcher) FetchHTML(_ context.Context, rawURL string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, rawURL)
	page, ok := f.pages[rawURL]
	return page, ok
}

func (f *fakeFetcher) Download(_ context.Context, rawURL string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, rawURL)
	img, ok := f.images[rawURL]
	if !ok {
		return nil, "", errors.New("HTTP 404: 404 Not Found")
	}
	return img.data, img.contentType, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches) + len(f.downloads)
}

func jpeg(size int) fakeImage {
	return fakeImage{data: make([]byte, size), contentType: "image/jpeg"}
}

type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) (*llm.Response, error)
}

func (f *fakeLLM) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.reply == nil {
		return nil, errors.New("no reply configured")
	}
	return f.reply(req)
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// textResponse builds a completion envelope whose first choice carries text.
func textResponse(t *testing.T, text string) *llm.Response {
	t.Helper()
	content, err := json.Marshal(text)
	require.NoError(t, err)
	var resp llm.Response
	require.NoError(t, json.Unmarshal([]byte(`{"choices":[{"message":{"role":"assistant","content":`+string(content)+`}}]}`), &resp))
	return &resp
}

type fakeSandbox struct {
	mu        sync.Mutex
	created   int
	files     map[string]string
	binary    map[string][]byte
	commands  []string
	exitCodes map[string]int
	persisted int
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{files: map[string]string{}, binary: map[string][]byte{}, exitCodes: map[string]int{}}
}

func (s *fakeSandbox) CreateSandbox(_ context.Context, _ uint, _ string, _ sandbox.Limits) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return "sbx-1", nil
}

func (s *fakeSandbox) ExecuteCommand(_ context.Context, _ string, _ uint, command string, _ sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, command)
	return &sandbox.ExecResult{ExitCode: s.exitCodes[command], Output: "ran " + command}, nil
}

func (s *fakeSandbox) WriteFile(_ context.Context, _ string, _ uint, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
	return nil
}

func (s *fakeSandbox) WriteBinaryFile(_ context.Context, _ string, _ uint, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binary[path] = data
	return nil
}

func (s *fakeSandbox) ReadFile(_ context.Context, _ string, _ uint, path string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content, ok := s.files[path]; ok {
		return content, true, nil
	}
	// The text channel cannot carry arbitrary bytes.
	if data, ok := s.binary[path]; ok {
		return strings.ToValidUTF8(string(data), "\uFFFD"), true, nil
	}
	return "", false, nil
}

func (s *fakeSandbox) ReadBinaryFile(_ context.Context, _ string, _ uint, path string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, ok := s.binary[path]; ok {
		return data, true, nil
	}
	if content, ok := s.files[path]; ok {
		return []byte(content), true, nil
	}
	return nil, false, nil
}

func (s *fakeSandbox) ListFiles(_ context.Context, _ string, _ uint, _ string) ([]sandbox.FileEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for p := range s.files {
		paths = append(paths, p)
	}
	for p := range s.binary {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := []sandbox.FileEntry{{Path: "src", IsDirectory: true}}
	for _, p := range paths {
		entries = append(entries, sandbox.FileEntry{Path: p})
	}
	return entries, nil
}

func (s *fakeSandbox) PersistWorkspace(_ context.Context, _ string, _ uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted++
	return nil
}

type fakeBlob struct {
	mu   sync.Mutex
	puts map[string]string
}

func (b *fakeBlob) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts[key] = string(data)
	return "https://blobs.example.com/" + key, nil
}

type fakeGit struct {
	createErr error
	tokens    []string
	owner     string
	repo      string
	pushed    []github.File
}

func (g *fakeGit) CurrentUser(_ context.Context, token string) (string, error) {
	g.tokens = append(g.tokens, token)
	return "octo", nil
}

func (g *fakeGit) CreateRepo(_ context.Context, token, name, _ string, _ bool) (*github.Repo, error) {
	g.tokens = append(g.tokens, token)
	if g.createErr != nil {
		return nil, g.createErr
	}
	repo := &github.Repo{Name: name, HTMLURL: "https://github.com/octo/" + name, DefaultBranch: "main"}
	repo.Owner.Login = "octo"
	return repo, nil
}

func (g *fakeGit) PushFiles(_ context.Context, _, owner, repo, _, _ string, files []github.File) (string, error) {
	g.owner, g.repo, g.pushed = owner, repo, files
	return "commit1", nil
}

type harness struct {
	db      *gorm.DB
	userID  uint
	fetch   *fakeFetcher
	llm     *fakeLLM
	sandbox *fakeSandbox
	blob    *fakeBlob
	git     *fakeGit
	vault   *service.SecretBox
	p       *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dbConn, err := db.Open(sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	user, err := service.CreateUser(dbConn, "alice", "secret-pass")
	require.NoError(t, err)

	h := &harness{
		db:      dbConn,
		userID:  user.ID,
		fetch:   newFakeFetcher(),
		llm:     &fakeLLM{},
		sandbox: newFakeSandbox(),
		blob:    &fakeBlob{puts: map[string]string{}},
		git:     &fakeGit{},
		vault:   service.NewSecretBox("test-key"),
	}

	crawlCfg := crawler.DefaultConfig()
	crawlCfg.Delay = 0
	log := logger.Discard()
	h.p = New(Deps{
		DB:        dbConn,
		Log:       log,
		Fetch:     h.fetch,
		Crawler:   crawler.New(h.fetch, nil, crawlCfg, log),
		Extractor: extract.Default(),
		Gate:      safety.NewGate(nil, safety.Config{SelfHosts: []string{"replicator.example.com"}}),
		LLM:       h.llm,
		Sandbox:   h.sandbox,
		Blob:      h.blob,
		Git:       h.git,
		Vault:     h.vault,
		Resolver:  NewResolver(h.fetch, "https://search.example.com/html/"),
	}, nil)
	return h
}

func (h *harness) reload(t *testing.T, id string) *db.ReplicateProject {
	t.Helper()
	project, err := service.GetProject(h.db, id, h.userID)
	require.NoError(t, err)
	return project
}

func logMessages(project *db.ReplicateProject, step int, status string) []string {
	var out []string
	for _, e := range project.BuildLog {
		if e.Step == step && string(e.Status) == status {
			out = append(out, e.Message)
		}
	}
	return out
}

func containsMessage(messages []string, substr string) bool {
	for _, m := range messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}
