package pipeline

import (
	"context"
	"fmt"

	"github.com/sykell/site-replicator/internal/crawler"
	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/github"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/service"
)

// PushResult is the result of PushToGithub.
type PushResult struct {
	Success bool   `json:"success"`
	RepoURL string `json:"repoUrl"`
	Message string `json:"message"`
}

// GithubToken returns the project's token, or the user's vault token.
func (p *Pipeline) GithubToken(project *db.ReplicateProject) (string, error) {
	if project.GithubPAT != "" {
		return project.GithubPAT, nil
	}
	if p.vault == nil {
		return "", ErrMissingGithubToken
	}
	token, err := service.GetUserSecret(p.db, p.vault, project.UserID, service.SecretGithubToken)
	if err != nil {
		return "", fmt.Errorf("read github token: %w", err)
	}
	if token == "" {
		return "", ErrMissingGithubToken
	}
	return token, nil
}

// PushToGithub creates repoName (or reuses it) and commits the sandbox
// workspace to it. Precondition failures leave the status untouched; any
// failure after that reverts the project to build_complete so the push can
// be retried without rebuilding.
func (p *Pipeline) PushToGithub(ctx context.Context, projectID string, userID uint, repoName string) (*PushResult, error) {
	project, err := service.GetProject(p.db, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if err := Precheck(project, StagePush); err != nil {
		return nil, err
	}
	token, err := p.GithubToken(project)
	if err != nil {
		return nil, err
	}
	log := p.stageLogger(StagePush, project)
	if repoName == "" {
		repoName = defaultRepoName(project)
	}

	if err := p.transition(project, db.StatusPushing, "Pushing to GitHub"); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	p.appendLog(log, project, 0, model.LogRunning, "Pushing to GitHub repository "+repoName)

	revert := func(err error) (*PushResult, error) {
		log.Error("push failed", "error", err)
		message := fmt.Sprintf("GitHub push failed: %v", err)
		p.appendLog(log, project, 0, model.LogError, message)
		if uerr := p.transition(project, db.StatusBuildComplete, message); uerr != nil {
			log.Error("failed to revert status", "error", uerr)
		}
		return nil, err
	}

	description := "Clone of " + project.TargetURL
	repo, err := p.git.CreateRepo(ctx, token, repoName, description, true)
	if err != nil {
		return revert(err)
	}
	owner := repo.Owner.Login
	if owner == "" {
		if owner, err = p.git.CurrentUser(ctx, token); err != nil {
			return revert(err)
		}
	}

	files, err := p.workspaceFiles(ctx, project)
	if err != nil {
		return revert(err)
	}
	if len(files) == 0 {
		return revert(fmt.Errorf("workspace has no files to push"))
	}

	sha, err := p.git.PushFiles(ctx, token, owner, repoName, repo.DefaultBranch, "Initial commit of "+repoName, files)
	if err != nil {
		return revert(err)
	}

	repoURL := repo.HTMLURL
	if repoURL == "" {
		repoURL = fmt.Sprintf("https://github.com/%s/%s", owner, repoName)
	}
	project.RepoURL = repoURL
	message := fmt.Sprintf("Pushed %d files to %s", len(files), repoURL)
	if err := p.transition(project, db.StatusPushed, message, "repo_url"); err != nil {
		return revert(fmt.Errorf("store repo url: %w", err))
	}
	p.appendLog(log, project, 0, model.LogSuccess, message)
	log.Info("push complete", "repo", repoURL, "commit", sha, "files", len(files))
	return &PushResult{Success: true, RepoURL: repoURL, Message: message}, nil
}

// workspaceFiles reads every pushable file of the project's sandbox.
func (p *Pipeline) workspaceFiles(ctx context.Context, project *db.ReplicateProject) ([]github.File, error) {
	sandboxID := *project.SandboxID
	entries, err := p.sandbox.ListFiles(ctx, sandboxID, project.UserID, ".")
	if err != nil {
		return nil, err
	}
	var files []github.File
	for _, entry := range entries {
		if entry.IsDirectory || github.Excluded(entry.Path) {
			continue
		}
		content, ok, err := p.readWorkspaceFile(ctx, sandboxID, project.UserID, entry.Path)
		if err != nil {
			return nil, err
		}
		clean, valid := workspacePath(entry.Path)
		if !ok || !valid {
			continue
		}
		files = append(files, github.File{Path: clean, Content: content})
	}
	return files, nil
}

func defaultRepoName(project *db.ReplicateProject) string {
	name := project.BrandName
	if name == "" && project.ResearchData != nil {
		name = project.ResearchData.SiteName
	}
	if name == "" {
		name = project.TargetName
	}
	slug := crawler.Slugify(name)
	if slug == "" {
		slug = "site"
	}
	return slug + "-clone"
}
