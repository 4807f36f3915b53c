package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/github"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/sandbox"
	"github.com/sykell/site-replicator/internal/service"
)

const commandTimeout = 120 * time.Second

// CommandResult is the outcome of one build command. Err is set when the
// command could not be run at all.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output,omitempty"`
	Err      string `json:"error,omitempty"`
}

// StepResult records what a build step attempted. A step is complete when
// it was attempted, whatever its file and command failures.
type StepResult struct {
	Step           int             `json:"step"`
	Title          string          `json:"title"`
	Attempted      bool            `json:"attempted"`
	FilesWritten   int             `json:"filesWritten"`
	FileErrors     []string        `json:"fileErrors,omitempty"`
	CommandResults []CommandResult `json:"commandResults,omitempty"`
}

// ImageWriteResult counts image writes for one image set.
type ImageWriteResult struct {
	Source  string `json:"source"`
	Written int    `json:"written"`
	Failed  int    `json:"failed"`
}

// BuildOutcome is the result of ExecuteBuild.
type BuildOutcome struct {
	Success      bool               `json:"success"`
	Message      string             `json:"message"`
	Steps        []StepResult       `json:"steps"`
	Images       []ImageWriteResult `json:"images"`
	FilesIndexed int                `json:"filesIndexed"`
}

// ExecuteBuild runs every step of the stored plan against the project's
// sandbox, copies the downloaded images into public/images, persists the
// workspace and indexes its files. Steps are best effort: file generation
// and command failures are logged and the loop moves on.
func (p *Pipeline) ExecuteBuild(ctx context.Context, projectID string, userID uint) (*BuildOutcome, error) {
	project, err := service.GetProject(p.db, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	if err := Precheck(project, StageBuild); err != nil {
		return nil, err
	}
	log := p.stageLogger(StageBuild, project)
	plan := project.BuildPlan

	project.CurrentStep = 0
	project.TotalSteps = len(plan.BuildSteps)
	if err := p.transition(project, db.StatusBuilding, "Preparing sandbox", "current_step", "total_steps"); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}

	sandboxID, err := p.ensureSandbox(ctx, project)
	if err != nil {
		return nil, p.fail(log, project, 0, err)
	}

	apiKey := p.userAPIKey(userID)
	branding := project.Branding()
	stripe := stripeConfig(project)
	outcome := &BuildOutcome{Steps: make([]StepResult, 0, len(plan.BuildSteps))}

	for i, step := range plan.BuildSteps {
		if err := ctx.Err(); err != nil {
			return nil, p.fail(log, project, step.Step, fmt.Errorf("build interrupted: %w", err))
		}
		project.CurrentStep = i + 1
		if err := p.transition(project, db.StatusBuilding, fmt.Sprintf("Step %d/%d: %s", i+1, len(plan.BuildSteps), step.Title), "current_step"); err != nil {
			log.Warn("failed to update progress", "error", err)
		}
		p.appendLog(log, project, step.Step, model.LogRunning, fmt.Sprintf("Step %d: %s", step.Step, step.Title))

		result := p.runStep(ctx, log, project, sandboxID, step, apiKey, branding, stripe)
		outcome.Steps = append(outcome.Steps, result)

		p.appendLog(log, project, step.Step, model.LogSuccess, fmt.Sprintf("Step %d complete: %d files written, %d commands run", step.Step, result.FilesWritten, len(result.CommandResults)))
	}

	if research := project.ResearchData; research != nil {
		outcome.Images = append(outcome.Images,
			p.writeImages(ctx, log, project, sandboxID, "site", research.SiteImages),
			p.writeImages(ctx, log, project, sandboxID, "catalog", research.CatalogImages),
		)
	}

	p.progress(log, project, "Persisting workspace")
	if err := p.sandbox.PersistWorkspace(ctx, sandboxID, userID); err != nil {
		return nil, p.fail(log, project, 0, err)
	}
	indexed, err := p.indexFiles(ctx, log, project, sandboxID)
	if err != nil {
		return nil, p.fail(log, project, 0, err)
	}
	outcome.FilesIndexed = indexed

	project.OutputFiles = make([]string, 0, len(plan.FileStructure))
	for _, f := range plan.FileStructure {
		project.OutputFiles = append(project.OutputFiles, f.Path)
	}
	outcome.Success = true
	outcome.Message = fmt.Sprintf("Build complete: %d steps, %d files indexed", len(outcome.Steps), indexed)
	if err := p.transition(project, db.StatusBuildComplete, outcome.Message, "output_files"); err != nil {
		return nil, p.fail(log, project, 0, fmt.Errorf("store build output: %w", err))
	}
	p.appendLog(log, project, 0, model.LogSuccess, outcome.Message)
	log.Info("build complete", "steps", len(outcome.Steps), "files", indexed)
	return outcome, nil
}

// ensureSandbox returns the project's sandbox, creating it on first use.
// The ID is stored at once so a retried build reuses the workspace.
func (p *Pipeline) ensureSandbox(ctx context.Context, project *db.ReplicateProject) (string, error) {
	if project.SandboxID != nil && *project.SandboxID != "" {
		return *project.SandboxID, nil
	}
	name := "replicate-" + project.ID
	if len(project.ID) > 8 {
		name = "replicate-" + project.ID[:8]
	}
	id, err := p.sandbox.CreateSandbox(ctx, project.UserID, name, sandbox.Limits{})
	if err != nil {
		return "", err
	}
	project.SandboxID = &id
	if err := service.UpdateProject(p.db, project, "sandbox_id"); err != nil {
		return "", fmt.Errorf("store sandbox id: %w", err)
	}
	return id, nil
}

func (p *Pipeline) runStep(ctx context.Context, log *slog.Logger, project *db.ReplicateProject, sandboxID string, step model.BuildStep, apiKey string, branding model.Branding, stripe model.StripeConfig) StepResult {
	result := StepResult{Step: step.Step, Title: step.Title, Attempted: true}
	userID := project.UserID

	if len(step.Files) > 0 {
		files, err := p.GenerateFileContents(ctx, project.BuildPlan, step, project.ResearchData, branding, stripe, apiKey)
		switch {
		case err != nil:
			result.FileErrors = append(result.FileErrors, err.Error())
			p.appendLog(log, project, step.Step, model.LogError, fmt.Sprintf("File generation failed: %v", err))
		case len(files) == 0:
			result.FileErrors = append(result.FileErrors, "no files generated")
			p.appendLog(log, project, step.Step, model.LogError, "File generation returned no files")
		}
		for _, f := range files {
			if err := p.sandbox.WriteFile(ctx, sandboxID, userID, f.Path, f.Content); err != nil {
				result.FileErrors = append(result.FileErrors, err.Error())
				p.appendLog(log, project, step.Step, model.LogError, fmt.Sprintf("Failed to write %s: %v", f.Path, err))
				continue
			}
			result.FilesWritten++
		}
	}

	for _, command := range step.Commands {
		cr := CommandResult{Command: command}
		res, err := p.sandbox.ExecuteCommand(ctx, sandboxID, userID, command, sandbox.ExecOptions{
			Timeout:          commandTimeout,
			WorkingDirectory: p.cfg.WorkingDirectory,
		})
		if err != nil {
			cr.ExitCode = -1
			cr.Err = err.Error()
			p.appendLog(log, project, step.Step, model.LogError, fmt.Sprintf("Command failed: %s: %v", command, err))
		} else {
			cr.ExitCode = res.ExitCode
			cr.Output = res.Output
			// mkdir exits non-zero when the directory already exists.
			if res.ExitCode != 0 && !isMkdir(command) {
				p.appendLog(log, project, step.Step, model.LogError, fmt.Sprintf("Command exited %d: %s: %s", res.ExitCode, command, tail(res.Output, 500)))
			}
		}
		result.CommandResults = append(result.CommandResults, cr)
	}
	return result
}

// writeImages re-fetches each downloaded image and writes it into
// public/<local path> through the binary write path.
func (p *Pipeline) writeImages(ctx context.Context, log *slog.Logger, project *db.ReplicateProject, sandboxID, source string, images []model.ImageAsset) ImageWriteResult {
	result := ImageWriteResult{Source: source}
	if len(images) == 0 {
		return result
	}
	p.appendLog(log, project, 0, model.LogRunning, fmt.Sprintf("Writing %d %s images", len(images), source))

	for i, img := range images {
		if ctx.Err() != nil {
			result.Failed += len(images) - i
			break
		}
		data, _, err := p.fetch.Download(ctx, img.OriginalURL)
		if err == nil && len(data) > 0 {
			err = p.sandbox.WriteBinaryFile(ctx, sandboxID, project.UserID, path.Join("public", img.LocalPath), data)
		} else if err == nil {
			err = errors.New("empty body")
		}
		if err != nil {
			result.Failed++
			log.Debug("image write failed", "url", img.OriginalURL, "error", err)
		} else {
			result.Written++
		}
		if done := i + 1; done%p.cfg.ImageLogBatch == 0 && done < len(images) {
			p.appendLog(log, project, 0, model.LogRunning, fmt.Sprintf("Wrote %d/%d %s images", done, len(images), source))
		}
	}

	status := model.LogSuccess
	if result.Failed > 0 && result.Written == 0 {
		status = model.LogError
	}
	p.appendLog(log, project, 0, status, fmt.Sprintf("%s images: %d written, %d failed", source, result.Written, result.Failed))
	return result
}

// indexFiles uploads every workspace file to blob storage and replaces the
// project's file listing. Single file failures are skipped.
func (p *Pipeline) indexFiles(ctx context.Context, log *slog.Logger, project *db.ReplicateProject, sandboxID string) (int, error) {
	entries, err := p.sandbox.ListFiles(ctx, sandboxID, project.UserID, ".")
	if err != nil {
		return 0, err
	}

	var files []db.ProjectFile
	for _, entry := range entries {
		if entry.IsDirectory || github.Excluded(entry.Path) {
			continue
		}
		content, ok, err := p.readWorkspaceFile(ctx, sandboxID, project.UserID, entry.Path)
		if err != nil || !ok {
			log.Debug("skipping unreadable file", "path", entry.Path, "error", err)
			continue
		}
		key := fmt.Sprintf("projects/%s/files/%s", project.ID, strings.TrimPrefix(entry.Path, "/"))
		url, err := p.blob.Put(ctx, key, content, contentType(entry.Path))
		if err != nil {
			log.Warn("failed to store file", "path", entry.Path, "error", err)
			continue
		}
		files = append(files, db.ProjectFile{Path: entry.Path, BlobKey: key, URL: url, Size: len(content)})
	}

	if err := service.ReplaceProjectFiles(p.db, project.ID, project.UserID, files); err != nil {
		return 0, fmt.Errorf("index files: %w", err)
	}
	return len(files), nil
}

// readWorkspaceFile reads name from the sandbox. Files that are not text
// go through the binary channel so images keep their bytes.
func (p *Pipeline) readWorkspaceFile(ctx context.Context, sandboxID string, userID uint, name string) ([]byte, bool, error) {
	if !isTextFile(name) {
		return p.sandbox.ReadBinaryFile(ctx, sandboxID, userID, name)
	}
	content, ok, err := p.sandbox.ReadFile(ctx, sandboxID, userID, name)
	return []byte(content), ok, err
}

func isTextFile(name string) bool {
	t := contentType(name)
	return strings.HasPrefix(t, "text/") ||
		strings.Contains(t, "json") ||
		strings.Contains(t, "javascript") ||
		strings.Contains(t, "xml")
}

func isMkdir(command string) bool {
	fields := strings.Fields(command)
	return len(fields) > 0 && fields[0] == "mkdir"
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "text/plain; charset=utf-8"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
