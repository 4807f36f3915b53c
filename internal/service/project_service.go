package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/model"
)

// ListOptions controls project listing
type ListOptions struct {
	Page   int
	Size   int
	Sort   string
	Status string
	Query  string
}

var allowedSorts = map[string]bool{
	"created_at desc": true,
	"created_at asc":  true,
	"updated_at desc": true,
	"updated_at asc":  true,
	"status asc":      true,
	"status desc":     true,
}

// CreateProject inserts a new project in the researching state
func CreateProject(dbConn *gorm.DB, project *db.ReplicateProject) error {
	if project.UserID == 0 {
		return fmt.Errorf("user ID cannot be zero")
	}
	if strings.TrimSpace(project.TargetURL) == "" && strings.TrimSpace(project.TargetName) == "" {
		return fmt.Errorf("target url or name is required")
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.Priority == "" {
		project.Priority = db.PriorityMVP
	}
	project.Status = db.StatusResearching
	return dbConn.Create(project).Error
}

// GetProject retrieves a project by ID for a specific user
func GetProject(dbConn *gorm.DB, id string, userID uint) (*db.ReplicateProject, error) {
	var project db.ReplicateProject
	err := dbConn.Where("id = ? AND user_id = ?", id, userID).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects returns one page of a user's projects and the total count
func ListProjects(dbConn *gorm.DB, userID uint, opts ListOptions) ([]db.ReplicateProject, int64, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Size < 1 || opts.Size > 100 {
		opts.Size = 10
	}
	if !allowedSorts[opts.Sort] {
		opts.Sort = "created_at desc"
	}

	query := dbConn.Model(&db.ReplicateProject{}).Where("user_id = ?", userID)
	if opts.Query != "" {
		like := "%" + opts.Query + "%"
		query = query.Where("target_url LIKE ? OR target_name LIKE ?", like, like)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Listing omits the heavy JSON columns.
	var projects []db.ReplicateProject
	err := query.
		Omit("research_data", "build_plan", "build_log").
		Order(opts.Sort).
		Limit(opts.Size).
		Offset((opts.Page - 1) * opts.Size).
		Find(&projects).Error
	if err != nil {
		return nil, 0, err
	}
	return projects, total, nil
}

// UpdateProject writes the named columns of project, scoped by its owner
func UpdateProject(dbConn *gorm.DB, project *db.ReplicateProject, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	return dbConn.Model(project).
		Where("user_id = ?", project.UserID).
		Select(columns).
		Updates(project).Error
}

// UpdateProjectStatus transitions the project and writes any extra columns
// in the same statement. Leaving the error state clears the error message.
func UpdateProjectStatus(dbConn *gorm.DB, project *db.ReplicateProject, status db.ProjectStatus, message string, columns ...string) error {
	project.Status = status
	project.StatusMessage = message
	if status == db.StatusError {
		project.ErrorMessage = message
	} else {
		project.ErrorMessage = ""
	}
	columns = append([]string{"status", "status_message", "error_message"}, columns...)
	return UpdateProject(dbConn, project, columns...)
}

// AppendBuildLog appends entries to the stored build log. The row is re-read
// under a lock so concurrent writers never drop each other's entries; project
// is refreshed with the stored log afterwards.
func AppendBuildLog(dbConn *gorm.DB, project *db.ReplicateProject, entries ...model.BuildLogEntry) error {
	now := time.Now().UTC()
	stamped := make([]model.BuildLogEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = now
		}
		stamped = append(stamped, entry)
	}

	return dbConn.Transaction(func(tx *gorm.DB) error {
		var current db.ReplicateProject
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "user_id", "build_log").
			Where("id = ? AND user_id = ?", project.ID, project.UserID).
			First(&current).Error
		if err != nil {
			return err
		}
		current.BuildLog = append(current.BuildLog, stamped...)
		if err := UpdateProject(tx, &current, "build_log"); err != nil {
			return err
		}
		project.BuildLog = current.BuildLog
		return nil
	})
}

// DeleteProject hard-deletes a project and its file listing
func DeleteProject(dbConn *gorm.DB, id string, userID uint) (int64, error) {
	var affected int64
	err := dbConn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ? AND user_id = ?", id, userID).Delete(&db.ProjectFile{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&db.ReplicateProject{})
		affected = result.RowsAffected
		return result.Error
	})
	return affected, err
}

// ReplaceProjectFiles swaps the project's file listing for files
func ReplaceProjectFiles(dbConn *gorm.DB, projectID string, userID uint, files []db.ProjectFile) error {
	return dbConn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&db.ProjectFile{}).Error; err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		for i := range files {
			files[i].ProjectID = projectID
			files[i].UserID = userID
		}
		return tx.CreateInBatches(files, 100).Error
	})
}

// ListProjectFiles returns the indexed files of a project
func ListProjectFiles(dbConn *gorm.DB, projectID string, userID uint) ([]db.ProjectFile, error) {
	var files []db.ProjectFile
	err := dbConn.Where("project_id = ? AND user_id = ?", projectID, userID).Order("path asc").Find(&files).Error
	return files, err
}
