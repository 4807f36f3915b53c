package db

import (
	"time"

	"gorm.io/datatypes"

	"github.com/sykell/site-replicator/internal/model"
)

type ProjectStatus string

const (
	StatusResearching      ProjectStatus = "researching"
	StatusResearchComplete ProjectStatus = "research_complete"
	StatusPlanning         ProjectStatus = "planning"
	StatusPlanComplete     ProjectStatus = "plan_complete"
	StatusBuilding         ProjectStatus = "building"
	StatusBuildComplete    ProjectStatus = "build_complete"
	StatusBranded          ProjectStatus = "branded"
	StatusPushing          ProjectStatus = "pushing"
	StatusPushed           ProjectStatus = "pushed"
	StatusDeploying        ProjectStatus = "deploying"
	StatusDeployed         ProjectStatus = "deployed"
	StatusTesting          ProjectStatus = "testing"
	StatusComplete         ProjectStatus = "complete"
	StatusError            ProjectStatus = "error"
)

type Priority string

const (
	PriorityMVP  Priority = "mvp"
	PriorityFull Priority = "full"
)

// ReplicateProject is one website replication run owned by a user
type ReplicateProject struct {
	ID                string `gorm:"primaryKey;size:36" json:"id"`
	UserID            uint   `gorm:"index;not null" json:"user_id"`
	TargetURL         string `gorm:"size:2048" json:"target_url"`
	TargetName        string `gorm:"size:255" json:"target_name"`
	TargetDescription string `gorm:"type:text" json:"target_description"`

	ResearchData *model.ResearchResult `gorm:"type:longtext;serializer:json" json:"research_data"`
	BuildPlan    *model.BuildPlan      `gorm:"type:longtext;serializer:json" json:"build_plan"`
	OutputFiles  []string              `gorm:"type:longtext;serializer:json" json:"output_files"`
	BuildLog     []model.BuildLogEntry `gorm:"type:longtext;serializer:json" json:"build_log"`

	Priority             Priority       `gorm:"size:16;default:'mvp'" json:"priority"`
	BrandName            string         `gorm:"size:255" json:"brand_name"`
	BrandColors          []string       `gorm:"type:text;serializer:json" json:"brand_colors"`
	BrandLogo            string         `gorm:"size:2048" json:"brand_logo"`
	BrandTagline         string         `gorm:"size:512" json:"brand_tagline"`
	StripePublishableKey string         `gorm:"size:255" json:"stripe_publishable_key"`
	StripeSecretKey      string         `gorm:"size:255" json:"-"`
	StripePriceIDs       datatypes.JSON `gorm:"type:json" json:"stripe_price_ids"`
	GithubPAT            string         `gorm:"size:255" json:"-"`

	SandboxID     *string       `gorm:"size:128" json:"sandbox_id"`
	Status        ProjectStatus `gorm:"size:32;index;default:'researching'" json:"status"`
	CurrentStep   int           `json:"current_step"`
	TotalSteps    int           `json:"total_steps"`
	StatusMessage string        `gorm:"size:1024" json:"status_message"`
	ErrorMessage  string        `gorm:"type:text" json:"error_message"`
	RepoURL       string        `gorm:"size:2048" json:"repo_url"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `gorm:"foreignKey:UserID" json:"-"`
}

// Branding returns the rebranding settings of the project
func (p *ReplicateProject) Branding() model.Branding {
	return model.Branding{
		Name:    p.BrandName,
		Colors:  p.BrandColors,
		Logo:    p.BrandLogo,
		Tagline: p.BrandTagline,
	}
}

// ProjectFile indexes one persisted workspace file of a project
type ProjectFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID string    `gorm:"size:36;index;not null" json:"project_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Path      string    `gorm:"size:1024;not null" json:"path"`
	BlobKey   string    `gorm:"size:1024;not null" json:"blob_key"`
	URL       string    `gorm:"size:2048" json:"url"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSecret is a sealed per-user secret such as a GitHub token
type UserSecret struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_user_secret;not null" json:"user_id"`
	Name      string    `gorm:"uniqueIndex:idx_user_secret;size:64;not null" json:"name"`
	Sealed    []byte    `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents an authenticated user
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null;size:100" json:"username"`
	Password  string    `gorm:"not null;size:255" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
