package pipeline

import (
	"fmt"

	"github.com/sykell/site-replicator/internal/db"
)

// Stage names one re-runnable unit of the pipeline.
type Stage string

const (
	StageResearch Stage = "research"
	StagePlan     Stage = "plan"
	StageBuild    Stage = "build"
	StagePush     Stage = "push"
)

// statusOrder is the forward path of a project. StatusError is outside it
// and any stage may be re-attempted from there.
var statusOrder = []db.ProjectStatus{
	db.StatusResearching,
	db.StatusResearchComplete,
	db.StatusPlanning,
	db.StatusPlanComplete,
	db.StatusBuilding,
	db.StatusBuildComplete,
	db.StatusBranded,
	db.StatusPushing,
	db.StatusPushed,
	db.StatusDeploying,
	db.StatusDeployed,
	db.StatusTesting,
	db.StatusComplete,
}

// StatusRank returns the position of status on the forward path, or -1 for
// the error state and unknown values.
func StatusRank(status db.ProjectStatus) int {
	for i, s := range statusOrder {
		if s == status {
			return i
		}
	}
	return -1
}

// CanPush reports whether a project in status may be pushed.
func CanPush(status db.ProjectStatus) bool {
	return status == db.StatusBuildComplete || status == db.StatusBranded
}

// Precheck validates that the prerequisite artifact of stage is present.
// It never changes the project. Push additionally requires a token, which
// is checked by the pipeline.
func Precheck(project *db.ReplicateProject, stage Stage) error {
	switch stage {
	case StageResearch:
		return nil
	case StagePlan:
		if project.ResearchData == nil {
			return ErrMissingResearch
		}
	case StageBuild:
		if project.BuildPlan == nil {
			return ErrMissingPlan
		}
	case StagePush:
		if !CanPush(project.Status) {
			return fmt.Errorf("%w: push requires build_complete or branded, got %s", ErrInvalidStatus, project.Status)
		}
		if project.SandboxID == nil || *project.SandboxID == "" {
			return fmt.Errorf("%w: project has no build workspace", ErrInvalidStatus)
		}
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
	return nil
}
