package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/sykell/site-replicator/internal/db"
	"github.com/sykell/site-replicator/internal/model"
	"github.com/sykell/site-replicator/internal/service"
)

// CreateInput describes a new replication project.
type CreateInput struct {
	TargetURL         string
	TargetName        string
	TargetDescription string
	Priority          db.Priority
	Branding          model.Branding
	Stripe            model.StripeConfig
	GithubPAT         string
}

// CreateProject checks the target against the safety gate and stores a new
// project in the researching state. A blocked target fails before any
// network I/O and leaves no record behind.
func (p *Pipeline) CreateProject(_ context.Context, userID uint, in CreateInput) (*db.ReplicateProject, error) {
	in.TargetURL = strings.TrimSpace(in.TargetURL)
	in.TargetName = strings.TrimSpace(in.TargetName)

	for _, target := range []string{in.TargetURL, in.TargetName} {
		if target == "" {
			continue
		}
		if res := p.gate.CheckTarget(target); !res.Allowed {
			return nil, fmt.Errorf("%w: %s", ErrBlockedTarget, res.Reason)
		}
	}

	project := &db.ReplicateProject{
		UserID:               userID,
		TargetURL:            in.TargetURL,
		TargetName:           in.TargetName,
		TargetDescription:    in.TargetDescription,
		Priority:             in.Priority,
		BrandName:            in.Branding.Name,
		BrandColors:          in.Branding.Colors,
		BrandLogo:            in.Branding.Logo,
		BrandTagline:         in.Branding.Tagline,
		StripePublishableKey: in.Stripe.PublishableKey,
		StripeSecretKey:      in.Stripe.SecretKey,
		GithubPAT:            in.GithubPAT,
	}
	if len(in.Stripe.PriceIDs) > 0 {
		raw, err := json.Marshal(in.Stripe.PriceIDs)
		if err != nil {
			return nil, fmt.Errorf("encode stripe price ids: %w", err)
		}
		project.StripePriceIDs = datatypes.JSON(raw)
	}

	if err := service.CreateProject(p.db, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	p.log.Info("project created", "project_id", project.ID, "user_id", userID, "target", project.TargetURL)
	return project, nil
}

// stripeConfig rebuilds the payment settings stored on project.
func stripeConfig(project *db.ReplicateProject) model.StripeConfig {
	cfg := model.StripeConfig{
		PublishableKey: project.StripePublishableKey,
		SecretKey:      project.StripeSecretKey,
	}
	if len(project.StripePriceIDs) > 0 {
		_ = json.Unmarshal(project.StripePriceIDs, &cfg.PriceIDs)
	}
	return cfg
}
