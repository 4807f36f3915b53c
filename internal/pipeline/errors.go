package pipeline

import "errors"

var (
	// ErrBlockedTarget is returned before any network I/O when the target
	// may not be cloned.
	ErrBlockedTarget = errors.New("target is blocked")
	// ErrContentRejected is returned when fetched content fails the safety gate.
	ErrContentRejected = errors.New("content rejected by safety policy")
	// ErrMissingResearch is returned when planning runs before research.
	ErrMissingResearch = errors.New("research data is missing; run research first")
	// ErrMissingPlan is returned when a build runs before planning.
	ErrMissingPlan = errors.New("build plan is missing; generate a plan first")
	// ErrInvalidStatus is returned when a stage is invoked from a status it
	// cannot start from.
	ErrInvalidStatus = errors.New("project status does not allow this stage")
	// ErrMissingGithubToken is returned when neither the project nor the user
	// vault carries a GitHub token.
	ErrMissingGithubToken = errors.New("no GitHub token configured; add a personal access token with repo scope via PUT /secrets/github or on the project")
	// ErrEmptyLLMResponse is returned when the model produced no usable content.
	ErrEmptyLLMResponse = errors.New("LLM returned no content")
)

// IsPolicyError reports whether err is a safety gate rejection.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrBlockedTarget) || errors.Is(err, ErrContentRejected)
}
