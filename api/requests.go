package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/meikuraledutech/flow"
)

var validate = validator.New()

// createFlowRequest is the body of POST /flows.
type createFlowRequest struct {
	Name  string     `json:"name" validate:"required,max=200"`
	Graph flow.Graph `json:"graph"`
}

// publishRequest is the optional body of POST /flows/:id/publish.
type publishRequest struct {
	CreatedBy string `json:"createdBy" validate:"max=200"`
	Changelog string `json:"changelog" validate:"max=4000"`
}

// activateRequest is the body of POST /flows/:id/activate.
type activateRequest struct {
	VersionID string `json:"versionId" validate:"required"`
}

// answerRequest is the body of POST /sessions/:id/answers.
type answerRequest struct {
	NodeID string      `json:"nodeId" validate:"required"`
	Answer flow.Answer `json:"answer" validate:"max=100,dive,max=500"`
}
