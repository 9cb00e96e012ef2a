package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/flockml/flock/pkg/ferr"
)

// httpError maps coded errors onto huma responses. Validation failures are
// the caller's fault (400), token failures are 401, everything else is a
// downstream failure surfaced with its message (500).
func httpError(err error) error {
	switch ferr.CodeOf(err) {
	case ferr.CodeIncompleteJob, ferr.CodeIncompleteConfig:
		return huma.Error400BadRequest(err.Error())
	case ferr.CodeInvalidToken:
		return huma.Error401Unauthorized(err.Error())
	case ferr.CodeNotFound:
		return huma.Error404NotFound(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
