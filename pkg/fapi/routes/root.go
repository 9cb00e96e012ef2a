package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/flockml/flock/pkg/fapi/services"
)

type Tag string

const (
	TagAuth Tag = "Auth"
	TagJobs Tag = "Jobs"
)

func (t Tag) String() string {
	return string(t)
}

// BearerAuth marks an operation as requiring a session token.
var BearerAuth = []map[string][]string{
	{"bearer": {}},
}

func RegisterAPI(api huma.API, svcs *services.Services) {
	if svcs == nil {
		RegisterAuth(api, nil)
		RegisterJobs(api, nil, nil)
		return
	}

	api.UseMiddleware(svcs.Auth.Middleware())
	RegisterAuth(api, svcs.Auth)
	RegisterJobs(api, svcs.Registry, svcs.Orchestrator)
}
