package constants

// Static route constants
const (
	APIRoute = "/api"
	V1Route  = "/v1"
	// Base path the OpenAPI document is served under
	DocsRoute = "/docs/api/"
)
