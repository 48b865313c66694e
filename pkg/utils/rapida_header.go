package utils

const (
	HEADER_API_KEY         = "x-api-key"
	HEADER_AUTH_KEY        = "Authorization"
	HEADER_SOURCE_KEY      = "x-client-source"
	HEADER_ENVIRONMENT_KEY = "x-rapida-environment"
	HEADER_REGION_KEY      = "x-rapida-region"
	HEADER_SESSION_KEY     = "x-session-id"
	HEADER_REQUEST_ID_KEY  = "x-request-id"
)

// CONSOLE_SOURCE identifies this client to the control service.
const CONSOLE_SOURCE = "operator-console"
