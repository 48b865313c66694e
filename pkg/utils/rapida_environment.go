package utils

import "strings"

type RapidaEnvironment string

const (
	PRODUCTION  RapidaEnvironment = "production"
	DEVELOPMENT RapidaEnvironment = "development"
)

func (e RapidaEnvironment) Get() string {
	return string(e)
}

// IsProduction reports whether the console runs against live workers.
func (e RapidaEnvironment) IsProduction() bool {
	return e == PRODUCTION
}

// FromEnvironmentStr parses an environment name, defaulting to DEVELOPMENT.
func FromEnvironmentStr(env string) RapidaEnvironment {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod":
		return PRODUCTION
	default:
		return DEVELOPMENT
	}
}
