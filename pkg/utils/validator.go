package utils

import "strings"

func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}

func Ptr[T any](v T) *T {
	return &v
}
