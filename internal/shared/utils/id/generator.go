package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewRunID generates a time-ordered identifier for one directive run.
func NewRunID() string {
	return newIdentifier("run")
}

// NewArtifactID generates an identifier for an accepted task output.
func NewArtifactID() string {
	return newIdentifier("artifact")
}

// NewLogID generates a short correlation id for request logs.
func NewLogID() string {
	return newIdentifier("log")
}

func newIdentifier(prefix string) string {
	body := ""
	if u, err := uuid.NewV7(); err == nil {
		body = u.String()
	} else {
		body = uuid.NewString()
	}
	body = strings.ReplaceAll(body, "-", "")
	if prefix == "" {
		return body
	}
	return fmt.Sprintf("%s-%s", prefix, body)
}
