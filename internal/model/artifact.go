package model

import (
	"sort"
	"strings"
)

// ScriptArtifact is the uploaded answer-script image. It is owned by the
// orchestrator from upload until reset. A nil artifact means the manual-entry
// path was taken.
type ScriptArtifact struct {
	Data      []byte
	MediaType string
}

// allowedMediaTypes is the image allow-list for the extraction stage.
var allowedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// MediaAllowed reports whether the declared media type is on the allow-list.
// Content-type parameters (e.g. "; charset=…") are ignored.
func (a ScriptArtifact) MediaAllowed() bool {
	mt := strings.ToLower(strings.TrimSpace(a.MediaType))
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return allowedMediaTypes[mt]
}

// AllowedMediaTypes returns the allow-list in stable order, for error
// messages.
func AllowedMediaTypes() []string {
	types := make([]string, 0, len(allowedMediaTypes))
	for mt := range allowedMediaTypes {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}
