// Package lesson defines the shared lesson definition type.
// Definitions are owned by the lesson manager; the orchestrator and the
// embedding layer hold read-only references.
package lesson

import (
	"strings"
	"time"
)

// Definition is the metadata record paired with a lesson's source text.
// It is stored next to the source as a JSON sidecar (<id>.json).
type Definition struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Author       string   `json:"author"`
	Version      string   `json:"version"`
	Created      string   `json:"created"` // YYYY-MM-DD
	Tags         []string `json:"tags"`
	Difficulty   string   `json:"difficulty"`
	Duration     int      `json:"duration"` // Estimated minutes.
	Requirements []string `json:"requirements"`
	Dependencies []string `json:"dependencies"`
}

// Default synthesizes a definition for a lesson that has no sidecar yet.
func Default(id string) *Definition {
	return &Definition{
		ID:           id,
		Name:         TitleFromID(id),
		Description:  "Lesson " + id,
		Author:       "system",
		Version:      "1.0.0",
		Created:      time.Now().UTC().Format("2006-01-02"),
		Tags:         []string{"interactive", "education"},
		Difficulty:   "beginner",
		Duration:     10,
		Requirements: []string{},
		Dependencies: []string{},
	}
}

// TitleFromID turns a snake_case lesson id into a display name
// ("counting_fingers" -> "Counting Fingers").
func TitleFromID(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
