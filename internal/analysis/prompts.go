package analysis

import (
	"embed"
	"fmt"
	"os"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Prompts holds the system prompts of both pipeline stages.
type Prompts struct {
	Relevance string
	Summary   string
}

// LoadPrompts returns the built-in prompts, replacing each with the contents
// of its override file when a path is given. An unreadable override is an error.
func LoadPrompts(relevanceFile, summaryFile string) (Prompts, error) {
	relevance, err := loadPrompt("prompts/relevance.txt", relevanceFile)
	if err != nil {
		return Prompts{}, err
	}
	summary, err := loadPrompt("prompts/summary.txt", summaryFile)
	if err != nil {
		return Prompts{}, err
	}
	return Prompts{Relevance: relevance, Summary: summary}, nil
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	p, _ := LoadPrompts("", "")
	return p
}

func loadPrompt(builtin, override string) (string, error) {
	if override != "" {
		data, err := os.ReadFile(override)
		if err != nil {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
		return string(data), nil
	}
	data, err := promptFS.ReadFile(builtin)
	if err != nil {
		return "", fmt.Errorf("reading built-in prompt %s: %w", builtin, err)
	}
	return string(data), nil
}
