package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gordyrad/chat-pulse/internal/pipeline"
)

// JSONGenerator renders workflow records as JSON.
type JSONGenerator struct {
	outputDir string
}

// NewJSONGenerator creates a JSONGenerator that writes to outputDir.
func NewJSONGenerator(outputDir string) *JSONGenerator {
	return &JSONGenerator{outputDir: outputDir}
}

// jsonPendingList is the JSON-serializable form of the pending list.
type jsonPendingList struct {
	Count       int                        `json:"count"`
	Pending     []*pipeline.PendingSummary `json:"pending"`
	GeneratedAt string                     `json:"generated_at"`
}

// RenderList marshals the pending list with a count and generation time.
func (g *JSONGenerator) RenderList(ps []*pipeline.PendingSummary) ([]byte, error) {
	if ps == nil {
		ps = []*pipeline.PendingSummary{}
	}
	data, err := json.MarshalIndent(&jsonPendingList{
		Count:       len(ps),
		Pending:     ps,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling pending list to JSON: %w", err)
	}
	return data, nil
}

// Render marshals one pending summary.
func (g *JSONGenerator) Render(p *pipeline.PendingSummary) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling pending summary to JSON: %w", err)
	}
	return data, nil
}

// WritePending writes the summary as JSON to the output directory and
// returns the file path.
func (g *JSONGenerator) WritePending(p *pipeline.PendingSummary) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	data, err := g.Render(p)
	if err != nil {
		return "", err
	}
	filePath := filepath.Join(g.outputDir, pendingFilename(p, ".json"))
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing pending summary JSON: %w", err)
	}
	return filePath, nil
}
