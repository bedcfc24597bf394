package extract

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"talkgrader/pkg/logging"
)

// Extractor pulls visual text out of slide decks by shelling out to an
// external tool. Extraction failures never fail a job; the evaluation
// just proceeds without slide text.
type Extractor struct {
	// Command and leading args, the file path is appended.
	// Defaults to pdftotext writing to stdout.
	Command []string
	Timeout time.Duration
	Log     *logging.Logger
}

func New(log *logging.Logger) *Extractor {
	return &Extractor{
		Command: []string{"pdftotext", "-layout"},
		Timeout: 60 * time.Second,
		Log:     log,
	}
}

// SupportedExt reports whether path looks like a deck we can extract.
func SupportedExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".pptx":
		return true
	}
	return false
}

// Text returns the extracted slide text, or "" when the file is
// missing, unsupported, or the extractor fails.
func (e *Extractor) Text(path string) string {
	if path == "" || !SupportedExt(path) {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.Timeout)
	defer cancel()

	args := append(append([]string{}, e.Command[1:]...), path, "-")
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	out, err := cmd.Output()
	if err != nil {
		e.Log.Warn("presentation text extraction failed", map[string]interface{}{
			"file":  filepath.Base(path),
			"error": err.Error(),
		})
		return ""
	}
	return strings.TrimSpace(string(out))
}
