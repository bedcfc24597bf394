package evaluate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"talkgrader/pkg/models"
)

// DefaultCriteria is the built-in rubric used when a job has no rubric
// attached. Keys match the columns the evaluations table expects.
var DefaultCriteria = []models.RubricCriterion{
	{Idx: 0, Key: "clarity_coherence", Title: "Clarity and Coherence of the Presentation", Weight: 25, MaxScore: 7,
		Description: "The talk has a clear logical structure; the presenter explains the platform flow adequately; the purpose of each feature shown is understandable."},
	{Idx: 1, Key: "technical_advances", Title: "Technical Advances Implemented", Weight: 25, MaxScore: 7,
		Description: "Genuinely new functionality is presented; there is visible improvement over the previous cycle; the functionality is demonstrated correctly."},
	{Idx: 2, Key: "user_value", Title: "Value for the Users", Weight: 20, MaxScore: 7,
		Description: "The benefit each new module brings to specific user profiles is explained; the changes are justified against real problems."},
	{Idx: 3, Key: "demo_quality", Title: "Quality of the Demonstration", Weight: 15, MaxScore: 7,
		Description: "The demo shows a fluid flow without evident technical errors; the key views are exercised; the interactions work."},
	{Idx: 4, Key: "oral_presentation", Title: "Oral Presentation and Delivery", Weight: 15, MaxScore: 7,
		Description: "The presenter speaks with clarity, confidence and adequate pace; language is understandable for technical and non-technical audiences."},
}

// BuildPrompt assembles the evaluation prompt: rubric, optional slide
// text, transcript, and the strict JSON output instruction.
func BuildPrompt(criteria []models.RubricCriterion, transcript, slideText string) string {
	if len(criteria) == 0 {
		criteria = DefaultCriteria
	}

	var b strings.Builder
	b.WriteString("I want you to act as an academic evaluator specialized in software project presentations. ")
	b.WriteString("Below you will find a detailed rubric followed by the transcript of an oral presentation.\n\n")
	b.WriteString("RUBRIC:\n")
	for _, c := range criteria {
		fmt.Fprintf(&b, "%s (%.0f%%)\n", c.Title, c.Weight)
		if c.Description != "" {
			b.WriteString(c.Description)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Please evaluate the transcript using this rubric. For each criterion give a score from 1 to 7 (7 excellent, 1 deficient) and a short comment justifying it.\n")

	if slideText != "" {
		b.WriteString("\nVISUAL CONTENT EXTRACTED FROM THE PRESENTATION (slides, PDF or PPT):\n")
		b.WriteString(slideText)
		b.WriteString("\n")
	}

	b.WriteString("\nORAL TRANSCRIPT:\n")
	b.WriteString(transcript)

	b.WriteString("\n\nIMPORTANT: Return ONLY a single valid JSON object with no explanations or extra text. The JSON must have the form:\n{\n  \"scores\": { ")
	keys := make([]string, 0, len(criteria))
	weights := make([]string, 0, len(criteria))
	for _, c := range criteria {
		keys = append(keys, fmt.Sprintf("%q: <1-7>", c.Key))
		weights = append(weights, fmt.Sprintf("%.0f", c.Weight))
	}
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString(" },\n  \"total_score\": <number>,\n  \"comments\": { <same keys, one comment each> },\n  \"summary\": \"<short final summary>\"\n}\n")
	fmt.Fprintf(&b, "Compute \"total_score\" as the weighted average using the weights: %s (keep the 1-7 scale).", strings.Join(weights, ","))
	return b.String()
}

var numericLine = regexp.MustCompile(`^\d+$`)

// ReadTranscriptText concatenates the caption text of every .srt file in
// dir, dropping cue indexes and timestamp lines.
func ReadTranscriptText(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".srt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}
		var kept []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || numericLine.MatchString(trimmed) || strings.Contains(line, "-->") {
				continue
			}
			kept = append(kept, trimmed)
		}
		b.WriteString(strings.Join(kept, " "))
		b.WriteString("\n")
	}
	return b.String(), nil
}
