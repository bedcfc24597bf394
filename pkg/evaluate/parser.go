package evaluate

import (
	"encoding/json"
)

// Result is the structured form of a model evaluation. When the model
// output could not be parsed at all, Scores is empty and Notes carries
// the raw text under the "raw" key.
type Result struct {
	Scores     map[string]float64
	TotalScore *float64
	Notes      map[string]interface{}
	Raw        string
}

// ParseResponse parses model output into a Result. Models routinely
// wrap the JSON in prose or markdown fences, so after a direct parse
// fails the text between the first '{' and the last '}' is tried.
func ParseResponse(text string) Result {
	res := Result{Raw: text}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		parsed = extractEmbeddedObject(text)
	}
	if parsed == nil {
		res.Notes = map[string]interface{}{"raw": text}
		return res
	}

	if scores, ok := parsed["scores"].(map[string]interface{}); ok {
		res.Scores = make(map[string]float64, len(scores))
		for k, v := range scores {
			if f, ok := v.(float64); ok {
				res.Scores[k] = f
			}
		}
	}

	if total, ok := numericField(parsed, "total_score"); ok {
		res.TotalScore = &total
	} else if total, ok := numericField(parsed, "totalScore"); ok {
		res.TotalScore = &total
	}

	comments, _ := parsed["comments"].(map[string]interface{})
	summary, _ := parsed["summary"].(string)
	if comments == nil {
		if obj, ok := parsed["notes"].(map[string]interface{}); ok {
			comments = obj
		}
	}
	if summary == "" {
		if s, ok := parsed["notes"].(string); ok {
			summary = s
		}
	}

	switch {
	case comments != nil || summary != "":
		if comments == nil {
			comments = map[string]interface{}{}
		}
		res.Notes = map[string]interface{}{"comments": comments, "summary": summary}
	default:
		res.Notes = map[string]interface{}{"raw": text}
	}
	return res
}

func extractEmbeddedObject(text string) map[string]interface{} {
	first := -1
	last := -1
	for i := 0; i < len(text); i++ {
		if text[i] == '{' {
			first = i
			break
		}
	}
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] == '}' {
			last = i
			break
		}
	}
	if first == -1 || last == -1 || last <= first {
		return nil
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text[first:last+1]), &parsed); err != nil {
		return nil
	}
	return parsed
}

func numericField(m map[string]interface{}, key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}
