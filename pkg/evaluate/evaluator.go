package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"talkgrader/pkg/logging"
	"talkgrader/pkg/models"
	"talkgrader/pkg/store"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "google/gemini-2.5-pro"

// Evaluator sends rubric evaluation prompts to a chat-completions
// endpoint and persists the parsed results.
type Evaluator struct {
	APIURL string
	APIKey string
	Model  string

	HTTPClient *http.Client
	DB         store.Store
	Log        *logging.Logger
}

// NewFromEnv configures the evaluator from API_URL and API_KEY.
func NewFromEnv(db store.Store, log *logging.Logger) *Evaluator {
	return &Evaluator{
		APIURL:     os.Getenv("API_URL"),
		APIKey:     os.Getenv("API_KEY"),
		Model:      DefaultModel,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		DB:         db,
		Log:        log,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one prompt and returns the model's text reply.
func (e *Evaluator) Complete(ctx context.Context, prompt string) (string, error) {
	if e.APIURL == "" {
		return "", fmt.Errorf("evaluation API URL not configured")
	}
	body, err := json.Marshal(chatRequest{
		Model:    e.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("evaluation request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("evaluation API returned %d: %s", resp.StatusCode, truncate(string(data), 512))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("unparsable evaluation API response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		// Fall back to the raw body, mirrors how callers treat odd replies
		return string(data), nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// EvaluateTranscripts builds the prompt from the job's transcripts and
// slide text, queries the model, and returns the parsed result.
func (e *Evaluator) EvaluateTranscripts(ctx context.Context, transcriptsDir, slideText string, criteria []models.RubricCriterion) (Result, error) {
	transcript, err := ReadTranscriptText(transcriptsDir)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read transcripts: %w", err)
	}
	prompt := BuildPrompt(criteria, transcript, slideText)

	text, err := e.Complete(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	return ParseResponse(text), nil
}

// Persist stores a result against the job's video row. The relational
// store is a mirror, so failures are logged and swallowed. dbID may be
// zero, in which case the row is found via the job's external ID.
func (e *Evaluator) Persist(jobID string, dbID int64, rubricID string, res Result) {
	if e.DB == nil {
		return
	}
	if dbID == 0 {
		v, err := e.DB.GetVideoByJobID(jobID)
		if err != nil {
			e.Log.Warn("no video row for evaluation", map[string]interface{}{"job": jobID, "error": err.Error()})
			return
		}
		dbID = v.ID
	}

	scores, err := json.Marshal(res.Scores)
	if err != nil || res.Scores == nil {
		scores = []byte("{}")
	}
	notes, err := json.Marshal(res.Notes)
	if err != nil {
		notes = nil
	}

	eval := &models.Evaluation{
		VideoID:    dbID,
		RubricID:   rubricID,
		Scores:     scores,
		TotalScore: res.TotalScore,
		Notes:      notes,
	}
	if _, err := e.DB.InsertEvaluation(eval); err != nil {
		e.Log.Warn("failed to persist evaluation", map[string]interface{}{"job": jobID, "error": err.Error()})
		return
	}
	e.Log.Info("evaluation stored", map[string]interface{}{"job": jobID, "videoId": dbID})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
