package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	// Job submit flags
	submitAudio        string
	submitPresentation string
	submitWorkspace    string
	submitTitle        string
	submitStream       bool

	// Job status flags
	followStatus bool

	// Job evaluate flags
	evaluateRubric string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage grading jobs",
	Long:  `Commands for submitting recordings and inspecting the jobs they produce.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a recording and slide deck for grading",
	Long:  `Uploads an audio/video recording together with its presentation and runs the processing pipeline. Without --stream the command blocks until the pipeline finishes.`,
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Get job status",
	Long:  `Retrieve the status and progress of a job.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsEvaluateCmd = &cobra.Command{
	Use:   "evaluate <job-id>",
	Short: "Run the rubric evaluation for a job",
	Long:  `Sends the job's transcripts and slide text to the evaluation model. With --rubric the stored rubric's criteria are used instead of the built-in ones.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsEvaluate,
}

var jobsSegmentsCmd = &cobra.Command{
	Use:   "segments <job-id>",
	Short: "Show the reconstructed transcript",
	Long:  `Print the job's transcript segments on the absolute recording timeline.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsSegments,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsSegmentsCmd)
	jobsCmd.AddCommand(jobsEvaluateCmd)

	jobsSubmitCmd.Flags().StringVar(&submitAudio, "audio", "", "path to the recording (mp4, mp3, m4a, wav)")
	jobsSubmitCmd.Flags().StringVar(&submitPresentation, "presentation", "", "path to the slide deck (pdf, pptx)")
	jobsSubmitCmd.Flags().StringVar(&submitWorkspace, "workspace", "", "workspace ID to file the job under")
	jobsSubmitCmd.Flags().StringVar(&submitTitle, "title", "", "display title for the talk")
	jobsSubmitCmd.Flags().BoolVar(&submitStream, "stream", false, "stream pipeline output while it runs")
	jobsSubmitCmd.MarkFlagRequired("audio")
	jobsSubmitCmd.MarkFlagRequired("presentation")

	jobsStatusCmd.Flags().BoolVar(&followStatus, "follow", false, "poll job status every 2 seconds until completion")

	jobsEvaluateCmd.Flags().StringVar(&evaluateRubric, "rubric", "", "rubric ID whose criteria should be used")
}

type submitResult struct {
	JobID  string `json:"jobId"`
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type jobStatus struct {
	JobID             string     `json:"jobId"`
	WorkspaceID       string     `json:"workspaceId"`
	Title             string     `json:"title"`
	Status            string     `json:"status"`
	Progress          int        `json:"progress"`
	ProgressMessage   string     `json:"progressMessage"`
	TotalChunks       *int       `json:"totalChunks"`
	TranscribedChunks int        `json:"transcribedChunks"`
	CreatedAt         time.Time  `json:"createdAt"`
	FinishedAt        *time.Time `json:"finishedAt"`
	ExitCode          *int       `json:"exitCode"`
	Error             string     `json:"error"`
}

type jobSegments struct {
	JobID    string `json:"jobId"`
	Segments []struct {
		Start string `json:"start"`
		End   string `json:"end"`
		Text  string `json:"text"`
	} `json:"segments"`
}

func runJobsSubmit(cmd *cobra.Command, args []string) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(mw)
		mw.Close()
		pw.CloseWithError(err)
	}()

	url := fmt.Sprintf("%s/automate", GetServerURL())
	if submitStream {
		url += "?stream=true"
	}
	req, err := http.NewRequest("POST", url, pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := GetHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if submitStream {
		return streamEvents(resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var result submitResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", result.JobID)
	table.Append("Exit Code", fmt.Sprintf("%d", result.Code))
	table.Render()
	if result.Code != 0 {
		return fmt.Errorf("pipeline failed with exit code %d", result.Code)
	}
	fmt.Println("\nJob finished successfully!")
	return nil
}

func writeUploadForm(mw *multipart.Writer) error {
	for field, path := range map[string]string{"audio": submitAudio, "presentation": submitPresentation} {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		fw, err := mw.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(fw, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	if submitWorkspace != "" {
		if err := mw.WriteField("workspaceId", submitWorkspace); err != nil {
			return err
		}
	}
	if submitTitle != "" {
		if err := mw.WriteField("title", submitTitle); err != nil {
			return err
		}
	}
	return nil
}

// streamEvents prints SSE data frames as they arrive and reports the
// final done/error event.
func streamEvents(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "done":
				var result submitResult
				if err := json.Unmarshal([]byte(data), &result); err == nil {
					if result.Code != 0 {
						return fmt.Errorf("pipeline failed with exit code %d", result.Code)
					}
					fmt.Printf("\nJob %s finished successfully!\n", result.JobID)
					return nil
				}
			case "error":
				return fmt.Errorf("pipeline error: %s", data)
			default:
				fmt.Println(data)
			}
		case line == "":
			event = ""
		}
	}
	return scanner.Err()
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	if followStatus {
		fmt.Printf("Following job %s (press Ctrl+C to stop)...\n\n", jobID)
		for {
			result, err := fetchJobStatus(jobID)
			if err != nil {
				return err
			}
			fmt.Print("\033[H\033[2J")
			displayJobStatus(result)
			if result.Status == "done" || result.Status == "failed" || result.Status == "error" {
				fmt.Println("\nJob reached terminal state")
				return nil
			}
			time.Sleep(2 * time.Second)
		}
	}

	result, err := fetchJobStatus(jobID)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	displayJobStatus(result)
	return nil
}

func fetchJobStatus(jobID string) (*jobStatus, error) {
	url := fmt.Sprintf("%s/jobs/%s", GetServerURL(), jobID)
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	var result jobStatus
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &result, nil
}

func displayJobStatus(job *jobStatus) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Job ID", job.JobID)
	if job.Title != "" {
		table.Append("Title", job.Title)
	}
	if job.WorkspaceID != "" {
		table.Append("Workspace", job.WorkspaceID)
	}
	table.Append("Status", job.Status)
	table.Append("Progress", fmt.Sprintf("%d%% (%s)", job.Progress, job.ProgressMessage))
	if job.TotalChunks != nil {
		table.Append("Chunks", fmt.Sprintf("%d/%d", job.TranscribedChunks, *job.TotalChunks))
	}
	table.Append("Created At", job.CreatedAt.Format(time.RFC3339))
	if job.FinishedAt != nil {
		table.Append("Finished At", job.FinishedAt.Format(time.RFC3339))
	}
	if job.ExitCode != nil {
		table.Append("Exit Code", fmt.Sprintf("%d", *job.ExitCode))
	}
	if job.Error != "" {
		table.Append("Error", job.Error)
	}
	table.Render()
}

func runJobsEvaluate(cmd *cobra.Command, args []string) error {
	payload, _ := json.Marshal(map[string]string{"rubricId": evaluateRubric})
	body, err := apiPost("/jobs/"+args[0]+"/evaluate", payload)
	if err != nil {
		return err
	}

	var result struct {
		JobID      string             `json:"jobId"`
		Scores     map[string]float64 `json:"scores"`
		TotalScore *float64           `json:"totalScore"`
		Raw        string             `json:"raw"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(json.RawMessage(body), "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if result.Raw != "" && len(result.Scores) == 0 {
		fmt.Println(result.Raw)
		return nil
	}
	keys := make([]string, 0, len(result.Scores))
	for key := range result.Scores {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Criterion", "Score")
	for _, key := range keys {
		table.Append(key, fmt.Sprintf("%.1f", result.Scores[key]))
	}
	table.Render()
	if result.TotalScore != nil {
		fmt.Printf("\nTotal score: %.2f\n", *result.TotalScore)
	}
	return nil
}

func runJobsSegments(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/jobs/%s/detailed", GetServerURL(), args[0])
	resp, err := GetHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	var result jobSegments
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Start", "End", "Text")
	for _, s := range result.Segments {
		table.Append(s.Start, s.End, s.Text)
	}
	table.Render()
	fmt.Printf("\n%d segments\n", len(result.Segments))
	return nil
}
