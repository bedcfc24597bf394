package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	workspaceName        string
	workspaceDescription string
	workspaceOwner       string

	rubricName         string
	rubricDescription  string
	rubricCriteriaFile string
)

var workspacesCmd = &cobra.Command{
	Use:   "workspaces",
	Short: "Manage workspaces",
	Long:  `Commands for creating and listing the workspaces jobs are filed under.`,
}

var workspacesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE:  runWorkspacesList,
}

var workspacesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workspace",
	RunE:  runWorkspacesCreate,
}

var workspacesPairsCmd = &cobra.Command{
	Use:   "pairs <workspace-id>",
	Short: "List a workspace's jobs",
	Long:  `Lists a workspace's jobs with their statuses, overlaying stored rows with the live metadata files.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkspacesPairs,
}

var rubricsCmd = &cobra.Command{
	Use:   "rubrics",
	Short: "Manage scoring rubrics",
}

var rubricsCreateCmd = &cobra.Command{
	Use:   "create <workspace-id>",
	Short: "Create a rubric in a workspace",
	Long:  `Creates a rubric. Criteria can be supplied as a JSON file with idx, key, title, description, weight and max_score per entry.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRubricsCreate,
}

func init() {
	rootCmd.AddCommand(workspacesCmd)
	rootCmd.AddCommand(rubricsCmd)
	workspacesCmd.AddCommand(workspacesListCmd)
	workspacesCmd.AddCommand(workspacesCreateCmd)
	workspacesCmd.AddCommand(workspacesPairsCmd)
	rubricsCmd.AddCommand(rubricsCreateCmd)

	workspacesCreateCmd.Flags().StringVar(&workspaceName, "name", "", "workspace name")
	workspacesCreateCmd.Flags().StringVar(&workspaceDescription, "description", "", "workspace description")
	workspacesCreateCmd.Flags().StringVar(&workspaceOwner, "owner", "", "workspace owner")
	workspacesCreateCmd.MarkFlagRequired("name")

	rubricsCreateCmd.Flags().StringVar(&rubricName, "name", "", "rubric name")
	rubricsCreateCmd.Flags().StringVar(&rubricDescription, "description", "", "rubric description")
	rubricsCreateCmd.Flags().StringVar(&rubricCriteriaFile, "criteria", "", "path to a JSON file with the criteria list")
	rubricsCreateCmd.MarkFlagRequired("name")
}

type workspaceRow struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

func runWorkspacesList(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/workspaces")
	if err != nil {
		return err
	}
	var workspaces []workspaceRow
	if err := json.Unmarshal(body, &workspaces); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(workspaces, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Owner", "Created")
	for _, ws := range workspaces {
		table.Append(ws.ID, ws.Name, ws.Owner, ws.CreatedAt.Format("2006-01-02"))
	}
	table.Render()
	fmt.Printf("\n%d workspaces\n", len(workspaces))
	return nil
}

func runWorkspacesCreate(cmd *cobra.Command, args []string) error {
	payload, _ := json.Marshal(map[string]string{
		"name":        workspaceName,
		"description": workspaceDescription,
		"owner":       workspaceOwner,
	})
	body, err := apiPost("/workspaces", payload)
	if err != nil {
		return err
	}
	var ws workspaceRow
	if err := json.Unmarshal(body, &ws); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		output, _ := json.MarshalIndent(ws, "", "  ")
		fmt.Println(string(output))
		return nil
	}
	fmt.Printf("Workspace created: %s (%s)\n", ws.Name, ws.ID)
	return nil
}

func runWorkspacesPairs(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/workspaces/" + args[0] + "/pairs")
	if err != nil {
		return err
	}
	var pairs []struct {
		JobID          string      `json:"jobId"`
		Title          string      `json:"title"`
		Status         string      `json:"status"`
		MetadataSource string      `json:"metadataSource"`
		CreatedAt      interface{} `json:"createdAt"`
	}
	if err := json.Unmarshal(body, &pairs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() {
		var pretty bytes.Buffer
		json.Indent(&pretty, body, "", "  ")
		fmt.Println(pretty.String())
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Job ID", "Title", "Status", "Source")
	for _, p := range pairs {
		table.Append(p.JobID, p.Title, p.Status, p.MetadataSource)
	}
	table.Render()
	fmt.Printf("\n%d jobs\n", len(pairs))
	return nil
}

func runRubricsCreate(cmd *cobra.Command, args []string) error {
	payload := map[string]interface{}{
		"name":        rubricName,
		"description": rubricDescription,
	}
	if rubricCriteriaFile != "" {
		raw, err := os.ReadFile(rubricCriteriaFile)
		if err != nil {
			return fmt.Errorf("failed to read criteria file: %w", err)
		}
		var criteria []map[string]interface{}
		if err := json.Unmarshal(raw, &criteria); err != nil {
			return fmt.Errorf("invalid criteria file: %w", err)
		}
		payload["criteria"] = criteria
	}
	reqBody, _ := json.Marshal(payload)

	body, err := apiPost("/workspaces/"+args[0]+"/rubrics", reqBody)
	if err != nil {
		return err
	}
	if IsJSONOutput() {
		var pretty bytes.Buffer
		json.Indent(&pretty, body, "", "  ")
		fmt.Println(pretty.String())
		return nil
	}
	var created struct {
		Rubric struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"rubric"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	fmt.Printf("Rubric created: %s (%s)\n", created.Rubric.Name, created.Rubric.ID)
	return nil
}

func apiGet(path string) ([]byte, error) {
	resp, err := GetHTTPClient().Get(GetServerURL() + path)
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
	return body, nil
}

func apiPost(path string, payload []byte) ([]byte, error) {
	resp, err := GetHTTPClient().Post(GetServerURL()+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}
