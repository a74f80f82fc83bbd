package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"updatecenter/internal/config"
	appstrings "updatecenter/pkg/strings"
)

// installServerURL is the base URL of a running `updatecenter serve`
// instance. Install and its status subcommand talk to it over HTTP rather
// than opening the site registry directly, since only the running process
// owns the job queue the install actually runs on.
var installServerURL string

// installSiteID, installDynamic, and installWait back the install command's
// flags.
var (
	installSiteID  string
	installDynamic bool
	installWait    bool
)

var installCmd = &cobra.Command{
	Use:   "install <plugin-name>",
	Short: "Enqueue a plugin install against a running update center",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstall,
}

var installStatusCmd = &cobra.Command{
	Use:   "status <correlationId>",
	Short: "Print the install status for a correlation id",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallStatus,
}

var installJobCmd = &cobra.Command{
	Use:   "job <jobId>",
	Short: "Print the status of a single job by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstallJob,
}

type installResponse struct {
	JobID         int64  `json:"jobId"`
	CorrelationID string `json:"correlationId"`
	Error         string `json:"error"`
}

type jobStatusView struct {
	ID              int64  `json:"id"`
	Kind            string `json:"type"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	Title           string `json:"title"`
	State           string `json:"state"`
	Percent         int    `json:"percent"`
	Message         string `json:"message"`
	RequiresRestart bool   `json:"requiresRestart"`
}

type installStatusResponse struct {
	State string          `json:"state"`
	Jobs  []jobStatusView `json:"jobs"`
}

func runInstall(cmd *cobra.Command, args []string) error {
	name := args[0]

	reqURL := fmt.Sprintf("%s/updateCenter/install?name=%s", installServerURL, url.QueryEscape(name))
	if installSiteID != "" {
		reqURL += "&siteId=" + url.QueryEscape(installSiteID)
	}
	if installDynamic {
		reqURL += "&dynamicLoad=true"
	}

	var resp installResponse
	if err := postJSON(cmd, reqURL, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("install request rejected: %s", resp.Error)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %d (correlationId=%s)\n", resp.JobID, resp.CorrelationID)

	if !installWait {
		return nil
	}
	return pollInstallStatus(cmd, resp.CorrelationID)
}

// pollInstallStatus polls installStatus until every job in the batch
// reaches a terminal state, showing a spinner the way an interactive CLI
// install would while the job is still Installing.
func pollInstallStatus(cmd *cobra.Command, correlationID string) error {
	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	sp.Suffix = " waiting for install to complete..."
	sp.Writer = cmd.ErrOrStderr()
	sp.Start()
	defer sp.Stop()

	for {
		view, err := fetchInstallStatus(correlationID)
		if err != nil {
			return err
		}
		if isTerminalHeadline(view.State) {
			sp.Stop()
			return renderInstallStatus(cmd, view)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func isTerminalHeadline(state string) bool {
	switch state {
	case "Success", "SuccessButRequiresRestart", "Skipped", "Failure", "Canceled":
		return true
	default:
		return false
	}
}

func runInstallStatus(cmd *cobra.Command, args []string) error {
	view, err := fetchInstallStatus(args[0])
	if err != nil {
		return err
	}
	return renderInstallStatus(cmd, view)
}

func runInstallJob(cmd *cobra.Command, args []string) error {
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return fmt.Errorf("jobId must be an integer: %w", err)
	}

	reqURL := fmt.Sprintf("%s/updateCenter/job?id=%s", installServerURL, url.QueryEscape(args[0]))
	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("contacting update center at %s: %w", installServerURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading job response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("update center returned %s: %s", resp.Status, body)
	}

	var job jobStatusView
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("parsing job response: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("JOB"),
		text.FgHiCyan.Sprint("TYPE"),
		text.FgHiCyan.Sprint("PLUGIN"),
		text.FgHiCyan.Sprint("VERSION"),
		text.FgHiCyan.Sprint("STATE"),
		text.FgHiCyan.Sprint("RESTART"),
		text.FgHiCyan.Sprint("MESSAGE"),
	})
	t.AppendRow(table.Row{
		job.ID, job.Kind, job.Name, job.Version, job.State, job.RequiresRestart,
		appstrings.TruncateDescription(job.Message, titleColumnMaxLen),
	})
	t.Render()
	return nil
}

func fetchInstallStatus(correlationID string) (installStatusResponse, error) {
	reqURL := fmt.Sprintf("%s/updateCenter/installStatus?correlationId=%s", installServerURL, url.QueryEscape(correlationID))

	resp, err := http.Get(reqURL)
	if err != nil {
		return installStatusResponse{}, fmt.Errorf("contacting update center at %s: %w", installServerURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return installStatusResponse{}, fmt.Errorf("reading installStatus response: %w", err)
	}

	var view installStatusResponse
	if err := json.Unmarshal(body, &view); err != nil {
		return installStatusResponse{}, fmt.Errorf("parsing installStatus response: %w", err)
	}
	return view, nil
}

// titleColumnMaxLen keeps a plugin's free-text title from blowing out the
// status table's width in a terminal.
const titleColumnMaxLen = 40

func renderInstallStatus(cmd *cobra.Command, view installStatusResponse) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Batch state: %s\n", view.State)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("JOB"),
		text.FgHiCyan.Sprint("PLUGIN"),
		text.FgHiCyan.Sprint("VERSION"),
		text.FgHiCyan.Sprint("TITLE"),
		text.FgHiCyan.Sprint("STATE"),
		text.FgHiCyan.Sprint("RESTART"),
		text.FgHiCyan.Sprint("MESSAGE"),
	})
	for _, j := range view.Jobs {
		t.AppendRow(table.Row{
			j.ID, j.Name, j.Version,
			appstrings.TruncateDescription(j.Title, titleColumnMaxLen),
			j.State, j.RequiresRestart,
			appstrings.TruncateDescription(j.Message, titleColumnMaxLen),
		})
	}
	t.Render()
	return nil
}

func postJSON(cmd *cobra.Command, reqURL string, out any) error {
	resp, err := http.Post(reqURL, "application/json", nil)
	if err != nil {
		return fmt.Errorf("contacting update center at %s: %w", installServerURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installServerURL, "server", "http://"+config.DefaultListenAddr, "Base URL of a running update center status API")
	installCmd.Flags().StringVar(&installSiteID, "site", "", "Site id to install from (defaults to the registry's default site)")
	installCmd.Flags().BoolVar(&installDynamic, "dynamic", false, "Request dynamic load instead of deferring to the next restart")
	installCmd.Flags().BoolVar(&installWait, "wait", false, "Block and print a live status table until the install terminates")

	installCmd.AddCommand(installStatusCmd)
	installStatusCmd.Flags().StringVar(&installServerURL, "server", "http://"+config.DefaultListenAddr, "Base URL of a running update center status API")

	installCmd.AddCommand(installJobCmd)
	installJobCmd.Flags().StringVar(&installServerURL, "server", "http://"+config.DefaultListenAddr, "Base URL of a running update center status API")
}
