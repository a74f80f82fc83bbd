package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"updatecenter/internal/config"
	"updatecenter/internal/updatecenter"
)

var siteHome string
var siteAddKind string

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage the update center's registered sites",
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the registered update sites",
	Args:  cobra.NoArgs,
	RunE:  runSiteList,
}

var siteAddCmd = &cobra.Command{
	Use:   "add <id> <url>",
	Short: "Register a new update site",
	Long: `Register a new update site.

For --kind http (the default), <url> is the site's update-center.json URL.
For --kind github, <url> is "owner/repo"; releases are listed via the
GitHub API and each ".jpi"/".hpi" release asset becomes a plugin entry.`,
	Args: cobra.ExactArgs(2),
	RunE: runSiteAdd,
}

var siteRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a registered update site",
	Args:  cobra.ExactArgs(1),
	RunE:  runSiteRemove,
}

func openRegistry() (*updatecenter.Registry, error) {
	home := siteHome
	if home == "" {
		home = config.GetDefaultHomeOrPanic()
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	fetcher, err := updatecenter.NewFetcher(cfg.PluginDownloadReadTimeout, cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("constructing fetcher: %w", err)
	}
	return updatecenter.NewRegistry(cfg, fetcher)
}

func runSiteList(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}

	sites := registry.List()
	if len(sites) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sites registered.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("ID"),
		text.FgHiCyan.Sprint("URL"),
		text.FgHiCyan.Sprint("LAST REFRESH"),
	})
	for _, site := range sites {
		lastRefresh := "never"
		if ts := site.DataTimestamp(); !ts.IsZero() {
			lastRefresh = ts.Format("2006-01-02 15:04:05")
		}
		t.AppendRow(table.Row{site.ID(), site.URL(), lastRefresh})
	}
	t.Render()
	return nil
}

func runSiteAdd(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}

	kind := siteAddKind
	if kind == "" {
		kind = "http"
	}
	switch kind {
	case "http":
		err = registry.Add(args[0], args[1])
	case "github":
		err = registry.AddGitHub(args[0], args[1])
	default:
		return fmt.Errorf("unknown site kind %q (want \"http\" or \"github\")", kind)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %s site %q (%s)\n", kind, args[0], args[1])
	return nil
}

func runSiteRemove(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry()
	if err != nil {
		return err
	}
	if err := registry.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed site %q\n", args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(siteCmd)
	siteCmd.PersistentFlags().StringVar(&siteHome, "home", "", "Update center home directory (defaults to the user config directory)")
	siteAddCmd.Flags().StringVar(&siteAddKind, "kind", "http", `Site kind: "http" or "github"`)

	siteCmd.AddCommand(siteListCmd)
	siteCmd.AddCommand(siteAddCmd)
	siteCmd.AddCommand(siteRemoveCmd)
}
