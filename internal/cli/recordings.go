package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/harun/mediagate/pkg/catalog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listLimit  int
)

var recordingsCmd = &cobra.Command{
	Use:   "recordings",
	Short: "Inspect the recording catalog",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalogued recordings, newest first",
	RunE:  runRecordingsList,
}

var recordingsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordingsShow,
}

func init() {
	recordingsListCmd.Flags().StringVar(&listStatus, "status", "", "only show recordings in this status ("+statusNames()+")")
	recordingsListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of recordings to show (0 for all)")
	recordingsCmd.AddCommand(recordingsListCmd, recordingsShowCmd)
	rootCmd.AddCommand(recordingsCmd)
}

func statusNames() string {
	names := make([]string, 0, len(catalog.Statuses()))
	for _, s := range catalog.Statuses() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func openCatalog() (*catalog.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Catalog.Enabled {
		return nil, fmt.Errorf("the catalog is disabled")
	}
	return catalog.Open(catalog.Config{Path: cfg.Catalog.Path, Logger: zerolog.Nop()})
}

func runRecordingsList(cmd *cobra.Command, args []string) error {
	filter := catalog.Filter{Limit: listLimit}
	if listStatus != "" {
		status, err := catalog.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recordings")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderRecordings(records))
	return nil
}

func renderRecordings(records []catalog.Record) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Size", "Started", "Path"})
	for _, r := range records {
		tw.AppendRow(table.Row{
			r.ID,
			r.Kind,
			string(r.Status),
			humanize.Bytes(uint64(r.BytesWritten)),
			humanize.Time(r.StartedAt),
			r.Path(),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func runRecordingsShow(cmd *cobra.Command, args []string) error {
	store, err := openCatalog()
	if err != nil {
		return err
	}
	defer store.Close()

	r, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:       %s\n", r.ID)
	fmt.Fprintf(out, "Kind:     %s\n", r.Kind)
	fmt.Fprintf(out, "Status:   %s\n", r.Status)
	fmt.Fprintf(out, "Size:     %s\n", humanize.Bytes(uint64(r.BytesWritten)))
	fmt.Fprintf(out, "Started:  %s (%s)\n", r.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	if r.EndedAt != nil {
		fmt.Fprintf(out, "Duration: %s\n", formatDuration(r.EndedAt.Sub(r.StartedAt)))
	}
	fmt.Fprintf(out, "Path:     %s\n", r.Path())
	if r.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", r.Error)
	}
	if r.LogPath != "" {
		fmt.Fprintf(out, "Log:      %s\n", r.LogPath)
	}
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s=%s\n", k, r.Metadata[k])
	}
	return nil
}
