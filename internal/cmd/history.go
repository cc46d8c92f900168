package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/router-for-me/clipify/internal/clipboard"
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		clearAll bool
		paste    string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "history [query]",
		Short: "List, search or reuse clipboard history entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(opts.resolvedDir, clipboard.HistoryFile)
			history, err := clipboard.LoadHistory(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch {
			case clearAll:
				history.Clear()
				if err = history.Save(path); err != nil {
					return err
				}
				fmt.Fprintln(out, "Clipboard history cleared.")
				return nil
			case paste != "":
				id, errResolve := resolveEntryID(history, paste)
				if errResolve != nil {
					return errResolve
				}
				monitor := clipboard.NewMonitor(clipboard.System{}, history, clipboard.MonitorOptions{})
				if err = monitor.Paste(id); err != nil {
					return err
				}
				fmt.Fprintln(out, "Copied to the clipboard.")
				return nil
			}

			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			entries := history.Search(query)
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No clipboard entries.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCOPIED\tTYPE\tPREVIEW")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					shortID(e.ID), e.Timestamp.Local().Format("01-02 15:04"), e.ContentType, oneLine(e.Preview))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "remove every entry")
	cmd.Flags().StringVar(&paste, "paste", "", "copy the entry with this id back to the clipboard")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many entries")
	return cmd
}

func oneLine(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '\n', '\r', '\t':
			out = append(out, ' ')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

const shortIDLen = 8

func shortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

// resolveEntryID accepts a full id or a unique prefix as printed by the listing.
func resolveEntryID(history *clipboard.History, prefix string) (string, error) {
	var match string
	for _, e := range history.Entries() {
		if e.ID == prefix {
			return e.ID, nil
		}
		if strings.HasPrefix(e.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("history: id prefix %q is ambiguous", prefix)
			}
			match = e.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("history: no entry with id %q", prefix)
	}
	return match, nil
}
