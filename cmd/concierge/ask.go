package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/concierge/internal/answer"
	"github.com/zulandar/concierge/internal/relay"
	"github.com/zulandar/concierge/internal/store"
	"golang.org/x/term"
)

func newAskCmd() *cobra.Command {
	var (
		configPath string
		website    string
		sse        bool
	)

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Resolve one message the way the chat would",
		Long: `Runs a message through knowledge matching and, on a miss, the generator.
On a terminal the answer is printed as it streams; otherwise it is printed
once complete. --sse prints the event-stream records the HTTP API sends.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, configPath, website, strings.Join(args, " "), sse)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	cmd.Flags().StringVarP(&website, "website", "w", "", "website id whose knowledge and prompt to use")
	cmd.Flags().BoolVar(&sse, "sse", false, "print raw event-stream records")
	return cmd
}

func runAsk(cmd *cobra.Command, configPath, website, message string, sse bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	req := answer.Request{Message: message}
	if website != "" {
		site, err := store.New(gormDB).Website(ctx, website)
		if err != nil {
			return fmt.Errorf("website %q: %w", website, err)
		}
		req.WebsiteID = site.ID
		req.SystemPrompt = site.SystemPrompt
	}

	ans := newResolver(cfg, gormDB).Resolve(ctx, req)
	out := cmd.OutOrStdout()

	switch {
	case sse:
		return relay.WriteTo(out, ans.Stream, nil)
	case isTerminal(out):
		for c := range ans.Stream {
			fmt.Fprint(out, c.Content)
		}
		fmt.Fprintf(out, "\n(%s)\n", ans.Source)
	default:
		fmt.Fprintln(out, relay.Collect(ans.Stream))
	}
	return nil
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
