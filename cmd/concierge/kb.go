package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/concierge/internal/knowledge"
	"github.com/zulandar/concierge/internal/store"
	"gorm.io/gorm"
)

func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Knowledge base commands",
	}

	cmd.AddCommand(newKBImportCmd())
	cmd.AddCommand(newKBListCmd())
	cmd.AddCommand(newKBTestCmd())
	cmd.AddCommand(newKBConfigCmd())
	return cmd
}

func newKBImportCmd() *cobra.Command {
	var configPath, website string

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import knowledge entries into a website",
		Long: `Loads a YAML list of {keywords, question, answer} entries into a website.
An entry whose question already exists for the website replaces it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBImport(cmd, configPath, website, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	cmd.Flags().StringVarP(&website, "website", "w", "", "website id (required)")
	cmd.MarkFlagRequired("website")
	return cmd
}

func runKBImport(cmd *cobra.Command, configPath, website, file string) error {
	entries, err := knowledge.LoadFile(file)
	if err != nil {
		return err
	}

	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := requireWebsite(cmd.Context(), gormDB, website); err != nil {
		return err
	}
	idx := knowledge.New(gormDB)

	created, updated, err := idx.Import(cmd.Context(), website, entries)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entries into %s (%d new, %d replaced)\n", len(entries), website, created, updated)
	return nil
}

func newKBListCmd() *cobra.Command {
	var configPath, website string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a website's knowledge entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBList(cmd, configPath, website)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	cmd.Flags().StringVarP(&website, "website", "w", "", "website id (required)")
	cmd.MarkFlagRequired("website")
	return cmd
}

func runKBList(cmd *cobra.Command, configPath, website string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	idx := knowledge.New(gormDB)
	ctx := cmd.Context()

	kc, err := idx.Config(ctx, website)
	if err != nil {
		return err
	}
	entries, err := idx.Entries(ctx, website)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Knowledge for %s: %s, threshold %.2f\n", website, enabledLabel(kc.Enabled), kc.Threshold)
	if len(entries) == 0 {
		fmt.Fprintln(out, "No entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%-5d %-40s [%s]\n", e.ID, truncate(e.Question, 40), strings.Join(e.KeywordList(), ", "))
	}
	return nil
}

func newKBTestCmd() *cobra.Command {
	var configPath, website string

	cmd := &cobra.Command{
		Use:   "test <text>",
		Short: "Show how a message would match a website's knowledge",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBTest(cmd, configPath, website, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	cmd.Flags().StringVarP(&website, "website", "w", "", "website id (required)")
	cmd.MarkFlagRequired("website")
	return cmd
}

func runKBTest(cmd *cobra.Command, configPath, website, text string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	idx := knowledge.New(gormDB)
	ctx := cmd.Context()

	kc, err := idx.Config(ctx, website)
	if err != nil {
		return err
	}
	entries, err := idx.Entries(ctx, website)
	if err != nil {
		return err
	}
	res := knowledge.MatchEntries(entries, text, kc.Threshold)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Normalized: %q\n", res.Normalized)
	if res.Keyword != "" {
		fmt.Fprintf(out, "Keyword:    %q\n", res.Keyword)
	}
	if res.Entry != nil {
		fmt.Fprintf(out, "Best entry: #%d %q\n", res.Entry.ID, res.Entry.Question)
	}
	fmt.Fprintf(out, "Score:      %.3f (threshold %.2f)\n", max(res.Score, 0), kc.Threshold)

	switch {
	case !kc.Enabled:
		fmt.Fprintln(out, "Decision:   knowledge disabled, goes to generator")
	case res.Matched:
		fmt.Fprintln(out, "Decision:   match")
		fmt.Fprintf(out, "Answer:     %s\n", res.Answer())
	default:
		fmt.Fprintln(out, "Decision:   no match, goes to generator")
	}
	return nil
}

func newKBConfigCmd() *cobra.Command {
	var (
		configPath string
		website    string
		enabled    bool
		threshold  float64
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Set a website's knowledge switch and threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBConfig(cmd, configPath, website, enabled, threshold)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	cmd.Flags().StringVarP(&website, "website", "w", "", "website id (required)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "answer from knowledge")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.7, "similarity threshold in [0,1]")
	cmd.MarkFlagRequired("website")
	return cmd
}

func runKBConfig(cmd *cobra.Command, configPath, website string, enabled bool, threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold %.2f must be within [0,1]", threshold)
	}
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := requireWebsite(cmd.Context(), gormDB, website); err != nil {
		return err
	}
	if err := knowledge.New(gormDB).SetConfig(cmd.Context(), website, enabled, threshold); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Knowledge for %s: %s, threshold %.2f\n", website, enabledLabel(enabled), threshold)
	return nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// requireWebsite fails unless the website has been seeded.
func requireWebsite(ctx context.Context, gormDB *gorm.DB, website string) error {
	_, err := store.New(gormDB).Website(ctx, website)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("website %q not found (run \"concierge db init\" after adding it to the config)", website)
	}
	return err
}
