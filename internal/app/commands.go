package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"waorganizer/internal/domain"
	slackbot "waorganizer/internal/integrations/slack"
	"waorganizer/internal/msgcount"
	"waorganizer/internal/organizer"
	"waorganizer/internal/retention"
	"waorganizer/internal/settings"
	"waorganizer/internal/summary"
	"waorganizer/internal/web"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var clipboardWriteAll = clipboard.WriteAll

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web form, the Slack bot and history pruning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()

			if !rt.cfg.WebConfigured() && !rt.cfg.SlackConfigured() {
				return errors.New("nothing to serve: set web_listen_addr or the slack tokens")
			}
			if err := os.MkdirAll(rt.cfg.ExportDir, 0o755); err != nil {
				log.Printf("export dir create error dir=%s: %v", rt.cfg.ExportDir, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			if rt.cfg.WebConfigured() {
				srv := web.NewServer(rt.cfg, rt.svc, rt.store)
				g.Go(func() error { return srv.Run(gctx) })
			}
			if rt.cfg.SlackConfigured() {
				bot := slackbot.NewBot(rt.cfg, rt.svc, rt.store)
				g.Go(func() error { return bot.Run(gctx) })
			}
			g.Go(func() error { return retention.Run(gctx, rt.cfg, rt.db) })

			log.Println("Starting WhatsApp message organizer...")
			err = g.Wait()
			log.Println("Organizer stopped")
			return err
		},
	}
}

func newOrganizeCmd() *cobra.Command {
	var (
		sortBy  string
		merge   bool
		idsOnly bool
		outDir  string
		copyOut bool
	)
	cmd := &cobra.Command{
		Use:   "organize [file]",
		Short: "Organize messages from a file or stdin and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := rt.cfg.DefaultOptions()
			if cmd.Flags().Changed("sort") {
				if opts.SortBy, err = domain.ParseSortBy(sortBy); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("merge") {
				opts.MergeDuplicates = merge
			}
			if cmd.Flags().Changed("ids") {
				opts.ShowOnlyIDs = idsOnly
			}

			res, err := rt.svc.Process(cmd.Context(), domain.TriggerManual, organizer.Request{
				SessionID: "cli",
				Text:      input,
				Options:   opts,
				Settings:  rt.settings(),
			})
			if notice, ok := organizer.Notice(domain.TriggerManual, err); ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", notice.Title, notice.Message)
			}
			if err != nil {
				return err
			}

			text := res.Combined()
			fmt.Fprintln(cmd.OutOrStdout(), text)
			if outDir != "" {
				path, err := summary.WriteExport(outDir, time.Now(), text)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", path)
			}
			if copyOut {
				if err := clipboardWriteAll(text); err != nil {
					return fmt.Errorf("copy to clipboard: %w", err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), "copied to clipboard")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sortBy, "sort", string(domain.SortOriginal), "sort order: original, agency, location or amount")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge messages with the same name")
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "show only IDs grouped by agency")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "also write whatsapp-organized-<date>.txt to this directory")
	cmd.Flags().BoolVar(&copyOut, "copy", false, "copy the result to the clipboard")
	return cmd
}

func newCountCmd() *cobra.Command {
	var simple bool
	cmd := &cobra.Command{
		Use:   "count [file]",
		Short: "Estimate how many messages a dump contains",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			count := msgcount.Count
			if simple {
				count = msgcount.CountSimple
			}
			fmt.Fprintln(cmd.OutOrStdout(), count(input))
			return nil
		},
	}
	cmd.Flags().BoolVar(&simple, "simple", false, "split only on blank and separator lines")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Send a probe request to verify the API key and endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			err = rt.svc.CheckConnection(ctx, rt.settings())
			notice := organizer.ConnectionNotice(err)
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", notice.Title, notice.Message)
			return err
		},
	}
}

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the stored API key and endpoint",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				rt, err := bootstrap()
				if err != nil {
					return err
				}
				defer rt.Close()
				current := rt.settings()
				fmt.Fprintf(cmd.OutOrStdout(), "provider: %s\napi key:  %s\nendpoint: %s\n", rt.cfg.LLMProvider, settings.MaskKey(current.APIKey), current.Endpoint)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set-key <key>",
			Short: "Store the API key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return updateSetting(cmd, func(store *settings.Store) error { return store.SetAPIKey(strings.TrimSpace(args[0])) })
			},
		},
		&cobra.Command{
			Use:   "set-endpoint <url>",
			Short: "Store the API endpoint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return updateSetting(cmd, func(store *settings.Store) error { return store.SetEndpoint(strings.TrimSpace(args[0])) })
			},
		},
	)
	return cmd
}

func updateSetting(cmd *cobra.Command, apply func(*settings.Store) error) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := apply(rt.store); err != nil {
		return fmt.Errorf("saving setting: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "saved")
	return nil
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()

			runs, err := rt.svc.History(limit)
			if err != nil {
				return fmt.Errorf("loading history: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTRIGGER\tSTATUS\tSESSION\tMESSAGES\tSUMMARY")
			for _, r := range runs {
				detail := r.Summary
				if r.Status == domain.RunStatusError {
					detail = r.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Trigger, r.Status, r.SessionID, r.EstimatedMessages, truncate(detail, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", args[0], err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
