package main

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/time-capsule/internal/config"
	"github.com/iliyamo/time-capsule/internal/gate"
	"github.com/iliyamo/time-capsule/internal/reconcile"
	"github.com/iliyamo/time-capsule/internal/repository"
)

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List drafts still waiting for a payment callback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd.Context(), func(_ config.Config, db *sql.DB) error {
				drafts, err := repository.NewCapsuleRepo(db).ListPending(cmd.Context(), time.Now().Add(-olderThan), limit)
				if err != nil {
					return err
				}
				if len(drafts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending drafts")
					return nil
				}
				rows := make([][]string, 0, len(drafts))
				for _, c := range drafts {
					rows = append(rows, []string{
						c.ID,
						c.CreatedAt.Local().Format("2006-01-02 15:04"),
						strconv.Itoa(len(c.PhotoURLs)),
						yesNo(c.AudioURL != nil),
						c.ProvisioningToken,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Created", "Photos", "Audio", "Token"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only drafts created at least this long ago")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of drafts to list")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a capsule and its gate status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd.Context(), func(_ config.Config, db *sql.DB) error {
				c, err := repository.NewCapsuleRepo(db).GetByID(cmd.Context(), args[0])
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("capsule %s does not exist", args[0])
				}
				if err != nil {
					return err
				}
				st := gate.Evaluate(time.Now(), c.UnlockAt)
				gateText := "released"
				if !st.Released {
					gateText = fmt.Sprintf("locked (%dd %02dh %02dm %02ds)", st.Countdown.Days, st.Countdown.Hours, st.Countdown.Minutes, st.Countdown.Seconds)
				}
				ref := "-"
				if c.PaymentRef != nil {
					ref = *c.PaymentRef
				}
				rows := [][]string{
					{"ID", c.ID},
					{"State", string(c.State())},
					{"Source", string(c.Source)},
					{"Token", c.ProvisioningToken},
					{"Payment ref", ref},
					{"Photos", strconv.Itoa(len(c.PhotoURLs))},
					{"Audio", yesNo(c.AudioURL != nil)},
					{"Unlock at", c.UnlockAt.Local().Format(time.RFC3339)},
					{"Gate", gateText},
					{"Created", c.CreatedAt.Local().Format(time.RFC3339)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> <payment-ref>",
		Short: "Finalize a draft for a confirmed payment (support resolution)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDB(cmd.Context(), func(cfg config.Config, db *sql.DB) error {
				p := &reconcile.Protocol{
					Capsules:      repository.NewCapsuleRepo(db),
					PublicBaseURL: cfg.PublicBaseURL,
				}
				out, err := p.Reconcile(cmd.Context(), url.Values{"ref": {args[1]}}, reconcile.StaticPending(args[0]))
				var f *reconcile.Failure
				if errors.As(err, &f) {
					return errors.New(f.Diagnostic())
				}
				if err != nil {
					return err
				}
				if out.Replayed {
					fmt.Fprintf(cmd.OutOrStdout(), "Capsule %s was already finalized with %s\n%s\n", out.Capsule.ID, out.PaymentRef, out.ViewURL)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Capsule %s finalized with %s\n%s\n", out.Capsule.ID, out.PaymentRef, out.ViewURL)
				return nil
			})
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

