package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "teedops/errors"
	"teedops/waitlist"

	"github.com/spf13/cobra"
)

func newWaitlistService() *waitlist.Service {
	return waitlist.NewService(serviceClient(), cfg.Waitlist.Capacity, log)
}

func waitlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "waitlist",
		Short: "Approve and inspect waitlist applications",
	}
	cmd.AddCommand(waitlistApproveCmd(), waitlistStatusCmd(), waitlistExportCmd())
	return cmd
}

// readEmails takes one address per line; commas also separate, "#" starts a comment.
func readEmails(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var emails []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		for _, e := range strings.Split(line, ",") {
			if e = strings.TrimSpace(e); e != "" {
				emails = append(emails, e)
			}
		}
	}
	return emails, sc.Err()
}

func waitlistApproveCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "approve [email...]",
		Short: "Approve applications while capacity remains",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			warnKeyRole()
			emails := append([]string(nil), args...)
			if file != "" {
				more, err := readEmails(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				emails = append(emails, more...)
			}
			if len(emails) == 0 {
				return fmt.Errorf("no emails given; pass them as arguments or with --file")
			}

			svc := newWaitlistService()
			if dryRun {
				status, err := svc.Status(ctx)
				if err != nil {
					return err
				}
				for _, e := range emails {
					if n, err := svc.NormalizeEmail(e); err != nil {
						out.Failure(e, err)
					} else {
						out.Info("would approve %s", n)
					}
				}
				out.Info("%d of %d slots remaining (%s)", status.Remaining, status.Capacity, status.CapacitySource)
				return nil
			}

			res, err := svc.ApproveBatch(ctx, emails)
			if err != nil {
				if apperrors.HasCode(err, apperrors.ErrCodeRPCNotFound) {
					out.Info("install it with `teedops migrate apply %s`", waitlist.ApproveMigration)
				}
				return err
			}
			for _, r := range res.Results {
				remaining := ""
				if r.Remaining.Valid {
					remaining = fmt.Sprintf(" (%d left)", r.Remaining.Int64)
				}
				switch r.Reason {
				case waitlist.ReasonApproved:
					out.Success("%s approved%s", r.Email, remaining)
				case waitlist.ReasonAlreadyApproved, waitlist.ReasonNotFound:
					out.Skip("%s: %s", r.Email, r.Reason)
				default:
					out.Failure(r.Email+": "+r.Reason, nil)
				}
			}
			for e, msg := range res.Failed {
				out.Failure(e, fmt.Errorf("%s", msg))
			}
			if res.Stopped {
				out.Warning("stopped early; remaining emails were not processed")
			}
			out.Summary(res.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file with one email per line")
	return cmd
}

func waitlistStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Count applications and show remaining capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newWaitlistService().Status(cmd.Context())
			if err != nil {
				return err
			}
			out.Table([]string{"pending", "approved", "rejected", "capacity", "source", "remaining"}, [][]string{{
				strconv.Itoa(s.Pending), strconv.Itoa(s.Approved), strconv.Itoa(s.Rejected),
				strconv.Itoa(s.Capacity), s.CapacitySource, strconv.Itoa(s.Remaining),
			}})
			return nil
		},
	}
}

func waitlistExportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every application to an .xlsx file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = "waitlist-" + time.Now().Format("20060102") + ".xlsx"
			}
			n, err := newWaitlistService().Export(cmd.Context(), path)
			if err != nil {
				return err
			}
			out.Success("exported %d applications to %s", n, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "out", "o", "", "output file (default: waitlist-YYYYMMDD.xlsx)")
	return cmd
}

func invitesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invites",
		Short: "Generate, redeem and list invite codes",
	}

	var (
		count     int
		maxUses   int
		createdBy string
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create invite codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				out.Skip("dry run: would generate %d codes with %d uses each", count, maxUses)
				return nil
			}
			codes, err := newWaitlistService().GenerateInvites(cmd.Context(), count, createdBy, maxUses)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(codes))
			for _, c := range codes {
				rows = append(rows, []string{c.Code, strconv.Itoa(c.MaxUses)})
			}
			out.Table([]string{"code", "max_uses"}, rows)
			out.Success("generated %d codes", len(codes))
			return nil
		},
	}
	generate.Flags().IntVarP(&count, "count", "n", 10, fmt.Sprintf("number of codes (1-%d)", waitlist.MaxInviteBatch))
	generate.Flags().IntVar(&maxUses, "max-uses", 1, "uses per code")
	generate.Flags().StringVar(&createdBy, "created-by", "", "profile id to attribute the codes to")

	var userID string
	redeem := &cobra.Command{
		Use:   "redeem <code> --user <uuid>",
		Short: "Redeem a code for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				out.Skip("dry run: would redeem %s for %s", waitlist.NormalizeCode(args[0]), userID)
				return nil
			}
			res, err := newWaitlistService().Redeem(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			if res.RemainingUses.Valid {
				out.Success("%s redeemed, %d uses left", res.Code, res.RemainingUses.Int64)
			} else {
				out.Success("%s redeemed", res.Code)
			}
			return nil
		},
	}

	redeem.Flags().StringVar(&userID, "user", "", "profile id redeeming the code")
	_ = redeem.MarkFlagRequired("user")

	var unused bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List invite codes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := newWaitlistService().ListInvites(cmd.Context(), unused)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(codes))
			for _, c := range codes {
				created := ""
				if c.CreatedAt.Valid {
					created = c.CreatedAt.Time.Format("2006-01-02")
				}
				rows = append(rows, []string{
					c.Code, fmt.Sprintf("%d/%d", c.Uses, c.MaxUses),
					strconv.FormatBool(c.IsActive), c.CreatedBy.String, created,
				})
			}
			out.Table([]string{"code", "uses", "active", "created_by", "created"}, rows)
			return nil
		},
	}
	list.Flags().BoolVar(&unused, "unused", false, "only active codes that were never used")

	cmd.AddCommand(generate, redeem, list)
	return cmd
}
