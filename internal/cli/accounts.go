package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
)

func (c *console) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every account with its plan and usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := c.backend.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if c.output == "json" {
				return c.printJSON(views)
			}

			table := c.newTable("UID", "EMAIL", "PLAN", "USED", "ROLE", "STATUS")
			for _, v := range views {
				table.AddRow(v.Account.UID, v.Account.Email, string(v.Account.Plan),
					strconv.Itoa(v.Account.UsedCount), string(v.Account.Role), string(v.Subscription.Status))
			}
			table.Render()
			return nil
		},
	}
}

func (c *console) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <uid>",
		Short: "Show one account and its subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.backend.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printSnapshot(snap)
		},
	}
}

func (c *console) newSetPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-plan <uid> <trial|pro>",
		Short: "Force an account onto a plan",
		Long: `Force an account onto a plan. Moving to trial always resets usage to zero
and cancels the subscription record. Moving to pro keeps the usage counter.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.backend.SetPlan(cmd.Context(), args[0], model.Plan(args[1]))
			if err != nil {
				return err
			}
			return c.printSnapshot(snap)
		},
	}
}

func (c *console) newResetUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-usage <uid>",
		Short: "Zero the usage counter without touching the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.backend.ResetUsage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printSnapshot(snap)
		},
	}
}

func (c *console) newPromoteCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "promote <uid>",
		Short: "Grant (or with --revoke, remove) the admin role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := model.RoleAdmin
			if revoke {
				role = model.RoleUser
			}
			account, err := c.backend.SetRole(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			if c.output == "json" {
				return c.printJSON(account)
			}
			fmt.Fprintf(c.out, "%s is now %s\n", account.UID, account.Role)
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "demote to a regular user")
	return cmd
}

func (c *console) printSnapshot(snap notify.Snapshot) error {
	if c.output == "json" {
		return c.printJSON(snap)
	}

	table := c.newTable("FIELD", "VALUE")
	table.AddRow("uid", snap.UID)
	table.AddRow("email", snap.Account.Email)
	table.AddRow("plan", string(snap.Account.Plan))
	table.AddRow("used", strconv.Itoa(snap.Account.UsedCount))
	table.AddRow("role", string(snap.Account.Role))
	table.AddRow("subscription", string(snap.Subscription.Status))
	if end := snap.Subscription.CurrentPeriodEnd; end != nil {
		table.AddRow("period_end", end.Format("2006-01-02"))
	}
	table.AddRow("revision", strconv.FormatInt(snap.Revision, 10))
	table.Render()
	return nil
}
