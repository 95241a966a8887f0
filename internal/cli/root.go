// Package cli is the operator console for account entitlements. It writes
// through the same billing service as the HTTP admin surface.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
)

// Backend is the subset of billing.Service the console drives.
type Backend interface {
	ListAccounts(ctx context.Context) ([]billing.AccountView, error)
	Snapshot(ctx context.Context, uid string) (notify.Snapshot, error)
	SetPlan(ctx context.Context, uid string, plan model.Plan) (notify.Snapshot, error)
	ResetUsage(ctx context.Context, uid string) (notify.Snapshot, error)
	SetRole(ctx context.Context, uid string, role model.Role) (model.Account, error)
}

// Opener connects to the store. The returned func releases it.
type Opener func(ctx context.Context) (Backend, func(), error)

type console struct {
	open    Opener
	backend Backend
	closer  func()
	out     io.Writer
	output  string
}

func NewRootCmd(open Opener, out io.Writer) *cobra.Command {
	c := &console{open: open, out: out}

	root := &cobra.Command{
		Use:   "metalcalc-admin",
		Short: "Manage metalcalc accounts and plans",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			backend, closer, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.backend, c.closer = backend, closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.closer != nil {
				c.closer()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "table", "output format: table, json")

	root.AddCommand(c.newListCmd())
	root.AddCommand(c.newShowCmd())
	root.AddCommand(c.newSetPlanCmd())
	root.AddCommand(c.newResetUsageCmd())
	root.AddCommand(c.newPromoteCmd())
	return root
}
