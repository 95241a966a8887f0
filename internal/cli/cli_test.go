package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/internal/notify"
	"metalcalc_backend/internal/testutil"
)

func newConsole(t *testing.T) (*billing.Service, func(args ...string) (string, error)) {
	t.Helper()
	svc := billing.NewService(testutil.NewDB(t), billing.Config{TrialLimit: 5}, nil, nil, zerolog.Nop())
	open := func(ctx context.Context) (Backend, func(), error) {
		return svc, func() {}, nil
	}

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := NewRootCmd(open, &out)
		cmd.SetArgs(args)
		err := cmd.ExecuteContext(context.Background())
		return out.String(), err
	}
	return svc, run
}

func TestSetPlanAndShow(t *testing.T) {
	svc, run := newConsole(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	_, err = svc.CheckAndConsume(ctx, "u1")
	require.NoError(t, err)

	out, err := run("set-plan", "u1", "pro", "-o", "json")
	require.NoError(t, err)

	var snap notify.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, model.PlanPro, snap.Account.Plan)
	assert.Equal(t, 1, snap.Account.UsedCount)
	assert.Equal(t, model.StatusActive, snap.Subscription.Status)

	out, err = run("show", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "pro")
	assert.Contains(t, out, "u1@example.com")
}

func TestSetPlanRejectsUnknownPlan(t *testing.T) {
	svc, run := newConsole(t)
	_, err := svc.EnsureAccount(context.Background(), "u1", "u1@example.com")
	require.NoError(t, err)

	_, err = run("set-plan", "u1", "gold")
	assert.Error(t, err)
}

func TestResetUsage(t *testing.T) {
	svc, run := newConsole(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = svc.CheckAndConsume(ctx, "u1")
		require.NoError(t, err)
	}

	_, err = run("reset-usage", "u1")
	require.NoError(t, err)

	account, err := svc.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, account.UsedCount)
	assert.Equal(t, model.PlanTrial, account.Plan)
}

func TestPromoteAndList(t *testing.T) {
	svc, run := newConsole(t)
	ctx := context.Background()
	_, err := svc.EnsureAccount(ctx, "u1", "u1@example.com")
	require.NoError(t, err)
	_, err = svc.EnsureAccount(ctx, "u2", "u2@example.com")
	require.NoError(t, err)

	out, err := run("promote", "u2")
	require.NoError(t, err)
	assert.Contains(t, out, "u2 is now admin")

	out, err = run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "UID")
	assert.Contains(t, out, "u1@example.com")
	assert.Contains(t, out, "admin")

	_, err = run("promote", "u2", "--revoke")
	require.NoError(t, err)
	account, err := svc.Account(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, account.Role)
}

func TestShowUnknownAccount(t *testing.T) {
	_, run := newConsole(t)
	_, err := run("show", "missing")
	assert.Error(t, err)
}
