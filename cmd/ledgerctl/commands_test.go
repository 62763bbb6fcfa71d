package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vinylogix/api/internal/di"
	"github.com/vinylogix/api/internal/platform/config"
	"github.com/vinylogix/api/internal/repositories/memory"
	"github.com/vinylogix/api/internal/services"
)

func sharedContainer(t *testing.T) openFunc {
	t.Helper()
	cfg := config.Config{
		Ledger: config.LedgerConfig{OrderNumberPadding: 6, AllocatorMaxAttempts: 3},
		Alerts: config.AlertConfig{DefaultThreshold: 3},
	}
	container, err := di.NewContainer(context.Background(), cfg, memory.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(context.Background()) })

	return func(context.Context) (*di.Container, func(context.Context) error, error) {
		return container, nil, nil
	}
}

func run(t *testing.T, open openFunc, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLedgerctlWorkflow(t *testing.T) {
	open := sharedContainer(t)

	out, err := run(t, open, "tenant", "setup", "shop-1", "--name", "Vinyl Haven", "--threshold", "2")
	require.NoError(t, err)
	require.Contains(t, out, "prefix=VH")
	require.Contains(t, out, "threshold=2")

	out, err = run(t, open, "item", "register", "shop-1", "lp-1", "--shelf", "1", "--storage", "4")
	require.NoError(t, err)
	require.Contains(t, out, "total=5")

	out, err = run(t, open, "item", "adjust", "shop-1", "lp-1", "--storage", "-3", "--actor", "ops")
	require.NoError(t, err)
	require.Contains(t, out, "shelf=1 storage=1 total=2")

	out, err = run(t, open, "item", "check", "shop-1", "lp-1=2")
	require.NoError(t, err)
	require.Equal(t, "available\n", out)

	out, err = run(t, open, "item", "check", "shop-1", "lp-1=3")
	require.ErrorIs(t, err, services.ErrInsufficientStock)
	require.Contains(t, out, "has 2, requested 3")

	out, err = run(t, open, "order-number", "allocate", "shop-1")
	require.NoError(t, err)
	require.Equal(t, "VH000001", strings.TrimSpace(out))

	out, err = run(t, open, "alerts", "sweep")
	require.NoError(t, err)
	require.Contains(t, out, "tenants=1 items=1")

	out, err = run(t, open, "request-keys", "purge")
	require.NoError(t, err)
	require.Equal(t, "purged=0\n", out)
}

func TestLedgerctlRejectsBadInput(t *testing.T) {
	open := sharedContainer(t)

	_, err := run(t, open, "item", "check", "shop-1", "lp-1")
	require.ErrorContains(t, err, "expected <item-id>=<qty>")

	_, err = run(t, open, "item", "adjust", "shop-1", "missing", "--shelf", "1")
	require.ErrorIs(t, err, services.ErrItemNotFound)

	_, err = run(t, open, "order-number", "allocate", "shop-9")
	require.ErrorIs(t, err, services.ErrAllocatorNotConfigured)

	_, err = run(t, open, "tenant", "setup")
	require.Error(t, err)
}
