package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinylogix/api/internal/di"
	"github.com/vinylogix/api/internal/services"
)

const commandTimeout = 2 * time.Minute

type openFunc func(ctx context.Context) (*di.Container, func(context.Context) error, error)

func newRootCmd(open openFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the inventory ledger, order numbering and low-stock alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newTenantCmd(open),
		newItemCmd(open),
		newOrderNumberCmd(open),
		newAlertsCmd(open),
		newRequestKeysCmd(open),
	)
	return root
}

// withContainer opens the container for the duration of fn.
func withContainer(cmd *cobra.Command, open openFunc, fn func(ctx context.Context, container *di.Container, out io.Writer) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	container, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, container, cmd.OutOrStdout())
	if closeFn != nil {
		if err := closeFn(ctx); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}

func withServices(cmd *cobra.Command, open openFunc, fn func(ctx context.Context, svc di.Services, out io.Writer) error) error {
	return withContainer(cmd, open, func(ctx context.Context, container *di.Container, out io.Writer) error {
		return fn(ctx, container.Services, out)
	})
}

func newTenantCmd(open openFunc) *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Tenant provisioning"}

	var (
		name           string
		prefix         string
		threshold      int
		alertsDisabled bool
	)
	setup := &cobra.Command{
		Use:   "setup <tenant-id>",
		Short: "Create the tenant's order counter and alert settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc di.Services, out io.Writer) error {
				command := services.SetupTenantCommand{
					TenantID:       args[0],
					DisplayName:    name,
					Prefix:         prefix,
					AlertsDisabled: alertsDisabled,
				}
				if cmd.Flags().Changed("threshold") {
					command.LowStockThreshold = &threshold
				}
				result, err := svc.Tenants.SetupTenant(ctx, command)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "tenant %s ready: prefix=%s padding=%d threshold=%d alerts=%t\n",
					result.Settings.TenantID, result.Counter.Prefix, result.Counter.Padding,
					result.Settings.LowStockThreshold, result.Settings.LowStockAlertsEnabled)
				return nil
			})
		},
	}
	setup.Flags().StringVar(&name, "name", "", "display name used to derive the order number prefix")
	setup.Flags().StringVar(&prefix, "prefix", "", "explicit order number prefix")
	setup.Flags().IntVar(&threshold, "threshold", 0, "low-stock threshold (defaults to the configured value)")
	setup.Flags().BoolVar(&alertsDisabled, "alerts-disabled", false, "disable low-stock alerts for the tenant")

	tenant.AddCommand(setup)
	return tenant
}

func newItemCmd(open openFunc) *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Stock ledger operations"}

	var (
		shelf    int
		storage  int
		sellable bool
		actor    string
	)
	register := &cobra.Command{
		Use:   "register <tenant-id> <item-id>",
		Short: "Register an item with its initial quantities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc di.Services, out io.Writer) error {
				saved, err := svc.Ledger.RegisterItem(ctx, services.RegisterItemCommand{
					TenantID:        args[0],
					ItemID:          args[1],
					IsSellable:      sellable,
					ShelfQuantity:   shelf,
					StorageQuantity: storage,
				})
				if err != nil {
					return err
				}
				printItem(out, saved)
				return nil
			})
		},
	}
	register.Flags().IntVar(&shelf, "shelf", 0, "initial shelf quantity")
	register.Flags().IntVar(&storage, "storage", 0, "initial storage quantity")
	register.Flags().BoolVar(&sellable, "sellable", true, "whether the item can be sold")

	adjust := &cobra.Command{
		Use:   "adjust <tenant-id> <item-id>",
		Short: "Apply a manual correction to shelf and storage quantities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc di.Services, out io.Writer) error {
				saved, err := svc.Ledger.Adjust(ctx, services.StockAdjustCommand{
					TenantID:     args[0],
					ItemID:       args[1],
					ShelfDelta:   shelf,
					StorageDelta: storage,
					Actor:        actor,
				})
				if err != nil {
					return err
				}
				printItem(out, saved)
				return nil
			})
		},
	}
	adjust.Flags().IntVar(&shelf, "shelf", 0, "shelf delta")
	adjust.Flags().IntVar(&storage, "storage", 0, "storage delta")
	adjust.Flags().StringVar(&actor, "actor", "ledgerctl", "operator recorded on the movement")

	check := &cobra.Command{
		Use:   "check <tenant-id> <item-id>=<qty>...",
		Short: "Check whether the requested quantities are available",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseStockLines(args[1:])
			if err != nil {
				return err
			}
			return withServices(cmd, open, func(ctx context.Context, svc di.Services, out io.Writer) error {
				err := svc.Ledger.CheckAvailability(ctx, args[0], lines)
				var shortfall *services.InsufficientStockError
				if errors.As(err, &shortfall) {
					fmt.Fprintf(out, "unavailable: %s has %d, requested %d\n", shortfall.ItemID, shortfall.Available, shortfall.Requested)
					return err
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "available")
				return nil
			})
		},
	}

	item.AddCommand(register, adjust, check)
	return item
}

func newOrderNumberCmd(open openFunc) *cobra.Command {
	orderNumber := &cobra.Command{Use: "order-number", Short: "Order numbering"}
	allocate := &cobra.Command{
		Use:   "allocate <tenant-id>",
		Short: "Allocate the tenant's next order number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc di.Services, out io.Writer) error {
				number, err := svc.Allocator.Allocate(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, number)
				return nil
			})
		},
	}
	orderNumber.AddCommand(allocate)
	return orderNumber
}

func newAlertsCmd(open openFunc) *cobra.Command {
	alerts := &cobra.Command{Use: "alerts", Short: "Low-stock alerts"}
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Re-evaluate every configured tenant's items once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, open, func(ctx context.Context, svc di.Services, out io.Writer) error {
				report, err := svc.Alerts.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "tenants=%d items=%d raised=%d resolved=%d failures=%d\n",
					report.Tenants, report.Items, report.Raised, report.Resolved, report.Failures)
				return nil
			})
		},
	}
	alerts.AddCommand(sweep)
	return alerts
}

func newRequestKeysCmd(open openFunc) *cobra.Command {
	keys := &cobra.Command{Use: "request-keys", Short: "Idempotency-Key maintenance"}
	var limit int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired Idempotency-Key outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, open, func(ctx context.Context, container *di.Container, out io.Writer) error {
				removed, err := container.RequestKeys.PurgeExpired(ctx, time.Now(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "purged=%d\n", removed)
				return nil
			})
		},
	}
	purge.Flags().IntVar(&limit, "limit", 500, "maximum number of keys to delete")
	keys.AddCommand(purge)
	return keys
}

func parseStockLines(args []string) ([]services.StockLine, error) {
	lines := make([]services.StockLine, 0, len(args))
	for _, arg := range args {
		itemID, rawQty, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(itemID) == "" {
			return nil, fmt.Errorf("invalid line %q: expected <item-id>=<qty>", arg)
		}
		qty, err := strconv.Atoi(strings.TrimSpace(rawQty))
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q: %w", arg, err)
		}
		lines = append(lines, services.StockLine{ItemID: strings.TrimSpace(itemID), Quantity: qty})
	}
	return lines, nil
}

func printItem(out io.Writer, item services.Item) {
	fmt.Fprintf(out, "%s/%s shelf=%d storage=%d total=%d\n",
		item.TenantID, item.ID, item.ShelfQuantity, item.StorageQuantity, item.Total())
}
