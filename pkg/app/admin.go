package app

import (
	"bufio"
	"context"
	"flag"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"pharmacy/pkg/admin"
	"pharmacy/pkg/backend"
	"pharmacy/pkg/inventory"
	"pharmacy/pkg/order"
	"pharmacy/pkg/session"
)

const adminHelp = `commands: list [status] [search], advance <order_id>, cancel <order_id>, refresh,
          inventory, restock <product_id> <quantity>, refills, logout, quit
`

// runAdmin signs the operator in, starts the order poller and reads console
// commands until stdin ends or ctx is cancelled.
func runAdmin(ctx context.Context, args []string, logger *logrus.Logger, e env) error {
	var username, password string
	cfg, _, err := parseConfig("admin", args, e.getenv, func(set *flag.FlagSet) {
		set.StringVar(&username, "username", "", "Operator username, used when no admin session is stored.")
		set.StringVar(&password, "password", "", "Operator password.")
	})
	if err != nil {
		return err
	}
	configureLogger(logger, cfg)
	out := &syncWriter{w: e.stdout}

	kv, release, err := openStorage(ctx, cfg, "device.json", logger)
	if err != nil {
		return errors.Wrap(err, "open device storage")
	}
	defer release()

	sessions := session.NewStore(kv)
	client := backend.New(cfg.APIURL, backend.WithLogger(logger))

	operator, err := sessions.Admin(ctx)
	if err != nil {
		if username == "" {
			return errors.New("no admin session stored; pass -username and -password")
		}
		operator, err = client.AdminLogin(ctx, username, password)
		if err != nil {
			return errors.Wrap(err, "admin login")
		}
		if err := sessions.SaveAdmin(ctx, operator); err != nil {
			return errors.Wrap(err, "save admin session")
		}
	}
	out.printf("signed in as %s (%s)\n", operator.Name, operator.Role)

	poller := admin.NewPoller(client,
		admin.WithInterval(cfg.PollInterval),
		admin.WithAlertWindow(cfg.AlertWindow),
		admin.WithLogger(logger),
	)
	poller.OnEvent(eventPrinter(out))
	console := admin.NewConsole(poller, client, logger)

	if err := poller.Poll(ctx); err != nil {
		logger.WithError(err).Warn("initial order load failed")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(pollCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("order poller stopped")
		}
	}()
	defer wg.Wait()
	defer poller.Stop()

	out.printf(adminHelp)
	return readLines(ctx, e.stdin, func(line string) (bool, error) {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return true, nil
		}
		switch fields[0] {
		case "list":
			filter := order.Filter{Status: order.FilterAll}
			if len(fields) > 1 {
				filter.Status = fields[1]
			}
			if len(fields) > 2 {
				filter.Query = strings.Join(fields[2:], " ")
			}
			printRows(out, console.View(filter), console.Stats())
		case "advance":
			if len(fields) < 2 {
				out.printf("usage: advance <order_id>\n")
				return true, nil
			}
			next, err := console.Advance(ctx, fields[1])
			if err != nil {
				out.printf("advance %s: %v\n", fields[1], err)
				return true, nil
			}
			out.printf("%s -> %s requested\n", fields[1], order.Label(next))
		case "cancel":
			if len(fields) < 2 {
				out.printf("usage: cancel <order_id>\n")
				return true, nil
			}
			if err := console.Cancel(ctx, fields[1]); err != nil {
				out.printf("cancel %s: %v\n", fields[1], err)
				return true, nil
			}
			out.printf("%s -> %s requested\n", fields[1], order.Label(order.StatusCancelled))
		case "refresh":
			poller.Refresh()
		case "inventory":
			report, err := client.Inventory(ctx)
			if err != nil {
				out.printf("inventory: %v\n", err)
				return true, nil
			}
			printInventory(out, report)
		case "restock":
			if len(fields) < 3 {
				out.printf("usage: restock <product_id> <quantity>\n")
				return true, nil
			}
			qty, err := strconv.Atoi(fields[2])
			if err != nil {
				out.printf("restock: %q is not a quantity\n", fields[2])
				return true, nil
			}
			p, err := client.SetStock(ctx, fields[1], qty)
			if err != nil {
				out.printf("restock %s: %v\n", fields[1], err)
				return true, nil
			}
			out.printf("%s stock set to %d\n", p.ID, p.StockQuantity)
		case "refills":
			alerts, err := client.RefillAlerts(ctx)
			if err != nil {
				out.printf("refills: %v\n", err)
				return true, nil
			}
			printRefills(out, alerts)
		case "logout":
			if err := sessions.ClearAdmin(ctx); err != nil {
				return false, errors.Wrap(err, "clear admin session")
			}
			out.printf("signed out\n")
			return false, nil
		case "quit", "exit":
			return false, nil
		default:
			out.printf(adminHelp)
		}
		return true, nil
	})
}

// eventPrinter renders poller events. Snapshots are printed only when the
// aggregate counts change.
func eventPrinter(out *syncWriter) func(admin.Event) {
	var last *order.Stats
	return func(ev admin.Event) {
		switch ev.Kind {
		case admin.EventSnapshot:
			if last != nil && *last == ev.Stats {
				return
			}
			stats := ev.Stats
			last = &stats
			out.printf("orders: %d total, %d pending, %d delivered\n", stats.Count, stats.Pending, stats.Delivered)
		case admin.EventNewOrder:
			out.printf("*** %d new order(s) received ***\n", ev.Added)
		case admin.EventError:
			out.printf("unable to reach backend: %v\n", ev.Err)
		case admin.EventActionFailed:
			out.printf("update of %s failed: %v\n", ev.OrderID, ev.Err)
		}
	}
}

func printRows(out *syncWriter, rows []admin.Row, stats order.Stats) {
	if len(rows) == 0 {
		out.printf("no orders match\n")
	}
	for _, r := range rows {
		actions := make([]string, 0, len(r.Actions))
		for _, a := range r.Actions {
			actions = append(actions, string(a))
		}
		out.printf("%-14s %-12s %-24s x%-3d %8s  %-10s [%s]\n",
			r.Order.ID, r.Order.PatientName, r.Order.ProductName, r.Order.Quantity,
			r.Order.TotalPrice.StringFixed(2), r.Label, strings.Join(actions, ", "))
	}
	out.printf("%d total, %d pending, %d delivered\n", stats.Count, stats.Pending, stats.Delivered)
}

func printInventory(out *syncWriter, r inventory.Report) {
	for _, p := range r.Products {
		mark := ""
		switch {
		case p.StockQuantity == 0:
			mark = "OUT"
		case p.StockQuantity < inventory.LowStockThreshold:
			mark = "LOW"
		}
		out.printf("%-8s %-24s %5d %s\n", p.ID, p.Name, p.StockQuantity, mark)
	}
	out.printf("%d products, %d low stock, %d out of stock\n", r.Total, r.LowStock, r.OutOfStock)
}

func printRefills(out *syncWriter, alerts []inventory.RefillAlert) {
	if len(alerts) == 0 {
		out.printf("no refills due\n")
		return
	}
	for _, a := range alerts {
		out.printf("%-12s %-24s runs out %s (%d day(s) left)\n", a.PatientName, a.ProductName, a.RunOutDate, a.DaysRemaining)
	}
}

// readLines calls handle for each input line until it returns false, the
// input ends or ctx is cancelled.
func readLines(ctx context.Context, in io.Reader, handle func(string) (bool, error)) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		more, err := handle(strings.TrimSpace(scanner.Text()))
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return errors.Wrap(scanner.Err(), "read input")
}
