package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"smartcfd/pkg/smartcfd"
)

const version = "0.1.0"

const requestTimeout = 30 * time.Second

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: smartcfd-cli <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version        Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  health         Check engine health\n")
		fmt.Fprintf(os.Stderr, "  status         Show the engine status board\n")
		fmt.Fprintf(os.Stderr, "  groups         List trade groups\n")
		fmt.Fprintf(os.Stderr, "  group <gid>    Show a single trade group\n")
		fmt.Fprintf(os.Stderr, "  heartbeats     List recent broker heartbeats\n")
		fmt.Fprintf(os.Stderr, "  runs           List engine runs\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		fmt.Fprintf(os.Stderr, "  -addr <url>    Engine API address (default $SMARTCFD_ADDR or http://localhost:8090)\n")
		fmt.Fprintf(os.Stderr, "  -status <s>    Filter trade groups by status\n")
		fmt.Fprintf(os.Stderr, "  -limit <n>     Maximum rows to fetch (default 20)\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "version" {
		fmt.Printf("smartcfd-cli %s\n", version)
		return
	}

	// "group" takes the gid as a positional argument before the flags.
	var gid string
	if cmd == "group" {
		if len(args) < 1 || args[0] == "" {
			fmt.Fprintln(os.Stderr, "usage: smartcfd-cli group <gid> [options]")
			os.Exit(1)
		}
		gid = args[0]
		args = args[1:]
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	addr := fs.String("addr", defaultAddr(), "engine API address")
	statusFilter := fs.String("status", "", "filter trade groups by status")
	limit := fs.Int("limit", 20, "maximum rows to fetch")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	client := smartcfd.NewClient(*addr)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "health":
		err = showHealth(ctx, client)
	case "status":
		err = showStatus(ctx, client)
	case "groups":
		err = showGroups(ctx, client, *statusFilter)
	case "group":
		err = showGroup(ctx, client, gid)
	case "heartbeats":
		err = showHeartbeats(ctx, client, *limit)
	case "runs":
		err = showRuns(ctx, client, *limit)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if v := os.Getenv("SMARTCFD_ADDR"); v != "" {
		return v
	}
	return "http://localhost:8090"
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func formatNote(note string) string {
	if note == "" {
		return "-"
	}
	return note
}

func showHealth(ctx context.Context, c *smartcfd.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}

	t := newTable("HEALTH")
	t.AppendRow(table.Row{"Status", h.Status})
	if h.Reason != "" {
		t.AppendRow(table.Row{"Reason", h.Reason})
	}
	if len(h.Components) > 0 {
		names := make([]string, 0, len(h.Components))
		for name := range h.Components {
			names = append(names, name)
		}
		sort.Strings(names)
		t.AppendSeparator()
		for _, name := range names {
			t.AppendRow(table.Row{name, h.Components[name]})
		}
	}
	t.Render()
	return nil
}

func showStatus(ctx context.Context, c *smartcfd.Client) error {
	s, err := c.Status(ctx)
	if err != nil {
		return err
	}

	halted := "no"
	if s.Halted {
		halted = "yes: " + s.HaltReason
	}
	online := "no"
	if s.BrokerOnline {
		online = "yes"
	}

	t := newTable("ENGINE STATUS")
	t.AppendRows([]table.Row{
		{"Run ID", s.RunID},
		{"Started", formatTime(s.StartedAt)},
		{"Last Cycle", formatTime(s.LastCycleAt)},
		{"Cycles", s.CycleCount},
		{"Broker Online", online},
		{"Equity", fmt.Sprintf("%.2f", s.Equity)},
		{"Last Equity", fmt.Sprintf("%.2f", s.LastEquity)},
		{"Halted", halted},
		{"Total Exposure", fmt.Sprintf("%.2f", s.TotalExposure)},
		{"Open Orders", s.OpenOrders},
	})
	t.Render()

	if len(s.OpenPositions) > 0 {
		pt := newTable("OPEN POSITIONS")
		pt.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Market Value", "Unrealized P/L", "Entry"})
		for _, p := range s.OpenPositions {
			pt.AppendRow(table.Row{
				p.Symbol,
				p.Side,
				fmt.Sprintf("%.6f", p.Qty),
				fmt.Sprintf("%.2f", p.MarketValue),
				fmt.Sprintf("%.2f (%.2f%%)", p.UnrealizedPL, p.UnrealizedPLPC*100),
				fmt.Sprintf("%.2f", p.AvgEntryPrice),
			})
		}
		pt.Render()
	}

	if len(s.DataFeed) > 0 {
		symbols := make([]string, 0, len(s.DataFeed))
		for sym := range s.DataFeed {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)

		ft := newTable("DATA FEED")
		ft.AppendHeader(table.Row{"Symbol", "OK", "Bars", "Last Bar", "Checked", "Reason"})
		for _, sym := range symbols {
			feed := s.DataFeed[sym]
			ok := "no"
			if feed.OK {
				ok = "yes"
			}
			ft.AppendRow(table.Row{
				sym,
				ok,
				feed.Bars,
				formatTime(feed.LastBarAt),
				formatTime(feed.CheckedAt),
				formatNote(feed.Reason),
			})
		}
		ft.Render()
	}

	return nil
}

func showGroups(ctx context.Context, c *smartcfd.Client, status string) error {
	groups, err := c.TradeGroups(ctx, status)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("no trade groups")
		return nil
	}

	t := newTable("TRADE GROUPS")
	t.AppendHeader(table.Row{"GID", "Symbol", "Side", "Status", "Open Qty", "TP", "SL", "Updated", "Note"})
	for _, g := range groups {
		t.AppendRow(table.Row{
			g.GID,
			g.Symbol,
			g.Side,
			g.Status,
			fmt.Sprintf("%.6f", g.OpenQty),
			fmt.Sprintf("%.2f", g.TakeProfitPrice),
			fmt.Sprintf("%.2f", g.StopLossPrice),
			formatTime(g.UpdatedAt),
			formatNote(g.Note),
		})
	}
	t.Render()
	return nil
}

func showGroup(ctx context.Context, c *smartcfd.Client, gid string) error {
	g, err := c.TradeGroup(ctx, gid)
	if err != nil {
		return err
	}

	t := newTable("TRADE GROUP " + g.GID)
	t.AppendRows([]table.Row{
		{"Symbol", g.Symbol},
		{"Side", g.Side},
		{"Status", g.Status},
		{"Entry Order", formatNote(g.EntryOrderID)},
		{"Entry Filled Qty", fmt.Sprintf("%.6f", g.EntryFilledQty)},
		{"Open Qty", fmt.Sprintf("%.6f", g.OpenQty)},
		{"TP Order", formatNote(g.TPOrderID)},
		{"TP Price", fmt.Sprintf("%.2f", g.TakeProfitPrice)},
		{"SL Order", formatNote(g.SLOrderID)},
		{"SL Price", fmt.Sprintf("%.2f", g.StopLossPrice)},
		{"Created", formatTime(g.CreatedAt)},
		{"Updated", formatTime(g.UpdatedAt)},
		{"Note", formatNote(g.Note)},
	})
	t.Render()
	return nil
}

func showHeartbeats(ctx context.Context, c *smartcfd.Client, limit int) error {
	hbs, err := c.Heartbeats(ctx, limit)
	if err != nil {
		return err
	}
	if len(hbs) == 0 {
		fmt.Println("no heartbeats")
		return nil
	}

	t := newTable("HEARTBEATS")
	t.AppendHeader(table.Row{"ID", "Time", "OK", "Latency (ms)", "Code", "Error"})
	for _, hb := range hbs {
		ok := "no"
		if hb.OK {
			ok = "yes"
		}
		t.AppendRow(table.Row{
			hb.ID,
			formatTime(hb.TS),
			ok,
			fmt.Sprintf("%.1f", hb.LatencyMS),
			hb.StatusCode,
			formatNote(hb.Error),
		})
	}
	t.Render()
	return nil
}

func showRuns(ctx context.Context, c *smartcfd.Client, limit int) error {
	runs, err := c.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return nil
	}

	t := newTable("RUNS")
	t.AppendHeader(table.Row{"ID", "Started", "Stopped", "Status", "Note"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			formatTime(r.StartedAt),
			formatTime(r.StoppedAt),
			r.Status,
			formatNote(r.Note),
		})
	}
	t.Render()
	return nil
}
