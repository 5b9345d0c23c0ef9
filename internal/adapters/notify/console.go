package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/slurrr/trade-journal/internal/application/ledger"
	"github.com/slurrr/trade-journal/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// Console implementa ports.Notifier y pinta las vistas del CLI.
type Console struct {
	out io.Writer
}

// NewConsole crea un Console que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un Console sobre w (tests).
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifySyncRuns imprime una línea por run y una tabla resumen.
func (c *Console) NotifySyncRuns(_ context.Context, runs []domain.SyncRun) error {
	if len(runs) == 0 {
		fmt.Fprintf(c.out, "[%s] nothing to sync\n", time.Now().Format("15:04:05"))
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Key", "Status", "Pages", "Fetched", "Accepted", "Rejected", "Throttled", "Newest", "Error")
	ok := 0
	for _, r := range runs {
		if r.Status == domain.RunSucceeded {
			ok++
		}
		table.Append(
			r.Key.String(),
			string(r.Status),
			fmt.Sprintf("%d", r.Pages),
			fmt.Sprintf("%d", r.Fetched),
			fmt.Sprintf("%d", r.Accepted),
			fmt.Sprintf("%d", r.Rejected),
			fmt.Sprintf("%d", r.Throttled),
			timeLabel(r.NewestObserved),
			truncate(r.Error, 60),
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  %d/%d keys synced\n", ok, len(runs))

	for _, r := range runs {
		if len(r.RejectReasons) == 0 {
			continue
		}
		fmt.Fprintf(c.out, "  rejected in %s:\n", r.Key)
		for _, reason := range sortedKeys(r.RejectReasons) {
			fmt.Fprintf(c.out, "    %4d  %s\n", r.RejectReasons[reason], reason)
		}
	}
	return nil
}

// PrintSyncStatus imprime checkpoint y último run por key.
func (c *Console) PrintSyncStatus(statuses []domain.SyncStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "  No sync state yet. Run `journal sync` first.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Key", "Checkpoint", "Last success", "Last run", "Status", "Cap", "Error")
	for _, s := range statuses {
		checkpoint, success := "-", "-"
		if s.Checkpoint != nil {
			checkpoint = timeLabel(s.Checkpoint.LastTimestamp)
			success = timeLabel(s.Checkpoint.LastSuccessAt)
		}
		lastRun, status, capHit, errMsg := "-", "-", "", ""
		if s.LastRun != nil {
			lastRun = timeLabel(s.LastRun.StartedAt)
			status = string(s.LastRun.Status)
			if s.LastRun.CapDetected {
				capHit = "yes"
			}
			errMsg = truncate(s.LastRun.Error, 50)
		}
		table.Append(s.Key.String(), checkpoint, success, lastRun, status, capHit, errMsg)
	}
	table.Render()
}

// PrintRebuild imprime el resultado de reconstruir cada cuenta.
func (c *Console) PrintRebuild(reports []ledger.Report) {
	if len(reports) == 0 {
		fmt.Fprintln(c.out, "  No accounts with stored fills.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Venue", "Account", "Symbols", "Trades", "Open", "Excluded", "Flagged", "Gaps", "Funding ?")
	for _, r := range reports {
		table.Append(
			r.Venue,
			truncate(r.Account, 20),
			fmt.Sprintf("%d", r.Symbols),
			fmt.Sprintf("%d", r.Trades),
			fmt.Sprintf("%d", len(r.Open)),
			fmt.Sprintf("%d", r.Excluded),
			fmt.Sprintf("%d", len(r.Flagged)),
			fmt.Sprintf("%d", r.CoverageGaps),
			fmt.Sprintf("%d", r.UnmatchedFunding),
		)
	}
	table.Render()

	for _, r := range reports {
		for _, sym := range sortedKeys(r.Flagged) {
			fmt.Fprintf(c.out, "  !! %s %s %s: %v\n", r.Venue, r.Account, sym, r.Flagged[sym])
		}
		for _, p := range r.Open {
			fmt.Fprintf(c.out, "  >> open %s %s %s %.6g @ %.6g since %s\n",
				p.Venue, p.Symbol, p.Side, p.Size, p.AvgEntry, timeLabel(p.EntryTime))
		}
		for _, m := range r.Mismatches() {
			fmt.Fprintf(c.out, "  ?? %s %s %s: ledger %.6g, venue %.6g at %s\n",
				r.Venue, r.Account, m.Symbol, m.Reconstructed, m.Reported, timeLabel(m.SnapshotAt))
		}
	}
}

// PrintReconciliation imprime cada trade junto al cierre del venue emparejado.
func (c *Console) PrintReconciliation(rec domain.Reconciliation) {
	if len(rec.Matches) == 0 && len(rec.Unmatched) == 0 {
		fmt.Fprintln(c.out, "  Nothing to reconcile.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Exit", "Symbol", "Side", "Size", "Net", "Venue PnL", "Delta", "Venue exit")
	var absDelta float64
	for _, m := range rec.Matches {
		venuePnL, delta, venueExit := "-", "-", "unmatched"
		if m.Record != nil {
			venuePnL = money(m.Record.TotalPnL)
			delta = money(m.Delta())
			venueExit = timeLabel(m.Record.Timestamp)
			absDelta += math.Abs(m.Delta())
		}
		table.Append(
			timeLabel(m.Trade.ExitTime),
			m.Trade.Symbol,
			string(m.Trade.Side),
			fmt.Sprintf("%.6g", m.Trade.ExitSize),
			money(m.Trade.NetPnL()),
			venuePnL,
			delta,
			venueExit,
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  %s %s: %d/%d trades matched, |delta| %s\n",
		rec.Venue, rec.Account, rec.Matched(), len(rec.Matches), money(absDelta))
	for _, r := range rec.Unmatched {
		fmt.Fprintf(c.out, "  -- venue only %s %s %.6g %s at %s\n",
			r.Symbol, r.Side, r.Size, money(r.TotalPnL), timeLabel(r.Timestamp))
	}
}

// PrintTrades imprime la lista de trades y los totales.
func (c *Console) PrintTrades(trades []domain.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(c.out, "  No trades.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Exit", "Venue", "Symbol", "Side", "Size", "Entry", "Exit px", "PnL", "Fees", "Funding", "Net", "MAE", "MFE", "Hold")

	var gross, fees, funding float64
	wins := 0
	for i, t := range trades {
		gross += t.RealizedPnL
		fees += t.Fees
		funding += t.Funding
		if t.NetPnL() > 0 {
			wins++
		}
		mae, mfe := "-", "-"
		if t.Excursion != nil {
			mae = money(t.Excursion.MAE)
			mfe = money(t.Excursion.MFE)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			timeLabel(t.ExitTime),
			t.Venue,
			t.Symbol,
			string(t.Side),
			fmt.Sprintf("%.6g", t.MaxSize),
			fmt.Sprintf("%.6g", t.EntryPrice),
			fmt.Sprintf("%.6g", t.ExitPrice),
			money(t.RealizedPnL),
			money(t.Fees),
			money(t.Funding),
			money(t.NetPnL()),
			mae,
			mfe,
			holdLabel(t.Duration()),
		)
	}
	table.Render()

	net := gross - fees + funding
	fmt.Fprintf(c.out, "\n  Trades: %d  wins: %d (%.1f%%)\n", len(trades), wins, float64(wins)/float64(len(trades))*100)
	fmt.Fprintf(c.out, "  Gross: %s  fees: %s  funding: %s  net: %s\n", money(gross), money(fees), money(funding), money(net))
}

// PrintTrade imprime un trade con sus legs.
func (c *Console) PrintTrade(t domain.Trade) {
	fmt.Fprintf(c.out, "\n  Trade %s\n", t.ID)
	fmt.Fprintf(c.out, "  %s %s %s  %s → %s (%s)\n",
		t.Venue, t.Account, t.Symbol, timeLabel(t.EntryTime), timeLabel(t.ExitTime), holdLabel(t.Duration()))
	fmt.Fprintf(c.out, "  %s  max size %.6g  entry %.6g  exit %.6g\n", t.Side, t.MaxSize, t.EntryPrice, t.ExitPrice)
	fmt.Fprintf(c.out, "  PnL %s  fees %s  funding %s  net %s\n",
		money(t.RealizedPnL), money(t.Fees), money(t.Funding), money(t.NetPnL()))
	if t.Excursion != nil {
		fmt.Fprintf(c.out, "  MAE %s  MFE %s  ETD %s\n",
			money(t.Excursion.MAE), money(t.Excursion.MFE), money(t.Excursion.ETD))
	} else {
		fmt.Fprintln(c.out, "  excursions: unknown")
	}

	if len(t.Legs) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Role", "Side", "Price", "Size", "Fee", "Fill")
	for _, l := range t.Legs {
		table.Append(
			timeLabel(l.Timestamp),
			string(l.Role),
			string(l.Side),
			fmt.Sprintf("%.6g", l.Price),
			fmt.Sprintf("%.6g", l.Size),
			money(l.Fee),
			truncate(l.FillID, 40),
		)
	}
	table.Render()
}

// PrintBars imprime velas OHLC.
func (c *Console) PrintBars(bars []domain.PriceBar) {
	if len(bars) == 0 {
		fmt.Fprintln(c.out, "  No bars in range.")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Start", "TF", "Open", "High", "Low", "Close", "Volume")
	for _, b := range bars {
		table.Append(
			timeLabel(b.Start),
			string(b.Timeframe),
			fmt.Sprintf("%.6g", b.Open),
			fmt.Sprintf("%.6g", b.High),
			fmt.Sprintf("%.6g", b.Low),
			fmt.Sprintf("%.6g", b.Close),
			fmt.Sprintf("%.6g", b.Volume),
		)
	}
	table.Render()
}

// PrintLiquidations imprime cierres forzados.
func (c *Console) PrintLiquidations(events []domain.Liquidation) {
	if len(events) == 0 {
		fmt.Fprintln(c.out, "  No liquidations.")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Venue", "Symbol", "Side", "Size", "Entry", "Exit", "PnL", "Liq fee", "Type")
	var total float64
	for _, l := range events {
		total += l.TotalPnL
		table.Append(
			timeLabel(l.Timestamp),
			l.Venue,
			l.Symbol,
			string(l.Side),
			fmt.Sprintf("%.6g", l.Size),
			fmt.Sprintf("%.6g", l.EntryPrice),
			fmt.Sprintf("%.6g", l.ExitPrice),
			money(l.TotalPnL),
			money(l.LiquidateFee),
			l.ExitType,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  %d liquidations, total PnL %s\n", len(events), money(total))
}

// --- helpers ---

func timeLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func holdLabel(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < 48*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
