// internal/export/export.go
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-autotrader/internal/domain"
)

// ErrEmpty is returned when no journal entry matches the filters.
var ErrEmpty = errors.New("no journal entries match the export criteria")

// Format represents the export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Options configures the export behavior
type Options struct {
	Format    Format
	Since     time.Time
	Until     time.Time
	Wallet    string
	Token     string
	Outcome   domain.Outcome
	OutputDir string
}

// JournalExporter writes closed round trips to disk.
type JournalExporter struct {
	clock  clock.Clock
	logger *zap.Logger
}

func NewJournalExporter(clk clock.Clock, logger *zap.Logger) *JournalExporter {
	if clk == nil {
		clk = clock.New()
	}
	return &JournalExporter{clock: clk, logger: logger.Named("export")}
}

// Export filters entries, sorts them by close time and writes one file.
// It returns the path of the written file.
func (e *JournalExporter) Export(entries []*domain.JournalEntry, opts Options) (string, error) {
	filtered := Filter(entries, opts)
	if len(filtered) == 0 {
		return "", ErrEmpty
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(opts.OutputDir, e.filename(opts))

	var err error
	switch opts.Format {
	case FormatCSV, "":
		err = writeCSV(filtered, path)
	case FormatJSON:
		err = e.writeJSON(filtered, path)
	default:
		err = fmt.Errorf("unsupported format: %s", opts.Format)
	}
	if err != nil {
		return "", err
	}

	e.logger.Info("Journal exported",
		zap.String("file", path),
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))
	return path, nil
}

// Filter keeps entries that match every non-zero option.
func Filter(entries []*domain.JournalEntry, opts Options) []*domain.JournalEntry {
	var out []*domain.JournalEntry
	for _, je := range entries {
		if !opts.Since.IsZero() && je.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && je.CreatedAt.After(opts.Until) {
			continue
		}
		if opts.Wallet != "" && je.Wallet != opts.Wallet {
			continue
		}
		if opts.Token != "" && je.Token != opts.Token {
			continue
		}
		if opts.Outcome != "" && je.Outcome != opts.Outcome {
			continue
		}
		out = append(out, je)
	}
	return out
}

func (e *JournalExporter) filename(opts Options) string {
	prefix := "journal"
	if opts.Outcome != "" {
		prefix += "_" + string(opts.Outcome)
	}
	if len(opts.Token) >= 8 {
		prefix += "_" + opts.Token[:8]
	}
	format := opts.Format
	if format == "" {
		format = FormatCSV
	}
	return fmt.Sprintf("%s_%s.%s", prefix, e.clock.Now().UTC().Format("20060102_150405"), format)
}

var csvHeaders = []string{
	"closed_at", "wallet", "token", "symbol", "mode", "exit_reason", "outcome",
	"sol_in", "sol_out", "profit_pct", "fee_paid", "rebuys", "held_for",
	"entry_price", "entry_confidence", "exit_price", "exit_confidence",
}

func csvRow(je *domain.JournalEntry) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		je.CreatedAt.UTC().Format(time.RFC3339),
		je.Wallet, je.Token, je.Symbol, string(je.Mode), string(je.ExitReason), string(je.Outcome),
		f(je.SolIn), f(je.SolOut), f(je.ProfitPct), f(je.FeePaid),
		strconv.Itoa(je.RebuyCount), je.HeldFor.String(),
		f(je.Entry.Price), f(je.Entry.Confidence), f(je.Exit.Price), f(je.Exit.Confidence),
	}
}

func writeCSV(entries []*domain.JournalEntry, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeaders); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, je := range entries {
		if err := w.Write(csvRow(je)); err != nil {
			return fmt.Errorf("failed to write entry %s: %w", je.ID, err)
		}
	}
	w.Flush()
	return w.Error()
}

func (e *JournalExporter) writeJSON(entries []*domain.JournalEntry, path string) error {
	doc := struct {
		ExportedAt time.Time              `json:"exported_at"`
		Count      int                    `json:"count"`
		Summary    Summary                `json:"summary"`
		Entries    []*domain.JournalEntry `json:"entries"`
	}{
		ExportedAt: e.clock.Now().UTC(),
		Count:      len(entries),
		Summary:    Summarize(entries),
		Entries:    entries,
	}
	body, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return os.WriteFile(path, body, 0o644)
}

// Summary aggregates a set of round trips.
type Summary struct {
	Trades       int       `json:"trades"`
	Wins         int       `json:"wins"`
	Losses       int       `json:"losses"`
	WinRate      float64   `json:"win_rate"` // percent
	UniqueTokens int       `json:"unique_tokens"`
	SolIn        float64   `json:"sol_in"`
	SolOut       float64   `json:"sol_out"`
	NetSOL       float64   `json:"net_sol"`
	FeesPaid     float64   `json:"fees_paid"`
	AvgProfitPct float64   `json:"avg_profit_pct"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
	ByMode       []ModeRow `json:"by_mode"`
}

// ModeRow is the per-mode breakdown of a Summary.
type ModeRow struct {
	Mode   domain.TradeMode `json:"mode"`
	Trades int              `json:"trades"`
	Wins   int              `json:"wins"`
	NetSOL float64          `json:"net_sol"`
}

// Summarize computes totals in decimal so long journals do not drift.
func Summarize(entries []*domain.JournalEntry) Summary {
	s := Summary{Trades: len(entries)}
	if len(entries) == 0 {
		return s
	}

	var in, out, fees, profit decimal.Decimal
	tokens := make(map[string]struct{})
	modes := make(map[domain.TradeMode]*ModeRow)
	modeNet := make(map[domain.TradeMode]decimal.Decimal)

	s.From, s.To = entries[0].CreatedAt, entries[0].CreatedAt
	for _, je := range entries {
		tokens[je.Token] = struct{}{}
		if je.CreatedAt.Before(s.From) {
			s.From = je.CreatedAt
		}
		if je.CreatedAt.After(s.To) {
			s.To = je.CreatedAt
		}

		solIn, solOut := decimal.NewFromFloat(je.SolIn), decimal.NewFromFloat(je.SolOut)
		in = in.Add(solIn)
		out = out.Add(solOut)
		fees = fees.Add(decimal.NewFromFloat(je.FeePaid))
		profit = profit.Add(decimal.NewFromFloat(je.ProfitPct))

		row, ok := modes[je.Mode]
		if !ok {
			row = &ModeRow{Mode: je.Mode}
			modes[je.Mode] = row
		}
		row.Trades++
		modeNet[je.Mode] = modeNet[je.Mode].Add(solOut.Sub(solIn))

		switch je.Outcome {
		case domain.OutcomeWin:
			s.Wins++
			row.Wins++
		case domain.OutcomeLoss:
			s.Losses++
		}
	}

	s.UniqueTokens = len(tokens)
	s.SolIn = in.InexactFloat64()
	s.SolOut = out.InexactFloat64()
	s.NetSOL = out.Sub(in).InexactFloat64()
	s.FeesPaid = fees.InexactFloat64()
	s.AvgProfitPct = profit.Div(decimal.NewFromInt(int64(len(entries)))).Round(4).InexactFloat64()
	s.WinRate = float64(s.Wins) / float64(s.Trades) * 100

	for mode, row := range modes {
		row.NetSOL = modeNet[mode].InexactFloat64()
		s.ByMode = append(s.ByMode, *row)
	}
	sort.Slice(s.ByMode, func(i, j int) bool { return s.ByMode[i].Mode < s.ByMode[j].Mode })
	return s
}

// Text renders a Summary for chat messages.
func (s Summary) Text() string {
	if s.Trades == 0 {
		return "No closed trades yet"
	}
	msg := fmt.Sprintf("📒 %d trades, %d wins (%.1f%%)\nNet: %+.4f SOL, fees %.4f SOL\nAvg profit: %+.2f%%",
		s.Trades, s.Wins, s.WinRate, s.NetSOL, s.FeesPaid, s.AvgProfitPct)
	for _, r := range s.ByMode {
		msg += fmt.Sprintf("\n%s: %d trades, %+.4f SOL", r.Mode, r.Trades, r.NetSOL)
	}
	return msg
}
