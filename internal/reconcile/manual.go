package reconcile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"pricewarden/internal/domain"
)

// ManualReconciler walks an operator through conflicts between stored and
// freshly fetched prices. It is the override path: unlike the automated
// update it may replace rows anywhere in the series, not only after the
// stored tail.
type ManualReconciler struct {
	in  *bufio.Reader
	out io.Writer
	log *slog.Logger
}

// NewManualReconciler reads decisions from in (normally the terminal) and
// writes prompts to out.
func NewManualReconciler(in io.Reader, out io.Writer, log *slog.Logger) *ManualReconciler {
	return &ManualReconciler{
		in:  bufio.NewReader(in),
		out: out,
		log: log.With("component", "reconcile"),
	}
}

// Reconcile merges fetched into stored. Rows at new timestamps are taken as
// is. A row at an existing timestamp with a different close triggers a
// prompt; the operator keeps the old row, accepts the new one, or types a
// replacement close. The result is the full series to write back.
func (r *ManualReconciler) Reconcile(contract domain.Contract, stored, fetched domain.PriceSeries) (domain.PriceSeries, error) {
	byTime := make(map[int64]int, len(stored))
	result := make(domain.PriceSeries, len(stored))
	copy(result, stored)
	for i, bar := range result {
		byTime[bar.Timestamp.UnixNano()] = i
	}

	conflicts := 0
	for _, incoming := range fetched {
		idx, exists := byTime[incoming.Timestamp.UnixNano()]
		if !exists {
			byTime[incoming.Timestamp.UnixNano()] = len(result)
			result = append(result, incoming)
			continue
		}
		current := result[idx]
		if current.Close == incoming.Close {
			continue
		}
		conflicts++
		resolved, err := r.resolve(contract, current, incoming)
		if err != nil {
			return nil, err
		}
		result[idx] = resolved
	}

	result.Sort()
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("reconciled series for %s: %w", contract, err)
	}
	if conflicts > 0 {
		r.log.Info("manual reconciliation finished",
			"contract", contract.Key(), "conflicts", conflicts)
	}
	return result, nil
}

// resolve asks the operator what to do with one conflicting row.
func (r *ManualReconciler) resolve(contract domain.Contract, old, fresh domain.Bar) (domain.Bar, error) {
	fmt.Fprintf(r.out, "\nConflict for %s at %s\n", contract.Key(),
		old.Timestamp.Format("2006-01-02 15:04"))
	fmt.Fprintf(r.out, "  stored:  O=%.4f H=%.4f L=%.4f C=%.4f V=%d\n",
		old.Open, old.High, old.Low, old.Close, old.Volume)
	fmt.Fprintf(r.out, "  fetched: O=%.4f H=%.4f L=%.4f C=%.4f V=%d\n",
		fresh.Open, fresh.High, fresh.Low, fresh.Close, fresh.Volume)

	for {
		fmt.Fprint(r.out, "keep [o]ld, accept [n]ew, or type a close value: ")
		line, err := r.in.ReadString('\n')
		if err != nil && line == "" {
			return domain.Bar{}, fmt.Errorf("reading reconciliation answer: %w", err)
		}
		answer := strings.TrimSpace(line)

		switch answer {
		case "", "o", "O":
			return old, nil
		case "n", "N":
			return fresh, nil
		}
		if value, perr := strconv.ParseFloat(answer, 64); perr == nil {
			override := fresh
			override.Close = value
			return override, nil
		}
		fmt.Fprintf(r.out, "did not understand %q\n", answer)
	}
}
