package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/djedi/piecework/internal/store"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseMonth(s string) (int, time.Month, error) {
	t, err := time.ParseInLocation(monthLayout, s, time.UTC)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}

// Register --month, --from and --to
func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("month", "", "limit to a month (YYYY-MM)")
	cmd.Flags().String("from", "", "first day (YYYY-MM-DD), requires --to")
	cmd.Flags().String("to", "", "last day (YYYY-MM-DD), requires --from")
	cmd.MarkFlagsMutuallyExclusive("month", "from")
	cmd.MarkFlagsMutuallyExclusive("month", "to")
	cmd.MarkFlagsRequiredTogether("from", "to")
}

// rangeFromFlags returns the closed range the range flags select, or nil
// when none are set.
func rangeFromFlags(cmd *cobra.Command) (*store.Range, error) {
	month, _ := cmd.Flags().GetString("month")
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	switch {
	case month != "":
		y, m, err := parseMonth(month)
		if err != nil {
			return nil, err
		}
		r := store.MonthClosedRange(y, m)
		return &r, nil
	case from != "" && to != "":
		start, err := parseDate(from)
		if err != nil {
			return nil, err
		}
		end, err := parseDate(to)
		if err != nil {
			return nil, err
		}
		if end.Before(start) {
			return nil, errors.New("--to is before --from")
		}
		return &store.Range{Start: store.DayStart(start), End: store.DayRange(end).End}, nil
	}
	return nil, nil
}

// parseColorItem parses NAME[#HEX]=QTY, e.g. "Red#FF0000=12".
func parseColorItem(s string) (store.ColorItem, error) {
	i := strings.LastIndex(s, "=")
	if i <= 0 {
		return store.ColorItem{}, fmt.Errorf("invalid color %q, want NAME[#HEX]=QTY", s)
	}
	qty, err := strconv.ParseFloat(s[i+1:], 64)
	if err != nil {
		return store.ColorItem{}, fmt.Errorf("invalid color quantity in %q", s)
	}
	name, hex, _ := strings.Cut(s[:i], "#")
	if hex != "" {
		hex = "#" + strings.ToUpper(hex)
	}
	return store.ColorItem{ColorName: strings.TrimSpace(name), ColorHex: hex, Quantity: qty}, nil
}

func newTable(w io.Writer, header ...any) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(header...)
	return table
}

func formatAmount(f float64) string {
	return humanize.CommafWithDigits(f, 2)
}

func formatQty(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04")
}
