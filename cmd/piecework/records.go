package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/djedi/piecework/internal/images"
	"github.com/djedi/piecework/internal/store"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Add, change and list work records",
	}
	cmd.AddCommand(
		newRecordAddCmd(),
		newRecordUpdateCmd(),
		newRecordListCmd(),
		newRecordShowCmd(),
		newRecordDeleteCmd(),
		newRecordDaysCmd(),
	)
	return cmd
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("process", 0, "process id; fills the process name and price")
	cmd.Flags().String("process-name", "", "process name, overriding the process's")
	cmd.Flags().String("style", "", "style name")
	cmd.Flags().Float64("price", 0, "unit price, overriding the process's default")
	cmd.Flags().Float64("qty", 0, "quantity")
	cmd.Flags().String("date", "", "work day (YYYY-MM-DD), default today")
	cmd.Flags().String("start", "", "start time (HH:MM) on the work day")
	cmd.Flags().String("end", "", "end time (HH:MM) on the work day")
	cmd.Flags().String("remark", "", "free-text remark")
	cmd.Flags().Float64("total-qty", 0, "total quantity of the batch")
	cmd.Flags().String("serial", "", "serial number")
	cmd.Flags().StringArray("image", nil, "image file to attach (repeatable)")
	cmd.Flags().StringArray("color", nil, "color line NAME[#HEX]=QTY (repeatable)")
}

// applyRecordFlags copies the changed record flags onto rec.
func applyRecordFlags(ctx context.Context, cmd *cobra.Command, s *store.Store, rec *store.WorkRecord) error {
	f := cmd.Flags()
	if f.Changed("process") {
		id, _ := f.GetInt64("process")
		p, err := s.GetProcess(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("process %d: %w", id, store.ErrNotFound)
		}
		rec.ProcessID = &p.ID
		rec.ProcessName = p.Name
		rec.UnitPrice = p.DefaultPrice
	}
	if f.Changed("process-name") {
		rec.ProcessName, _ = f.GetString("process-name")
	}
	if f.Changed("style") {
		rec.Style, _ = f.GetString("style")
	}
	if f.Changed("price") {
		rec.UnitPrice, _ = f.GetFloat64("price")
	}
	if f.Changed("qty") {
		rec.Quantity, _ = f.GetFloat64("qty")
	}
	if f.Changed("date") {
		v, _ := f.GetString("date")
		d, err := parseDate(v)
		if err != nil {
			return err
		}
		rec.Date = d
	}
	if rec.Date.IsZero() {
		now := time.Now()
		rec.Date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	for _, name := range []string{"start", "end"} {
		if !f.Changed(name) {
			continue
		}
		v, _ := f.GetString(name)
		t, err := parseClock(rec.Date, v)
		if err != nil {
			return err
		}
		if name == "start" {
			rec.StartTime = t
		} else {
			rec.EndTime = t
		}
	}
	if f.Changed("remark") {
		rec.Remark, _ = f.GetString("remark")
	}
	if f.Changed("total-qty") {
		rec.TotalQuantity, _ = f.GetFloat64("total-qty")
	}
	if f.Changed("serial") {
		rec.SerialNumber, _ = f.GetString("serial")
	}
	if strings.TrimSpace(rec.ProcessName) == "" {
		return errors.New("a record needs --process or --process-name")
	}
	return nil
}

// parseClock places HH:MM on day in the local time zone.
func parseClock(day time.Time, s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.Local), nil
}

func colorItemsFromFlags(cmd *cobra.Command) ([]store.ColorItem, error) {
	values, _ := cmd.Flags().GetStringArray("color")
	items := make([]store.ColorItem, 0, len(values))
	for _, v := range values {
		item, err := parseColorItem(v)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// saveImages copies the --image files into the image directory. On error
// the copies already made are removed.
func saveImages(ctx context.Context, cmd *cobra.Command, imgs *images.Store) ([]string, error) {
	files, _ := cmd.Flags().GetStringArray("image")
	paths := make([]string, 0, len(files))
	for _, file := range files {
		path, err := imgs.SaveFile(ctx, file)
		if err != nil {
			removeImages(imgs, paths)
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// removeImages deletes saved copies, logging the ones that cannot go.
func removeImages(imgs *images.Store, paths []string) {
	for _, path := range paths {
		if err := imgs.Remove(path); err != nil && !errors.Is(err, images.ErrOutsideDir) {
			log.Warn().Err(err).Str("path", path).Msg("could not remove image")
		}
	}
}

// colorSummary renders items as the legacy free-text color column.
func colorSummary(items []store.ColorItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.ColorName+"×"+formatQty(it.Quantity))
	}
	return strings.Join(parts, ", ")
}

func newRecordAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a work record with its images and colors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			items, err := colorItemsFromFlags(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec := &store.WorkRecord{}
			if err := applyRecordFlags(ctx, cmd, a.store, rec); err != nil {
				return err
			}
			rec.Color = colorSummary(items)

			paths, err := saveImages(ctx, cmd, a.images)
			if err != nil {
				return err
			}
			id, err := a.store.InsertRecordWithDetails(ctx, rec, paths, items)
			if err != nil {
				removeImages(a.images, paths)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added record %d: %s × %s = %s\n",
				id, formatQty(rec.Quantity), formatAmount(rec.UnitPrice), formatAmount(rec.Amount))
			return nil
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func newRecordUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a work record; --image and --color replace the existing lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetRecord(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
			}
			if err := applyRecordFlags(ctx, cmd, a.store, rec); err != nil {
				return err
			}

			items, err := a.store.ColorItemsForRecord(ctx, id)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("color") {
				if items, err = colorItemsFromFlags(cmd); err != nil {
					return err
				}
				rec.Color = colorSummary(items)
			}

			existing, err := a.store.ImagesForRecord(ctx, id)
			if err != nil {
				return err
			}
			old := make([]string, 0, len(existing))
			for _, img := range existing {
				old = append(old, img.ImagePath)
			}
			paths := old
			if cmd.Flags().Changed("image") {
				if paths, err = saveImages(ctx, cmd, a.images); err != nil {
					return err
				}
			}

			if err := a.store.UpdateRecordWithDetails(ctx, rec, paths, items); err != nil {
				if cmd.Flags().Changed("image") {
					removeImages(a.images, paths)
				}
				return err
			}
			if cmd.Flags().Changed("image") {
				removeImages(a.images, old)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated record %d\n", id)
			return nil
		},
	}
	addRecordFlags(cmd)
	return cmd
}

func newRecordListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := rangeFromFlags(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var records []store.WorkRecord
			if r == nil {
				records, err = a.store.ListRecords(ctx)
			} else {
				records, err = a.store.RecordsBetween(ctx, r.Start, r.End)
			}
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records)
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func printRecords(w io.Writer, records []store.WorkRecord) error {
	table := newTable(w, "ID", "Date", "Process", "Style", "Qty", "Price", "Amount", "Colors")
	var total float64
	for _, rec := range records {
		total += rec.Amount
		table.Append([]string{
			strconv.FormatInt(rec.ID, 10), formatDay(rec.Date), rec.ProcessName, rec.Style,
			formatQty(rec.Quantity), formatAmount(rec.UnitPrice), formatAmount(rec.Amount), rec.Color,
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d records, total %s\n", len(records), formatAmount(total))
	return nil
}

func newRecordShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one work record with its images and colors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.GetRecord(ctx, id)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
			}
			imgs, err := a.store.ImagesForRecord(ctx, id)
			if err != nil {
				return err
			}
			items, err := a.store.ColorItemsForRecord(ctx, id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fields := newTable(w, "Field", "Value")
			for _, kv := range [][]string{
				{"ID", strconv.FormatInt(rec.ID, 10)},
				{"Date", formatDay(rec.Date)},
				{"Process", rec.ProcessName},
				{"Style", rec.Style},
				{"Quantity", formatQty(rec.Quantity)},
				{"Unit price", formatAmount(rec.UnitPrice)},
				{"Amount", formatAmount(rec.Amount)},
				{"Start", formatClock(rec.StartTime)},
				{"End", formatClock(rec.EndTime)},
				{"Total quantity", formatQty(rec.TotalQuantity)},
				{"Serial", rec.SerialNumber},
				{"Remark", rec.Remark},
				{"Created", rec.CreateTime.Local().Format(time.DateTime)},
			} {
				fields.Append(kv)
			}
			if err := fields.Render(); err != nil {
				return err
			}

			if len(items) > 0 {
				colors := newTable(w, "Color", "Hex", "Qty")
				for _, it := range items {
					colors.Append([]string{it.ColorName, it.ColorHex, formatQty(it.Quantity)})
				}
				if err := colors.Render(); err != nil {
					return err
				}
			}
			for _, img := range imgs {
				fmt.Fprintf(w, "image: %s\n", img.ImagePath)
			}
			return nil
		},
	}
}

func newRecordDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a work record, its colors and its image files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			imgs, err := a.store.ImagesForRecord(ctx, id)
			if err != nil {
				return err
			}
			if err := a.store.DeleteRecord(ctx, id); err != nil {
				return err
			}
			paths := make([]string, 0, len(imgs))
			for _, img := range imgs {
				paths = append(paths, img.ImagePath)
			}
			removeImages(a.images, paths)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted record %d\n", id)
			return nil
		},
	}
}

func newRecordDaysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "days",
		Short: "List the days of a month that have records",
		RunE: func(cmd *cobra.Command, args []string) error {
			month, _ := cmd.Flags().GetString("month")
			var (
				y int
				m time.Month
			)
			if month == "" {
				now := time.Now()
				y, m = now.Year(), now.Month()
			} else {
				var err error
				if y, m, err = parseMonth(month); err != nil {
					return err
				}
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			start, end := store.MonthRange(y, m)
			days, err := a.store.RecordDaysInMonth(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			for _, d := range days {
				fmt.Fprintln(cmd.OutOrStdout(), formatDay(d))
			}
			return nil
		},
	}
	cmd.Flags().String("month", "", "month (YYYY-MM), default this month")
	return cmd
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show earnings per style",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := rangeFromFlags(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.StyleStats(ctx, r)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			table := newTable(w, "Style", "Amount")
			var total float64
			for _, st := range stats {
				total += st.TotalAmount
				table.Append([]string{st.Style, formatAmount(st.TotalAmount)})
			}
			if err := table.Render(); err != nil {
				return err
			}
			fmt.Fprintf(w, "total %s\n", formatAmount(total))
			return nil
		},
	}
	addRangeFlags(cmd)
	return cmd
}
