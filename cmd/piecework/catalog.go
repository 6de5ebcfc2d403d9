package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/djedi/piecework/internal/store"
)

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Manage processes and their default piece rates",
	}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, _ := cmd.Flags().GetFloat64("price")
			unit, _ := cmd.Flags().GetString("unit")
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p := &store.Process{Name: args[0], DefaultPrice: price, Unit: unit, IsActive: true}
			if err := a.store.CreateProcess(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added process %d %s\n", p.ID, p.Name)
			return nil
		},
	}
	add.Flags().Float64("price", 0, "default unit price")
	add.Flags().String("unit", "", "unit of quantity")

	list := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			fetch := a.store.ListProcesses
			if all {
				fetch = a.store.ListAllProcesses
			}
			processes, err := fetch(cmd.Context())
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Name", "Price", "Unit", "Active")
			for _, p := range processes {
				table.Append([]string{
					strconv.FormatInt(p.ID, 10), p.Name, formatAmount(p.DefaultPrice), p.Unit, strconv.FormatBool(p.IsActive),
				})
			}
			return table.Render()
		},
	}
	list.Flags().Bool("all", false, "include inactive processes")

	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.store.GetProcess(cmd.Context(), id)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("process %d: %w", id, store.ErrNotFound)
			}
			if cmd.Flags().Changed("name") {
				p.Name, _ = cmd.Flags().GetString("name")
			}
			if cmd.Flags().Changed("price") {
				p.DefaultPrice, _ = cmd.Flags().GetFloat64("price")
			}
			if cmd.Flags().Changed("unit") {
				p.Unit, _ = cmd.Flags().GetString("unit")
			}
			if cmd.Flags().Changed("active") {
				p.IsActive, _ = cmd.Flags().GetBool("active")
			}
			if err := a.store.UpdateProcess(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated process %d\n", id)
			return nil
		},
	}
	update.Flags().String("name", "", "new name")
	update.Flags().Float64("price", 0, "new default unit price")
	update.Flags().String("unit", "", "new unit")
	update.Flags().Bool("active", true, "whether the process is offered for new records")

	deactivate := &cobra.Command{
		Use:   "deactivate ID",
		Short: "Hide a process from new records, keeping its history",
		Args:  cobra.ExactArgs(1),
		RunE: processIDCmd(func(a *app, cmd *cobra.Command, id int64) error {
			return a.store.DeactivateProcess(cmd.Context(), id)
		}, "deactivated"),
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a process; its records keep their process name",
		Args:  cobra.ExactArgs(1),
		RunE: processIDCmd(func(a *app, cmd *cobra.Command, id int64) error {
			return a.store.DeleteProcess(cmd.Context(), id)
		}, "deleted"),
	}

	cmd.AddCommand(add, list, update, deactivate, del)
	return cmd
}

func processIDCmd(fn func(a *app, cmd *cobra.Command, id int64) error, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := fn(a, cmd, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s process %d\n", verb, id)
		return nil
	}
}

func newStyleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "style",
		Short: "Manage the style names offered for records",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Add a style; adding an existing name is a no-op",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.AddStyle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "style %d %s\n", st.ID, st.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List styles by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			styles, err := a.store.ListStyles(cmd.Context())
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Name")
			for _, st := range styles {
				table.Append([]string{strconv.FormatInt(st.ID, 10), st.Name})
			}
			return table.Render()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a style; records keep their style text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteStyleByName(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted style %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newColorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "color",
		Short: "Manage color groups and presets",
	}
	cmd.AddCommand(newColorGroupCmd(), newColorPresetCmd())
	return cmd
}

func newColorGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage color groups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Add a color group at the end of the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.store.AddColorGroup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "color group %d %s\n", g.ID, g.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List color groups in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			groups, err := a.store.ListColorGroups(cmd.Context())
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Name", "Order", "Presets")
			for _, g := range groups {
				n, err := a.store.CountPresetsInGroup(cmd.Context(), g.ID)
				if err != nil {
					return err
				}
				table.Append([]string{
					strconv.FormatInt(g.ID, 10), g.Name, strconv.Itoa(g.SortOrder), strconv.Itoa(n),
				})
			}
			return table.Render()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a color group, moving its presets to " + store.FallbackGroupName,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.store.GetColorGroupByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if g == nil {
				return fmt.Errorf("color group %q: %w", args[0], store.ErrNotFound)
			}
			if err := a.store.DeleteColorGroup(cmd.Context(), g.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted color group %s\n", g.Name)
			return nil
		},
	})
	return cmd
}

func newColorPresetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage color presets",
	}

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a color preset to a group, creating the group if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hex, _ := cmd.Flags().GetString("hex")
			groupName, _ := cmd.Flags().GetString("group")
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.store.AddColorGroup(cmd.Context(), groupName)
			if err != nil {
				return err
			}
			p, err := a.store.AddColorPreset(cmd.Context(), args[0], hex, g.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "color preset %d %s in %s\n", p.ID, p.Name, g.Name)
			return nil
		},
	}
	add.Flags().String("hex", "", "hex value, e.g. #FF0000")
	add.Flags().String("group", store.FallbackGroupName, "group name")
	_ = add.MarkFlagRequired("hex")

	list := &cobra.Command{
		Use:   "list",
		Short: "List color presets by group",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			groups, err := a.store.ListColorGroups(cmd.Context())
			if err != nil {
				return err
			}
			names := make(map[int64]string, len(groups))
			for _, g := range groups {
				names[g.ID] = g.Name
			}
			presets, err := a.store.ListColorPresets(cmd.Context())
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Name", "Hex", "Group")
			for _, p := range presets {
				table.Append([]string{strconv.FormatInt(p.ID, 10), p.Name, p.HexValue, names[p.GroupID]})
			}
			return table.Render()
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a color preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteColorPreset(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted color preset %d\n", id)
			return nil
		},
	}

	cmd.AddCommand(add, list, del)
	return cmd
}
