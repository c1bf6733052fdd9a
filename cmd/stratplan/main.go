package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"stratplan/internal/alloc"
	"stratplan/internal/db"
	"stratplan/internal/design"
	"stratplan/internal/web"
)

var dbPath string

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "stratplan.db"
	}
	return filepath.Join(home, ".local/share/stratplan", "stratplan.db")
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "stratplan",
		Short: "Stratified sampling allocation planner",
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDBPath(), "database path")

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(methodsCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func planCmd() *cobra.Command {
	var methodStr string
	var save bool
	var notes string

	cmd := &cobra.Command{
		Use:   "plan [design-file]",
		Short: "Compute sample allocations for a survey design",
		Long: `Compute the required total sample size and per-stratum allocation
for a survey design under each allocation method.

The design file is JSON or YAML with the stratum table (id, population,
std_dev, unit_cost, unit_time) and the precision parameters
(margin_of_error plus confidence_z or confidence_level).

Example:
  # All methods
  stratplan plan survey.yaml

  # One method, persisted for later comparison
  stratplan plan survey.yaml --method neyman --save --notes "Q3 household survey"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := design.LoadFile(args[0])
			if err != nil {
				return err
			}

			var plans []*alloc.Plan
			if methodStr != "" {
				p, err := alloc.Compute(d, alloc.Method(methodStr))
				if err != nil {
					return err
				}
				plans = append(plans, p)
			} else {
				plans, err = alloc.ComputeAll(d)
				if err != nil {
					return err
				}
			}

			printDesignHeader(d)
			for _, p := range plans {
				printPlan(d, p)
			}

			if !save {
				return nil
			}

			database, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
				}
			}()

			designID, err := findOrSaveDesign(database, d, notes)
			if err != nil {
				return err
			}
			for _, p := range plans {
				planID, err := database.SavePlan(designID, p, notes)
				if err != nil {
					return err
				}
				color.Green("Saved %s plan #%d (design #%d)", p.Method, planID, designID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&methodStr, "method", "", "allocation method (default: all)")
	cmd.Flags().BoolVar(&save, "save", false, "persist the design and plans")
	cmd.Flags().StringVar(&notes, "notes", "", "optional notes")

	return cmd
}

func listCmd() *cobra.Command {
	var limit int
	var method, since string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
				}
			}()

			plans, err := database.ListPlans(limit, method, since)
			if err != nil {
				return err
			}

			if len(plans) == 0 {
				fmt.Println("No plans found")
				return nil
			}

			cyan := color.New(color.FgCyan)
			dim := color.New(color.Faint)

			_, _ = cyan.Printf("%-6s %-20s %-14s %8s %-20s %s\n", "ID", "Design", "Method", "Total", "Date", "Notes")
			_, _ = dim.Println(strings.Repeat("-", 85))

			for _, p := range plans {
				d, err := database.GetDesign(p.DesignID)
				if err != nil {
					return err
				}
				name := d.Name
				if len(name) > 18 {
					name = name[:15] + "..."
				}
				notes := p.Notes
				if len(notes) > 25 {
					notes = notes[:22] + "..."
				}
				date := p.CreatedAt
				if len(date) > 19 {
					date = date[:19]
				}
				fmt.Printf("%-6d %-20s %-14s %8d %-20s %s\n",
					p.ID, name, p.Method, p.TotalSampleSize, date, notes)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max plans to show")
	cmd.Flags().StringVar(&method, "method", "", "filter by allocation method")
	cmd.Flags().StringVar(&since, "since", "", "filter plans since date (YYYY-MM-DD)")

	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [plan_id]",
		Short: "Show details of a saved plan (latest when no id given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
				}
			}()

			var plan *db.Plan
			if len(args) == 0 {
				plan, err = database.GetLatestPlan()
				if err != nil {
					return fmt.Errorf("no plans found: %w", err)
				}
			} else {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid plan ID: %w", err)
				}
				plan, err = database.GetPlan(id)
				if err != nil {
					return fmt.Errorf("plan not found: %w", err)
				}
			}

			d, err := database.LoadDesign(plan.DesignID)
			if err != nil {
				return err
			}

			allocations, err := database.GetAllocationsForPlan(plan.ID)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			dim := color.New(color.Faint)

			_, _ = cyan.Printf("Plan #%d\n", plan.ID)
			_, _ = dim.Println(strings.Repeat("-", 50))
			fmt.Printf("Design:  %s (#%d)\n", d.Name, plan.DesignID)
			fmt.Printf("Method:  %s\n", plan.Method)
			fmt.Printf("E:       %g   Z: %g   V: %.6f\n", d.MarginOfError, d.ConfidenceZ, plan.TargetVariance)
			fmt.Printf("Date:    %s\n", plan.CreatedAt)
			if plan.Notes != "" {
				fmt.Printf("Notes:   %s\n", plan.Notes)
			}
			fmt.Println()

			printAllocations(allocations, plan.TotalSampleSize, plan.ContinuousN)
			return nil
		},
	}

	return cmd
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [plan_id1] [plan_id2]",
		Short: "Compare the per-stratum allocations of two saved plans",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
				}
			}()

			idA, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plan ID %q: %w", args[0], err)
			}
			idB, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plan ID %q: %w", args[1], err)
			}

			planA, err := database.GetPlan(idA)
			if err != nil {
				return fmt.Errorf("plan %d not found: %w", idA, err)
			}
			planB, err := database.GetPlan(idB)
			if err != nil {
				return fmt.Errorf("plan %d not found: %w", idB, err)
			}

			allocsA, err := database.GetAllocationsForPlan(idA)
			if err != nil {
				return err
			}
			allocsB, err := database.GetAllocationsForPlan(idB)
			if err != nil {
				return err
			}

			allocsBMap := make(map[string]int64)
			for _, a := range allocsB {
				allocsBMap[a.StratumID] = a.Samples
			}

			cyan := color.New(color.FgCyan)
			dim := color.New(color.Faint)
			yellow := color.New(color.FgYellow)

			_, _ = cyan.Printf("Comparing plan #%d (%s) vs plan #%d (%s)\n\n", idA, planA.Method, idB, planB.Method)
			_, _ = cyan.Printf("%-16s %12s %12s %10s\n", "Stratum", planA.Method, planB.Method, "Delta")
			_, _ = dim.Println(strings.Repeat("-", 54))

			shifted := 0
			for _, a := range allocsA {
				b, ok := allocsBMap[a.StratumID]
				if !ok {
					continue
				}
				fmt.Printf("%-16s %12d %12d ", a.StratumID, a.Samples, b)
				delta := b - a.Samples
				if delta == 0 {
					_, _ = dim.Printf("0\n")
				} else {
					_, _ = yellow.Printf("%+d\n", delta)
					shifted++
				}
			}

			_, _ = dim.Println(strings.Repeat("-", 54))
			fmt.Printf("%-16s %12d %12d %+10d\n", "Total n", planA.TotalSampleSize, planB.TotalSampleSize,
				planB.TotalSampleSize-planA.TotalSampleSize)
			fmt.Printf("\n%d of %d strata differ\n", shifted, len(allocsA))

			return nil
		},
	}

	return cmd
}

func deleteCmd() *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "delete [plan_id]",
		Short: "Delete saved plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
				}
			}()

			if before != "" {
				count, err := database.DeletePlansBefore(before)
				if err != nil {
					return err
				}
				color.Green("Deleted %d plans before %s", count, before)
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("specify plan_id or --before date")
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid plan ID: %w", err)
			}

			if err := database.DeletePlan(id); err != nil {
				return err
			}

			color.Green("Deleted plan #%d", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "delete plans before date (YYYY-MM-DD)")

	return cmd
}

func methodsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "methods",
		Short: "List the allocation methods",
		RunE: func(cmd *cobra.Command, args []string) error {
			cyan := color.New(color.FgCyan)
			for _, m := range alloc.Methods() {
				_, _ = cyan.Printf("%-14s", m)
				fmt.Printf(" %s\n", m.Describe())
			}
			return nil
		},
	}

	return cmd
}

func serveCmd() *cobra.Command {
	var port int
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start web UI server",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := database.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
				}
			}()

			addr := fmt.Sprintf(":%d", port)
			server := web.NewServer(database, addr)
			return server.Start(open)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "port to listen on")
	cmd.Flags().BoolVar(&open, "open", false, "open browser automatically")

	return cmd
}

// findOrSaveDesign reuses an existing design row when one with the same
// name and identical parameters is already stored, so repeated saves of
// the same design file attach their plans to one design instead of
// inserting duplicates.
func findOrSaveDesign(database *db.DB, d *design.Design, notes string) (int64, error) {
	stored, err := database.GetDesignByName(d.Name)
	switch {
	case err == nil:
		existing, err := database.LoadDesign(stored.ID)
		if err != nil {
			return 0, err
		}
		if existing.Equal(d) {
			return stored.ID, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return 0, err
	}
	return database.SaveDesign(d, notes)
}

func printDesignHeader(d *design.Design) {
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	_, _ = cyan.Printf("Design: %s\n", d.Name)
	_, _ = dim.Println(strings.Repeat("-", 60))
	fmt.Printf("Population:      %d (%d strata)\n", d.TotalPopulation(), len(d.Strata))
	fmt.Printf("Margin of error: %g\n", d.MarginOfError)
	fmt.Printf("Confidence z:    %g\n", d.ConfidenceZ)
	fmt.Printf("Target variance: %.6f\n", d.TargetVariance())
	fmt.Println()

	weights := d.Weights()
	_, _ = cyan.Printf("%-16s %12s %10s %10s %10s %10s\n", "Stratum", "Nh", "Wh", "Sh", "Ch", "Th")
	_, _ = dim.Println(strings.Repeat("-", 74))
	for i, s := range d.Strata {
		fmt.Printf("%-16s %12d %10.4f %10g %10g %10g\n",
			s.ID, s.Population, weights[i], s.StdDev, s.UnitCost, s.UnitTime)
	}
	fmt.Println()
}

func printPlan(d *design.Design, p *alloc.Plan) {
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	_, _ = cyan.Printf("%s\n", p.Method)
	printAllocations(p.Allocations, p.TotalSampleSize, p.ContinuousN)
	_, _ = dim.Println()
}

func printAllocations(allocations []alloc.Allocation, total int64, continuous float64) {
	dim := color.New(color.Faint)

	var allocated int64
	for _, a := range allocations {
		fmt.Printf("  %-16s %8d\n", a.StratumID, a.Samples)
		allocated += a.Samples
	}
	_, _ = dim.Printf("  %s\n", strings.Repeat("-", 25))
	fmt.Printf("  %-16s %8d  (n = %.2f)\n", "Total n", total, continuous)
	if allocated != total {
		_, _ = dim.Printf("  %-16s %8d  (per-stratum rounding)\n", "Allocated", allocated)
	}
}
