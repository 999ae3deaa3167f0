package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ledgercache/internal/amqp"
	"ledgercache/internal/config"
	"ledgercache/internal/core"
	"ledgercache/internal/ledger"
	"ledgercache/internal/log"
	"ledgercache/internal/services"
)

// runtime bundles what every ledgerctl subcommand needs.
type runtime struct {
	cfg       *config.Config
	cal       core.Calendar
	store     ledger.Store
	publisher *amqp.Client
	logger    *log.Logger
	close     func()
}

func (rt *runtime) service() *services.ExpenseService {
	var publisher services.InvalidationPublisher
	if rt.publisher != nil {
		publisher = rt.publisher
	}
	cache := services.NewDayCache(rt.store, rt.cal, rt.logger)
	return services.NewExpenseService(rt.store, cache, publisher, rt.cal, rt.logger)
}

// ExecuteLedgerctl runs the ledgerctl command tree and exits non-zero on error.
func ExecuteLedgerctl() {
	LoadEnvFile()
	if err := NewLedgerctlCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewLedgerctlCommand builds the root command. Configuration comes from the
// same environment as the server.
func NewLedgerctlCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "ledgerctl – write to the ledger and inspect cached days",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")

	open := func(cmd *cobra.Command, withAMQP bool) (*runtime, error) {
		cfg, err := LoadAndValidateConfig()
		if err != nil {
			return nil, err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger := SetupLogger(level, cmd.ErrOrStderr()).WithComponent(log.ComponentCLI)

		cal, err := LoadCalendar(cfg)
		if err != nil {
			return nil, err
		}
		result, err := OpenBackend(cmd.Context(), cfg, logger)
		if err != nil {
			return nil, err
		}

		rt := &runtime{cfg: cfg, cal: cal, store: result.Store, logger: logger}
		if withAMQP {
			client, err := OpenAMQPPublisher(cfg, logger)
			if err != nil {
				// Writes still land; other instances converge on their next invalidation.
				logger.Warn("AMQP unavailable, continuing without notifications", log.FieldError, err)
			}
			rt.publisher = client
		}
		rt.close = func() {
			if rt.publisher != nil {
				rt.publisher.Close()
			}
			result.Close()
		}
		return rt, nil
	}

	root.AddCommand(
		newAddCmd(open),
		newUpdateCmd(open),
		newDeleteCmd(open),
		newDayCmd(open),
		newInvalidateCmd(open),
	)
	return root
}

type opener func(cmd *cobra.Command, withAMQP bool) (*runtime, error)

// entryFlags are shared by add and update.
type entryFlags struct {
	date        string
	description string
	amount      string
	primary     string
	secondary   string
	income      bool
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Day of the entry (YYYY-MM-DD, default today)")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "Description")
	cmd.Flags().StringVarP(&f.amount, "amount", "a", "", "Amount, e.g. 12.50 or 12,50")
	cmd.Flags().StringVarP(&f.primary, "category", "c", "", "Primary category")
	cmd.Flags().StringVarP(&f.secondary, "subcategory", "s", "", "Secondary category")
	cmd.Flags().BoolVar(&f.income, "income", false, "Record money received instead of spent")
}

// apply copies the flags that were set onto e.
func (f *entryFlags) apply(cmd *cobra.Command, cal core.Calendar, e *core.Expense) error {
	changed := cmd.Flags().Changed
	if changed("date") {
		day, err := time.ParseInLocation(core.DayLayout, f.date, cal.Local)
		if err != nil {
			return fmt.Errorf("invalid --date %q: use YYYY-MM-DD", f.date)
		}
		e.Date = core.Date{Time: day}
	}
	if changed("description") {
		e.Description = strings.TrimSpace(f.description)
	}
	if changed("amount") {
		cents, err := core.ParseDecimalToCents(f.amount)
		if err != nil {
			return fmt.Errorf("invalid --amount %q: %w", f.amount, err)
		}
		e.Amount = core.Money{Cents: cents}
	}
	if changed("category") {
		e.Primary = strings.TrimSpace(f.primary)
	}
	if changed("subcategory") {
		e.Secondary = strings.TrimSpace(f.secondary)
	}
	if changed("income") || changed("amount") {
		if f.income != (e.Amount.Cents < 0) {
			e.Amount.Cents = -e.Amount.Cents
		}
	}
	return nil
}

func newAddCmd(open opener) *cobra.Command {
	var flags entryFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a new ledger entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd, true)
			if err != nil {
				return err
			}
			defer rt.close()

			e := core.Expense{Date: core.Date{Time: rt.cal.LocalDay(time.Now())}}
			if err := flags.apply(cmd, rt.cal, &e); err != nil {
				return err
			}
			stored, err := rt.service().AddExpense(cmd.Context(), e)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added #%d %s %s %s\n",
				stored.ID, core.KeyOf(stored.Date.Time), stored.Amount, stored.Description)
			return nil
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newUpdateCmd(open opener) *cobra.Command {
	var flags entryFlags
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change fields of an existing entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := open(cmd, true)
			if err != nil {
				return err
			}
			defer rt.close()

			e, err := rt.store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			flags.income = flags.income || (!cmd.Flags().Changed("income") && e.IsIncome())
			if err := flags.apply(cmd, rt.cal, &e); err != nil {
				return err
			}
			if err := rt.service().UpdateExpense(cmd.Context(), e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated #%d\n", id)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeleteCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Remove an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := open(cmd, true)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.service().DeleteExpense(cmd.Context(), id); err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					return fmt.Errorf("entry #%d not found", id)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted #%d\n", id)
			return nil
		},
	}
}

// newDayCmd loads the day's month through a local cache and prints the day.
func newDayCmd(open opener) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "day [date]",
		Short: "Show the entries and running balance of a day (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd, false)
			if err != nil {
				return err
			}
			defer rt.close()

			day := rt.cal.LocalDay(time.Now())
			if len(args) == 1 {
				if day, err = time.ParseInLocation(core.DayLayout, args[0], rt.cal.Local); err != nil {
					return fmt.Errorf("invalid date %q: use YYYY-MM-DD", args[0])
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cache := services.NewDayCache(rt.store, rt.cal, rt.logger)
			if err := cache.Start(ctx); err != nil {
				return err
			}
			defer cache.Stop(context.Background())

			cache.PreloadMonth(day)
			if err := cache.Flush(ctx); err != nil {
				return fmt.Errorf("load month: %w", err)
			}
			return printDay(cmd.OutOrStdout(), cache, day)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for the month to load")
	return cmd
}

func printDay(out io.Writer, cache *services.DayCache, day time.Time) error {
	key := core.KeyOf(day)
	expenses, ok := cache.Expenses(day)
	if !ok {
		return fmt.Errorf("entries of %s could not be loaded", key)
	}

	fmt.Fprintf(out, "%s\n", key)
	if len(expenses) == 0 {
		fmt.Fprintln(out, "no entries")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAMOUNT\tCATEGORY\tDESCRIPTION")
		for _, e := range expenses {
			category := e.Primary
			if e.Secondary != "" {
				category += "/" + e.Secondary
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.Amount, category, e.Description)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if balance, ok := cache.Balance(day); ok {
		fmt.Fprintf(out, "balance %s\n", balance.StringFixed(2))
	} else {
		fmt.Fprintln(out, "balance unknown")
	}
	return nil
}

func newInvalidateCmd(open opener) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Tell running caches to refresh a day, or to drop everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := amqp.NewFullInvalidation()
			if day != "" {
				key, err := core.ParseDayKey(day)
				if err != nil {
					return err
				}
				msg = amqp.NewDayInvalidation(key)
			}

			rt, err := open(cmd, true)
			if err != nil {
				return err
			}
			defer rt.close()

			if rt.publisher == nil {
				return errors.New("AMQP is not configured: set AMQP_URL")
			}
			if err := rt.publisher.PublishInvalidation(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s invalidation\n", msg.Scope)
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Refresh only this day (YYYY-MM-DD)")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
