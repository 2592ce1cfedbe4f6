package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelierdesk/internal/config"
	"atelierdesk/internal/db"
	"atelierdesk/internal/domain"
	"atelierdesk/internal/engine"
	"atelierdesk/internal/events"
	"atelierdesk/internal/export"
	"atelierdesk/internal/ingest"
	"atelierdesk/internal/insights"
	"atelierdesk/internal/migrate"
	"atelierdesk/internal/server"
	"atelierdesk/internal/views"
)

var rootCmd = &cobra.Command{
	Use:   "ad",
	Short: "Atelierdesk CLI",
	Long: `Atelierdesk tracks art commissions for a freelance illustrator.
- Workspace: the .atelierdesk directory holding the database; atelierdesk.yml holds config.
- Orders: commissions with a deadline, price, progress stage and source channel.
- Taxonomy: the editable stage/source/art-type lists orders reference; renaming a
  stage or source cascades across existing orders.
- Import: spreadsheets reconcile into the store by (title, deadline) natural key,
  or replace/append wholesale.
- Finance: net amounts subtract each source channel's fee cut.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ATELIERDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(taxonomyCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(upcomingCmd())
	rootCmd.AddCommand(insightsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default atelierdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func orderCmd() *cobra.Command {
	order := &cobra.Command{Use: "order", Short: "Manage orders"}
	order.AddCommand(orderAddCmd())
	order.AddCommand(orderListCmd())
	order.AddCommand(orderShowCmd())
	order.AddCommand(orderUpdateCmd())
	order.AddCommand(orderDoneCmd())
	order.AddCommand(orderDeleteCmd())
	return order
}

func orderAddCmd() *cobra.Command {
	var opts engine.OrderCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				o, err := e.CreateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "order title")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "gross amount")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Stage, "stage", "", "progress stage")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source channel")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low|normal|high")
	cmd.Flags().StringVar(&opts.PersonCount, "persons", "", "person count category")
	cmd.Flags().StringVar(&opts.ArtType, "art-type", "", "art type")
	cmd.Flags().StringVar(&opts.Nature, "nature", "", "personal|commercial")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "free-text notes")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func orderListCmd() *cobra.Command {
	var stage string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				orders := e.Orders()
				if stage != "" {
					filtered := orders[:0]
					for _, o := range orders {
						if o.Stage == stage {
							filtered = append(filtered, o)
						}
					}
					orders = filtered
				}
				sort.Slice(orders, func(i, j int) bool { return orders[i].Deadline < orders[j].Deadline })
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tax := e.Taxonomy()
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Title", "Amount", "Net", "Deadline", "Stage", "Priority"})
				for _, o := range orders {
					t.AppendRow(table.Row{
						shortID(o.ID), o.Title, o.Amount,
						fmt.Sprintf("%.0f", views.NetAmount(o, tax)),
						o.Deadline, o.Stage, o.Priority,
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "filter by stage")
	return cmd
}

func orderShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				o, err := resolveOrder(e, args[0])
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	return cmd
}

func orderUpdateCmd() *cobra.Command {
	var (
		title, deadline, stage, source, priority string
		persons, artType, nature, notes          string
		amount                                   int64
		hours                                    float64
	)
	cmd := &cobra.Command{
		Use:   "update <order-id>",
		Short: "Update an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				target, err := resolveOrder(e, args[0])
				if err != nil {
					return err
				}
				opts := engine.OrderUpdateOptions{ID: target.ID}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("amount") {
					opts.Amount = &amount
				}
				if cmd.Flags().Changed("deadline") {
					opts.Deadline = &deadline
				}
				if cmd.Flags().Changed("stage") {
					opts.Stage = &stage
				}
				if cmd.Flags().Changed("source") {
					opts.Source = &source
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("persons") {
					opts.PersonCount = &persons
				}
				if cmd.Flags().Changed("art-type") {
					opts.ArtType = &artType
				}
				if cmd.Flags().Changed("nature") {
					opts.Nature = &nature
				}
				if cmd.Flags().Changed("notes") {
					opts.Notes = &notes
				}
				if cmd.Flags().Changed("hours") {
					opts.HoursSpent = &hours
				}
				o, err := e.UpdateOrder(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "order title")
	cmd.Flags().Int64Var(&amount, "amount", 0, "gross amount")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&stage, "stage", "", "progress stage")
	cmd.Flags().StringVar(&source, "source", "", "source channel")
	cmd.Flags().StringVar(&priority, "priority", "", "low|normal|high")
	cmd.Flags().StringVar(&persons, "persons", "", "person count category")
	cmd.Flags().StringVar(&artType, "art-type", "", "art type")
	cmd.Flags().StringVar(&nature, "nature", "", "personal|commercial")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	cmd.Flags().Float64Var(&hours, "hours", 0, "actual hours spent (terminal stage only)")
	return cmd
}

func orderDoneCmd() *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "done <order-id>",
		Short: "Move an order to the terminal stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				target, err := resolveOrder(e, args[0])
				if err != nil {
					return err
				}
				terminal := ""
				for _, s := range e.Taxonomy().Stages {
					if s.Terminal() {
						terminal = s.Name
						break
					}
				}
				if terminal == "" {
					return errors.New("taxonomy has no terminal stage")
				}
				opts := engine.OrderUpdateOptions{ID: target.ID, Stage: &terminal}
				o, err := e.UpdateOrder(ctx, opts)
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("hours") {
					o, err = e.UpdateOrder(ctx, engine.OrderUpdateOptions{ID: target.ID, HoursSpent: &hours})
					if err != nil {
						return err
					}
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "actual hours spent")
	return cmd
}

func orderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <order-id>",
		Short: "Delete an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				target, err := resolveOrder(e, args[0])
				if err != nil {
					return err
				}
				if err := e.DeleteOrder(ctx, target.ID); err != nil {
					return err
				}
				fmt.Println("deleted", target.ID)
				return nil
			})
		},
	}
}

func taxonomyCmd() *cobra.Command {
	tax := &cobra.Command{Use: "taxonomy", Short: "Manage stage/source lists"}
	tax.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current taxonomy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSON(e.Taxonomy())
			})
		},
	})
	var file string
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Replace the taxonomy from a JSON file, cascading renames",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var newTax domain.Taxonomy
			if err := json.Unmarshal(data, &newTax); err != nil {
				return fmt.Errorf("invalid taxonomy json: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cascaded, err := e.ApplyTaxonomy(ctx, newTax)
				if err != nil {
					return err
				}
				fmt.Printf("taxonomy applied; %d order(s) repointed\n", cascaded)
				return nil
			})
		},
	}
	apply.Flags().StringVarP(&file, "file", "f", "", "taxonomy JSON file")
	tax.AddCommand(apply)
	return tax
}

func importCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "import <file.xlsx>",
		Short: "Import a spreadsheet into the order store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := engine.ParseMode(mode)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			candidates, err := ingest.ParseXLSX(f)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				summary, err := e.Import(ctx, candidates, m)
				if err != nil {
					return err
				}
				fmt.Printf("added %d, updated %d", summary.Added, summary.Updated)
				if summary.Replaced {
					fmt.Print(" (store replaced)")
				}
				fmt.Println()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "merge", "replace|append|merge")
	return cmd
}

func exportCmd() *cobra.Command {
	exp := &cobra.Command{Use: "export", Short: "Export orders"}

	var out string
	icsCmd := &cobra.Command{
		Use:   "ics <order-id>",
		Short: "Export one order as a calendar event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				o, err := resolveOrder(e, args[0])
				if err != nil {
					return err
				}
				block, err := export.CalendarEvent(o)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Print(block)
					return nil
				}
				return os.WriteFile(out, []byte(block), 0o644)
			})
		},
	}
	icsCmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	exp.AddCommand(icsCmd)

	var xlsxOut string
	xlsxCmd := &cobra.Command{
		Use:   "xlsx",
		Short: "Export all orders as a workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				f, err := os.Create(xlsxOut)
				if err != nil {
					return err
				}
				defer f.Close()
				return export.WriteXLSX(f, e.Orders(), e.Taxonomy())
			})
		},
	}
	xlsxCmd.Flags().StringVarP(&xlsxOut, "output", "o", "orders.xlsx", "output file")
	exp.AddCommand(xlsxCmd)
	return exp
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Dashboard stats and monthly net amounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				orders := e.Orders()
				tax := e.Taxonomy()
				stats := views.Collect(orders, tax)
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"stats":   stats,
						"monthly": views.NetByMonth(orders, tax),
						"annual":  views.NetByYear(orders, tax),
					})
				}
				fmt.Printf("orders: %d total, %d active, %d done\n", stats.Total, stats.Active, stats.Done)
				fmt.Printf("gross %d, net %.0f\n", stats.GrossTotal, stats.NetTotal)
				monthly := views.NetByMonth(orders, tax)
				months := make([]string, 0, len(monthly))
				for m := range monthly {
					months = append(months, m)
				}
				sort.Strings(months)
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Month", "Net"})
				for _, m := range months {
					t.AppendRow(table.Row{m, fmt.Sprintf("%.0f", monthly[m])})
				}
				t.Render()
				return nil
			})
		},
	}
}

func upcomingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upcoming",
		Short: "Active orders due in the next two weeks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tax := e.Taxonomy()
				due := views.Upcoming(e.Orders(), tax, time.Now())
				if viper.GetBool("json") {
					return printJSON(due)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Deadline", "Title", "Stage", "Net"})
				for _, o := range due {
					t.AppendRow(table.Row{o.Deadline, o.Title, o.Stage, fmt.Sprintf("%.0f", views.NetAmount(o, tax))})
				}
				t.Render()
				return nil
			})
		},
	}
}

func insightsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "AI reading of the order book",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if !refresh {
					text, err := e.Insights(ctx)
					if err != nil {
						return err
					}
					if text == "" {
						text = insights.Placeholder
					}
					fmt.Println(text)
					return nil
				}
				svc, err := insights.New(ctx, os.Getenv("GEMINI_API_KEY"), e.Config.Insights.Model, e.Config.Insights.MaxOrders)
				if err != nil {
					return err
				}
				text, current := svc.Generate(ctx, e.Orders(), e.Taxonomy())
				if current {
					if err := e.SaveInsights(ctx, text); err != nil {
						return err
					}
				}
				fmt.Println(text)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "generate fresh insights")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Change log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := events.Latest(ctx, e.DB, n, evtType)
				if err != nil {
					return err
				}
				return printJSON(items)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	log.AddCommand(tail)
	return log
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				authCfg := server.AuthConfig{
					AccessKey: e.Config.Server.AccessKey,
					JWTSecret: os.Getenv("ATELIERDESK_JWT_SECRET"),
				}
				if authCfg.AccessKey != "" && authCfg.JWTSecret == "" {
					return fmt.Errorf("ATELIERDESK_JWT_SECRET is required when server.access_key is set")
				}
				svc, err := insights.New(ctx, os.Getenv("GEMINI_API_KEY"), e.Config.Insights.Model, e.Config.Insights.MaxOrders)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{Engine: e, Insights: svc, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Atelierdesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	if err := e.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, e)
}

// resolveOrder accepts a full identifier or an unambiguous prefix.
func resolveOrder(e *engine.Engine, ref string) (domain.Order, error) {
	if o, err := e.GetOrder(ref); err == nil {
		return o, nil
	}
	var matches []domain.Order
	for _, o := range e.Orders() {
		if strings.HasPrefix(o.ID, ref) {
			matches = append(matches, o)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return domain.Order{}, fmt.Errorf("order %s not found", ref)
	default:
		return domain.Order{}, fmt.Errorf("order prefix %s is ambiguous", ref)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
