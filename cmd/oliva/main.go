package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ryazanovegor/oliva-space/internal/bot"
	"github.com/ryazanovegor/oliva-space/internal/config"
	"github.com/ryazanovegor/oliva-space/internal/domain"
	"github.com/ryazanovegor/oliva-space/internal/ledger"
	"github.com/ryazanovegor/oliva-space/internal/server"
	"github.com/ryazanovegor/oliva-space/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "oliva",
	Short: "Oliva Space task-marketplace ledger",
	Long: `Oliva Space is a small task marketplace: customers post text tasks with a
price in virtual currency, performers take them, submit results, and get
paid on approval. The chat bot is the write surface; the web panel and the
CLI are read-only views plus a few admin operations.`,
}

var logger = log.New()

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("OLIVA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if viper.GetBool("verbose") {
		logger.SetLevel(log.DebugLevel)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(marketCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default oliva.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(workspace)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web view and, when enabled, the chat bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			l, err := openLedger(cfg)
			if err != nil {
				return err
			}

			handler, err := server.New(server.Config{Ledger: l, BasePath: "/api"})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.Bot.Enabled {
				token := viper.GetString("bot-token")
				if token == "" {
					return fmt.Errorf("bot.enabled is true but no token given (OLIVA_BOT_TOKEN or --bot-token)")
				}
				d := bot.NewDispatcher(l, cfg.HTTP.PublicURL, logger)
				b, err := bot.New(token, d, logger)
				if err != nil {
					return fmt.Errorf("start telegram bot: %w", err)
				}
				go b.Run(ctx)
			}

			srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			logger.WithField("addr", cfg.HTTP.Addr).Info("serving panel and API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("bot-token", "", "telegram bot token (or OLIVA_BOT_TOKEN)")
	_ = viper.BindPFlag("bot-token", cmd.Flags().Lookup("bot-token"))
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				tasks := l.Tasks()
				if status != "" {
					want, err := domain.ParseStatus(status)
					if err != nil {
						return err
					}
					var filtered []domain.Task
					for _, t := range tasks {
						if t.Status == want {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Price", "Customer", "Performer", "Text"})
				for _, t := range tasks {
					performer := ""
					if t.PerformerID != nil {
						performer = *t.PerformerID
					}
					tw.AppendRow(table.Row{t.ID, t.Status, t.Price.StringFixed(2), t.CustomerID, performer, t.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("task id must be a number")
			}
			return withLedger(func(l *ledger.Ledger) error {
				t, err := l.TaskByID(id)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func accountCmd() *cobra.Command {
	acc := &cobra.Command{Use: "account", Short: "Inspect and top up accounts"}
	acc.AddCommand(accountListCmd())
	acc.AddCommand(accountDepositCmd())
	return acc
}

func accountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				accounts := l.Accounts()
				if viper.GetBool("json") {
					return printJSON(accounts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Identity", "Balance"})
				for _, a := range accounts {
					tw.AppendRow(table.Row{a.Identity, a.Balance.StringFixed(2)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func accountDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <identity> <amount>",
		Short: "Top up an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(strings.ReplaceAll(args[1], ",", "."))
			if err != nil {
				return fmt.Errorf("amount must be a number")
			}
			return withLedger(func(l *ledger.Ledger) error {
				acc, err := l.Deposit(args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(acc)
			})
		},
	}
}

func marketCmd() *cobra.Command {
	var caller string
	cmd := &cobra.Command{
		Use:   "market",
		Short: "List claimable tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(func(l *ledger.Ledger) error {
				tasks := l.Market(caller)
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Price", "Customer", "Text"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Price.StringFixed(2), t.CustomerID, t.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "", "exclude tasks owned by this identity")
	return cmd
}

func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	st, err := store.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return ledger.New(st, logger)
}

func withLedger(fn func(*ledger.Ledger) error) error {
	cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	l, err := openLedger(cfg)
	if err != nil {
		return err
	}
	return fn(l)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
