package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zen-systems/enginegate/pkg/adapter"
	"github.com/zen-systems/enginegate/pkg/agent"
	"github.com/zen-systems/enginegate/pkg/config"
	"github.com/zen-systems/enginegate/pkg/history"
	"github.com/zen-systems/enginegate/pkg/responder"
	"github.com/zen-systems/enginegate/pkg/router"
	"github.com/zen-systems/enginegate/pkg/server"
	"github.com/zen-systems/enginegate/pkg/subscription"
)

var (
	configFile string
	debugFlag  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "enginegate",
		Short: "Rule-based prompt router with mock AI responders",
		Long: `Enginegate classifies free-text prompts with a deterministic rule table
	and routes each one to the responder best suited for it: code, sources,
	facts, long-form explanations, math or general conversation.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to rule table file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "log routing decisions")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(agentsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if addrFlag != "" {
				cfg.ListenAddr = addrFlag
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			adapters, err := createAdapters(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create adapters: %w", err)
			}
			resp := createResponder(cfg, adapters)

			subs, closeSubs, err := openSubscriptions(cfg)
			if err != nil {
				return err
			}
			defer closeSubs()

			r, err := router.NewRouter(cfg.RuleTable,
				router.WithSubscriptions(subs),
				router.WithResponder(resp),
				router.WithDebug(debugFlag),
			)
			if err != nil {
				return err
			}

			if cfg.WatchRules {
				if cfg.RulesPath == "" {
					log.Printf("[watch] no rule file configured, using built-in rules")
				} else if err := router.WatchRules(ctx, cfg.RulesPath, r); err != nil {
					return fmt.Errorf("failed to watch rules: %w", err)
				}
			}

			hist, err := history.NewStore(cfg.History.Limit, cfg.History.MaxSessions)
			if err != nil {
				return fmt.Errorf("failed to create history store: %w", err)
			}

			srv := server.New(r, resp, subs, hist,
				server.WithAddr(cfg.ListenAddr),
				server.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
				server.WithDebug(debugFlag),
			)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides config)")

	return cmd
}

func classifyCmd() *cobra.Command {
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "classify [prompt]",
		Short: "Show which agent a prompt routes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			r, err := router.NewRouter(cfg.RuleTable, router.WithDebug(debugFlag))
			if err != nil {
				return err
			}
			decision := r.Classify(args[0])

			if jsonFlag {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(decision)
			}

			fmt.Printf("agent:  %s\n", decision.Agent)
			fmt.Printf("reason: %s\n\n", decision.Reason)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tSCORE\tMATCHED")
			for _, c := range decision.Candidates {
				matched := append(append([]string{}, c.Patterns...), c.Keywords...)
				fmt.Fprintf(w, "%s\t%d\t%s\n", c.Agent, c.Score, formatList(matched))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonFlag, "json", false, "print the full decision as JSON")

	return cmd
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show current routing rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			rs, err := router.NewRuleSet(cfg.RuleTable)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tPATTERNS\tKEYWORDS\tREASON")
			for _, route := range rs.Routes() {
				name := string(route.Agent)
				if route.Fallback {
					name += " (fallback)"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, len(route.Patterns), formatList(route.Keywords), route.Reason)
			}
			return w.Flush()
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [rules.yaml]",
		Short: "Validate a rule table",
		Long:  "Compiles a rule table without serving. Defaults to the configured table.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var table *config.RuleTable
			if len(args) == 1 {
				t, err := config.LoadRuleTable(args[0])
				if err != nil {
					return err
				}
				table = t
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				table = cfg.RuleTable
			}

			rs, err := router.NewRuleSet(table)
			if err != nil {
				lines := strings.Split(err.Error(), "\n")
				fmt.Fprintf(os.Stderr, "Found %d validation errors:\n", len(lines))
				for _, line := range lines {
					fmt.Fprintf(os.Stderr, "  - %s\n", line)
				}
				return fmt.Errorf("validation failed")
			}
			fmt.Printf("Rule table is valid (%d rules, fallback %s).\n", len(rs.Routes()), rs.Fallback())
			return nil
		},
	}
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents, subscriptions and responder targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			subs, closeSubs, err := openSubscriptions(cfg)
			if err != nil {
				return err
			}
			defer closeSubs()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT\tDISPLAY\tSUBSCRIBED\tADAPTER\tMODEL\tSTATUS")
			for _, id := range agent.All() {
				target := cfg.Target(id)
				status := "no key"
				if cfg.HasAdapter(target.Adapter) {
					status = "ready"
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
					id, id.Info().Display, subs.IsSubscribed(id), target.Adapter, target.Model, status)
			}
			return w.Flush()
		},
	}
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithRulesFile(configFile)
	}
	return config.Load()
}

func createAdapters(ctx context.Context, cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	if cfg.AnthropicAPIKey != "" {
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	adapters["mock"] = adapter.NewMockAdapter()

	return adapters, nil
}

func createResponder(cfg *config.Config, adapters map[string]adapter.Adapter) *responder.Responder {
	targets := make(map[agent.ID]config.RouteTarget)
	for _, id := range agent.All() {
		target := cfg.Target(id)
		if _, ok := adapters[target.Adapter]; !ok {
			log.Printf("[responder] %s targets %s but the adapter is not available", id, target.Adapter)
		}
		targets[id] = target
	}

	return responder.New(adapters,
		responder.WithTargets(targets),
		responder.WithRetry(cfg.Retry),
		responder.WithFallbackToMock(cfg.FallbackToMock),
		responder.WithDebug(debugFlag),
	)
}

// openSubscriptions returns the SQLite store when a database is configured
// and the in-memory store otherwise.
func openSubscriptions(cfg *config.Config) (subscription.Store, func(), error) {
	if cfg.SubscriptionDB == "" {
		return subscription.NewMemoryStore(), func() {}, nil
	}

	path := cfg.SubscriptionDB
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.ConfigDir, path)
	}
	store, err := subscription.OpenSQLiteStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open subscription store: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Printf("[subscription] close: %v", err)
		}
	}, nil
}
