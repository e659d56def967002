package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/dayflow/internal/observability"
	"github.com/hrygo/dayflow/internal/profile"
	"github.com/hrygo/dayflow/plugin/ai/recommend"
	"github.com/hrygo/dayflow/server"
	"github.com/hrygo/dayflow/server/auth"
	"github.com/hrygo/dayflow/server/service/taskcache"
	"github.com/hrygo/dayflow/store"
	"github.com/hrygo/dayflow/store/db"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "dayflow",
	Short: "Task caching and recommendation server",
	Long:  "dayflow serves daily tasks from coordinated caches and recommends what to work on next.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver, sqlite or postgres")
	rootCmd.PersistentFlags().String("dsn", "", "database source name")
	rootCmd.PersistentFlags().String("log-level", "info", "log level, debug info warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format, text or json")
	rootCmd.PersistentFlags().String("cache-backend", "memory", "cache backend, memory, file or tiered")
	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn", "log-level", "log-format", "cache-backend"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DAYFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadProfile merges flags, DAYFLOW_* variables and defaults into a
// validated profile and installs the default logger.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:         viper.GetString("mode"),
		Addr:         viper.GetString("addr"),
		Port:         viper.GetInt("port"),
		Data:         viper.GetString("data"),
		Driver:       viper.GetString("driver"),
		DSN:          viper.GetString("dsn"),
		LogLevel:     viper.GetString("log-level"),
		LogFormat:    viper.GetString("log-format"),
		CacheBackend: viper.GetString("cache-backend"),
		Version:      version,
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}
	slog.SetDefault(observability.NewLogger(os.Stderr, p.LogLevel, p.LogFormat))
	return p, nil
}

// openStore connects to the configured database and migrates it.
func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(driver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	return storeInstance, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	if p.Secret == "" {
		if !p.IsDev() {
			return errors.New("DAYFLOW_SECRET is required in prod mode")
		}
		p.Secret = uuid.NewString()
		slog.Warn("DAYFLOW_SECRET is not set, using a random secret for this run")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	storeInstance, err := openStore(ctx, p)
	if err != nil {
		return err
	}
	s, err := server.NewServer(ctx, p, storeInstance, slog.Default())
	if err != nil {
		_ = storeInstance.Close()
		return errors.Wrap(err, "failed to create server")
	}

	c := make(chan os.Signal, 1)
	// Trigger graceful shutdown on SIGINT or SIGTERM.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := s.Start(ctx); err != nil {
		s.Shutdown(ctx)
		return errors.Wrap(err, "failed to start server")
	}

	<-c
	s.Shutdown(context.Background())
	return nil
}

func recommendCmd() *cobra.Command {
	var (
		date     string
		category string
		method   string
		count    int
		mood     string
		energy   int
		minutes  int
		userID   int32
	)
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Print recommendations for a day or a category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			storeInstance, err := openStore(ctx, p)
			if err != nil {
				return err
			}
			s, err := server.NewServer(ctx, p, storeInstance, slog.Default())
			if err != nil {
				_ = storeInstance.Close()
				return err
			}
			defer s.Shutdown(context.Background())

			partition := taskcache.ForDate(userID, date)
			if category != "" {
				partition = taskcache.ForCategory(userID, category)
			}
			tasks, err := s.Tasks.Get(ctx, partition)
			if err != nil {
				return err
			}
			record, err := s.Recommender.GetRecommendations(ctx, recommend.Request{
				Owner:  partition.Owner(),
				Scope:  partition.Family + ":" + partition.Key,
				Tasks:  tasks,
				Method: recommend.Method(method),
				Context: recommend.UserContext{
					Mood:                 recommend.Mood(mood),
					EnergyLevel:          energy,
					AvailableTimeMinutes: minutes,
				},
				Count: count,
			})
			if err != nil {
				return err
			}
			printRecord(record)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().Format(store.DateLayout), "day to recommend for")
	cmd.Flags().StringVar(&category, "category", "", "category to recommend for instead of a day")
	cmd.Flags().StringVar(&method, "method", string(recommend.MethodRemote), "remote or local")
	cmd.Flags().IntVar(&count, "count", 0, "number of recommendations")
	cmd.Flags().StringVar(&mood, "mood", "", "current mood")
	cmd.Flags().IntVar(&energy, "energy", 0, "energy level 1-10")
	cmd.Flags().IntVar(&minutes, "time", 0, "available minutes")
	cmd.Flags().Int32Var(&userID, "user", 1, "user whose tasks to recommend from")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent caches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every cached task list and recommendation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			storeInstance, err := openStore(ctx, p)
			if err != nil {
				return err
			}
			s, err := server.NewServer(ctx, p, storeInstance, slog.Default())
			if err != nil {
				_ = storeInstance.Close()
				return err
			}
			defer s.Shutdown(context.Background())
			if err := s.Tasks.Reset(ctx); err != nil {
				return errors.Wrap(err, "failed to clear caches")
			}
			fmt.Fprintf(os.Stdout, "cleared %s cache\n", p.CacheBackend)
			return nil
		},
	})
	return cmd
}

func printRecord(record *recommend.Record) {
	if len(record.Items) == 0 {
		fmt.Fprintf(os.Stdout, "%s\n", record.Message)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Task", "Priority", "Confidence", "Reason"})
	for i, it := range record.Items {
		tw.AppendRow(table.Row{i + 1, it.Task.Title, it.Task.Priority, fmt.Sprintf("%.2f", it.Confidence), it.Reason})
	}
	tw.AppendFooter(table.Row{"", "method: " + string(record.Method), "", "", record.SourceFingerprint[:12]})
	tw.Render()
}

func tokenCmd() *cobra.Command {
	var (
		userID int32
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token signed with DAYFLOW_SECRET",
		RunE: func(_ *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			token, err := auth.GenerateToken(p.Secret, userID, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
	cmd.Flags().Int32Var(&userID, "user", 1, "user id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(p)
			if err != nil {
				return errors.Wrap(err, "failed to encode profile")
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print dayflow version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "dayflow version %s\n", version)
		},
	}
}
