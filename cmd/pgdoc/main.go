package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	pgdoc "github.com/hcengineering/platform-sub001"
	"github.com/hcengineering/platform-sub001/auth"
	"github.com/hcengineering/platform-sub001/backup"
	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/internal/config"
	"github.com/hcengineering/platform-sub001/internal/logger"
	"github.com/hcengineering/platform-sub001/types"
)

// Config is the process configuration, loaded from .env and PGDOC_*
// environment variables.
type Config struct {
	DB struct {
		DSN            string `mapstructure:"dsn"`
		MigrationsPath string `mapstructure:"migrationspath"`
	} `mapstructure:"db"`
	Log  logger.Config `mapstructure:"log"`
	Auth struct {
		Secret string `mapstructure:"secret"`
	} `mapstructure:"auth"`
	Backup backup.Config `mapstructure:"backup"`
}

var (
	cfg Config

	flagWorkspace string
	flagModel     string
	flagDomain    string
	flagRecheck   bool
	flagDomains   string
	flagAccount   string
	flagAdmin     bool
)

var rootCmd = &cobra.Command{
	Use:   "pgdoc",
	Short: "Document store maintenance tool",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load("PGDOC_", &cfg); err != nil {
			return err
		}
		logger.Init(cfg.Log)
		return nil
	},
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Stream content digests of one domain, recomputing missing hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx)
		if err != nil {
			return err
		}
		defer adapter.Close()

		it, err := adapter.Sync(ctx, types.Domain(flagDomain), flagRecheck)
		if err != nil {
			return err
		}
		defer it.Close(context.WithoutCancel(ctx))

		enc := json.NewEncoder(os.Stdout)
		count := 0
		for it.Next(ctx) {
			if err := enc.Encode(it.Value()); err != nil {
				return err
			}
			count++
		}
		if err := it.Err(); err != nil {
			return err
		}
		if err := it.Close(ctx); err != nil {
			return err
		}
		logger.Get().Info("sync complete", "domain", flagDomain, "docs", count)
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print the distinct classes stored in one domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx)
		if err != nil {
			return err
		}
		defer adapter.Close()

		classes, err := adapter.GroupBy(ctx, types.Domain(flagDomain), "_class")
		if err != nil {
			return err
		}
		for _, c := range classes {
			fmt.Println(c)
		}
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload digest manifests for the given domains to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		adapter, err := openAdapter(ctx)
		if err != nil {
			return err
		}
		defer adapter.Close()

		svc, err := backup.New(ctx, cfg.Backup)
		if err != nil {
			return err
		}
		defer svc.Close()

		var domains []types.Domain
		for _, d := range strings.Split(flagDomains, ",") {
			if d = strings.TrimSpace(d); d != "" {
				domains = append(domains, types.Domain(d))
			}
		}
		return svc.Snapshot(ctx, adapter, domains)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a service token for an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Auth.Secret == "" {
			return fmt.Errorf("PGDOC_AUTH_SECRET is not set")
		}
		token, err := auth.NewToken(&types.Principal{
			Account:   types.Ref(flagAccount),
			Workspace: types.WorkspaceID(flagWorkspace),
			Admin:     flagAdmin,
		}, []byte(cfg.Auth.Secret))
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func openAdapter(ctx context.Context) (*pgdoc.Adapter, error) {
	h, err := loadHierarchy(flagModel)
	if err != nil {
		return nil, err
	}
	return pgdoc.Open(ctx, pgdoc.Options{
		DSN:            cfg.DB.DSN,
		MigrationsPath: cfg.DB.MigrationsPath,
		Workspace:      types.WorkspaceID(flagWorkspace),
		Hierarchy:      h,
	})
}

// loadHierarchy reads class definitions from a JSON model file.
func loadHierarchy(path string) (*hierarchy.Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	var defs []hierarchy.ClassDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse model file: %w", err)
	}
	return hierarchy.New(defs)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace id")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "model.json", "path to the class model file")
	syncCmd.Flags().StringVar(&flagDomain, "domain", string(types.DomainDoc), "storage domain")
	syncCmd.Flags().BoolVar(&flagRecheck, "recheck", false, "discard stored hashes and recompute all")
	statCmd.Flags().StringVar(&flagDomain, "domain", string(types.DomainDoc), "storage domain")
	backupCmd.Flags().StringVar(&flagDomains, "domains", string(types.DomainDoc), "comma-separated domains")
	tokenCmd.Flags().StringVar(&flagAccount, "account", "", "account ref")
	tokenCmd.Flags().BoolVar(&flagAdmin, "admin", false, "grant admin")
	rootCmd.AddCommand(syncCmd, statCmd, backupCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
