package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/conjcache"
	zaplog "github.com/unkn0wn-root/conjcache/log/zap"
	"github.com/unkn0wn-root/conjcache/store"
	redisstore "github.com/unkn0wn-root/conjcache/store/redis"
)

var (
	verbose    bool
	configPath string
)

// openStore is swapped in tests.
var openStore = func(ctx context.Context, cfg config) (store.Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return redisstore.New(redisstore.Config{Client: rdb, CloseClient: true})
}

// NewRootCmd constructs the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conjctl",
		Short: "conjctl - inspect and invalidate conjunction-tagged caches",
		Long:  "conjctl talks to the shared cache store: it lists registered schemes and runs per-object, per-type and full invalidations.",
	}
	cmd.SilenceUsage = true
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging output")
	pf.StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the YAML config file")
	pf.String("redis-addr", "", "Redis address (host:port)")
	pf.Int("redis-db", 0, "Redis logical database")
	pf.String("redis-username", "", "Redis ACL username")
	pf.String("log-level", "", "Log level: debug, info, warn, error")

	cmd.AddCommand(newSchemesCmd())
	cmd.AddCommand(newInvalidateCmd())
	cmd.AddCommand(newWipeCmd())
	cmd.AddCommand(newFlushCmd())
	return cmd
}

// Execute runs the CLI entrypoint.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		exitCode := 1
		var cerr CommandError
		if errors.As(err, &cerr) {
			msg := strings.TrimSpace(cerr.Message)
			if msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			if cerr.Cause != nil && msg != cerr.Cause.Error() && verbose {
				fmt.Fprintf(os.Stderr, "details: %v\n", cerr.Cause)
			}
			if cerr.Suggestion != "" {
				fmt.Fprintln(os.Stderr, formatSuggestion(cerr.Suggestion))
			}
			exitCode = cerr.ExitStatus()
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode)
	}
}

// session is what every subcommand works against.
type session struct {
	inv conjcache.Invalidator
	log *zap.Logger
}

func (s *session) close(ctx context.Context) {
	_ = s.inv.Close(ctx)
	_ = s.log.Sync()
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, wrapError("read config", err, "Check the file passed with --config.", 2)
	}
	if err := applyFlags(cmd.Flags(), &cfg); err != nil {
		return nil, wrapError("read flags", err, "", 2)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	zl, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("invalid log level %q", cfg.Log.Level), err, "Use one of debug, info, warn, error.", 2)
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		_ = zl.Sync()
		return nil, wrapError(fmt.Sprintf("connect store %s", cfg.Redis.Addr), err, "Verify redis.addr and credentials.", 1)
	}
	inv, err := conjcache.New(conjcache.Options{
		Store:      st,
		Logger:     zaplog.ZapLogger{L: zl},
		CloseStore: true,
	})
	if err != nil {
		_ = st.Close(cmd.Context())
		return nil, err
	}
	zl.Debug("session opened", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
	return &session{inv: inv, log: zl}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
