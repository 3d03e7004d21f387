// Command poolctl is a small operational entry point for exercising a
// dbpool.Pool against a real database: not part of the pool's API
// contract, just the "how do you actually run this" surface.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaypool/dbpool"
	"github.com/relaypool/dbpool/driver/pgxraw"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("POOLCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Operational entry point for a dbpool connection pool",
	}

	var configFile string
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a config file (yaml/json/toml)")

	root.AddCommand(newSmokeTestCmd(v, &configFile))
	return root
}

func newSmokeTestCmd(v *viper.Viper, configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoketest",
		Short: "Open a pool, borrow and release a handful of connections, print stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			bindFlags(cmd, v)
			if *configFile != "" {
				v.SetConfigFile(*configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("poolctl: read config: %w", err)
				}
			}

			cfg, err := configFromViper(v)
			if err != nil {
				return err
			}

			pgxraw.Register(dbpool.RegisterDriver)

			pool, err := dbpool.New(cfg)
			if err != nil {
				return fmt.Errorf("poolctl: new pool: %w", err)
			}
			defer pool.Close()

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
			defer cancel()

			if err := waitForFloor(ctx, pool, cfg); err != nil {
				return err
			}

			cycles, _ := cmd.Flags().GetInt("cycles")
			for i := 0; i < cycles; i++ {
				conn, err := pool.Get(dbpool.WithCaller(context.Background()))
				if err != nil {
					return fmt.Errorf("poolctl: get: %w", err)
				}
				stats := pool.Stats()
				fmt.Printf("cycle=%d total=%d available=%d active=%d churn=%d\n",
					i, stats.Total, stats.Available, stats.Active, stats.Churn)
				if err := conn.Close(context.Background()); err != nil && err != dbpool.ErrUncommittedTransactionForcedRollback {
					return fmt.Errorf("poolctl: close: %w", err)
				}
			}

			return nil
		},
	}

	cmd.Flags().String("driver-name", pgxraw.Name, "registered driver name")
	cmd.Flags().String("dsn", "", "database connection string")
	cmd.Flags().String("username", "", "database username")
	cmd.Flags().String("password", "", "database password")
	cmd.Flags().Int("min-size", 1, "minimum pool population")
	cmd.Flags().Int("max-size", 5, "maximum pool population")
	cmd.Flags().Duration("connection-timeout", 30*time.Second, "borrow and login deadline")
	cmd.Flags().Int("cycles", 5, "number of borrow/release cycles to run")

	return cmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	_ = v.BindPFlags(cmd.Flags())
}

func configFromViper(v *viper.Viper) (dbpool.Config, error) {
	return dbpool.Config{
		DriverName:        v.GetString("driver-name"),
		DSN:               v.GetString("dsn"),
		Username:          v.GetString("username"),
		Password:          v.GetString("password"),
		MinSize:           v.GetInt("min-size"),
		MaxSize:           v.GetInt("max-size"),
		ConnectionTimeout: v.GetDuration("connection-timeout"),
	}, nil
}

func waitForFloor(ctx context.Context, pool *dbpool.Pool, cfg dbpool.Config) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if pool.Stats().Total >= cfg.MinSize {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poolctl: pool did not reach min=%d within %s: %w", cfg.MinSize, cfg.ConnectionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
