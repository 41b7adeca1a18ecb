package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ashureev/screening-bot/internal/admin"
	"github.com/ashureev/screening-bot/internal/store"
)

const app = "interviewctl"

// cli holds state shared by subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	repo    store.Repository
	service *admin.Service
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           app,
		Short:         app + " inspects and manages screening interview candidates",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return c.open()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return c.close()
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "a config file (default is interviewctl.yaml in current directory)")
	root.PersistentFlags().String("db-path", "./data/interview.db", "path to the SQLite database")
	root.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	root.PersistentFlags().BoolP("json", "j", false, "print JSON instead of tables")

	_ = c.v.BindEnv("db-path", "DB_PATH")
	_ = c.v.BindEnv("export-path", "EXPORT_PATH")
	_ = c.v.BindPFlag("db-path", root.PersistentFlags().Lookup("db-path"))
	_ = c.v.BindPFlag("debug", root.PersistentFlags().Lookup("debug"))
	_ = c.v.BindPFlag("json", root.PersistentFlags().Lookup("json"))

	root.AddCommand(
		c.candidatesCmd(),
		c.approveCmd(),
		c.revokeCmd(),
		c.reportCmd(),
		c.exportCmd(),
		versionCmd(),
	)
	return root
}

func (c *cli) readConfig() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.AddConfigPath(".")
		c.v.SetConfigName(app)
		c.v.SetConfigType("yaml")
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func (c *cli) open() error {
	if err := c.readConfig(); err != nil {
		return err
	}

	level := slog.LevelWarn
	if c.v.GetBool("debug") {
		level = slog.LevelDebug
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dbPath := c.v.GetString("db-path")
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		return err
	}
	c.repo = repo
	c.service = admin.NewService(repo, nil, c.logger)
	c.logger.Debug("Database opened", "path", dbPath)
	return nil
}

func (c *cli) close() error {
	if c.repo == nil {
		return nil
	}
	err := c.repo.Close()
	c.repo = nil
	return err
}
