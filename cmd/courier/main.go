package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pliu/courier/internal/api"
	"github.com/pliu/courier/internal/config"
	"github.com/pliu/courier/internal/logging"
	"github.com/pliu/courier/internal/session"
)

// app carries the wired client core shared by all commands.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client *api.Client
	sess   *session.Store
}

func main() {
	godotenv.Load()

	a := &app{}
	root := newRootCmd(a)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	var serverURL, configDir string
	var debug bool

	root := &cobra.Command{
		Use:           "courier",
		Short:         "One-to-one realtime messaging client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				configDir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
			}
			if debug {
				cfg.Debug = true
			}

			logger, err := logging.New(cfg.Debug)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = logger
			a.client = api.NewClient(cfg.ServerURL)
			a.sess = session.NewStore(cfg.ConfigDir, a.client, logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "chat server base URL")
	root.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory (default ~/.courier)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	root.AddCommand(
		newLoginCmd(a),
		newProviderLoginCmd(a),
		newWhoamiCmd(a),
		newLogoutCmd(a),
		newSearchCmd(a),
		newChatCmd(a),
	)
	return root
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity resolved from the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.Bootstrap(cmd.Context(), ""); err != nil {
				return err
			}
			id := a.sess.Identity()
			if id == nil {
				fmt.Println("not logged in")
				return nil
			}
			fmt.Printf("%s <%s> (%s)\n", id.Username, id.Email, id.ID)
			return nil
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the session and the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.sess.Logout()
			fmt.Println("logged out")
			return nil
		},
	}
}

func newSearchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <email-fragment>",
		Short: "Search the user directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := a.client.SearchUsers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, u := range users {
				fmt.Printf("%-30s %-15s %s\n", u.Email, u.Username, u.Status)
			}
			return nil
		},
	}
}
