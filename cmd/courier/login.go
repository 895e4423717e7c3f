package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in by email",
		Long: `Log in by email. With --password the server verifies the secret and
issues a credential that persists across runs; without it the identity is
resolved by directory lookup only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if password != "" {
				err = a.sess.LoginWithPassword(cmd.Context(), args[0], password)
			} else {
				err = a.sess.LoginByEmail(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			id := a.sess.Identity()
			fmt.Printf("logged in as %s <%s>\n", id.Username, id.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password for verified login")
	return cmd
}

func newProviderLoginCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "login-with <provider>",
		Short: "Log in through an external identity provider",
		Long: `Start a provider login. A loopback listener catches the provider's
redirect, consumes the one-time token from the callback URL, and resolves
the session from it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return err
			}
			defer ln.Close()

			redirectURI := fmt.Sprintf("http://%s/callback", ln.Addr())
			handoff := a.sess.StartExternalLogin(args[0], redirectURI)
			fmt.Println("open this URL in your browser to continue:")
			fmt.Println("  " + handoff)

			callback := make(chan string, 1)
			srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/callback" {
					http.NotFound(w, r)
					return
				}
				fmt.Fprintln(w, "Login complete. You can close this tab.")
				callback <- "http://" + r.Host + r.URL.String()
			})}
			go srv.Serve(ln)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var rawURL string
			select {
			case rawURL = <-callback:
			case <-ctx.Done():
				srv.Close()
				return fmt.Errorf("no callback received within %s", timeout)
			}
			srv.Close()

			if err := a.sess.Bootstrap(cmd.Context(), rawURL); err != nil {
				return err
			}
			id := a.sess.Identity()
			if id == nil {
				return fmt.Errorf("provider login did not resolve an identity")
			}
			fmt.Printf("logged in as %s <%s>\n", id.Username, id.Email)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the provider callback")
	return cmd
}
