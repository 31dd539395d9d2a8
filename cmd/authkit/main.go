// Package main is the authkit support CLI: sign in to PupLink, inspect
// the cached session, and issue authenticated API calls.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"puplink-authkit/client"
	"puplink-authkit/config"
	"puplink-authkit/internal/adapter/gateway"
	infrastore "puplink-authkit/internal/infrastructure/store"
	infratoken "puplink-authkit/internal/infrastructure/token"
	"puplink-authkit/internal/domain"
	"puplink-authkit/internal/usecase"
	"puplink-authkit/utils/logger"

	evbus "github.com/asaskevich/EventBus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	cfg      *config.Config
	log      *slog.Logger
	store    *infrastore.SQLiteStore
	manager  *usecase.SessionManager
	pipeline *client.Pipeline
)

var rootCmd = &cobra.Command{
	Use:   "authkit",
	Short: "PupLink authenticated API client",
	Long: `authkit manages a PupLink session from the command line: sign in,
inspect the cached identity, and issue authenticated API calls with
automatic token refresh.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initStack()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			store.Close()
		}
	},
}

func initStack() error {
	log = logger.Init()

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	store, err = infrastore.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	bus := evbus.New()
	_ = bus.Subscribe(domain.TopicSessionExpired, func(e domain.SessionEvent) {
		fmt.Fprintf(os.Stderr, "session ended (%s); run 'authkit login' to sign in again\n", e.Reason)
	})

	provider := gateway.NewAuthGateway(cfg.AuthURL, cfg.RefreshTimeout, log)
	manager = usecase.NewSessionManagerWithTimeout(
		provider, store, infratoken.NewDecoder(), bus, log, cfg.RefreshTimeout)

	opts := []client.Option{
		client.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	}
	if cfg.RateLimitRPS > 0 {
		opts = append(opts, client.WithRateLimit(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))
	}
	pipeline = client.NewPipeline(cfg.APIURL, manager, log, opts...)

	return nil
}

// restore loads the persisted session; commands that need one call this.
func restore(cmd *cobra.Command) error {
	_, err := manager.Restore(cmd.Context())
	if errors.Is(err, domain.ErrNoSession) {
		return fmt.Errorf("not signed in; run 'authkit login' first")
	}
	return err
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and cache the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		identity, err := manager.SignIn(cmd.Context(), username, password)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidCredentials):
				return fmt.Errorf("invalid username or password")
			case errors.Is(err, domain.ErrVerificationRequired):
				return fmt.Errorf("account not verified yet; check your email")
			default:
				return err
			}
		}

		fmt.Printf("signed in as %s (%s)\n", identity.DisplayName, identity.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the cached session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := manager.Restore(cmd.Context()); errors.Is(err, domain.ErrNoSession) {
			fmt.Println("already signed out")
			return nil
		}
		manager.SignOut(cmd.Context())
		fmt.Println("signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the cached identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := restore(cmd); err != nil {
			return err
		}
		out, err := json.MarshalIndent(manager.CurrentIdentity(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var callCmd = &cobra.Command{
	Use:   "call METHOD PATH",
	Short: "Issue an authenticated API call",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := restore(cmd); err != nil {
			return err
		}

		method := strings.ToUpper(args[0])
		path := args[1]
		data, _ := cmd.Flags().GetString("data")

		var body interface{}
		if data != "" {
			body = []byte(data)
		}

		resp, err := pipeline.Execute(cmd.Context(), method, path, body)
		if err != nil {
			if errors.Is(err, domain.ErrSessionExpired) {
				return fmt.Errorf("session expired; run 'authkit login' to sign in again")
			}
			return err
		}

		fmt.Printf("%d\n", resp.StatusCode)
		if len(resp.Body) > 0 {
			fmt.Println(string(resp.Body))
		}
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update cached profile fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := restore(cmd); err != nil {
			return err
		}

		var update domain.IdentityUpdate
		if cmd.Flags().Changed("display-name") {
			v, _ := cmd.Flags().GetString("display-name")
			update.DisplayName = &v
		}
		if cmd.Flags().Changed("email") {
			v, _ := cmd.Flags().GetString("email")
			update.Email = &v
		}
		if cmd.Flags().Changed("kennel") {
			v, _ := cmd.Flags().GetString("kennel")
			update.KennelName = &v
		}
		if cmd.Flags().Changed("role") {
			v, _ := cmd.Flags().GetString("role")
			role := domain.Role(v)
			if role != domain.RoleAdopter && role != domain.RoleBreeder {
				return fmt.Errorf("unknown role %q (want %q or %q)", v, domain.RoleAdopter, domain.RoleBreeder)
			}
			update.Role = &role
		}

		identity, err := manager.UpdateIdentity(cmd.Context(), update)
		if err != nil {
			return err
		}
		fmt.Printf("profile updated for %s\n", identity.ID)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "account username")
	loginCmd.Flags().StringP("password", "p", "", "account password")
	_ = loginCmd.MarkFlagRequired("username")
	_ = loginCmd.MarkFlagRequired("password")

	callCmd.Flags().StringP("data", "d", "", "JSON request body")

	profileCmd.Flags().String("display-name", "", "display name")
	profileCmd.Flags().String("email", "", "contact email")
	profileCmd.Flags().String("kennel", "", "kennel name (breeders)")
	profileCmd.Flags().String("role", "", "operating mode: adopter or breeder")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, callCmd, profileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
