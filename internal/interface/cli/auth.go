package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/neilberkman/chatsync/internal/core/models"
)

var (
	authEmail       string
	authDisplayName string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and sign in",
	Long: `Create an account on the configured backend and sign in.

The password is prompted for, or read from CHATSYNC_PASSWORD.

Examples:
  chatsync signup --email ada@example.com --name Ada
  chatsync --backend hosted signup --email ada@example.com`,
	RunE: runSignup,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in",
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity",
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd)
	for _, c := range []*cobra.Command{signupCmd, loginCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email")
	}
	signupCmd.Flags().StringVar(&authDisplayName, "name", "", "Display name (defaults to the email's local part)")
}

func credentials() (string, string, error) {
	email := authEmail
	if email == "" {
		var err error
		if email, err = prompt("Email: ", false); err != nil {
			return "", "", err
		}
	}
	password := os.Getenv("CHATSYNC_PASSWORD")
	if password == "" {
		var err error
		if password, err = prompt("Password: ", true); err != nil {
			return "", "", err
		}
	}
	return email, password, nil
}

func runSignup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	email, password, err := credentials()
	if err != nil {
		return err
	}
	id, err := a.Auth.SignUp(ctx, email, password, authDisplayName)
	if err != nil {
		return fmt.Errorf("sign-up failed: %w", err)
	}
	if id == nil {
		fmt.Println("Account created. Verify your email, then run 'chatsync login'.")
		return nil
	}
	fmt.Printf("Signed in as %s\n", describe(*id))
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	email, password, err := credentials()
	if err != nil {
		return err
	}
	id, err := a.Auth.SignIn(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	fmt.Printf("Signed in as %s\n", describe(*id))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, ok := a.Session.Identity(); !ok {
		fmt.Println("Not signed in.")
		return nil
	}
	if err := a.Session.SignOut(ctx); err != nil {
		// The local session is gone either way
		fmt.Fprintf(os.Stderr, "Warning: remote sign-out failed: %v\n", err)
	}
	fmt.Println("Signed out.")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	id, err := a.RequireIdentity()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", describe(id))
	fmt.Printf("  Backend: %s\n", a.Config.Backend)
	fmt.Printf("  User ID: %s\n", id.ID)

	if a.Store == nil {
		if err := a.Directory.Refresh(ctx); err != nil {
			return err
		}
		fmt.Printf("  Conversations: %d\n", len(a.Directory.Conversations()))
		return nil
	}

	stats, err := a.Store.GetStats(ctx, id.ID)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	fmt.Printf("  Conversations: %s\n", humanize.Comma(int64(stats.Conversations)))
	fmt.Printf("  Messages: %s (%s automated)\n",
		humanize.Comma(int64(stats.Messages)), humanize.Comma(int64(stats.AutomatedMessages)))
	if !stats.OldestActivity.IsZero() {
		fmt.Printf("  First conversation: %s\n", stats.OldestActivity.Local().Format("2006-01-02 15:04"))
		fmt.Printf("  Last activity: %s\n", formatTimestamp(stats.NewestActivity))
	}
	fmt.Printf("  Database: %s\n", a.Store.Path())
	return nil
}

func describe(id models.Identity) string {
	if id.DisplayName != "" && id.DisplayName != id.Email {
		return fmt.Sprintf("%s <%s>", id.DisplayName, id.Email)
	}
	return id.Email
}
