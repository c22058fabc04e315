package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/apiclient"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newLoginCmd(o *rootOptions) *cobra.Command {
	var req apiclient.LoginRequest
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credentials",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if req.Password == "" {
				var err error
				if req.Password, err = readSecret(cmd, bufio.NewReader(cmd.InOrStdin()), "Password: "); err != nil {
					return err
				}
			}
			user, err := a.client.Login(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", displayName(user), user.Role)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "account password, read from stdin when omitted")
	cmd.Flags().BoolVar(&req.RememberMe, "remember-me", true, "ask for a long lived refresh token")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(o *rootOptions) *cobra.Command {
	var req apiclient.RegisterRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if req.Password == "" {
				in := bufio.NewReader(cmd.InOrStdin())
				var err error
				if req.Password, err = readSecret(cmd, in, "Password: "); err != nil {
					return err
				}
				if req.PasswordConfirm, err = readSecret(cmd, in, "Confirm password: "); err != nil {
					return err
				}
			} else {
				req.PasswordConfirm = req.Password
			}
			user, err := a.client.Register(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered and signed in as %s\n", displayName(user))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "account email")
	cmd.Flags().StringVar(&req.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&req.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&req.Phone, "phone", "", "contact phone number")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "account password, read twice from stdin when omitted")
	for _, name := range []string{"email", "first-name", "last-name"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the refresh token and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if err := a.client.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		}),
	}
}

type profileView struct {
	ID        int64     `yaml:"id"`
	Email     string    `yaml:"email"`
	Name      string    `yaml:"name,omitempty"`
	Phone     string    `yaml:"phone,omitempty"`
	Role      string    `yaml:"role,omitempty"`
	Admin     bool      `yaml:"admin"`
	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

// newProfileView flattens the cached record for display
func newProfileView(u *users.User) *profileView {
	if u == nil {
		return nil
	}
	return &profileView{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.FullName(),
		Phone:     u.Phone,
		Role:      string(u.Role),
		Admin:     u.IsAdmin(),
		CreatedAt: u.CreatedAt,
	}
}

type whoamiView struct {
	Authenticated bool                 `yaml:"authenticated"`
	User          *profileView         `yaml:"user,omitempty"`
	Token         *token.Introspection `yaml:"token,omitempty"`
	ExpiresIn     string               `yaml:"expires_in,omitempty"`
}

func newWhoamiCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the cached profile and access token claims",
		Args:  cobra.NoArgs,
		RunE: o.withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx := cmd.Context()
			s, err := a.coordinator.Session(ctx)
			if err != nil {
				return err
			}
			if !s.Authenticated {
				return errNotSignedIn
			}

			view := whoamiView{Authenticated: true, User: newProfileView(s.User)}
			accessToken, err := a.store.AccessToken(ctx)
			if err != nil {
				return err
			}
			if info, err := token.Inspect(accessToken); err == nil {
				view.Token = info
				if !info.Exp.IsZero() {
					view.ExpiresIn = time.Until(info.Exp).Round(time.Second).String()
				}
			} else {
				a.logger.Debug().Err(err).Msg("access token is not a readable JWT")
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(view)
		}),
	}
}

func newGetCmd(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Make an authenticated GET request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: o.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			var body json.RawMessage
			if err := a.client.Get(cmd.Context(), args[0], &body); err != nil {
				return err
			}
			return printBody(cmd.OutOrStdout(), body, output)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "json or yaml")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			displayAppname(out, "reviewctl")
			fmt.Fprintf(out, "reviewctl %s\n", version)
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(out, "built with %s\n", info.GoVersion)
			}
		},
	}
}

func printBody(w io.Writer, body json.RawMessage, output string) error {
	if len(body) == 0 {
		return nil
	}
	switch strings.ToLower(output) {
	case "yaml":
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return yaml.NewEncoder(w).Encode(doc)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(body)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func readSecret(cmd *cobra.Command, in *bufio.Reader, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func displayName(u *users.User) string {
	if name := u.FullName(); name != "" {
		return name
	}
	return u.Email
}
