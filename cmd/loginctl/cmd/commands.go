package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aussiebroadwan/loginkit/pkg/auth"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/spf13/cobra"
)

var errNotSignedIn = errors.New("not signed in, run loginctl login")

func newLoginCmd(o *rootOptions) *cobra.Command {
	var hint, social, custom string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if social != "" && custom != "" {
				return errors.New("--social and --custom are mutually exclusive")
			}

			s, err := o.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			var user *session.Identity
			switch {
			case social != "":
				user, err = s.mgr.LoginWithSocialProvider(cmd.Context(), authurl.Provider(social))
			case custom != "":
				user, err = s.mgr.LoginWithCustomProvider(cmd.Context(), custom)
			default:
				user, err = s.mgr.LoginWithOptions(cmd.Context(), auth.LoginOptions{LoginHint: hint})
			}
			if autherr.IsCanceled(err) {
				return errors.New("login canceled")
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", displayName(user))
			return nil
		},
	}

	cmd.Flags().StringVar(&hint, "hint", "", "pre-fill the user name on the login page")
	cmd.Flags().StringVar(&social, "social", "", "sign in with a social provider (google, github, ...)")
	cmd.Flags().StringVar(&custom, "custom", "", "sign in with a tenant-defined provider id")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(o *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			user := s.mgr.Session().User()
			if user == nil {
				return errNotSignedIn
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(user)
			}
			return printUser(out, user, s.mgr.Status())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the identity as JSON")
	return cmd
}

func newRefreshCmd(o *rootOptions) *cobra.Command {
	var printToken bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new token pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if !s.mgr.Session().IsAuthenticated() {
				return errNotSignedIn
			}
			tokens, err := s.mgr.RefreshToken(cmd.Context())
			if err != nil {
				return err
			}

			if printToken {
				fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Token refreshed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&printToken, "print", false, "print the new access token")
	return cmd
}

func newRegionsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List the configured regions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			selected := s.mgr.Status().Region
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\tKEY\tBASE URL")
			for _, r := range s.mgr.AvailableRegions() {
				mark := ""
				if r.Key == selected {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", mark, r.Key, r.BaseURL)
			}
			return tw.Flush()
		},
	}
}

func newSelectRegionCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select-region KEY",
		Short: "Select the region to sign in to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.mgr.SelectRegion(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Region %s selected\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func printUser(w io.Writer, user *session.Identity, st auth.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", user.ID)
	fmt.Fprintf(tw, "Email:\t%s\n", user.Email)
	if user.Name != "" {
		fmt.Fprintf(tw, "Name:\t%s\n", user.Name)
	}
	if user.TenantID != "" {
		fmt.Fprintf(tw, "Tenant:\t%s\n", user.TenantID)
	}
	fmt.Fprintf(tw, "Region:\t%s\n", st.Region)
	fmt.Fprintf(tw, "State:\t%s\n", st.State)
	return tw.Flush()
}

func displayName(u *session.Identity) string {
	if u.Name != "" && u.Email != "" {
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
