package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-visit-tracker/internal/domain"
	"github.com/tbourn/go-visit-tracker/internal/repo"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage recruiter profiles",
	}
	cmd.AddCommand(newProfileAddCmd(), newProfileListCmd())
	return cmd
}

func newProfileAddCmd() *cobra.Command {
	var (
		name     string
		nickname string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Register a profile for an identity subject",
		Long:  "Register a profile. The id must equal the subject (sub) of the user's tokens.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("id must not be empty")
			}
			if strings.TrimSpace(name) == "" {
				return errors.New("--name is required")
			}
			r := domain.Role(strings.ToLower(strings.TrimSpace(role)))
			if !r.IsValid() {
				return fmt.Errorf("invalid role %q", role)
			}

			db, _, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			p := &domain.Profile{ID: id, Name: strings.TrimSpace(name), Role: r, Active: true}
			if nick := strings.TrimSpace(nickname); nick != "" {
				p.Nickname = &nick
			}
			if err := repo.CreateProfile(cmd.Context(), db, p); err != nil {
				if errors.Is(err, repo.ErrDuplicate) {
					return fmt.Errorf("profile %q already exists", id)
				}
				return err
			}

			if isJSON() {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) as %s\n", p.Name, p.ID, p.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&nickname, "nickname", "", "optional short name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleRecruiter), "admin|recruiter|fletcher_admin|reichskanzlier")

	return cmd
}

func newProfileListCmd() *cobra.Command {
	var (
		role       string
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var roles []domain.Role
			if role != "" {
				r := domain.Role(strings.ToLower(role))
				if !r.IsValid() {
					return fmt.Errorf("invalid role %q", role)
				}
				roles = append(roles, r)
			}

			db, _, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			profiles, err := repo.ListProfiles(cmd.Context(), db, roles, activeOnly)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), profiles)
			}
			if len(profiles) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tACTIVE")
			for _, p := range profiles {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", p.ID, p.Name, p.Role, p.Active)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "only list this role")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "hide inactive profiles")

	return cmd
}
