package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/astracore/astracore/internal/adapters/authroles"
	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/data"
)

var errPermissionDenied = errors.New("permission denied")

// loadTable returns the effective table: defaults plus AUTHZ_PERMISSION_OVERRIDES.
func loadTable(cmdCtx *commandContext) (*domainauth.PermissionTable, error) {
	src, err := authroles.Load(cmdCtx.Config.Authz.PermissionOverrides)
	if err != nil {
		return nil, fmt.Errorf("load permission table: %w", err)
	}
	return src.Table(), nil
}

type permissionsOptions struct {
	Role domainauth.Role
}

func parsePermissionsFlags(args []string) (permissionsOptions, error) {
	fs := flag.NewFlagSet("permissions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var role string
	fs.StringVar(&role, "role", "", "Only list the permissions granted to this role")
	if err := fs.Parse(args); err != nil {
		return permissionsOptions{}, err
	}

	opts := permissionsOptions{}
	if role != "" {
		r, err := domainauth.ParseRole(role)
		if err != nil {
			return permissionsOptions{}, err
		}
		opts.Role = r
	}
	return opts, nil
}

func runPermissions(cmdCtx *commandContext, args []string) error {
	opts, err := parsePermissionsFlags(args)
	if err != nil {
		return err
	}
	table, err := loadTable(cmdCtx)
	if err != nil {
		return err
	}
	if opts.Role != "" {
		return printGranted(cmdCtx.Out, opts.Role, table.Granted(opts.Role))
	}
	return printPermissionTable(cmdCtx.Out, table)
}

func printPermissionTable(w io.Writer, table *domainauth.PermissionTable) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writef(tw, "PERMISSION\tROLES\n"); err != nil {
		return err
	}
	for _, p := range domainauth.Permissions() {
		roles := table.RolesFor(p)
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			names = append(names, string(r))
		}
		cell := strings.Join(names, ", ")
		if !table.Has(p) {
			cell = "(not configured)"
		}
		if err := writef(tw, "%s\t%s\n", p, cell); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printGranted(w io.Writer, role domainauth.Role, perms []domainauth.Permission) error {
	if err := writef(w, "%s (%s): %d permissions\n", role, role.DisplayName(), len(perms)); err != nil {
		return err
	}
	for _, p := range perms {
		if err := writef(w, "  %s\n", p); err != nil {
			return err
		}
	}
	return nil
}

type canOptions struct {
	Permission domainauth.Permission
	Role       domainauth.Role
}

// parseCanFlags accepts the permission before or after the flags.
func parseCanFlags(args []string) (canOptions, error) {
	var positional string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("can", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var role string
	fs.StringVar(&role, "role", "", "Check this role offline instead of the signed-in user")
	if err := fs.Parse(args); err != nil {
		return canOptions{}, err
	}
	if positional == "" && fs.NArg() > 0 {
		positional = fs.Arg(0)
	}
	if positional == "" {
		return canOptions{}, errors.New("usage: can <PERMISSION> [--role ROLE]")
	}

	opts := canOptions{Permission: domainauth.Permission(strings.ToUpper(strings.TrimSpace(positional)))}
	if role != "" {
		r, err := domainauth.ParseRole(role)
		if err != nil {
			return canOptions{}, err
		}
		opts.Role = r
	}
	return opts, nil
}

func runCan(cmdCtx *commandContext, args []string) error {
	opts, err := parseCanFlags(args)
	if err != nil {
		return err
	}

	var d domainauth.Decision
	if opts.Role != "" {
		table, loadErr := loadTable(cmdCtx)
		if loadErr != nil {
			return loadErr
		}
		d = table.Decide(opts.Role, opts.Permission)
	} else {
		err = withSession(cmdCtx, func(_ context.Context, s *sessionCore) error {
			d = s.core.Authz.Explain(opts.Permission)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := printDecision(cmdCtx.Out, d); err != nil {
		return err
	}
	if !d.Allowed {
		return errPermissionDenied
	}
	return nil
}

func printDecision(w io.Writer, d domainauth.Decision) error {
	if d.Allowed {
		return writef(w, "%s: allowed (role %s)\n", d.Permission, d.Role)
	}
	if d.Role == "" {
		return writef(w, "%s: denied (%s)\n", d.Permission, d.ReasonText())
	}
	return writef(w, "%s: denied (%s, role %s)\n", d.Permission, d.ReasonText(), d.Role)
}

type profileLookupOptions struct {
	UserID string
}

func parseShowProfileFlags(args []string) (profileLookupOptions, error) {
	fs := flag.NewFlagSet("show-profile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opts := profileLookupOptions{}
	fs.StringVar(&opts.UserID, "user", "", "Provider user id (required)")
	if err := fs.Parse(args); err != nil {
		return profileLookupOptions{}, err
	}
	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return profileLookupOptions{}, errors.New("--user is required")
	}
	return opts, nil
}

func runShowProfile(cmdCtx *commandContext, args []string) error {
	opts, err := parseShowProfileFlags(args)
	if err != nil {
		return err
	}
	return withProfileRepo(cmdCtx, func(ctx context.Context, repo *data.ProfileRepo) error {
		p, err := repo.Fetch(ctx, opts.UserID)
		if err != nil {
			return fmt.Errorf("fetch profile %s: %w", opts.UserID, err)
		}
		return printProfile(cmdCtx.Out, p, "")
	})
}

type setRoleOptions struct {
	UserID      string
	Role        domainauth.Role
	AllowRemote bool
}

func parseSetRoleFlags(args []string) (setRoleOptions, error) {
	fs := flag.NewFlagSet("set-role", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := setRoleOptions{}
	var role string
	fs.StringVar(&opts.UserID, "user", "", "Provider user id (required)")
	fs.StringVar(&role, "role", "", "One of owner, manager, site_manager, assistant, employee (required)")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against a non-local database host")
	if err := fs.Parse(args); err != nil {
		return setRoleOptions{}, err
	}

	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return setRoleOptions{}, errors.New("--user is required")
	}
	r, err := domainauth.ParseRole(role)
	if err != nil {
		return setRoleOptions{}, fmt.Errorf("--role: %w", err)
	}
	opts.Role = r
	return opts, nil
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseSetRoleFlags(args)
	if err != nil {
		return err
	}
	if err := guardRemoteHost(cmdCtx, opts.AllowRemote, "change the role of "+opts.UserID); err != nil {
		return err
	}
	return withProfileRepo(cmdCtx, func(ctx context.Context, repo *data.ProfileRepo) error {
		p, err := repo.SetRole(ctx, opts.UserID, opts.Role)
		if err != nil {
			return fmt.Errorf("set role for %s: %w", opts.UserID, err)
		}
		cmdCtx.Logger.InfoContext(ctx, "role assigned", "user_id", p.ID, "role", p.Role)
		return printProfile(cmdCtx.Out, p, "")
	})
}

func withProfileRepo(cmdCtx *commandContext, f func(context.Context, *data.ProfileRepo) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(ctx, &connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx, db)
	return f(ctx, data.NewProfileRepo(db))
}

func closeDB(cmdCtx *commandContext, db *sql.DB) {
	if err := db.Close(); err != nil {
		cmdCtx.Logger.Warn("db close failed", "error", err)
	}
}

func printProfile(w io.Writer, p domainauth.Profile, email string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"id", p.ID},
		{"name", p.DisplayName(email)},
		{"role", fmt.Sprintf("%s (%s)", p.Role, p.Role.DisplayName())},
		{"phone", p.Phone},
		{"avatar", p.AvatarURL},
		{"created", p.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		{"updated", p.UpdatedAt.Format("2006-01-02 15:04:05 MST")},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
