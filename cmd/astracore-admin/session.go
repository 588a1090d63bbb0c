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

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/astracore/astracore/internal/bootstrap"
	domainauth "github.com/astracore/astracore/internal/domain/auth"
)

type sessionCore struct {
	core  *bootstrap.Core
	db    *sql.DB
	redis redis.UniversalClient
}

// withSession builds the core, restores the persisted session and waits for the
// profile to settle before running f.
func withSession(cmdCtx *commandContext, f func(context.Context, *sessionCore) error) (err error) {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, redisClient, err := connectInfraWithOptions(ctx, &connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantDB:    true,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeInfra(db, redisClient); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	core, err := bootstrap.BuildCore(ctx, bootstrap.CoreDeps{
		Config:      &cmdCtx.Config,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	defer core.Close()

	core.Start(ctx)
	if _, waitErr := core.Authz.WaitSettled(ctx); waitErr != nil {
		return fmt.Errorf("wait for profile: %w", waitErr)
	}
	return f(ctx, &sessionCore{core: core, db: db, redis: redisClient})
}

type signInOptions struct {
	Email string
}

func parseSignInFlags(args []string) (signInOptions, error) {
	fs := flag.NewFlagSet("sign-in", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opts := signInOptions{}
	fs.StringVar(&opts.Email, "email", "", "Account email (required); the password is read from stdin")
	if err := fs.Parse(args); err != nil {
		return signInOptions{}, err
	}
	if strings.TrimSpace(opts.Email) == "" {
		return signInOptions{}, errors.New("--email is required")
	}
	return opts, nil
}

func runSignIn(cmdCtx *commandContext, args []string) error {
	opts, err := parseSignInFlags(args)
	if err != nil {
		return err
	}
	password, err := readLine(cmdCtx.In)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	return withSession(cmdCtx, func(ctx context.Context, s *sessionCore) error {
		if _, err := s.core.Sessions.SignIn(ctx, opts.Email, password); err != nil {
			if kind, ok := domainauth.AuthErrorKindOf(err); ok {
				return fmt.Errorf("sign in rejected (%s): %w", kind, err)
			}
			return err
		}
		if _, err := s.core.Authz.WaitSettled(ctx); err != nil {
			return fmt.Errorf("wait for profile: %w", err)
		}
		if s.redis == nil {
			cmdCtx.Logger.WarnContext(ctx, "signed in without a persistent session store; whoami will not see this session")
		}
		return printWhoami(cmdCtx.Out, s)
	})
}

func runSignOut(cmdCtx *commandContext, _ []string) error {
	return withSession(cmdCtx, func(ctx context.Context, s *sessionCore) error {
		if s.core.Sessions.Current() == nil {
			return writeln(cmdCtx.Out, "not signed in")
		}
		if err := s.core.Sessions.SignOut(ctx); err != nil {
			// Local state is already cleared.
			cmdCtx.Logger.WarnContext(ctx, "provider sign-out failed", "error", err)
		}
		return writeln(cmdCtx.Out, "signed out")
	})
}

func runWhoami(cmdCtx *commandContext, _ []string) error {
	return withSession(cmdCtx, func(_ context.Context, s *sessionCore) error {
		return printWhoami(cmdCtx.Out, s)
	})
}

func printWhoami(w io.Writer, s *sessionCore) error {
	snap := s.core.Authz.Snapshot()
	if snap.Identity == nil {
		return writeln(w, "not signed in")
	}
	if err := writef(w, "user:\t%s <%s>\nstate:\t%s\n", snap.Identity.UserID, snap.Identity.Email, snap.State); err != nil {
		return err
	}
	if snap.Err != nil {
		return writef(w, "error:\t%v\n", snap.Err)
	}
	if snap.Profile == nil {
		return nil
	}
	if err := printProfile(w, *snap.Profile, snap.Identity.Email); err != nil {
		return err
	}
	return printGranted(w, snap.Profile.Role, s.core.Authz.Permissions())
}

func parseResetPasswordArgs(args []string) (string, error) {
	fs := flag.NewFlagSet("reset-password", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var email string
	fs.StringVar(&email, "email", "", "Account email")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if email == "" && fs.NArg() > 0 {
		email = fs.Arg(0)
	}
	if strings.TrimSpace(email) == "" {
		return "", errors.New("usage: reset-password <email>")
	}
	return email, nil
}

func runResetPassword(cmdCtx *commandContext, args []string) error {
	email, err := parseResetPasswordArgs(args)
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *sessionCore) error {
		if err := s.core.Sessions.ResetPassword(ctx, email); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "password reset requested for %s\n", domainauth.NormalizeEmail(email))
	})
}

// parseProfileSetFlags only sets the fields named on the command line.
func parseProfileSetFlags(args []string) (domainauth.ProfileUpdate, error) {
	fs := flag.NewFlagSet("profile-set", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var first, last, phone, avatar string
	fs.StringVar(&first, "first-name", "", "First name")
	fs.StringVar(&last, "last-name", "", "Last name")
	fs.StringVar(&phone, "phone", "", "Phone number")
	fs.StringVar(&avatar, "avatar-url", "", "Absolute http(s) avatar URL; empty clears it")
	if err := fs.Parse(args); err != nil {
		return domainauth.ProfileUpdate{}, err
	}

	var upd domainauth.ProfileUpdate
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first-name":
			upd.FirstName = &first
		case "last-name":
			upd.LastName = &last
		case "phone":
			upd.Phone = &phone
		case "avatar-url":
			upd.AvatarURL = &avatar
		}
	})
	if upd.IsEmpty() {
		return domainauth.ProfileUpdate{}, errors.New("nothing to update; pass at least one of --first-name, --last-name, --phone, --avatar-url")
	}
	return upd, nil
}

func runProfileSet(cmdCtx *commandContext, args []string) error {
	upd, err := parseProfileSetFlags(args)
	if err != nil {
		return err
	}
	return withSession(cmdCtx, func(ctx context.Context, s *sessionCore) error {
		p, err := s.core.Authz.UpdateProfile(ctx, upd)
		if err != nil {
			return err
		}
		email := ""
		if id := s.core.Sessions.Current(); id != nil {
			email = id.Email
		}
		return printProfile(cmdCtx.Out, p, email)
	})
}

type hashPasswordOptions struct {
	Cost int
}

func parseHashPasswordFlags(args []string) (hashPasswordOptions, error) {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opts := hashPasswordOptions{}
	fs.IntVar(&opts.Cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return hashPasswordOptions{}, err
	}
	if opts.Cost < bcrypt.MinCost || opts.Cost > bcrypt.MaxCost {
		return hashPasswordOptions{}, fmt.Errorf("--cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return opts, nil
}

func runHashPassword(cmdCtx *commandContext, args []string) error {
	opts, err := parseHashPasswordFlags(args)
	if err != nil {
		return err
	}
	password, err := readLine(cmdCtx.In)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), opts.Cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return writeln(cmdCtx.Out, string(hash))
}
