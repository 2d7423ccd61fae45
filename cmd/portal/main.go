package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"schoolhub/internal/config"
	"schoolhub/internal/logs"
	"schoolhub/internal/tui"
	"schoolhub/pkg/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printHelp()
		return nil
	}

	cfg := config.LoadPortal()
	logger := logs.Init(logs.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	stateDir, err := resolveStateDir(cfg.StateDir)
	if err != nil {
		return err
	}
	storage, err := session.NewFileStorage(stateDir)
	if err != nil {
		return err
	}
	manager, err := session.NewManager(cfg.APIURL, storage,
		session.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		session.WithLogger(logger),
		session.WithLoginRedirect(func() {
			fmt.Fprintln(os.Stderr, "session ended: run `portal login` to sign in again")
		}),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "login":
		return runLogin(ctx, manager, args[1:])
	case "register":
		return runRegister(ctx, manager, args[1:])
	case "faculty-register":
		return runMemberRegister(ctx, manager, args[1:], manager.FacultyRegister)
	case "student-register":
		return runMemberRegister(ctx, manager, args[1:], manager.StudentRegister)
	case "whoami":
		return runWhoami(ctx, manager)
	case "refresh":
		if err := manager.RefreshToken(ctx); err != nil {
			return err
		}
		fmt.Println("access token refreshed")
		return nil
	case "logout":
		manager.Logout(ctx)
		fmt.Println("logged out")
		return nil
	case "get":
		return runGet(ctx, manager, args[1:])
	case "watch":
		return runWatch(ctx, cfg, manager, logger)
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printHelp() {
	fmt.Println(`portal - schoolhub command-line client

Usage:
  portal login -tenant <domain> -email <email>
  portal register -tenant-name <name> -tenant <domain> -email <email> -first <name> -last <name>
  portal faculty-register -tenant <domain> -email <email> -first <name> -last <name>
  portal student-register -tenant <domain> -email <email> -first <name> -last <name>
  portal whoami
  portal refresh
  portal logout
  portal get <resource> [id]
  portal watch

The password is read from PORTAL_PASSWORD or prompted on stdin.`)
}

// resolveStateDir defaults to ~/.schoolhub.
func resolveStateDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".schoolhub"), nil
}

func readPassword() (string, error) {
	if pw := os.Getenv("PORTAL_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runLogin(ctx context.Context, manager *session.Manager, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	tenantDomain := fs.String("tenant", "", "tenant domain")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tenantDomain == "" || *email == "" {
		return errors.New("login requires -tenant and -email")
	}
	password, err := readPassword()
	if err != nil {
		return err
	}

	user, err := manager.Login(ctx, *tenantDomain, *email, password)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s (%s)\n", user.Email, user.Role)
	return nil
}

func runRegister(ctx context.Context, manager *session.Manager, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	req := session.RegisterRequest{}
	fs.StringVar(&req.TenantName, "tenant-name", "", "institution name")
	fs.StringVar(&req.TenantDomain, "tenant", "", "tenant domain")
	fs.StringVar(&req.Email, "email", "", "administrator email")
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	req.Password = password

	user, err := manager.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("created %s and signed in as %s\n", req.TenantDomain, user.Email)
	return nil
}

func runMemberRegister(ctx context.Context, manager *session.Manager, args []string, register func(context.Context, session.MemberRegistration) error) error {
	fs := flag.NewFlagSet("member-register", flag.ContinueOnError)
	req := session.MemberRegistration{}
	fs.StringVar(&req.TenantDomain, "tenant", "", "tenant domain")
	fs.StringVar(&req.Email, "email", "", "email address")
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	req.Password = password

	if err := register(ctx, req); err != nil {
		return err
	}
	fmt.Println("account created: run `portal login` to sign in")
	return nil
}

func runWhoami(ctx context.Context, manager *session.Manager) error {
	state, err := manager.CheckAuth(ctx)
	if err != nil {
		return err
	}
	if !state.IsAuthenticated || state.User == nil {
		return session.ErrNotAuthenticated
	}
	u := state.User
	fmt.Printf("%s %s <%s>\nrole:   %s\ntenant: %s\n", u.FirstName, u.LastName, u.Email, u.Role, u.TenantID)
	return nil
}

func runGet(ctx context.Context, manager *session.Manager, args []string) error {
	if len(args) == 0 {
		return errors.New("get requires a resource name")
	}
	if _, err := manager.CheckAuth(ctx); err != nil {
		return err
	}
	client := session.NewClient(manager)

	var out any
	var err error
	if len(args) > 1 {
		out, err = client.GetResource(ctx, args[0], args[1])
	} else {
		out, err = client.ListResources(ctx, args[0])
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runWatch keeps the session alive with both background jobs and shows it until the
// session ends or the user quits.
func runWatch(ctx context.Context, cfg config.PortalConfig, manager *session.Manager, logger *logrus.Logger) error {
	state, err := manager.CheckAuth(ctx)
	if err != nil {
		return err
	}
	if !state.IsAuthenticated {
		return session.ErrNotAuthenticated
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	refresh := session.NewRefreshJob(manager, cfg.RefreshInterval, cfg.RefreshThreshold)
	expiry := session.NewExpiryJob(manager, cfg.ExpiryInterval)
	refresh.Start(ctx)
	expiry.Start(ctx)

	// Background job output would corrupt the alternate screen.
	logger.SetLevel(logrus.ErrorLevel)

	program := tea.NewProgram(tui.NewWatchModel(manager, refresh, cfg.RefreshThreshold),
		tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
	unsubscribe := manager.Subscribe(func(s session.State) {
		program.Send(tui.StateMsg(s))
	})
	defer unsubscribe()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("tui error: %w", err)
	}
	if !manager.State().IsAuthenticated {
		fmt.Println("session ended: run `portal login` to sign in again")
	}
	return nil
}
