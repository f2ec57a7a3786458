package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-attempt/internal/attempt"
	"github.com/stemsi/exstem-attempt/internal/session"
	"golang.org/x/term"
)

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	if *email == "" {
		fmt.Print("Email: ")
		line, err := in.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		*email = strings.TrimSpace(line)
	}

	password, err := readPassword(in)
	if err != nil {
		return err
	}

	resp, err := a.api.Login(ctx, *email, password)
	if err != nil {
		a.log.Debug().Err(err).Msg("Login failed")
		return errors.New(attempt.UserMessage(err))
	}
	s, err := session.New(resp)
	if err != nil {
		return err
	}
	if err := a.sessions.Save(s); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s (%s)", s.User.Email, strings.ToLower(string(s.User.Role)))
	if !s.ExpiresAt.IsZero() {
		fmt.Printf(", session valid until %s", s.ExpiresAt.Local().Format(time.RFC1123))
	}
	fmt.Println()
	return nil
}

// readPassword reads without echo on a terminal and falls back to a plain
// line for piped input.
func readPassword(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Password: ")
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) logout() error {
	if err := a.sessions.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func (a *app) whoami() error {
	s, err := a.currentSession()
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s>\nrole: %s\nid: %s\n", s.User.Name, s.User.Email, s.User.Role, s.User.ID)
	if !s.ExpiresAt.IsZero() {
		fmt.Printf("expires: %s\n", s.ExpiresAt.Local().Format(time.RFC1123))
	}
	return nil
}
