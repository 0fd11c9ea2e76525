package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/gwdesk/client/alert"
	"github.com/gwdesk/client/chat"
	"github.com/gwdesk/client/config"
	"github.com/gwdesk/client/desk"
	"github.com/gwdesk/client/mcp"
	"github.com/gwdesk/client/notify"
)

func runInit(args []string) error {
	fs, cf := newFlagSet("init")
	baseURL := fs.String("base-url", "", "backend REST root")
	wsURL := fs.String("ws-url", "", "backend STOMP-over-WebSocket endpoint")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if *baseURL != "" {
		cfg.Backend.BaseURL = *baseURL
	}
	if *wsURL != "" {
		cfg.Backend.WSURL = *wsURL
	}

	path := cf.path()
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

func runLogin(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("login")
	passwordFile := fs.String("password-file", "", "read the password from this file instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: gwdesk login <login-id>")
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}

	password, err := readPassword(*passwordFile)
	if err != nil {
		return err
	}

	d, err := desk.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	sess, err := d.Login(ctx, fs.Arg(0), password)
	if err != nil {
		return errors.New(alert.FromError("login", err).Message)
	}
	name := sess.Name
	if name == "" {
		name = sess.UserID
	}
	fmt.Printf("Logged in as %s\n", name)
	return nil
}

func readPassword(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

func runLogout(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("logout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}

	d, err := desk.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func runMCP(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("mcp")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}
	d, err := desk.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if _, err := d.Resume(ctx); err != nil {
		// Tools report not_logged_in until a login happens elsewhere.
		alert.Report(nil, "mcp.resume", err)
	}
	if err := d.StartWatching(); err != nil {
		alert.Report(nil, "mcp.watch", err)
	}

	return mcp.NewServer(d, version).Run(ctx, os.Stdin, os.Stdout)
}

func runTail(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("tail")
	roomID := fs.String("room", "", "also follow this chat room; stdin lines are sent to it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cf.load()
	if err != nil {
		return err
	}

	d, err := desk.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	out := newPrinter(os.Stdout)
	d.Alerts.Add(alert.NewTerminalSink(os.Stderr))

	sess, err := d.Resume(ctx)
	if err != nil {
		return err
	}
	if err := d.StartWatching(); err != nil {
		d.Report("session.watch", err)
	}

	seen := make(map[string]bool)
	printNew := func(snap notify.Snapshot) {
		// Items are newest first; print oldest unseen first.
		for i := len(snap.Items) - 1; i >= 0; i-- {
			n := snap.Items[i]
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			out.notification(n)
		}
	}
	d.Inbox.AddListener(printNew)
	printNew(d.Inbox.Snapshot())

	if *roomID == "" {
		<-ctx.Done()
		return nil
	}

	view, err := d.NewChatView()
	if err != nil {
		return err
	}
	defer view.Close()

	view.OnMessage(func(m chat.Message) { out.message(m, sess.UserID) })
	if err := view.Select(ctx, *roomID); err != nil {
		return errors.New(alert.FromError("chat.select", err).Message)
	}
	for _, m := range view.Messages() {
		out.message(m, sess.UserID)
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := view.SendText(ctx, line); err != nil {
				d.Report("chat.send", err)
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
