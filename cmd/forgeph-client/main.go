package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Devign20164/ForgePh/pkg/client"
	"github.com/Devign20164/ForgePh/pkg/logging"
	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
)

func main() {
	settingsPath := flag.String("settings", client.DefaultSettingsPath(), "settings file")
	serverURL := flag.String("server", "", "HTTP API base URL (overrides settings)")
	controlAddr := flag.String("control", "", "real-time channel address (overrides settings)")
	email := flag.String("email", "", "log in with this email (password from FORGEPH_PASSWORD)")
	logLevel := flag.String("log-level", "warn", "Log level: "+logging.LevelNames())
	flag.Parse()

	if err := logging.Setup(logging.Options{Level: *logLevel, Format: "text", Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	settings, err := client.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgeph-client: %v\n", err)
		os.Exit(1)
	}
	if *serverURL != "" {
		settings.ServerURL = *serverURL
	}
	if *controlAddr != "" {
		settings.ControlAddr = *controlAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, *email); err != nil {
		fmt.Fprintf(os.Stderr, "forgeph-client: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, settings *client.Settings, email string) error {
	api := client.NewAPI(settings.ServerURL)

	if email != "" {
		user, err := api.Login(ctx, email, os.Getenv("FORGEPH_PASSWORD"))
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		settings.Email = user.Email
		settings.Token = api.Token()
		if err := settings.Save(); err != nil {
			slog.Warn("could not remember token", "path", settings.Path(), "err", err)
		}
		fmt.Printf("Logged in as %s (%d points)\n", user.Name, user.Points)
	}
	if settings.Token == "" {
		return errors.New("no saved token; log in with -email")
	}
	api.SetToken(settings.Token)

	e := client.NewEngine()
	e.OnNotification = func(n pb.Notification) {
		fmt.Printf("[%s] %s: %s\n", n.Type, n.Title, n.Message)
	}
	e.OnPoints = func(u pb.PointsUpdate) {
		fmt.Printf("%+d points for %s, balance %d\n", u.PointsAdded, u.ActionType, u.NewPoints)
	}
	e.OnChatMessage = func(m pb.ReceiveMessage) {
		ts := time.UnixMilli(m.Timestamp).Format("15:04")
		fmt.Printf("%s <%s> %s\n", ts, m.Username, m.Message)
	}
	disconnected := make(chan string, 1)
	e.OnDisconnect = func(reason string) {
		select {
		case disconnected <- reason:
		default:
		}
	}

	ack, err := e.Connect(ctx, settings.ControlAddr, settings.Token, settings.Insecure)
	if err != nil {
		var rejected *client.ErrRejected
		if errors.As(err, &rejected) {
			settings.Token = ""
			_ = settings.Save()
		}
		return err
	}
	defer e.Disconnect()
	fmt.Printf("Connected to %s (server %s), %d points\n", settings.ControlAddr, ack.ServerVersion, ack.Points)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-disconnected:
			fmt.Printf("Disconnected: %s\n", reason)
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, api, e, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Printf("error: %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

const usage = `commands:
  /action <type> <points>   report an earning action
  /play <game> <points>     spend a daily game play
  /redeem <code> <points>   redeem a promo code
  /me                       show your profile
  /top                      show the retailer leaderboard
  /quit
anything else is sent as chat`

func handleLine(ctx context.Context, api *client.API, e *client.Engine, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return e.SendChat(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/action", "/play", "/redeem":
		if len(fields) != 3 {
			return errors.New(usage)
		}
		points, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("points: %w", err)
		}
		switch fields[0] {
		case "/action":
			return e.CompleteAction(fields[1], points)
		case "/play":
			left, _, err := api.PlayGame(ctx, fields[1], points)
			if err == nil {
				fmt.Printf("%d plays left today\n", left)
			}
			return err
		default:
			left, _, err := api.RedeemPromo(ctx, fields[1], points)
			if err == nil {
				fmt.Printf("%d redemptions left today\n", left)
			}
			return err
		}
	case "/me":
		u, err := api.Me(ctx, e.UserID())
		if err != nil {
			return err
		}
		fmt.Printf("%s <%s> %s %s, %d points, %d redemptions and %d plays left\n",
			u.Name, u.Email, u.UserType, u.UserStatus, u.Points, u.RedemptionCount, u.DailyGamePlays)
		return nil
	case "/top":
		users, err := api.TopRetailers(ctx)
		if err != nil {
			return err
		}
		for i, u := range users {
			fmt.Printf("%2d. %-24s %d\n", i+1, u.ShopName, u.Points)
		}
		return nil
	case "/quit":
		return errQuit
	default:
		return errors.New(usage)
	}
}
