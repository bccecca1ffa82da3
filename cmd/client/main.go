package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/live-chess-backend/internal/client"
	"github.com/DoyleJ11/live-chess-backend/internal/config"
	"github.com/DoyleJ11/live-chess-backend/internal/identity"
	"github.com/DoyleJ11/live-chess-backend/internal/logging"
	"github.com/DoyleJ11/live-chess-backend/internal/rules"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	config.LoadDotenv()
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	server := flag.String("server", cfg.ServerURL, "coordinator websocket URL")
	game := flag.String("game", "", "game ID to join; empty creates a new game")
	play := flag.Bool("play", false, "join as a player")
	spectate := flag.Bool("spectator", false, "watch the game")
	flag.Parse()

	log, err := logging.New(cfg.LogLevel, false)
	if err != nil {
		return err
	}
	defer log.Sync()

	addr := identity.Address{Base: *server, Intent: identity.Intent{GameID: *game, Play: *play, Spectator: *spectate && !*play}}
	if err := addr.Validate(); err != nil {
		return err
	}
	target, err := addr.URL()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oracle := rules.NewChess()
	conn := client.NewConnManager(target,
		client.WithReconnectDelay(cfg.ReconnectDelay),
		client.WithConnLogger(log.Named("conn")),
	)
	updates := make(chan client.View, 16)
	session := client.NewSession(ctx, conn, oracle,
		client.WithAddress(addr),
		client.WithNoticeTTL(cfg.NoticeTTL),
		client.WithLogger(log.Named("session")),
		client.WithUpdates(updates),
	)
	conn.OnFrame(session.HandleFrame)
	conn.OnState(session.HandleConnState)
	defer func() {
		session.Close()
		conn.Close()
	}()
	conn.Connect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Println(usage)
	for {
		select {
		case <-ctx.Done():
			return nil

		case v := <-updates:
			render(os.Stdout, v, oracle)

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handle(ctx, session, oracle, line, log); quit {
				return nil
			}
		}
	}
}

// handle runs one stdin command and reports whether to exit.
func handle(ctx context.Context, s *client.Session, boards boardDrawer, line string, log *zap.Logger) bool {
	cmd, err := parseCommand(line)
	if err != nil {
		fmt.Println(err)
		return false
	}

	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	switch cmd.name {
	case "quit", "exit":
		return true
	case "help":
		fmt.Println(usage)
	case "show":
		v, err := s.View(rctx)
		if err == nil {
			render(os.Stdout, v, boards)
		}
	case "over":
		if err := s.Terminate(rctx); err != nil {
			log.Debug("terminate refused", zap.Error(err))
		}
	case "new":
		if err := s.NewGame(rctx); err != nil {
			log.Warn("new game failed", zap.Error(err))
		}
	case "move":
		// Refusals surface as notices on the next render.
		if err := s.SubmitMove(rctx, cmd.move); err != nil {
			log.Debug("move refused", zap.String("move", cmd.move.UCI()), zap.Error(err))
		}
	}
	return false
}
