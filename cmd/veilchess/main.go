package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appcfg "github.com/veilchess/veilchess/internal/config"
	"github.com/veilchess/veilchess/internal/cryptobox"
	"github.com/veilchess/veilchess/internal/history"
	"github.com/veilchess/veilchess/internal/obslog"
	"github.com/veilchess/veilchess/internal/relaybox"
	"github.com/veilchess/veilchess/internal/render"
	"github.com/veilchess/veilchess/internal/session"
	"github.com/veilchess/veilchess/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := appcfg.LoadClient()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "host":
		runHost(ctx, cfg)
	case "join":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		runJoin(ctx, cfg, os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: veilchess host")
	fmt.Fprintln(os.Stderr, "       veilchess join <invite-code>")
}

func runHost(ctx context.Context, cfg *appcfg.AppConfig) {
	ctrl, ev, repo := buildController(cfg, appRole(session.RoleHost))

	offer, err := ctrl.Initialize(ctx, session.RoleHost, uuid.NewString(), "")
	if err != nil {
		obslog.L().Fatal("session start failed", zap.Error(err))
	}

	box := relaybox.NewClient(cfg.RelayURL)
	code, err := box.CreateInvite(ctx, offer)
	if err != nil {
		ctrl.Cleanup(context.Background())
		obslog.L().Fatal("invite create failed", zap.Error(err))
	}
	fmt.Printf("Invite code: %s\n", code)
	fmt.Println("Waiting for the other player to join...")

	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 15*time.Minute)
		defer cancel()
		if _, err := box.WaitAnswer(waitCtx, code, 2*time.Second); err != nil {
			obslog.L().Debug("answer wait ended", zap.Error(err))
		}
	}()

	runLoop(ctx, cfg, ctrl, ev, repo)
}

func runJoin(ctx context.Context, cfg *appcfg.AppConfig, code string) {
	ctrl, ev, repo := buildController(cfg, appRole(session.RoleJoiner))

	box := relaybox.NewClient(cfg.RelayURL)
	offer, err := box.Offer(ctx, code)
	if err != nil {
		obslog.L().Fatal("invite lookup failed", zap.String("code", code), zap.Error(err))
	}

	answer, err := ctrl.Initialize(ctx, session.RoleJoiner, strings.ToUpper(strings.TrimSpace(code)), offer)
	if err != nil {
		obslog.L().Fatal("session start failed", zap.Error(err))
	}
	if err := box.PostAnswer(ctx, code, answer); err != nil {
		ctrl.Cleanup(context.Background())
		obslog.L().Fatal("answer post failed", zap.Error(err))
	}
	fmt.Println("Joined. Waiting for encrypted session...")

	runLoop(ctx, cfg, ctrl, ev, repo)
}

func buildController(cfg *appcfg.AppConfig, role string) (*session.Controller, *cliEvents, *history.Repository) {
	crypto, err := cryptobox.NewManager()
	if err != nil {
		obslog.L().Fatal("crypto init failed", zap.Error(err))
	}
	fmt.Printf("Your key fingerprint: %s\n", crypto.Fingerprint())

	channel := transport.NewRelayChannel(cfg.RelayURL)
	ev := &cliEvents{done: make(chan struct{}), role: role}
	ctrl := session.New(channel, crypto, ev, session.Options{
		AutoAcceptDraw: cfg.AutoAcceptDraw,
		AllowPlaintext: cfg.AllowPlaintext,
	})

	var repo *history.Repository
	if cfg.DatabaseURL != "" {
		opened, err := history.Open(cfg.DatabaseURL)
		if err != nil {
			obslog.L().Warn("history disabled", zap.Error(err))
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := opened.Init(initCtx); err != nil {
				obslog.L().Warn("history disabled", zap.Error(err))
			} else {
				repo = opened
				ctrl.AttachHistory(repo)
			}
		}
	}
	return ctrl, ev, repo
}

func appRole(r session.Role) string {
	if r == session.RoleHost {
		return "White"
	}
	return "Black"
}

func runLoop(ctx context.Context, cfg *appcfg.AppConfig, ctrl *session.Controller, ev *cliEvents, repo *history.Repository) {
	defer ctrl.Cleanup(context.Background())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ev.done:
				return
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	fmt.Printf("You play %s. Commands: <move>, chat <text>, draw, accept, decline, resign, board, history, quit\n", ev.role)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted, tearing session down.")
			return
		case <-ev.done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(ctx, cfg, ctrl, repo, line) {
				return
			}
		}
	}
}

// handleCommand runs one console command; false means quit.
func handleCommand(ctx context.Context, cfg *appcfg.AppConfig, ctrl *session.Controller, repo *history.Repository, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	cmd, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(cmd) {
	case "quit", "exit":
		return false
	case "chat":
		if rest == "" {
			fmt.Println("usage: chat <text>")
			return true
		}
		if err := ctrl.SendChat(ctx, rest); err != nil {
			fmt.Printf("chat failed: %v\n", err)
		}
	case "draw":
		ctrl.OfferDraw(ctx)
		fmt.Println("Draw offered.")
	case "accept":
		ctrl.RespondDraw(ctx, true)
	case "decline":
		ctrl.RespondDraw(ctx, false)
	case "resign":
		ctrl.Resign(ctx)
	case "board":
		printBoard(ctx, cfg, ctrl)
	case "history":
		printHistory(ctx, repo)
	case "move":
		tryMove(ctx, ctrl, rest)
	default:
		// Bare input is treated as a move in UCI or SAN.
		tryMove(ctx, ctrl, line)
	}
	return true
}

func tryMove(ctx context.Context, ctrl *session.Controller, move string) {
	if strings.TrimSpace(move) == "" {
		fmt.Println("usage: move <uci-or-san>")
		return
	}
	if !ctrl.MakeMove(ctx, move) {
		fmt.Println("Move rejected: not your turn, illegal, or session not ready.")
	}
}

func printHistory(ctx context.Context, repo *history.Repository) {
	if repo == nil {
		fmt.Println("History persistence is not configured (set VEIL_DATABASE_URL).")
		return
	}
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := repo.Recent(qctx, 10)
	if err != nil {
		fmt.Printf("history query failed: %v\n", err)
		return
	}
	if len(rows) == 0 {
		fmt.Println("No finished games recorded yet.")
		return
	}
	for _, r := range rows {
		fmt.Printf("%s  %-9s %-22s %3d moves  %s\n",
			r.EndedAt.Format("2006-01-02 15:04"), r.Outcome, r.Method, len(r.MovesUCI), r.GameID)
	}
}

func printBoard(ctx context.Context, cfg *appcfg.AppConfig, ctrl *session.Controller) {
	fen := ctrl.FEN()
	fmt.Print(asciiBoard(fen))
	fmt.Printf("FEN: %s\n", fen)
	if cfg.SnapshotDir == "" {
		return
	}
	data, err := render.RenderPNG(ctx, fen, render.Options{TargetSize: cfg.SnapshotSize})
	if err != nil {
		obslog.L().Warn("snapshot render failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
		obslog.L().Warn("snapshot dir", zap.Error(err))
		return
	}
	path := filepath.Join(cfg.SnapshotDir, fmt.Sprintf("board-%d.png", time.Now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		obslog.L().Warn("snapshot write failed", zap.Error(err))
		return
	}
	fmt.Printf("Snapshot saved: %s\n", path)
}

// asciiBoard renders the piece placement field of a FEN as text.
func asciiBoard(fen string) string {
	placement, _, _ := strings.Cut(fen, " ")
	var b strings.Builder
	rank := 8
	for _, row := range strings.Split(placement, "/") {
		fmt.Fprintf(&b, "%d  ", rank)
		for _, r := range row {
			if r >= '1' && r <= '8' {
				for i := 0; i < int(r-'0'); i++ {
					b.WriteString(". ")
				}
				continue
			}
			b.WriteRune(r)
			b.WriteByte(' ')
		}
		b.WriteByte('\n')
		rank--
	}
	b.WriteString("\n   a b c d e f g h\n")
	return b.String()
}

// cliEvents prints session events to the console.
type cliEvents struct {
	done chan struct{}
	role string
}

func (e *cliEvents) OnMove(san string) {
	fmt.Printf("Move: %s\n", san)
}

func (e *cliEvents) OnChat(text string, origin session.Origin) {
	if origin == session.OriginRemote {
		fmt.Printf("[peer] %s\n", text)
	} else {
		fmt.Printf("[you]  %s\n", text)
	}
}

func (e *cliEvents) OnGameEnd(outcome session.Outcome) {
	switch outcome {
	case session.OutcomeWin:
		fmt.Println("Game over: you win.")
	case session.OutcomeLoss:
		fmt.Println("Game over: you lose.")
	case session.OutcomeDraw:
		fmt.Println("Game over: draw.")
	}
	close(e.done)
}

func (e *cliEvents) OnConnectionChange(state transport.State) {
	switch state {
	case transport.StateConnected:
		fmt.Println("Peer connected, bootstrapping encryption...")
	case transport.StateDisconnected, transport.StateFailed:
		fmt.Println("Connection lost.")
	}
}

func (e *cliEvents) OnError(err error) {
	fmt.Printf("! %v\n", err)
}

func (e *cliEvents) OnDrawOffer() {
	fmt.Println("Peer offers a draw. Type 'accept' or 'decline'.")
}

func (e *cliEvents) OnDrawDeclined() {
	fmt.Println("Peer declined the draw.")
}
