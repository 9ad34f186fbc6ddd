// Package main is an interactive chat peer. Each running process is one
// participant on the realtime channel.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/config"
	"github.com/aura-chat/peernet/internal/conversation"
	"github.com/aura-chat/peernet/internal/llm"
	"github.com/aura-chat/peernet/internal/model"
	natsclient "github.com/aura-chat/peernet/internal/nats"
	"github.com/aura-chat/peernet/internal/peer"
	"github.com/aura-chat/peernet/internal/persistence"
	"github.com/aura-chat/peernet/internal/presence"
	"github.com/aura-chat/peernet/internal/realtime"
	"github.com/aura-chat/peernet/internal/snapshot"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/tracing"
)

const help = `Commands:
  /people          list peers seen on the network
  /scan            forget known peers and listen for announcements
  /dm <peer-id>    open a direct conversation with a peer
  /list            list conversations
  /open <id>       focus a conversation
  /history         show the focused conversation
  /logout          forget the stored profile and exit
  /help            show this help
  /quit            exit
Anything else is sent to the focused conversation.`

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

func main() {
	name := flag.String("name", "", "display name used when no profile is stored")
	flag.Parse()

	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, *name, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, name string, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "aura-peer", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	snaps, err := openSnapshots(cfg)
	if err != nil {
		return fmt.Errorf("open snapshots: %w", err)
	}

	gateway := persistence.NewHTTPGateway(cfg.APIBaseURL, log)
	session := peer.NewSession(gateway, snaps, log)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), model.MaxTextLength+1024)

	identity, err := identify(ctx, session, scanner, name)
	if err != nil {
		return err
	}

	ch, closeChannel := openChannel(ctx, cfg, log)
	defer closeChannel()

	p := peer.New(identity, ch, peer.Options{
		Gateway:           gateway,
		Snapshots:         snaps,
		Responder:         newResponder(cfg, log),
		HeartbeatInterval: cfg.PresenceInterval,
		Directory: presence.DirectoryConfig{
			SweepInterval: cfg.PresenceSweepInterval,
			Expiry:        cfg.PresenceExpiry,
			ScanWindow:    cfg.ScanWindow,
		},
		Logger: log,
	})

	// Print inbound messages as they arrive.
	unsubscribe := ch.Subscribe(func(ev model.Event) {
		if m, ok := ev.(*model.MessageEvent); ok && m.Message.SenderID != identity.ID {
			if conversation.ReferencesParticipant(m.ConversationID, identity.ID) {
				printInbound(m)
			}
		}
	})
	defer unsubscribe()

	if err := p.Start(ctx); err != nil {
		return err
	}
	defer p.Stop()

	cyan.Printf("Signed in as %s (%s)\n", identity.Name, identity.ID)
	fmt.Println(`Type /help for commands, Ctrl+D to exit.`)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		green.Printf("[%s]> ", p.Store().Focused())
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return scanner.Err()
			}
			quit, err := handleLine(ctx, p, session, strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// identify restores the stored profile or onboards a new one.
func identify(ctx context.Context, session *peer.Session, scanner *bufio.Scanner, name string) (model.Identity, error) {
	identity, found, err := session.Restore(ctx)
	if err != nil {
		return model.Identity{}, err
	}
	if found {
		return identity, nil
	}

	for {
		if strings.TrimSpace(name) == "" {
			cyan.Print("Choose a display name: ")
			if !scanner.Scan() {
				return model.Identity{}, errors.New("no display name given")
			}
			name = scanner.Text()
		}
		identity, err = session.Onboard(ctx, name)
		if errors.Is(err, peer.ErrEmptyName) {
			name = ""
			continue
		}
		return identity, err
	}
}

func handleLine(ctx context.Context, p *peer.Peer, session *peer.Session, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	store := p.Store()

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Println(help)

	case "/quit", "/exit":
		return true, nil

	case "/people":
		printPeers(p.Directory())

	case "/scan":
		p.Directory().Scan()
		faint.Println("Scanning for peers...")

	case "/dm":
		entry, ok := p.Directory().Lookup(arg)
		if !ok {
			return false, fmt.Errorf("no peer %q on the network, try /people", arg)
		}
		c, err := store.StartConversation(entry.Identity)
		if err != nil {
			return false, err
		}
		cyan.Printf("Opened %s\n", c.ID)

	case "/list":
		printConversations(store)

	case "/open":
		if err := store.Focus(arg); err != nil {
			return false, err
		}
		printHistory(store)

	case "/history":
		printHistory(store)

	case "/logout":
		if err := session.Logout(ctx); err != nil {
			return false, err
		}
		return true, nil

	default:
		if strings.HasPrefix(cmd, "/") {
			return false, fmt.Errorf("unknown command %s", cmd)
		}
		return false, send(store, line)
	}
	return false, nil
}

func send(store *conversation.Store, text string) error {
	focused := store.Focused()

	store.SetTyping(true)
	_, err := store.Send(focused, text)
	store.SetTyping(false)
	if err != nil {
		return err
	}

	if c, ok := store.Get(focused); ok && c.Type == model.ConversationAI {
		faint.Println("Aura is thinking...")
		store.Wait()
		if c, ok := store.Get(focused); ok && c.LastMessage != nil && c.LastMessage.SenderID == model.AssistantID {
			printMessage(*c.LastMessage)
		}
	}
	return nil
}

func printInbound(ev *model.MessageEvent) {
	fmt.Println()
	yellow.Printf("[%s] ", ev.ConversationID)
	printMessage(ev.Message)
}

func printMessage(m model.Message) {
	faint.Printf("%s ", time.UnixMilli(m.Timestamp).Format("15:04"))
	cyan.Printf("%s: ", m.SenderName)
	fmt.Println(m.Text)
}

func printHistory(store *conversation.Store) {
	c, ok := store.Get(store.Focused())
	if !ok {
		return
	}
	for _, m := range c.Messages {
		printMessage(m)
	}
	if typing := store.TypingUsers(); len(typing) > 0 {
		faint.Printf("%s typing...\n", strings.Join(typing, ", "))
	}
}

func printConversations(store *conversation.Store) {
	focused := store.Focused()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tID\tTYPE\tUNREAD\tLAST")
	for _, c := range store.Conversations() {
		mark := " "
		if c.ID == focused {
			mark = "*"
		}
		last := ""
		if c.LastMessage != nil {
			last = truncate(c.LastMessage.Text, 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", mark, c.ID, c.Type, c.UnreadCount, last)
	}
	w.Flush()
}

func printPeers(dir *presence.Directory) {
	peers := dir.Peers()
	if len(peers) == 0 {
		if dir.Scanning() {
			faint.Println("Still scanning...")
		} else {
			faint.Println("Nobody else is online.")
		}
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLAST SEEN")
	for _, e := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s ago\n", e.Identity.ID, e.Identity.Name, time.Since(e.LastSeenAt).Round(time.Second))
	}
	w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func openSnapshots(cfg *config.Config) (snapshot.Store, error) {
	switch cfg.SnapshotBackend {
	case config.SnapshotRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return snapshot.NewRedis(redis.NewClient(opts), ""), nil
	case config.SnapshotFile, "":
		return snapshot.NewFile(cfg.SnapshotDir)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}

// openChannel connects the configured transport. If NATS is unreachable the
// peer runs alone on a channel that delivers nothing.
func openChannel(ctx context.Context, cfg *config.Config, log *logger.Logger) (realtime.Channel, func()) {
	if cfg.RealtimeTransport != config.TransportNATS {
		log.Warn("in-process realtime transport, peers in other processes are not reachable",
			zap.String("transport", cfg.RealtimeTransport))
		ch := realtime.NewHub(log).Open(cfg.RealtimeChannel)
		return ch, func() { ch.Close() }
	}

	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "aura-peer",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("realtime channel unavailable, running offline", zap.Error(err))
		return realtime.Noop{}, func() {}
	}

	ch, err := realtime.NewNATSChannel(client.Conn(), cfg.RealtimeChannel, log)
	if err != nil {
		log.Warn("realtime channel unavailable, running offline", zap.Error(err))
		client.Close()
		return realtime.Noop{}, func() {}
	}
	return ch, func() {
		ch.Close()
		client.Close()
	}
}

func newResponder(cfg *config.Config, log *logger.Logger) conversation.Responder {
	provider, key := cfg.LLMKey()
	if key == "" {
		return nil
	}
	var opts []llm.Option
	if cfg.LLMBaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLMBaseURL))
	}
	client, err := llm.NewClient(llm.Provider(provider), key, opts...)
	if err != nil {
		log.Warn("assistant disabled", zap.Error(err))
		return nil
	}
	return llm.NewAssistant(client, cfg.LLMModel, log)
}
