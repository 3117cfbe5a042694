package main

import (
	"context"
	"crypto/tls"
	"flag"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/larkmail/lark/internal/cache"
	"github.com/larkmail/lark/internal/config"
	"github.com/larkmail/lark/internal/logging"
	"github.com/larkmail/lark/internal/syncengine"
	"github.com/larkmail/lark/internal/workqueue"
	"github.com/rs/zerolog"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

// statusUI is the headless UI collaborator main wires in by default:
// a structured log line per status update, good enough to run lark
// unattended (e.g. as a backfilling daemon) without a host
// application implementing syncengine.UI itself.
type statusUI struct {
	log zerolog.Logger
}

func (u statusUI) UpdateStatus(msg string, level syncengine.StatusLevel) {
	ev := u.log.Info()
	if level == syncengine.StatusError {
		ev = u.log.Error()
	}
	ev.Msg(msg)
}

func main() {
	flagConfig := flag.String("config", "", "path to the account config file (see internal/config)")
	flagDBPath := flag.String("db", "", "path to the local cache database (defaults to the -config path with .db appended)")
	flagIMAPAddr := flag.String("imap_addr", "", "IMAP host:port to dial (default: the config file's imap.host, with port 993 if it names none)")
	flagVerbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *flagVerbose {
		level = zerolog.DebugLevel
	}
	logging.Configure(os.Stderr, level)
	log := logging.WithComponent("main")

	if *flagConfig == "" {
		log.Fatal().Msg("-config is required")
	}
	account, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}

	addr := *flagIMAPAddr
	if addr == "" {
		addr = account.IMAPHost
		if _, _, err := net.SplitHostPort(addr); err != nil {
			addr = net.JoinHostPort(addr, "993")
		}
	}

	dbPath := *flagDBPath
	if dbPath == "" {
		dbPath = *flagConfig + ".db"
	}
	store, err := cache.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("opening cache")
	}
	defer store.Close()

	store.Subscribe(func(ev cache.Event) {
		log.Debug().
			Int("kind", int(ev.Kind)).
			Str("mailbox", ev.Mailbox).
			Uint64("gm_msgid", ev.GMMsgID).
			Msg("cache event")
	})

	log.Info().Str("version", version).Str("user", account.UserName).Msg("lark starting")

	queue := workqueue.New()
	queue.Push(workqueue.Item{Kind: workqueue.RefreshList})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
		log.Info().Msg("interrupt received, logging out")
		queue.Push(workqueue.Item{Kind: workqueue.Logout})
		<-interrupt // a second interrupt forces an immediate exit
		cancel()
	}()

	if err := run(ctx, addr, account, queue, store, log); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("lark exited with error")
		cancel()
		os.Exit(1)
	}
	cancel()
}

// run drives reconnect: on transport/protocol/auth error (Conn.Run has
// already failed the queued selected-state work) it reconnects, unless
// the user requested quit. A clean
// nil return from Conn.Run means the connection reached Terminated
// via LOGOUT, so run returns without retrying; any other error gets a
// backoff and a fresh Conn.
func run(ctx context.Context, addr string, account *config.Account, queue *workqueue.Queue, store *cache.Store, log zerolog.Logger) error {
	backoff := time.Second
	const maxBackoff = 2 * time.Minute

	for {
		conn := syncengine.NewConn(syncengine.Config{
			Host:     addr,
			Username: account.UserName,
			Password: account.Password,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		}, queue, store, statusUI{log: log})

		err := conn.Run(ctx)
		if err == nil {
			return nil // clean LOGOUT
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Error().Err(err).Dur("backoff", backoff).Msg("connection failed, retrying")
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
