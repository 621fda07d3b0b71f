// Command disorderd is the jukebox server: it loads the system
// configuration, wires the reactor-driven core (queue, decoder pool,
// mixer, RTP transmitter, protocol engine, event bus, job runner) and
// blocks until a shutdown signal or the `shutdown` command arrives.
// Grounded on the teacher's cmd/rtmp-server/main.go (flag parsing,
// signal-driven graceful shutdown) adapted from os/signal.NotifyContext to
// the reactor's own RegisterSignal facility, since this core already owns
// its single event loop.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/crazyscot/disorder/internal/auth"
	"github.com/crazyscot/disorder/internal/config"
	"github.com/crazyscot/disorder/internal/decoder"
	"github.com/crazyscot/disorder/internal/eventlog"
	"github.com/crazyscot/disorder/internal/jobs"
	"github.com/crazyscot/disorder/internal/logger"
	"github.com/crazyscot/disorder/internal/mixer"
	"github.com/crazyscot/disorder/internal/mixer/backend"
	"github.com/crazyscot/disorder/internal/player"
	"github.com/crazyscot/disorder/internal/playlist"
	"github.com/crazyscot/disorder/internal/protocol"
	"github.com/crazyscot/disorder/internal/queue"
	"github.com/crazyscot/disorder/internal/reactor"
	"github.com/crazyscot/disorder/internal/rtptx"
	"github.com/crazyscot/disorder/internal/trackdb/badgerstore"
)

const randomInjectInterval = 30 * time.Second

func main() {
	cli, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cli.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cli.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level, using default: %v\n", err)
	}
	log := logger.Logger().With("component", "cli")

	holder, err := config.NewHolder(cli.configPath, log)
	if err != nil {
		log.Error("failed to load configuration", "path", cli.configPath, "err", err)
		os.Exit(1)
	}
	cfg := holder.Get()

	r := reactor.New()

	store, err := badgerstore.Open(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		log.Error("failed to open track database", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.PasswdFile != "" {
		users, err := config.ParsePasswd(cfg.PasswdFile)
		if err != nil {
			log.Error("failed to parse passwd file", "path", cfg.PasswdFile, "err", err)
			os.Exit(1)
		}
		for _, u := range users {
			if err := store.PutUser(context.Background(), u); err != nil {
				log.Error("failed to load user", "username", u.Username, "err", err)
				os.Exit(1)
			}
		}
		log.Info("loaded users from passwd file", "count", len(users))
	}

	secret := cookieSecret(cfg, log)
	keys, err := auth.NewKeyRing(secret)
	if err != nil {
		log.Error("failed to initialize cookie signing keys", "err", err)
		os.Exit(1)
	}

	bus := eventlog.New(cfg.RemoteUserman)

	mixerBackend, tx, err := buildSpeakerBackend(cfg)
	if err != nil {
		log.Error("failed to initialize speaker backend", "err", err)
		os.Exit(1)
	}
	if tx != nil {
		defer tx.Close()
	}
	driver := mixer.NewDriver(mixerBackend, bus)

	// playerLoop is filled in after the queue engine exists; the decoder
	// pool's callbacks close over the variable itself (not its current
	// value) so construction order doesn't need to be circular.
	var playerLoop *player.Loop
	pool := decoder.NewPool(r, decoder.Config(cfg.Decoders), 0,
		func(id string, pcm []byte) { playerLoop.OnFrames(id, pcm) },
		func(id string, exitStatus int) { playerLoop.OnDone(id, exitStatus) },
	)

	queueCfg := queue.Config{
		QueuePad:   cfg.QueuePad,
		ReplayMin:  cfg.ReplayMin,
		NewBiasAge: cfg.NewBiasAge,
		NewBias:    cfg.NewBias,
		RecentMax:  50,
	}
	q := queue.New(queueCfg, bus, pool, store)
	playerLoop = player.New(q, driver, store)

	runner := jobs.NewRunner(r, log, 4)

	srv := protocol.NewServer(r, q, store, bus, keys)
	srv.Mixer = driver
	srv.RemoteUserman = cfg.RemoteUserman
	srv.ScratchJingles = cfg.ScratchJingles
	srv.Jobs = runner
	srv.RescanCommand = cfg.RescanCommand
	srv.ReminderCommand = cfg.ReminderCommand
	srv.StatsCommand = cfg.StatsCommand
	srv.ReminderInterval = cfg.ReminderInterval
	srv.HashAlgo = auth.HashAlgo(cfg.AuthorizationAlgorithm)
	srv.DefaultRights = cfg.Rights()
	srv.Playlists = playlist.NewLocker(cfg.PlaylistLockTimeout)
	srv.CookieSecret = secret
	srv.CookieLoginLifetime = cfg.CookieLoginLifetime
	if tx != nil {
		srv.RTP = tx
	}
	srv.OnReconfigure = holder.Reload
	srv.OnShutdown = func() { go r.Stop() }

	holder.OnReload(func(next *config.System) {
		r.Post(func() {
			srv.RemoteUserman = next.RemoteUserman
			bus.SetRemoteUserman(next.RemoteUserman)
			srv.ScratchJingles = next.ScratchJingles
			srv.RescanCommand = next.RescanCommand
			srv.ReminderCommand = next.ReminderCommand
			srv.StatsCommand = next.StatsCommand
			srv.ReminderInterval = next.ReminderInterval
			srv.HashAlgo = auth.HashAlgo(next.AuthorizationAlgorithm)
			srv.DefaultRights = next.Rights()
			srv.CookieLoginLifetime = next.CookieLoginLifetime
		})
	})
	if err := holder.Watch(); err != nil {
		log.Warn("config file watch failed, hot reload disabled", "err", err)
	}
	defer holder.Stop()

	var handles []*reactor.ListenHandle
	for _, addr := range cfg.Listeners {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error("failed to listen", "addr", addr, "err", err)
			os.Exit(1)
		}
		h, err := r.Listen(l, func(conn net.Conn) {
			if err := srv.Accept(conn, false); err != nil {
				log.Warn("accept failed", "err", err)
			}
		})
		if err != nil {
			log.Error("failed to register listener", "addr", addr, "err", err)
			os.Exit(1)
		}
		handles = append(handles, h)
		log.Info("listening", "addr", addr)
	}
	if cfg.UnixSocket != "" {
		_ = os.Remove(cfg.UnixSocket)
		l, err := net.Listen("unix", cfg.UnixSocket)
		if err != nil {
			log.Error("failed to listen on unix socket", "path", cfg.UnixSocket, "err", err)
			os.Exit(1)
		}
		h, err := r.Listen(l, func(conn net.Conn) {
			if err := srv.Accept(conn, true); err != nil {
				log.Warn("accept failed", "err", err)
			}
		})
		if err != nil {
			log.Error("failed to register unix listener", "path", cfg.UnixSocket, "err", err)
			os.Exit(1)
		}
		handles = append(handles, h)
		log.Info("listening on unix socket", "path", cfg.UnixSocket)
	}

	r.RegisterInterval(randomInjectInterval, func() {
		q.MaybeInjectRandom(context.Background())
	})
	r.RegisterInterval(mixer.ErrorRetryDelay, func() {
		if driver.Retryable() {
			driver.ClearError()
		}
	})

	r.RegisterSignal(syscall.SIGINT, func(os.Signal) { go r.Stop() })
	r.RegisterSignal(syscall.SIGTERM, func(os.Signal) { go r.Stop() })

	log.Info("disorderd started", "version", version)
	r.Run()

	for _, h := range handles {
		_ = h.Cancel()
	}
	log.Info("disorderd stopped")
}

// cookieSecret reads the configured secret file, or — if none is
// configured — generates an ephemeral one for this process's lifetime.
// Cookies issued before a restart won't validate afterward in the
// ephemeral case; that's an accepted tradeoff for a zero-config default
// rather than refusing to start.
func cookieSecret(cfg *config.System, log interface {
	Warn(msg string, args ...any)
}) []byte {
	if cfg.CookieSecretFile != "" {
		if data, err := os.ReadFile(cfg.CookieSecretFile); err == nil {
			return data
		} else {
			log.Warn("could not read cookie secret file, generating an ephemeral one", "path", cfg.CookieSecretFile, "err", err)
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}
	return secret
}

// buildSpeakerBackend constructs the mixer.Backend configured by
// cfg.SpeakerBackend, returning the rtptx.Transmitter too when the rtp
// backend is selected (cmd/disorderd needs it directly to wire
// protocol.Server.RTP for rtp-request/rtp-cancel).
func buildSpeakerBackend(cfg *config.System) (mixer.Backend, *rtptx.Transmitter, error) {
	switch cfg.SpeakerBackend {
	case "command":
		if len(cfg.SpeakerCommand) == 0 {
			return nil, nil, fmt.Errorf("speaker_command is required for the command backend")
		}
		return backend.NewCommand(cfg.SpeakerCommand[0], cfg.SpeakerCommand[1:]...), nil, nil
	case "null":
		return backend.NewNull(), nil, nil
	default:
		var dest *net.UDPAddr
		if cfg.RTPDest != "" {
			addr, err := net.ResolveUDPAddr("udp", cfg.RTPDest)
			if err != nil {
				return nil, nil, fmt.Errorf("rtp_destination: %w", err)
			}
			dest = addr
		}
		addressing := rtptx.Unicast
		switch cfg.RTPAddressing {
		case "broadcast":
			addressing = rtptx.Broadcast
		case "multicast":
			addressing = rtptx.Multicast
		}
		tx, err := rtptx.New(dest, addressing, cfg.MulticastTTL, cfg.MulticastLoopback, nil, true)
		if err != nil {
			return nil, nil, err
		}
		return backend.NewRTP(tx), tx, nil
	}
}
