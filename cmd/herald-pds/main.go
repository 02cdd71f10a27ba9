// herald-pds is a single-account AT Protocol Personal Data Server.
//
// It reads configuration from pds.json, opens the configured store
// (PostgreSQL, or in-memory when none is configured), loads or creates
// the signing keypair, performs the genesis commit on first boot, and
// starts the XRPC server together with the relay poller and the
// content syncer.
//
// Usage:
//
//	./herald-pds --config pds.json
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/openherald/herald-pds/internal/auth"
	"github.com/openherald/herald-pds/internal/blob"
	"github.com/openherald/herald-pds/internal/config"
	"github.com/openherald/herald-pds/internal/content"
	"github.com/openherald/herald-pds/internal/dispatch"
	"github.com/openherald/herald-pds/internal/events"
	"github.com/openherald/herald-pds/internal/identity"
	"github.com/openherald/herald-pds/internal/keys"
	"github.com/openherald/herald-pds/internal/relay"
	"github.com/openherald/herald-pds/internal/repo"
	"github.com/openherald/herald-pds/internal/server"
	"github.com/openherald/herald-pds/internal/storage"
	"github.com/openherald/herald-pds/internal/storage/postgres"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cmd := &cli.Command{
		Name:  "herald-pds",
		Usage: "Single-account AT Protocol Personal Data Server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the pds.json configuration file",
				Value: "pds.json",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(ctx, c.String("config"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("herald-pds: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Printf("Config loaded (%s)", cfg.Redacted())

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PostgresURL != "" {
		store, err = postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		log.Println("Database connected, schema bootstrapped")
	} else {
		store = storage.NewMemory()
		log.Println("Using in-memory store; nothing will survive a restart")
	}
	defer store.Close()

	signer, err := keys.Open(cfg.DataDir)
	if err != nil {
		return err
	}

	did := cfg.DID()
	r, err := repo.Open(ctx, store, signer, did)
	if err != nil {
		return err
	}
	em := events.NewManager(store, did)
	r.SetEmitter(em)
	defer em.Shutdown()

	id, err := identity.New(did, cfg.Handle, signer.PublicMultibase(), cfg.Origin(), em)
	if err != nil {
		return err
	}
	log.Printf("Repository open as %s (@%s)", did, cfg.Handle)

	cm := content.NewMemory()
	dispatcher := dispatch.New(did, cm, content.NewStoreFollowers(store), cm)

	poller := relay.NewPoller(store, dispatcher,
		&relay.Resolver{Insecure: cfg.Insecure}, &relay.Client{},
		cfg.PollDuration(), cfg.PollWorkers)
	go poller.Run(ctx)

	syncer := content.NewSyncer(r, cm, 0)
	go syncer.Run(ctx)

	var jwt *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwt = auth.NewJWTManager(cfg.JWTSecret, cfg.Origin())
	}
	authn, err := auth.New(cfg.AccessToken, jwt, cfg.AdminSecret)
	if err != nil {
		return err
	}

	srv := server.New(cfg, r, blob.NewStore(store, cfg.MaxBlobSize), em, id, dispatcher, store, authn)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Println("herald-pds stopped")
	return nil
}
