package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"orgregistry/internal/access"
	"orgregistry/internal/catalog"
	"orgregistry/internal/indexer"
	"orgregistry/internal/platform/config"
	"orgregistry/internal/platform/httpserver"
	"orgregistry/internal/platform/httputil"
	"orgregistry/internal/registryclient"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperledger/fabric/common/flogging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raulk/clock"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var logger = flogging.MustGetLogger("orgregistry.cmd.indexer")

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "index registry events and issue download tokens to verified members",
		Commands: []*cli.Command{
			runCmd,
		},
	}
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the event indexer and the query and access APIs",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the YAML configuration file",
			EnvVars: []string{config.EnvPrefix + "CONFIG"},
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.LoadIndexer(cctx.String("config"))
		if err != nil {
			return err
		}
		if err := config.ActivateLogging(cfg.LogSpec); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client, err := registryclient.Connect(cfg.Fabric)
		if err != nil {
			return err
		}
		defer client.Close()

		store, files, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		defer files.Close()

		var source access.VerificationSource = store
		if cfg.Access.Source == "ledger" {
			source = access.NewCachedSource(client, cfg.Access.CacheTTL, cfg.Access.MaxVerificationAge, clock.New())
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		ix := indexer.New(client, store, indexer.NewMetrics(reg))
		tokens := access.NewService(source, files, cfg.Access.SigningKey, cfg.Access.Issuer,
			cfg.Access.TokenTTL, cfg.Access.MaxVerificationAge, access.NewMetrics(reg))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		indexer.NewHandler(store).Register(r)
		catalog.NewHandler(files, client).Register(r)
		access.NewHandler(tokens).Register(r)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return ix.Run(ctx) })
		g.Go(func() error { return httpserver.Serve(ctx, httpserver.New(cfg.Addr, r)) })

		logger.Infof("indexing channel %s chaincode %s into the %s store; access source %s",
			cfg.Fabric.Channel, cfg.Fabric.Chaincode, cfg.Store, cfg.Access.Source)
		return g.Wait()
	},
}

// openStores opens the event read model and the file catalog on the same backend.
func openStores(ctx context.Context, cfg *config.Indexer) (indexer.Store, catalog.Store, error) {
	if cfg.Store == "memory" {
		logger.Warning("using the in-memory store; the index is rebuilt only from events received after start and the catalog is lost on restart")
		return indexer.NewMemoryStore(), catalog.NewMemoryStore(), nil
	}
	client, err := indexer.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return indexer.NewRedisStore(client, cfg.Redis.KeyPrefix), catalog.NewRedisStore(client, cfg.Redis.KeyPrefix), nil
}
