package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orgregistry/attest"
	"orgregistry/internal/circuit"
	"orgregistry/internal/platform/config"
	"orgregistry/internal/platform/httpserver"
	"orgregistry/internal/verifier"

	"github.com/hyperledger/fabric/common/flogging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var logger = flogging.MustGetLogger("orgregistry.cmd.verifier")

func main() {
	app := &cli.App{
		Name:  "verifier",
		Usage: "verify membership proofs and sign attestations for the registry chaincode",
		Commands: []*cli.Command{
			runCmd,
			setupCmd,
			keygenCmd,
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
	Usage: "Start the attestation API",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to the YAML configuration file",
			EnvVars: []string{config.EnvPrefix + "CONFIG"},
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := config.LoadVerifier(cctx.String("config"))
		if err != nil {
			return err
		}
		if err := config.ActivateLogging(cfg.LogSpec); err != nil {
			return err
		}

		vk, err := circuit.LoadVerifyingKey(cfg.VerifyingKeyPath)
		if err != nil {
			return fmt.Errorf("load verifying key: %w", err)
		}
		raw, err := os.ReadFile(cfg.SigningKeyPath)
		if err != nil {
			return fmt.Errorf("read signing key: %w", err)
		}
		signer, err := attest.ParsePrivateKeyPEM(raw)
		if err != nil {
			return fmt.Errorf("load signing key: %w", err)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		svc, err := verifier.New(cfg.VerifierID, vk, signer, cfg.Workers, cfg.CacheSize, verifier.NewMetrics(reg))
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := httpserver.New(cfg.Addr, verifier.NewRouter(verifier.NewHandler(svc), reg))
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return httpserver.Serve(ctx, srv) })

		logger.Infof("verifier %s ready", cfg.VerifierID)
		return g.Wait()
	},
}

var setupFlags struct {
	depth     int
	ccs       string
	pk        string
	vk        string
	overwrite bool
}

var setupCmd = &cli.Command{
	Name:  "setup",
	Usage: "Compile the membership circuit and run a single-party Groth16 setup (development only)",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:        "depth",
			Usage:       "Merkle tree depth",
			Value:       circuit.DefaultDepth,
			Destination: &setupFlags.depth,
		},
		&cli.StringFlag{
			Name:        "ccs",
			Usage:       "output path of the constraint system",
			Value:       "membership.ccs",
			Destination: &setupFlags.ccs,
		},
		&cli.StringFlag{
			Name:        "proving-key",
			Usage:       "output path of the proving key",
			Value:       "membership.pk",
			Destination: &setupFlags.pk,
		},
		&cli.StringFlag{
			Name:        "verifying-key",
			Usage:       "output path of the verifying key",
			Value:       "membership.vk",
			Destination: &setupFlags.vk,
		},
		&cli.BoolFlag{
			Name:        "overwrite",
			Usage:       "replace existing key files",
			Destination: &setupFlags.overwrite,
		},
	},
	Action: func(cctx *cli.Context) error {
		files := circuit.KeyFiles{ConstraintSystem: setupFlags.ccs, ProvingKey: setupFlags.pk, VerifyingKey: setupFlags.vk}
		if !setupFlags.overwrite {
			for _, p := range []string{files.ConstraintSystem, files.ProvingKey, files.VerifyingKey} {
				if _, err := os.Stat(p); err == nil {
					return fmt.Errorf("%s exists, pass --overwrite to replace it", p)
				}
			}
		}
		keys, err := circuit.Setup(setupFlags.depth)
		if err != nil {
			return err
		}
		if err := keys.Save(files); err != nil {
			return err
		}
		logger.Infof("wrote depth-%d circuit with %d constraints", setupFlags.depth, keys.CCS.GetNbConstraints())
		return nil
	},
}

var keygenCmd = &cli.Command{
	Name:      "keygen",
	Usage:     "Generate an ECDSA P-256 attestation key; the public half goes to RegisterVerifierKey",
	ArgsUsage: "<private-key-out> <public-key-out>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return cli.Exit("usage: verifier keygen <private-key-out> <public-key-out>", 2)
		}
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return err
		}
		priv, err := attest.MarshalPrivateKeyPEM(key)
		if err != nil {
			return err
		}
		pub, err := attest.MarshalPublicKeyPEM(&key.PublicKey)
		if err != nil {
			return err
		}
		if err := os.WriteFile(cctx.Args().Get(0), priv, 0o600); err != nil {
			return err
		}
		return os.WriteFile(cctx.Args().Get(1), []byte(pub), 0o644)
	},
}
