package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"orgregistry/attest"
	"orgregistry/internal/circuit"
	"orgregistry/internal/platform/config"
	"orgregistry/internal/registryclient"
	"orgregistry/internal/verifier"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "orgctl",
		Usage: "manage identities, organizations and membership proofs in the registry",
		Flags: fabricFlags,
		Commands: []*cli.Command{
			bootstrapCmd,
			verifierKeyCmd,
			identityCmd,
			orgCmd,
			proveCmd,
		},
	}
	app.Setup()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

var fabricCfg config.Fabric

var fabricFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "connection-profile",
		Usage:       "Fabric gateway connection profile",
		EnvVars:     []string{config.EnvPrefix + "FABRIC_CONNECTION_PROFILE"},
		Destination: &fabricCfg.ConnectionProfile,
	},
	&cli.StringFlag{
		Name:        "wallet",
		Usage:       "file system wallet directory",
		Value:       "wallet",
		EnvVars:     []string{config.EnvPrefix + "FABRIC_WALLET"},
		Destination: &fabricCfg.WalletPath,
	},
	&cli.StringFlag{
		Name:        "identity",
		Usage:       "wallet label of the identity to transact as",
		Value:       "appUser",
		EnvVars:     []string{config.EnvPrefix + "FABRIC_IDENTITY"},
		Destination: &fabricCfg.Identity,
	},
	&cli.StringFlag{
		Name:        "channel",
		Value:       "mychannel",
		EnvVars:     []string{config.EnvPrefix + "FABRIC_CHANNEL"},
		Destination: &fabricCfg.Channel,
	},
	&cli.StringFlag{
		Name:        "chaincode",
		Value:       "orgregistry",
		EnvVars:     []string{config.EnvPrefix + "FABRIC_CHAINCODE"},
		Destination: &fabricCfg.Chaincode,
	},
}

func connect() (*registryclient.Client, error) {
	if fabricCfg.ConnectionProfile == "" {
		return nil, cli.Exit("--connection-profile is required", 2)
	}
	return registryclient.Connect(fabricCfg)
}

// toUint32 rejects flag values that do not fit a ledger id instead of letting them wrap.
func toUint32(name string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, cli.Exit(fmt.Sprintf("--%s must be at most %d", name, uint32(math.MaxUint32)), 2)
	}
	return uint32(v), nil
}

func uint32Flag(cctx *cli.Context, name string) (uint32, error) {
	return toUint32(name, cctx.Uint(name))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var bootstrapCmd = &cli.Command{
	Name:  "bootstrap",
	Usage: "Become the first registry administrator",
	Action: func(cctx *cli.Context) error {
		client, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()
		return client.BootstrapRegistry()
	},
}

var verifierKeyCmd = &cli.Command{
	Name:  "verifier-key",
	Usage: "Manage the verifier keys whose attestations the registry accepts",
	Subcommands: []*cli.Command{
		{
			Name:      "register",
			ArgsUsage: "<verifier-id> <public-key.pem>",
			Action: func(cctx *cli.Context) error {
				if cctx.NArg() != 2 {
					return cli.Exit("usage: orgctl verifier-key register <verifier-id> <public-key.pem>", 2)
				}
				pem, err := os.ReadFile(cctx.Args().Get(1))
				if err != nil {
					return err
				}
				if _, err := attest.ParsePublicKeyPEM(string(pem)); err != nil {
					return err
				}
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				return client.RegisterVerifierKey(cctx.Args().Get(0), string(pem))
			},
		},
		{
			Name:      "revoke",
			ArgsUsage: "<verifier-id>",
			Action: func(cctx *cli.Context) error {
				if cctx.NArg() != 1 {
					return cli.Exit("usage: orgctl verifier-key revoke <verifier-id>", 2)
				}
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				return client.RevokeVerifierKey(cctx.Args().First())
			},
		},
	},
}

var principalFlag = &cli.StringFlag{
	Name:     "principal",
	Usage:    "client identity ID as the chaincode sees it",
	Required: true,
}

var secretFlag = &cli.StringFlag{
	Name:     "secret",
	Usage:    "32-byte hex identity secret; keep it private",
	EnvVars:  []string{config.EnvPrefix + "IDENTITY_SECRET"},
	Required: true,
}

var identityCmd = &cli.Command{
	Name:  "identity",
	Usage: "Register and inspect identity commitments",
	Subcommands: []*cli.Command{
		{
			Name:  "register",
			Usage: "Publish the commitment of --secret for --principal (must be the transacting identity)",
			Flags: []cli.Flag{principalFlag, secretFlag},
			Action: func(cctx *cli.Context) error {
				secret, err := attest.ParseHash(cctx.String("secret"))
				if err != nil {
					return fmt.Errorf("--secret: %w", err)
				}
				commitment := commitmentOf(secret, cctx.String("principal"))
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				if err := client.RegisterIdentity(commitment); err != nil {
					return err
				}
				fmt.Println(commitment)
				return nil
			},
		},
		{
			Name:      "show",
			ArgsUsage: "<principal>",
			Action: func(cctx *cli.Context) error {
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				commitments, err := client.GetIdentityCommitments(cctx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(commitments)
			},
		},
	},
}

var depthFlag = &cli.IntFlag{
	Name:  "depth",
	Usage: "Merkle tree depth the circuit was compiled for",
	Value: circuit.DefaultDepth,
}

var membersFlag = &cli.StringFlag{
	Name:     "members",
	Usage:    "file listing member principals, one per line, in tree order",
	Required: true,
}

var orgCmd = &cli.Command{
	Name:  "org",
	Usage: "Create organizations and publish membership roots",
	Subcommands: []*cli.Command{
		{
			Name: "create",
			Action: func(cctx *cli.Context) error {
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				id, err := client.CreateOrg()
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			},
		},
		{
			Name:  "set-root",
			Usage: "Build the membership tree from the members' commitments and publish its root",
			Flags: []cli.Flag{
				&cli.UintFlag{Name: "org", Required: true},
				membersFlag,
				depthFlag,
			},
			Action: func(cctx *cli.Context) error {
				orgID, err := uint32Flag(cctx, "org")
				if err != nil {
					return err
				}
				members, err := readMembersFile(cctx.String("members"))
				if err != nil {
					return err
				}
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				tree, _, err := memberTree(client, members, cctx.Int("depth"))
				if err != nil {
					return err
				}
				root := rootHash(tree)
				if err := client.UpdateOrgRoot(orgID, root); err != nil {
					return err
				}
				fmt.Println(root)
				return nil
			},
		},
		{
			Name:  "show",
			Flags: []cli.Flag{&cli.UintFlag{Name: "org", Required: true}},
			Action: func(cctx *cli.Context) error {
				orgID, err := uint32Flag(cctx, "org")
				if err != nil {
					return err
				}
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				org, err := client.GetOrganization(orgID)
				if err != nil {
					return err
				}
				return printJSON(org)
			},
		},
		{
			Name: "list",
			Flags: []cli.Flag{
				&cli.UintFlag{Name: "offset"},
				&cli.UintFlag{Name: "limit", Value: 20},
			},
			Action: func(cctx *cli.Context) error {
				offset, err := uint32Flag(cctx, "offset")
				if err != nil {
					return err
				}
				limit, err := uint32Flag(cctx, "limit")
				if err != nil {
					return err
				}
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				page, err := client.ListOrganizations(offset, limit)
				if err != nil {
					return err
				}
				return printJSON(page)
			},
		},
		{
			Name:      "memberships",
			Usage:     "List the organizations a principal has proven membership of",
			ArgsUsage: "<principal>",
			Action: func(cctx *cli.Context) error {
				client, err := connect()
				if err != nil {
					return err
				}
				defer client.Close()
				orgs, err := client.GetUserOrgs(cctx.Args().First())
				if err != nil {
					return err
				}
				return printJSON(orgs)
			},
		},
	},
}

var proveCmd = &cli.Command{
	Name:  "prove",
	Usage: "Prove membership of --org, obtain an attestation and record it with VerifyProof",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "org", Required: true},
		&cli.UintFlag{Name: "file", Usage: "context id recorded with the verification"},
		principalFlag,
		secretFlag,
		membersFlag,
		depthFlag,
		&cli.StringFlag{Name: "ccs", Value: "membership.ccs"},
		&cli.StringFlag{Name: "proving-key", Value: "membership.pk"},
		&cli.StringFlag{Name: "verifying-key", Value: "membership.vk"},
		&cli.StringFlag{
			Name:    "verifier-url",
			Value:   "http://localhost:8081",
			EnvVars: []string{config.EnvPrefix + "VERIFIER_URL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		orgID, err := uint32Flag(cctx, "org")
		if err != nil {
			return err
		}
		fileID, err := uint32Flag(cctx, "file")
		if err != nil {
			return err
		}
		principal := cctx.String("principal")
		secret, err := attest.ParseHash(cctx.String("secret"))
		if err != nil {
			return fmt.Errorf("--secret: %w", err)
		}
		members, err := readMembersFile(cctx.String("members"))
		if err != nil {
			return err
		}

		client, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		tree, commitments, err := memberTree(client, members, cctx.Int("depth"))
		if err != nil {
			return err
		}
		index, err := leafIndex(members, commitments, principal, commitmentOf(secret, principal))
		if err != nil {
			return err
		}
		root := rootHash(tree)
		published, err := client.GetOrgRoot(orgID)
		if err != nil {
			return err
		}
		if !published.HasRoot || published.Root != root.String() {
			return fmt.Errorf("member list yields root %s but organization %d publishes %q", root, orgID, published.Root)
		}

		keys, err := circuit.LoadKeys(circuit.KeyFiles{
			ConstraintSystem: cctx.String("ccs"),
			ProvingKey:       cctx.String("proving-key"),
			VerifyingKey:     cctx.String("verifying-key"),
		})
		if err != nil {
			return err
		}
		w, err := circuit.WitnessFor(tree, index, circuit.FieldElement(secret), principalElement(principal), orgID)
		if err != nil {
			return err
		}
		proof, err := keys.Prove(w)
		if err != nil {
			return err
		}

		resp, err := verifier.NewClient(cctx.String("verifier-url"), nil).Attest(ctx, &verifier.Request{
			OrgID:         orgID,
			Principal:     principal,
			Root:          root,
			Proof:         proof.Proof,
			PublicWitness: proof.PublicWitness,
		})
		if err != nil {
			return err
		}
		if err := client.VerifyProof(orgID, fileID, resp.ProofHash, resp.PublicSignalsHash, resp.Attestation); err != nil {
			return err
		}
		return printJSON(resp)
	},
}
