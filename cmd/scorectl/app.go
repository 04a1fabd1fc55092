package main

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	urfave "github.com/urfave/cli/v2"

	"github.com/nikhlu07/Credo/internal/domain/authorizer"
	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/internal/domain/sigverify"
	"github.com/nikhlu07/Credo/internal/signer"
	"github.com/nikhlu07/Credo/pkg/logger"
)

const (
	defaultNode  = "http://localhost:9080"
	defaultChunk = 50
)

var (
	nodeFlag = &urfave.StringFlag{
		Name:    "node",
		Usage:   "Base URL of the credo node",
		Value:   defaultNode,
		EnvVars: []string{"SCORECTL_NODE"},
	}

	schemeFlag = &urfave.StringFlag{
		Name:  "scheme",
		Usage: "Signature scheme [secp256k1, bls]",
		Value: sigverify.SchemeSecp256k1,
	}

	keyFlag = &urfave.StringFlag{
		Name:     "key",
		Usage:    "Hex private key (secp256k1) or seed (bls)",
		EnvVars:  []string{"SCORECTL_KEY"},
		Required: true,
	}

	ttlFlag = &urfave.DurationFlag{
		Name:  "ttl",
		Usage: "How long the signature stays valid",
		Value: signer.DefaultTTL,
	}

	subjectFlag = &urfave.StringFlag{
		Name:     "subject",
		Usage:    "Subject address",
		Required: true,
	}

	scoreFlag = &urfave.Uint64Flag{
		Name:     "score",
		Usage:    "Score in [0, 1000]",
		Required: true,
	}

	versionFlag = &urfave.Uint64Flag{
		Name:  "version",
		Usage: "Scoring model version",
		Value: 1,
	}

	nonceFlag = &urfave.Uint64Flag{
		Name:  "nonce",
		Usage: "Nonce to sign over",
	}

	deadlineFlag = &urfave.Uint64Flag{
		Name:  "deadline",
		Usage: "Deadline as unix seconds (default: now + ttl)",
	}

	entriesFlag = &urfave.StringFlag{
		Name:     "entries",
		Usage:    "Comma separated subject:score pairs",
		Required: true,
	}

	chunkFlag = &urfave.IntFlag{
		Name:  "chunk",
		Usage: "Entries per batch (max 100)",
		Value: defaultChunk,
	}

	addressFlag = &urfave.StringFlag{
		Name:     "address",
		Usage:    "Subject or signer address",
		Required: true,
	}
)

func newApp() *urfave.App {
	return &urfave.App{
		Name:            "scorectl",
		Usage:           "Sign score updates and relay them to a credo node",
		HideHelpCommand: true,
		Commands: []*urfave.Command{
			{
				Name:   "keygen",
				Usage:  "Generate a signing key",
				Flags:  []urfave.Flag{schemeFlag},
				Action: cmdKeygen,
			},
			{
				Name:   "hash",
				Usage:  "Print the digest and signing hash of a single update",
				Flags:  []urfave.Flag{subjectFlag, scoreFlag, versionFlag, nonceFlag, deadlineFlag, ttlFlag},
				Action: cmdHash,
			},
			{
				Name:   "sign",
				Usage:  "Print a signed submission body without sending it",
				Flags:  []urfave.Flag{schemeFlag, keyFlag, subjectFlag, scoreFlag, versionFlag, nonceFlag, ttlFlag},
				Action: cmdSign,
			},
			{
				Name:   "submit",
				Usage:  "Sign and relay a single update using the node's current nonce",
				Flags:  []urfave.Flag{nodeFlag, schemeFlag, keyFlag, subjectFlag, scoreFlag, versionFlag, ttlFlag},
				Action: cmdSubmit,
			},
			{
				Name:   "submit-batch",
				Usage:  "Sign and relay entries as one or more batches",
				Flags:  []urfave.Flag{nodeFlag, schemeFlag, keyFlag, entriesFlag, versionFlag, chunkFlag, ttlFlag},
				Action: cmdSubmitBatch,
			},
			{
				Name:   "nonce",
				Usage:  "Print the nonce the node expects for an address",
				Flags:  []urfave.Flag{nodeFlag, addressFlag},
				Action: cmdNonce,
			},
			{
				Name:  "load",
				Usage: "Score random subjects concurrently and verify the leaderboard",
				Flags: []urfave.Flag{
					nodeFlag, schemeFlag, keyFlag, versionFlag, ttlFlag,
					&urfave.IntFlag{Name: "subjects", Usage: "Number of random subjects", Value: 1000},
					&urfave.IntFlag{Name: "workers", Usage: "Concurrent submissions", Value: 16},
					&urfave.IntFlag{Name: "top", Usage: "Leaderboard depth to verify", Value: 10},
					&urfave.DurationFlag{Name: "settle", Usage: "Time allowed for the ranking to catch up", Value: 10 * time.Second},
				},
				Action: cmdLoad,
			},
		},
	}
}

func printJSON(c *urfave.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func builderFrom(c *urfave.Context) (*signer.Builder, error) {
	key, err := signer.LoadKey(c.String(schemeFlag.Name), c.String(keyFlag.Name))
	if err != nil {
		return nil, err
	}
	return signer.NewBuilder(key, signer.WithTTL(c.Duration(ttlFlag.Name))), nil
}

func relayFrom(c *urfave.Context) (*signer.Relay, error) {
	b, err := builderFrom(c)
	if err != nil {
		return nil, err
	}
	log := logger.Get().Named("scorectl")
	return signer.NewRelay(signer.NewClient(c.String(nodeFlag.Name)), b, log), nil
}

// parseEntries reads "0xabc:700,0xdef:120".
func parseEntries(s string) ([]common.Address, []uint64, error) {
	var subjects []common.Address
	var scores []uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		addr, score, ok := strings.Cut(part, ":")
		if !ok {
			return nil, nil, fmt.Errorf("entry %q is not subject:score", part)
		}
		subject, err := parseAddress(addr)
		if err != nil {
			return nil, nil, err
		}
		v, err := strconv.ParseUint(score, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("entry %q: %w", part, err)
		}
		subjects = append(subjects, subject)
		scores = append(scores, v)
	}
	if len(subjects) == 0 {
		return nil, nil, fmt.Errorf("no entries")
	}
	return subjects, scores, nil
}

func cmdKeygen(c *urfave.Context) error {
	switch c.String(schemeFlag.Name) {
	case sigverify.SchemeSecp256k1:
		k, err := sigverify.GenerateSecp256k1()
		if err != nil {
			return err
		}
		return printJSON(c, map[string]string{"scheme": k.Scheme(), "address": k.Address().Hex(), "key": k.PrivateKeyHex()})
	case sigverify.SchemeBLS:
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return err
		}
		k, err := sigverify.BLSFromSeed(seed)
		if err != nil {
			return err
		}
		return printJSON(c, map[string]string{
			"scheme":     k.Scheme(),
			"address":    k.Address().Hex(),
			"key":        "0x" + common.Bytes2Hex(seed),
			"public_key": "0x" + common.Bytes2Hex(k.PublicKey()),
		})
	default:
		return fmt.Errorf("unknown scheme %q", c.String(schemeFlag.Name))
	}
}

func updateFrom(c *urfave.Context) (model.ScoreUpdate, error) {
	subject, err := parseAddress(c.String(subjectFlag.Name))
	if err != nil {
		return model.ScoreUpdate{}, err
	}
	deadline := c.Uint64(deadlineFlag.Name)
	if deadline == 0 {
		deadline = uint64(time.Now().Add(c.Duration(ttlFlag.Name)).Unix())
	}
	return model.ScoreUpdate{
		Subject:  subject,
		Score:    c.Uint64(scoreFlag.Name),
		Version:  c.Uint64(versionFlag.Name),
		Nonce:    c.Uint64(nonceFlag.Name),
		Deadline: deadline,
	}, nil
}

func cmdHash(c *urfave.Context) error {
	u, err := updateFrom(c)
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{
		"update": u,
		"digest": authorizer.ScoreUpdateDigest(u),
		"hash":   authorizer.ScoreUpdateHash(u),
	})
}

func cmdSign(c *urfave.Context) error {
	b, err := builderFrom(c)
	if err != nil {
		return err
	}
	subject, err := parseAddress(c.String(subjectFlag.Name))
	if err != nil {
		return err
	}
	req, err := b.Update(subject, c.Uint64(scoreFlag.Name), c.Uint64(versionFlag.Name), c.Uint64(nonceFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(c, req)
}

func cmdSubmit(c *urfave.Context) error {
	r, err := relayFrom(c)
	if err != nil {
		return err
	}
	subject, err := parseAddress(c.String(subjectFlag.Name))
	if err != nil {
		return err
	}
	resp, err := r.Update(c.Context, subject, c.Uint64(scoreFlag.Name), c.Uint64(versionFlag.Name))
	if err != nil {
		return err
	}
	return printJSON(c, resp)
}

func cmdSubmitBatch(c *urfave.Context) error {
	r, err := relayFrom(c)
	if err != nil {
		return err
	}
	subjects, scores, err := parseEntries(c.String(entriesFlag.Name))
	if err != nil {
		return err
	}
	out, err := r.Batches(c.Context, subjects, scores, c.Uint64(versionFlag.Name), c.Int(chunkFlag.Name))
	if perr := printJSON(c, out); perr != nil && err == nil {
		err = perr
	}
	return err
}

func cmdNonce(c *urfave.Context) error {
	addr, err := parseAddress(c.String(addressFlag.Name))
	if err != nil {
		return err
	}
	n, err := signer.NewClient(c.String(nodeFlag.Name)).Nonce(c.Context, addr)
	if err != nil {
		return err
	}
	return printJSON(c, map[string]any{"address": addr, "nonce": n})
}

func cmdLoad(c *urfave.Context) error {
	r, err := relayFrom(c)
	if err != nil {
		return err
	}
	stats, err := r.Load(c.Context, signer.LoadConfig{
		Subjects: c.Int("subjects"),
		Workers:  c.Int("workers"),
		Version:  c.Uint64(versionFlag.Name),
		TopN:     c.Int("top"),
		Settle:   c.Duration("settle"),
	})
	if err != nil {
		return err
	}
	if err := printJSON(c, map[string]any{
		"submitted": stats.Submitted,
		"accepted":  stats.Accepted,
		"rejected":  stats.Rejected,
		"failed":    stats.Failed,
		"duration":  stats.Duration.String(),
		"verified":  stats.Verified,
	}); err != nil {
		return err
	}
	if !stats.Verified {
		return fmt.Errorf("leaderboard did not match submitted scores")
	}
	return nil
}
