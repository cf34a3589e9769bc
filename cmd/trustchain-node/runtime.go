package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustchain.dev/trustchain/core/chain"
	"trustchain.dev/trustchain/internal/chainstore"
	"trustchain.dev/trustchain/internal/config"
	"trustchain.dev/trustchain/internal/discovery"
	"trustchain.dev/trustchain/internal/telemetry"
	"trustchain.dev/trustchain/internal/xcrypto"
)

// identityFile is the on-disk JSON shape written by keygen and read by run,
// mirroring the teacher's flat-JSON-struct convention (node/config.go).
type identityFile struct {
	VK string `json:"vk"`
	SK string `json:"sk"`
}

func keyfilePath(datadir string) string {
	return datadir + "/identity.json"
}

// keygenCmd generates a fresh Ed25519 identity and writes it to
// <datadir>/identity.json, printing the node's vk (base64, spec.md §6's
// "own vk (base64)" exposure).
func keygenCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", config.DefaultDataDir(), "node data directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := os.MkdirAll(*datadir, 0o750); err != nil {
		fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	vk, sk, err := xcrypto.GenerateKeypair()
	if err != nil {
		fmt.Fprintf(stderr, "keygen failed: %v\n", err)
		return 2
	}
	idf := identityFile{
		VK: base64.StdEncoding.EncodeToString(vk[:]),
		SK: base64.StdEncoding.EncodeToString(sk[:]),
	}
	raw, err := json.MarshalIndent(idf, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "encode identity failed: %v\n", err)
		return 2
	}
	if err := os.WriteFile(keyfilePath(*datadir), raw, 0o600); err != nil {
		fmt.Fprintf(stderr, "write identity failed: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "vk: %s\n", idf.VK)
	return 0
}

func loadIdentity(datadir string) (xcrypto.VK, xcrypto.SK, error) {
	raw, err := os.ReadFile(keyfilePath(datadir))
	if err != nil {
		return xcrypto.VK{}, xcrypto.SK{}, fmt.Errorf("read identity: %w", err)
	}
	var idf identityFile
	if err := json.Unmarshal(raw, &idf); err != nil {
		return xcrypto.VK{}, xcrypto.SK{}, fmt.Errorf("decode identity: %w", err)
	}
	vkBytes, err := base64.StdEncoding.DecodeString(idf.VK)
	if err != nil || len(vkBytes) != len(xcrypto.VK{}) {
		return xcrypto.VK{}, xcrypto.SK{}, fmt.Errorf("bad vk in identity file")
	}
	skBytes, err := base64.StdEncoding.DecodeString(idf.SK)
	if err != nil || len(skBytes) != len(xcrypto.SK{}) {
		return xcrypto.VK{}, xcrypto.SK{}, fmt.Errorf("bad sk in identity file")
	}
	var vk xcrypto.VK
	var sk xcrypto.SK
	copy(vk[:], vkBytes)
	copy(sk[:], skBytes)
	return vk, sk, nil
}

// inspectChainCmd prints one node's durable chain, seq by seq.
func inspectChainCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect-chain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	datadir := fs.String("datadir", config.DefaultDataDir(), "node data directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	vk, _, err := loadIdentity(*datadir)
	if err != nil {
		fmt.Fprintf(stderr, "load identity failed: %v\n", err)
		return 2
	}
	db, err := chainstore.Open(*datadir, vk)
	if err != nil {
		fmt.Fprintf(stderr, "open chainstore failed: %v\n", err)
		return 2
	}
	defer db.Close()

	restored, err := db.RestoreChain()
	if err != nil {
		fmt.Fprintf(stderr, "restore chain failed: %v\n", err)
		return 2
	}
	for i := 0; i < restored.Len(); i++ {
		b, _ := restored.At(i)
		kind := "tx"
		if b.IsCP() {
			kind = "cp"
		}
		h := b.CompactHash()
		fmt.Fprintf(stdout, "seq=%d kind=%s hash=%x\n", b.BlockSeq(), kind, h[:8])
	}
	return 0
}

// runCmd starts a node: load or generate identity, open durable storage,
// optionally register with discovery, and idle until a shutdown signal —
// mirroring the teacher's own cmd/rubin-node/main.go skeleton, which wires
// its runtime objects, prints status, and waits on ctx.Done() rather than
// running a full production server loop inline in main.
func runCmd(args []string, stdout, stderr io.Writer) int {
	defaults := config.DefaultConfig()
	cfg := defaults
	var peerFlags multiStringFlag

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "bind", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&cfg.DiscoveryAddr, "discovery", defaults.DiscoveryAddr, "discovery service address")
	fs.IntVar(&cfg.Population, "population", defaults.Population, "population size N")
	fs.IntVar(&cfg.CommitteeSize, "committee-size", defaults.CommitteeSize, "committee size n")
	fs.IntVar(&cfg.Threshold, "threshold", defaults.Threshold, "byzantine threshold t")
	fs.Var(&peerFlags, "peer", "static bootstrap peer host:port (repeatable, used if -discovery is empty)")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg.Peers = config.NormalizePeers(append([]string(nil), peerFlags...)...)

	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	vk, sk, err := loadIdentity(cfg.DataDir)
	if err != nil {
		vk, sk, err = xcrypto.GenerateKeypair()
		if err != nil {
			fmt.Fprintf(stderr, "generate identity failed: %v\n", err)
			return 2
		}
		idf := identityFile{VK: base64.StdEncoding.EncodeToString(vk[:]), SK: base64.StdEncoding.EncodeToString(sk[:])}
		raw, _ := json.MarshalIndent(idf, "", "  ")
		if err := os.WriteFile(keyfilePath(cfg.DataDir), raw, 0o600); err != nil {
			fmt.Fprintf(stderr, "persist identity failed: %v\n", err)
			return 2
		}
	}

	level, err := telemetry.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "invalid log level: %v\n", err)
		return 2
	}
	logger := telemetry.New(stdout, level, discovery.EncodeVK(vk))
	meter := telemetry.NewCostMeter()

	db, err := chainstore.Open(cfg.DataDir, vk)
	if err != nil {
		fmt.Fprintf(stderr, "open chainstore failed: %v\n", err)
		return 2
	}
	defer db.Close()

	restored, err := db.RestoreChain()
	var tc *chain.TrustChain
	if err != nil {
		tc = chain.NewTrustChain(vk, sk)
		genesis, _ := tc.Chain.At(0)
		if saveErr := db.SaveBlock(genesis); saveErr != nil {
			fmt.Fprintf(stderr, "persist genesis failed: %v\n", saveErr)
			return 2
		}
		logger.Info("no durable chain found, seeded fresh genesis")
	} else {
		tc = chain.NewTrustChainFromChain(vk, sk, restored)
		logger.Info("restored durable chain: len=%d", restored.Len())
	}

	logger.Info("identity: vk=%s", discovery.EncodeVK(vk))

	if cfg.DiscoveryAddr != "" {
		peers, instr, err := discovery.Dial(cfg.DiscoveryAddr, vk, cfg.BindAddr, cfg, 5*time.Second)
		if err != nil {
			logger.Warn("discovery dial failed, continuing with static peers: %v", err)
		} else {
			logger.Info("discovery: received %d peers, instruction kind=%s delay=%d", len(peers), instr.Kind, instr.Delay)
		}
	}

	if *dryRun {
		raw, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Fprintln(stdout, string(raw))
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("trustchain-node running: bind=%s committee_size=%d threshold=%d chain_len=%d", cfg.BindAddr, cfg.CommitteeSize, cfg.Threshold, tc.Chain.Len())
	_ = meter // reserved for the per-round snapshot a running round driver would log
	<-ctx.Done()
	logger.Info("trustchain-node stopped")
	return 0
}

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	out := ""
	for i, s := range *m {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
