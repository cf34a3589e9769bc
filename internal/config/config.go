// Package config defines the run configuration for a consensus node:
// population and committee sizing, bind address and peer table, and the
// bootstrap Instruction fields of spec.md §6.
//
// The Config/DefaultConfig/ValidateConfig shape, including the
// validate-then-normalize split and the "peer addr must have host:port"
// rule, is grounded on the teacher's node.Config
// (_examples' node/config.go), generalised from a P2P client's
// network/data-dir/peers fields to a committee-sized consensus run.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// InstructionKind enumerates the bootstrap Instruction kinds of spec.md §6.
type InstructionKind string

const (
	InstructionBootstrapOnly      InstructionKind = "bootstrap-only"
	InstructionTx                 InstructionKind = "tx"
	InstructionTxValidate         InstructionKind = "tx-validate"
	InstructionTxRandom           InstructionKind = "tx-random"
	InstructionTxRandomValidate   InstructionKind = "tx-random-validate"
)

var allowedInstructionKinds = map[InstructionKind]struct{}{
	InstructionBootstrapOnly:    {},
	InstructionTx:               {},
	InstructionTxValidate:       {},
	InstructionTxRandom:         {},
	InstructionTxRandomValidate: {},
}

// Instruction is the bootstrap directive a node receives from discovery
// (spec.md §6).
type Instruction struct {
	Delay int             `json:"delay"`
	Kind  InstructionKind `json:"kind"`
	Param string          `json:"param"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Config is one node's run configuration.
type Config struct {
	BindAddr       string   `json:"bind_addr"`
	DataDir        string   `json:"data_dir"`
	LogLevel       string   `json:"log_level"`
	DiscoveryAddr  string   `json:"discovery_addr"`
	Peers          []string `json:"peers"`
	Population     int      `json:"population"`      // N
	CommitteeSize  int      `json:"committee_size"`   // n
	Threshold      int      `json:"threshold"`        // t
	SettleDelayMS  int      `json:"settle_delay_ms"`
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".trustchain"
	}
	return filepath.Join(home, ".trustchain")
}

func DefaultConfig() Config {
	return Config{
		BindAddr:      "0.0.0.0:19222",
		DataDir:       DefaultDataDir(),
		LogLevel:      "info",
		DiscoveryAddr: "127.0.0.1:19200",
		Peers:         nil,
		Population:    4,
		CommitteeSize: 4,
		Threshold:     1,
		SettleDelayMS: 500,
	}
}

// NormalizePeers dedupes and trims a set of raw, possibly comma-joined
// peer address tokens.
func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig enforces spec.md §6's N >= n > 3t and the ambient
// addressing/log-level constraints.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	if cfg.DiscoveryAddr != "" {
		if err := validateAddr(cfg.DiscoveryAddr); err != nil {
			return fmt.Errorf("invalid discovery_addr: %w", err)
		}
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.CommitteeSize <= 0 {
		return errors.New("committee_size must be > 0")
	}
	if cfg.Threshold < 0 {
		return errors.New("threshold must be >= 0")
	}
	if cfg.CommitteeSize <= 3*cfg.Threshold {
		return fmt.Errorf("committee_size %d must be > 3*threshold (%d)", cfg.CommitteeSize, 3*cfg.Threshold)
	}
	if cfg.Population < cfg.CommitteeSize {
		return fmt.Errorf("population %d must be >= committee_size %d", cfg.Population, cfg.CommitteeSize)
	}
	if cfg.SettleDelayMS < 0 {
		return errors.New("settle_delay_ms must be >= 0")
	}
	return nil
}

// ValidateInstruction checks a received Instruction against the fixed kind
// enumeration.
func ValidateInstruction(in Instruction) error {
	if _, ok := allowedInstructionKinds[in.Kind]; !ok {
		return fmt.Errorf("invalid instruction kind %q", in.Kind)
	}
	if in.Delay < 0 {
		return errors.New("instruction delay must be >= 0")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
