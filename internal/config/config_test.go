package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateConfigRejectsUnsafeCommitteeSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommitteeSize = 3
	cfg.Threshold = 1 // n=3 is not > 3t=3
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected committee_size <= 3*threshold to be rejected")
	}
}

func TestValidateConfigRejectsPopulationBelowCommittee(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Population = 2
	cfg.CommitteeSize = 4
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected population < committee_size to be rejected")
	}
}

func TestValidateConfigRejectsBadBindAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BindAddr = "not-an-addr"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected malformed bind_addr to be rejected")
	}
}

func TestValidateConfigRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected unknown log_level to be rejected")
	}
}

func TestNormalizePeersDedupesAndTrims(t *testing.T) {
	got := NormalizePeers(" 10.0.0.1:9000 , 10.0.0.2:9000", "10.0.0.1:9000")
	if len(got) != 2 {
		t.Fatalf("expected 2 deduped peers, got %v", got)
	}
}

func TestValidateInstructionRejectsUnknownKind(t *testing.T) {
	in := Instruction{Kind: "not-a-kind"}
	if err := ValidateInstruction(in); err == nil {
		t.Fatalf("expected unknown instruction kind to be rejected")
	}
}

func TestValidateInstructionAcceptsKnownKinds(t *testing.T) {
	for _, kind := range []InstructionKind{InstructionBootstrapOnly, InstructionTx, InstructionTxValidate, InstructionTxRandom, InstructionTxRandomValidate} {
		in := Instruction{Kind: kind, Delay: 10}
		if err := ValidateInstruction(in); err != nil {
			t.Fatalf("kind %q should validate: %v", kind, err)
		}
	}
}
