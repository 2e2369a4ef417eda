package config

import (
	"os"
	"path/filepath"
	"testing"

	"creditchain/native/withdrawals"
)

func TestLoadWithdrawalsDefaultsWhenMissing(t *testing.T) {
	params, err := LoadWithdrawals(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if params != withdrawals.DefaultParams() {
		t.Fatalf("expected defaults, got %+v", params)
	}
}

func TestLoadWithdrawalsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "withdrawals.toml")
	contents := `
[Withdrawals]
QuotaBps = 500
WindowBlocks = 28800
MaxPooledPerBlock = 8
MaxRetryPerBlock = 1
Denom = "ucredit"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	params, err := LoadWithdrawals(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if params.QuotaBps != 500 || params.WindowBlocks != 28800 || params.MaxPooledPerBlock != 8 {
		t.Fatalf("overrides not applied: %+v", params)
	}
	if params.MaxRetryPerBlock != 1 || params.Denom != "UCREDIT" {
		t.Fatalf("unexpected retry/denom: %+v", params)
	}
	if params.MaxBroadcastPerBlock != withdrawals.DefaultParams().MaxBroadcastPerBlock {
		t.Fatalf("unset key should keep default: %+v", params)
	}
}

func TestLoadWithdrawalsRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "withdrawals.toml")
	if err := os.WriteFile(path, []byte("[Withdrawals]\nQuotaBps = 12000\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadWithdrawals(path); err == nil {
		t.Fatalf("expected quota above 100%% to be rejected")
	}

	if err := os.WriteFile(path, []byte("[Withdrawals]\nWindowBlocks = 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadWithdrawals(path); err == nil {
		t.Fatalf("expected zero window to be rejected")
	}

	if err := os.WriteFile(path, []byte("[Withdrawals]\nQuotaPercent = 10\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadWithdrawals(path); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestParseWithdrawals(t *testing.T) {
	params, err := ParseWithdrawals("[Withdrawals]\nQuotaFloor = 100\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.QuotaFloor != 100 {
		t.Fatalf("unexpected floor: %d", params.QuotaFloor)
	}
}
