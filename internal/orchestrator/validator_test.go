package orchestrator

import (
	"path/filepath"
	"testing"

	"OpenAgora/internal/catalog"
)

// 种子智能体的能力标签必须命中内置校验器，
// 否则对种子卖方的任务会绕过能力专属校验。
func TestSeedCapabilitiesResolveToValidators(t *testing.T) {
	defs, err := catalog.LoadSeedDefinitions(filepath.Join("..", "..", "configs", "agents.yaml"))
	if err != nil {
		t.Fatalf("load seed definitions: %v", err)
	}
	if len(defs.Agents) == 0 {
		t.Fatal("seed file must define at least one agent")
	}

	validators := DefaultValidators()
	for _, seed := range defs.Agents {
		if _, ok := validators[seed.Capability]; !ok {
			t.Fatalf("seed agent %s: capability %q has no validator", seed.Name, seed.Capability)
		}
	}
}

func TestSummaryValidator(t *testing.T) {
	validate := SummaryValidator(10)
	if err := validate("一段足够长的摘要文本内容"); err != nil {
		t.Fatalf("valid summary rejected: %v", err)
	}
	if err := validate(""); err == nil {
		t.Fatal("empty summary must fail validation")
	}
	if err := validate("太短"); err == nil {
		t.Fatal("short summary must fail validation")
	}
}

func TestChartValidator(t *testing.T) {
	validate := ChartValidator(20)
	if err := validate("aVZCT1J3MEtHZ29BQUFBTlNVaEVVZ0FBQUFFPQ=="); err != nil {
		t.Fatalf("valid chart payload rejected: %v", err)
	}
	if err := validate(""); err == nil {
		t.Fatal("empty chart payload must fail validation")
	}
	if err := validate("not base64 at all, contains spaces"); err == nil {
		t.Fatal("non-base64 payload must fail validation")
	}
}
