package events

import (
	"math/big"
	"testing"
)

func TestTokenSupplyEvent(t *testing.T) {
	evt := SupplyChange("credit", 12, big.NewInt(5000), big.NewInt(250)).Event()
	if evt.Type != TypeTokenSupply {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["token"] != "CREDIT" {
		t.Fatalf("unexpected token attr: %s", evt.Attributes["token"])
	}
	if evt.Attributes["total"] != "5000" || evt.Attributes["delta"] != "250" || evt.Attributes["height"] != "12" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["reason"] != SupplyReasonMint {
		t.Fatalf("unexpected reason: %s", evt.Attributes["reason"])
	}
}

func TestSupplyChangeBurnReason(t *testing.T) {
	evt := SupplyChange("", 3, nil, big.NewInt(-7)).Event()
	if evt.Attributes["reason"] != SupplyReasonBurn {
		t.Fatalf("expected burn, got %s", evt.Attributes["reason"])
	}
	if evt.Attributes["token"] != "UNKNOWN" || evt.Attributes["total"] != "0" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
}
