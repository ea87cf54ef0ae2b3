package model

import "testing"

func TestCanBatchTransition(t *testing.T) {
	allowed := []struct{ from, to string }{
		{BatchStatusCreated, BatchStatusListed},
		{BatchStatusListed, BatchStatusOffered},
		{BatchStatusListed, BatchStatusSold},
		{BatchStatusOffered, BatchStatusSold},
		{BatchStatusSold, BatchStatusShipped},
		{BatchStatusSold, BatchStatusProcessed},
		{BatchStatusShipped, BatchStatusReceived},
		{BatchStatusReceived, BatchStatusProcessed},
		{BatchStatusProcessed, BatchStatusQualityChecked},
		{BatchStatusQualityChecked, BatchStatusFinalized},
	}
	for _, tc := range allowed {
		if !CanBatchTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to string }{
		{BatchStatusCreated, BatchStatusSold},
		{BatchStatusCreated, BatchStatusOffered},
		{BatchStatusListed, BatchStatusShipped},
		{BatchStatusSold, BatchStatusListed},
		{BatchStatusShipped, BatchStatusSold},
		{BatchStatusFinalized, BatchStatusListed},
		{BatchStatusFinalized, BatchStatusSold},
		{"BOGUS", BatchStatusListed},
	}
	for _, tc := range denied {
		if CanBatchTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestBatchStatusAtLeast(t *testing.T) {
	if !BatchStatusAtLeast(BatchStatusShipped, BatchStatusSold) {
		t.Error("SHIPPED should be at least SOLD")
	}
	if !BatchStatusAtLeast(BatchStatusSold, BatchStatusSold) {
		t.Error("SOLD should be at least SOLD")
	}
	if BatchStatusAtLeast(BatchStatusListed, BatchStatusSold) {
		t.Error("LISTED should not be at least SOLD")
	}
	if BatchStatusAtLeast("BOGUS", BatchStatusSold) {
		t.Error("unknown status should not rank")
	}
	if BatchStatusAtLeast(BatchStatusSold, "BOGUS") {
		t.Error("unknown stage should not rank")
	}
}

func TestValidBatchStatus(t *testing.T) {
	for _, s := range []string{BatchStatusCreated, BatchStatusFinalized, BatchStatusOffered} {
		if !ValidBatchStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if ValidBatchStatus("SHIPPED_MAYBE") {
		t.Error("expected unknown status to be invalid")
	}
}

func TestValidTradingMode(t *testing.T) {
	for _, m := range []string{TradingModeSpot, TradingModeContract, TradingModeAuction} {
		if !ValidTradingMode(m) {
			t.Errorf("expected %s to be valid", m)
		}
	}
	if ValidTradingMode("FUTURES") {
		t.Error("expected unknown mode to be invalid")
	}
}

func TestQualityPassed(t *testing.T) {
	if !QualityPassed(80, 15) {
		t.Error("boundary values should pass")
	}
	if !QualityPassed(95, 5) {
		t.Error("high purity, low moisture should pass")
	}
	if QualityPassed(79, 10) {
		t.Error("purity below 80 should fail")
	}
	if QualityPassed(90, 16) {
		t.Error("moisture above 15 should fail")
	}
}
