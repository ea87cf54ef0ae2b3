package auth

import (
	"testing"
	"time"

	"github.com/agritrace/agritrace/internal/model"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := "test-secret-key"

	token, err := GenerateToken(secret, 1, "alice", model.RoleFarmer)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := ValidateToken(secret, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	if claims.StakeholderID != 1 {
		t.Errorf("expected stakeholder_id 1, got %d", claims.StakeholderID)
	}
	if claims.Username != "alice" {
		t.Errorf("expected username 'alice', got %q", claims.Username)
	}
	if claims.Role != model.RoleFarmer {
		t.Errorf("expected role 'farmer', got %q", claims.Role)
	}
	if claims.ID == "" {
		t.Error("expected a JTI on the token")
	}
}

func TestTokensCarryUniqueJTIs(t *testing.T) {
	secret := "test"
	first, _ := GenerateToken(secret, 1, "alice", model.RoleFarmer)
	second, _ := GenerateToken(secret, 1, "alice", model.RoleFarmer)

	a, _ := ValidateToken(secret, first)
	b, _ := ValidateToken(secret, second)
	if a.ID == b.ID {
		t.Error("expected distinct JTIs for separate tokens")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _ := GenerateToken("secret1", 1, "alice", model.RoleFarmer)

	_, err := ValidateToken("secret2", token)
	if err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestValidateTokenInvalid(t *testing.T) {
	_, err := ValidateToken("secret", "not-a-token")
	if err == nil {
		t.Error("expected error for invalid token")
	}
}

func TestTokenExpiry(t *testing.T) {
	// Just verify the expiry is set correctly.
	secret := "test"
	token, _ := GenerateToken(secret, 1, "alice", model.RoleFarmer)
	claims, _ := ValidateToken(secret, token)

	expiresAt := claims.ExpiresAt.Time
	expectedExpiry := time.Now().Add(TokenExpiry)

	// Should be within a few seconds.
	diff := expectedExpiry.Sub(expiresAt)
	if diff < -5*time.Second || diff > 5*time.Second {
		t.Errorf("token expiry too far from expected: diff=%v", diff)
	}
}
