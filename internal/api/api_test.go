package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/agritrace/agritrace/internal/db"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
	"github.com/agritrace/agritrace/internal/store"
)

const testJWTSecret = "test-secret"

func testFeed() oracle.Feed {
	return &oracle.StaticFeed{
		Quote:   oracle.DefaultQuote,
		Weather: oracle.DefaultWeather,
	}
}

func setupTestServer(t *testing.T) (*httptest.Server, *sql.DB, string) {
	t.Helper()
	database := db.NewTestDB(t)
	router := NewRouter(database, testJWTSecret, testFeed(), nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	token := newStakeholder(t, server, database, "admin", model.RoleAdmin)
	return server, database, token
}

// newStakeholder creates a verified stakeholder directly in the store and
// logs it in through the API, returning the session token.
func newStakeholder(t *testing.T, server *httptest.Server, database *sql.DB, username, role string) string {
	t.Helper()
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	s, err := store.CreateStakeholder(ctx, database, username, string(hash), role, "")
	if err != nil {
		t.Fatalf("creating stakeholder %s: %v", username, err)
	}
	if err := store.SetStakeholderVerified(ctx, database, s.ID, true); err != nil {
		t.Fatalf("verifying stakeholder %s: %v", username, err)
	}

	body, _ := json.Marshal(map[string]string{"username": username, "password": "password"})
	resp, err := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed for %s: %d", username, resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}
	return token
}

func authRequest(method, url, token string, body any) (*http.Request, error) {
	var bodyReader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func TestLoginEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	// Test invalid credentials.
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, _ := http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterEndpoint(t *testing.T) {
	server, _, _ := setupTestServer(t)

	body, _ := json.Marshal(map[string]string{"username": "carol", "password": "secret"})
	resp, _ := http.Post(server.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for registration, got %d", resp.StatusCode)
	}
	var s model.Stakeholder
	json.NewDecoder(resp.Body).Decode(&s)
	resp.Body.Close()
	if s.Role != model.RoleConsumer {
		t.Errorf("expected self-registered account to be a consumer, got %s", s.Role)
	}

	// The new account can log in.
	resp, _ = http.Post(server.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for login after registration, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Duplicate username is rejected.
	resp, _ = http.Post(server.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestBatchesAPIFlow(t *testing.T) {
	server, database, _ := setupTestServer(t)
	farmerToken := newStakeholder(t, server, database, "alice", model.RoleFarmer)

	// Create batch.
	req, _ := authRequest("POST", server.URL+"/api/batches", farmerToken, map[string]any{
		"name":            "Wheat",
		"quantity":        100,
		"base_price":      500,
		"origin_location": "North Field",
	})
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var batch model.Batch
	json.NewDecoder(resp.Body).Decode(&batch)
	resp.Body.Close()
	if batch.Status != model.BatchStatusCreated {
		t.Errorf("expected status %s, got %s", model.BatchStatusCreated, batch.Status)
	}

	// List batches.
	req, _ = authRequest("GET", server.URL+"/api/batches", farmerToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var batches []model.Batch
	json.NewDecoder(resp.Body).Decode(&batches)
	resp.Body.Close()
	if len(batches) != 1 {
		t.Errorf("expected 1 batch, got %d", len(batches))
	}

	// List for sale.
	url := server.URL + "/api/batches/" + strconv.FormatInt(batch.ID, 10)
	req, _ = authRequest("POST", url+"/list", farmerToken, map[string]any{
		"asking_price": 600,
	})
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for listing, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Fetch the batch and confirm it is for sale.
	req, _ = authRequest("GET", url, farmerToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	json.NewDecoder(resp.Body).Decode(&batch)
	resp.Body.Close()
	if !batch.ForSale || batch.Status != model.BatchStatusListed {
		t.Errorf("expected listed batch for sale, got status %s for_sale %v", batch.Status, batch.ForSale)
	}

	// Missing batch.
	req, _ = authRequest("GET", server.URL+"/api/batches/9999", farmerToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing batch, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnauthenticatedAccess(t *testing.T) {
	database := db.NewTestDB(t)
	router := NewRouter(database, testJWTSecret, testFeed(), nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	resp, _ := http.Get(server.URL + "/api/batches")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Garbage token.
	req, _ := authRequest("GET", server.URL+"/api/batches", "not-a-token", nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoleBasedAccess(t *testing.T) {
	server, database, _ := setupTestServer(t)
	consumerToken := newStakeholder(t, server, database, "dave", model.RoleConsumer)

	// Consumers cannot create stakeholders (admin only).
	req, _ := authRequest("POST", server.URL+"/api/stakeholders", consumerToken, map[string]string{
		"username": "eve",
		"password": "pass",
		"role":     model.RoleFarmer,
	})
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for consumer creating stakeholder, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Consumers cannot push oracle samples.
	req, _ = authRequest("POST", server.URL+"/api/oracle/price", consumerToken, map[string]any{
		"value":    150,
		"decimals": 2,
	})
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for consumer pushing price, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Consumers cannot create batches (farmer only, checked in the store).
	req, _ = authRequest("POST", server.URL+"/api/batches", consumerToken, map[string]any{
		"name":            "Wheat",
		"quantity":        10,
		"base_price":      100,
		"origin_location": "Field",
	})
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for consumer creating batch, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRoleChangeAppliesToLiveTokens(t *testing.T) {
	server, database, _ := setupTestServer(t)
	farmerToken := newStakeholder(t, server, database, "alice", model.RoleFarmer)

	// Demote the farmer while their token is still valid.
	ctx := context.Background()
	s, err := store.GetStakeholderByUsername(ctx, database, "alice")
	if err != nil || s == nil {
		t.Fatalf("looking up stakeholder: %v", err)
	}
	if err := store.SetStakeholderRole(ctx, database, s.ID, model.RoleConsumer); err != nil {
		t.Fatalf("SetStakeholderRole: %v", err)
	}

	// The old token no longer grants farmer operations.
	req, _ := authRequest("POST", server.URL+"/api/batches", farmerToken, map[string]any{
		"name":            "Wheat",
		"quantity":        100,
		"base_price":      500,
		"origin_location": "North Field",
	})
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 after demotion, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminOracleEndpoints(t *testing.T) {
	server, _, adminToken := setupTestServer(t)

	req, _ := authRequest("POST", server.URL+"/api/oracle/price", adminToken, map[string]any{
		"value":    150,
		"decimals": 2,
	})
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for price push, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = authRequest("POST", server.URL+"/api/oracle/weather", adminToken, map[string]any{
		"temperature": 22,
		"humidity":    55,
		"rainfall":    5,
		"wind_speed":  10,
	})
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for weather push, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = authRequest("POST", server.URL+"/api/crops", adminToken, map[string]any{
		"crop":              "Wheat",
		"ideal_temperature": 20,
		"ideal_humidity":    60,
		"max_rainfall":      30,
	})
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 for crop registration, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLogoutRevokesToken(t *testing.T) {
	server, _, adminToken := setupTestServer(t)

	req, _ := authRequest("POST", server.URL+"/api/auth/logout", adminToken, nil)
	resp, _ := http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for logout, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The revoked token no longer works.
	req, _ = authRequest("GET", server.URL+"/api/batches", adminToken, nil)
	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReceiptLookupIsPublic(t *testing.T) {
	server, _, _ := setupTestServer(t)

	// No token required; an unknown receipt is a plain 404, not a 401.
	resp, _ := http.Get(server.URL + "/api/purchases/receipt/no-such-receipt")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown receipt, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
