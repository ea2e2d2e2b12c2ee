package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fraudwatch/kestrel/internal/cache"
	"github.com/fraudwatch/kestrel/internal/domain"
	"github.com/fraudwatch/kestrel/internal/ensemble"
	"github.com/fraudwatch/kestrel/internal/features"
	"github.com/fraudwatch/kestrel/internal/policy"
	"github.com/fraudwatch/kestrel/internal/registry"
	"github.com/fraudwatch/kestrel/internal/stats"
)

// fixedScorer returns a constant score so responses are deterministic.
type fixedScorer struct {
	name  string
	score float64
}

func (s *fixedScorer) Name() string    { return s.name }
func (s *fixedScorer) Version() string { return "test" }
func (s *fixedScorer) Score(features domain.FeatureVector) (float64, error) {
	return s.score, nil
}

// createTestServer creates a server with a deterministic single-scorer
// ensemble and an in-memory cache. No repository or event bus.
func createTestServer(score float64) *Server {
	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine := features.NewEngine(domain.FeaturesConfig{Shards: 4})

	reg := registry.New(context.Background(), nil)
	orchestrator := ensemble.New(
		[]domain.Scorer{&fixedScorer{name: "fixed", score: score}},
		domain.EnsembleConfig{
			Weights:        map[string]float64{"fixed": 1.0},
			FraudThreshold: 0.55,
		},
		reg,
	)

	policies, _ := policy.NewEngine()
	policies.LoadPolicies(policy.BuiltinPolicies())

	c, _ := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	recorder := stats.NewRecorder(256)

	return NewServer(cfg, nil, c, nil, engine, orchestrator, policies, reg, recorder, "test-v1")
}

func scoreBody(userID string, amount float64) []byte {
	body, _ := json.Marshal(domain.ScoreRequest{
		UserID:   userID,
		Amount:   amount,
		Location: "40.7128,-74.0060",
		DeviceID: "device-001",
	})
	return body
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(0.2)

	t.Run("SuccessfulScore", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("user-001", 120.50)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Decision == nil {
			t.Fatal("expected decision in response")
		}
		if resp.Decision.ID == "" {
			t.Error("expected decision ID")
		}
		if resp.Decision.TxID == "" {
			t.Error("expected txId in decision")
		}
		if resp.Decision.UserID != "user-001" {
			t.Errorf("expected userId user-001, got %s", resp.Decision.UserID)
		}
		if resp.Decision.FraudScore != 0.2 {
			t.Errorf("expected fraud score 0.2, got %f", resp.Decision.FraudScore)
		}
		if resp.Decision.IsFraud {
			t.Error("score 0.2 should not be flagged as fraud")
		}
		if len(resp.Decision.Explanations) == 0 {
			t.Error("expected explanations in decision")
		}
		if resp.Metadata.Version != "test-v1" {
			t.Errorf("expected version test-v1, got %s", resp.Metadata.Version)
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("FraudFlagged", func(t *testing.T) {
		fraudServer := createTestServer(0.9)

		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("user-002", 500)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		fraudServer.Router().ServeHTTP(rr, req)

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if !resp.Decision.IsFraud {
			t.Error("score 0.9 should be flagged as fraud")
		}
		// high-score-review builtin fires at fraud_score >= 0.85
		if !hasPolicyFlag(resp.PolicyFlags, "high-score-review") {
			t.Errorf("expected high-score-review flag, got %+v", resp.PolicyFlags)
		}
	})

	t.Run("HardAmountLimitFlag", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("user-003", 75000)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var resp ScoreResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if !hasPolicyFlag(resp.PolicyFlags, "hard-amount-limit") {
			t.Errorf("expected hard-amount-limit flag, got %+v", resp.PolicyFlags)
		}
	})

	t.Run("VelocityHardLimit", func(t *testing.T) {
		velServer := createTestServer(0.1)

		var resp ScoreResponse
		for i := 0; i < 6; i++ {
			req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("velocity-user", 50)))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			velServer.Router().ServeHTTP(rr, req)
			json.Unmarshal(rr.Body.Bytes(), &resp)
		}

		// The sixth transaction within the window crosses the ceiling.
		if !hasPolicyFlag(resp.PolicyFlags, "velocity-hard-limit") {
			t.Errorf("expected velocity-hard-limit flag, got %+v", resp.PolicyFlags)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingUserID", func(t *testing.T) {
		body, _ := json.Marshal(domain.ScoreRequest{
			Amount:   100,
			Location: "40.7,-74.0",
			DeviceID: "device-001",
		})
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeAmount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("user-004", -100)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("user-005", 100)))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestDecisionRetrieval(t *testing.T) {
	server := createTestServer(0.3)

	t.Run("CachedDecision", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("user-010", 250)))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var scored ScoreResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &scored); err != nil {
			t.Fatalf("failed to parse score response: %v", err)
		}

		req = httptest.NewRequest(http.MethodGet, "/decisions/"+scored.Decision.ID, nil)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var d domain.EnsembleDecision
		if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
			t.Fatalf("failed to parse decision: %v", err)
		}
		if d.ID != scored.Decision.ID {
			t.Errorf("expected decision %s, got %s", scored.Decision.ID, d.ID)
		}
	})

	t.Run("UnknownDecision", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/decisions/no-such-id", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		// No repository behind the cache in tests, so a miss is 503.
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestUserProfileEndpoint(t *testing.T) {
	server := createTestServer(0.2)

	t.Run("KnownUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("profile-user", 80)))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		req = httptest.NewRequest(http.MethodGet, "/users/profile-user/profile", nil)
		rr = httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var profile domain.UserProfile
		if err := json.Unmarshal(rr.Body.Bytes(), &profile); err != nil {
			t.Fatalf("failed to parse profile: %v", err)
		}
		if profile.UserID != "profile-user" {
			t.Errorf("expected userId profile-user, got %s", profile.UserID)
		}
		if profile.TxCount != 1 {
			t.Errorf("expected txCount 1, got %d", profile.TxCount)
		}
	})

	t.Run("UnknownUser", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/never-seen/profile", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server := createTestServer(0.2)

	t.Run("ListPolicies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/policies", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Policies []*domain.PolicyConfig `json:"policies"`
			Count    int                    `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != len(policy.BuiltinPolicies()) {
			t.Errorf("expected %d policies, got %d", len(policy.BuiltinPolicies()), resp.Count)
		}
	})

	t.Run("CreatePolicy", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "test-velocity-cap",
			Name:       "Velocity Cap",
			Expression: "tx_freq > 8.0",
			Reason:     "transaction velocity above cap",
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{
			ID:         "broken-policy",
			Name:       "Broken",
			Expression: "amount >>> oops",
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateMissingFields", func(t *testing.T) {
		body, _ := json.Marshal(CreatePolicyRequest{Name: "No ID"})
		req := httptest.NewRequest(http.MethodPost, "/policies", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadWithoutRepository", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/policies/reload", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestModelEndpoints(t *testing.T) {
	server := createTestServer(0.2)

	t.Run("ListModels", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/models", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Models []*domain.ModelInfo `json:"models"`
			Count  int                 `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
	})

	t.Run("Retrain", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/models/retrain", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	server := createTestServer(0.2)

	// Score a couple of transactions so there is activity to report.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBuffer(scoreBody("stats-user", 100)))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Recent stats.Summary `json:"recent"`
		Users  int           `json:"users"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Recent.Count != 3 {
		t.Errorf("expected 3 recorded scores, got %d", resp.Recent.Count)
	}
	if resp.Users != 1 {
		t.Errorf("expected 1 observed user, got %d", resp.Users)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(0.2)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

func hasPolicyFlag(flags []domain.PolicyFlag, id string) bool {
	for _, f := range flags {
		if f.PolicyID == id {
			return true
		}
	}
	return false
}
