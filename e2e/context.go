package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"optout/internal/jwttoken"
)

const (
	devSigningKey   = "dev-secret-key-change-in-production"
	defaultIssuer   = "http://localhost:8080"
	defaultAudience = "optout-staff-portal"
	devCaptchaToken = "dev-captcha-pass"
)

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte
	Identifier       string
	StaffToken       string
	DecisionToken    string

	jwt *jwttoken.JWTService
}

// NewTestContext creates a new test context
func NewTestContext() *TestContext {
	return &TestContext{
		BaseURL:    envOr("BASE_URL", "http://localhost:8080"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		jwt: jwttoken.NewJWTService(
			envOr("JWT_SIGNING_KEY", devSigningKey),
			envOr("JWT_ISSUER", defaultIssuer),
			envOr("JWT_AUDIENCE", defaultAudience),
			time.Hour,
		),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body any) error {
	return tc.POSTWithHeaders(path, body, nil)
}

// POSTWithHeaders makes a POST request with optional headers
func (tc *TestContext) POSTWithHeaders(path string, body any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req, headers)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req, headers)
}

func (tc *TestContext) do(req *http.Request, headers map[string]string) error {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a top-level field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		_, ok := data[text]
		return ok
	}
	return false
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

// NewIdentifier picks a random ten digit identifier outside the registry's magic ranges
// so scenarios do not collide across runs against a persistent database.
func (tc *TestContext) NewIdentifier() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return "", err
	}
	tc.Identifier = fmt.Sprintf("8%09d", n.Int64())
	return tc.Identifier, nil
}

func (tc *TestContext) GetIdentifier() string {
	return tc.Identifier
}

func (tc *TestContext) SetIdentifier(identifier string) {
	tc.Identifier = identifier
}

// SetDecisionToken keeps the token a successful code match returned.
func (tc *TestContext) SetDecisionToken(token string) {
	tc.DecisionToken = token
}

func (tc *TestContext) GetDecisionToken() string {
	return tc.DecisionToken
}

// CaptchaToken returns a single-use token the dev captcha verifier accepts.
func (tc *TestContext) CaptchaToken() string {
	return devCaptchaToken + ":" + uuid.NewString()
}

// SignInAsStaff mints a staff bearer token with the given roles.
func (tc *TestContext) SignInAsStaff(staffID string, roles []string) error {
	token, err := tc.jwt.GenerateStaffToken(context.Background(), staffID, roles)
	if err != nil {
		return err
	}
	tc.StaffToken = token
	return nil
}

// AuthHeaders carries the staff bearer token when one is set.
func (tc *TestContext) AuthHeaders() map[string]string {
	if tc.StaffToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + tc.StaffToken}
}
