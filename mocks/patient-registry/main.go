// Command patient-registry is a stand-in for the national patient demographics service.
// It answers the lookup contract the opt-out server calls and is used by the e2e suite.
package main

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort      = "8081"
	defaultAPIKey    = "patient-registry-secret-key"
	defaultLatencyMs = "50"
)

type lookupRequest struct {
	Identifier string `json:"identifier"`
}

type patientResponse struct {
	Identifier  string `json:"identifier"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	DateOfBirth string `json:"date_of_birth"`
	AddressLine string `json:"address_line"`
	Postcode    string `json:"postcode"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	apiKey    = getEnv("API_KEY", defaultAPIKey)
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
)

func main() {
	port := getEnv("PORT", defaultPort)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("POST /api/v1/patients/lookup", handleLookup)

	log.Printf("mock patient registry listening on :%s (latency %dms)", port, latencyMs)
	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "patient-registry"})
}

// Magic identifiers let e2e scenarios steer the registry's answer.
var fixtures = map[string]patientResponse{
	"9000000001": {GivenName: "Ada", FamilyName: "Email", DateOfBirth: "1980-02-14",
		AddressLine: "1 Email Street", Postcode: "LS1 1AA", Email: "ada@example.org"},
	"9000000002": {GivenName: "Ben", FamilyName: "Phone", DateOfBirth: "1975-09-03",
		AddressLine: "2 Phone Road", Postcode: "M1 2BB", Phone: "+447700900002"},
	"9000000009": {GivenName: "Cal", FamilyName: "Unreachable", DateOfBirth: "1969-11-30",
		AddressLine: "9 Quiet Lane", Postcode: "B9 9ZZ"},
}

const (
	notFoundIdentifier = "9990000000"
	outageIdentifier   = "9990000500"
)

func handleLookup(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)

	if key := r.Header.Get("X-API-Key"); key != apiKey {
		sendError(w, http.StatusUnauthorized, "missing or invalid X-API-Key")
		return
	}

	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Identifier == "" {
		sendError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	switch req.Identifier {
	case notFoundIdentifier:
		sendError(w, http.StatusNotFound, "patient not found")
		return
	case outageIdentifier:
		sendError(w, http.StatusServiceUnavailable, "registry maintenance")
		return
	}

	patient, ok := fixtures[req.Identifier]
	if !ok {
		patient = generatePatient(req.Identifier)
	}
	patient.Identifier = req.Identifier
	writeJSON(w, http.StatusOK, patient)
	log.Printf("lookup %s -> %s %s", req.Identifier, patient.GivenName, patient.FamilyName)
}

// generatePatient derives stable demographics from the identifier.
func generatePatient(identifier string) patientResponse {
	sum := sha256.Sum256([]byte(identifier))
	n := int(sum[0])

	given := []string{"Alice", "Bob", "Carol", "David", "Emma", "Frank", "Grace", "Henry"}
	family := []string{"Smith", "Jones", "Taylor", "Brown", "Wilson", "Evans", "Thomas", "Roberts"}
	streets := []string{"High Street", "Station Road", "Church Lane", "Mill Road", "Park Avenue"}
	suffix := identifier
	if len(suffix) > 5 {
		suffix = suffix[len(suffix)-5:]
	}

	return patientResponse{
		GivenName:   given[n%len(given)],
		FamilyName:  family[(n*3)%len(family)],
		DateOfBirth: fmt.Sprintf("%04d-%02d-%02d", time.Now().Year()-18-n%60, 1+n%12, 1+n%28),
		AddressLine: fmt.Sprintf("%d %s", 1+n%200, streets[n%len(streets)]),
		Postcode:    fmt.Sprintf("AB%d %dCD", 1+n%9, n%10),
		Email:       fmt.Sprintf("patient.%s@example.org", identifier),
		Phone:       "+4477009" + suffix,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Message: message})
	log.Printf("error response: %d %s", status, message)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key, fallback string) int {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		n, _ = strconv.Atoi(fallback)
	}
	return n
}
