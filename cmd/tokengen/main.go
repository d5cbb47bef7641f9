// Package main generates staff bearer tokens for local development and tests.
// Tokens are signed with the dev key unless -key is given and will NOT work in production.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"optout/internal/jwttoken"
	s "optout/pkg/string"
)

const (
	// Matches config.go when JWT_SIGNING_KEY is not set.
	devSigningKey   = "dev-secret-key-change-in-production"
	defaultIssuer   = "http://localhost:8080"
	defaultAudience = "optout-staff-portal"
	defaultTokenTTL = 8 * time.Hour
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in"`
	StaffID   string            `json:"staff_id"`
	Roles     []string          `json:"roles"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	staffID := flag.String("staff-id", "", "Staff ID. Generated if empty.")
	roles := flag.String("roles", "opt_out_agent", "Comma-separated staff roles")
	ttl := flag.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	key := flag.String("key", devSigningKey, "HMAC signing key")
	issuer := flag.String("issuer", defaultIssuer, "Token issuer")
	audience := flag.String("audience", defaultAudience, "Token audience")
	asJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *staffID == "" {
		*staffID = "staff-" + uuid.NewString()[:8]
	}
	roleList := s.SplitList(*roles)

	svc := jwttoken.NewJWTService(*key, *issuer, *audience, *ttl)
	token, err := svc.GenerateStaffToken(context.Background(), *staffID, roleList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if !*asJSON {
		fmt.Println(token)
		return
	}
	out := tokenOutput{
		Token:     token,
		Type:      "Bearer",
		ExpiresIn: ttl.String(),
		StaffID:   *staffID,
		Roles:     roleList,
		Usage: map[string]string{
			"curl":  fmt.Sprintf("curl -H 'Authorization: Bearer %s' http://localhost:8080/v1/verifications/<identifier>", token),
			"roles": strings.Join(roleList, ","),
		},
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}
