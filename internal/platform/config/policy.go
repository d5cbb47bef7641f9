package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// VerificationPolicy holds the tunables of the identity verification workflow.
type VerificationPolicy struct {
	MaxRetries        int           `validate:"gte=1,lte=50"`
	CodeTTL           time.Duration `validate:"gte=1m"`
	CodeLength        int           `validate:"gte=4,lte=12"`
	MaxVerifyAttempts int           `validate:"gte=1"`
	DecisionWindow    time.Duration `validate:"gte=1m"`
	BcryptCost        int           `validate:"gte=4,lte=31"`
	WorkflowRoles     []string      `validate:"min=1,dive,notblank"`
	AdminRoles        []string      `validate:"min=1,dive,notblank"`
}

// policyFile is the on-disk YAML shape. Durations are whole minutes.
type policyFile struct {
	MaxRetries            *int     `yaml:"max_retries"`
	CodeTTLMinutes        *int     `yaml:"code_ttl_minutes"`
	CodeLength            *int     `yaml:"code_length"`
	MaxVerifyAttempts     *int     `yaml:"max_verify_attempts"`
	DecisionWindowMinutes *int     `yaml:"decision_window_minutes"`
	BcryptCost            *int     `yaml:"bcrypt_cost"`
	WorkflowRoles         []string `yaml:"workflow_roles"`
	AdminRoles            []string `yaml:"admin_roles"`
}

// DefaultPolicy returns the built-in verification policy.
func DefaultPolicy() VerificationPolicy {
	return VerificationPolicy{
		MaxRetries:        3,
		CodeTTL:           15 * time.Minute,
		CodeLength:        6,
		MaxVerifyAttempts: 5,
		DecisionWindow:    30 * time.Minute,
		BcryptCost:        10,
		WorkflowRoles:     []string{"opt_out_agent", "opt_out_supervisor"},
		AdminRoles:        []string{"opt_out_supervisor"},
	}
}

// LoadPolicy reads a YAML policy file and overlays the keys it sets onto base.
func LoadPolicy(path string, base VerificationPolicy) (VerificationPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return VerificationPolicy{}, fmt.Errorf("read verification policy: %w", err)
	}
	return ParsePolicy(raw, base)
}

// ParsePolicy overlays a YAML policy document onto base.
func ParsePolicy(raw []byte, base VerificationPolicy) (VerificationPolicy, error) {
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return VerificationPolicy{}, fmt.Errorf("parse verification policy: %w", err)
	}

	p := base
	if f.MaxRetries != nil {
		p.MaxRetries = *f.MaxRetries
	}
	if f.CodeTTLMinutes != nil {
		p.CodeTTL = time.Duration(*f.CodeTTLMinutes) * time.Minute
	}
	if f.CodeLength != nil {
		p.CodeLength = *f.CodeLength
	}
	if f.MaxVerifyAttempts != nil {
		p.MaxVerifyAttempts = *f.MaxVerifyAttempts
	}
	if f.DecisionWindowMinutes != nil {
		p.DecisionWindow = time.Duration(*f.DecisionWindowMinutes) * time.Minute
	}
	if f.BcryptCost != nil {
		p.BcryptCost = *f.BcryptCost
	}
	if len(f.WorkflowRoles) > 0 {
		p.WorkflowRoles = f.WorkflowRoles
	}
	if len(f.AdminRoles) > 0 {
		p.AdminRoles = f.AdminRoles
	}
	return p, nil
}
