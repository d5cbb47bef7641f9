package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaultsAreValid() {
	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(":8080", cfg.Addr)
	s.Equal(3, cfg.Verification.MaxRetries)
	s.Equal(15*time.Minute, cfg.Verification.CodeTTL)
	s.Contains(cfg.Verification.WorkflowRoles, "opt_out_agent")
}

func (s *ConfigSuite) TestEnvironmentOverrides() {
	s.T().Setenv("OPTOUT_ADDR", ":9090")
	s.T().Setenv("WORKFLOW_ROLES", "agent, supervisor")
	s.T().Setenv("LOOKUP_TIMEOUT", "2s")

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(":9090", cfg.Addr)
	s.Equal([]string{"agent", "supervisor"}, cfg.Verification.WorkflowRoles)
	s.Equal(2*time.Second, cfg.Lookup.Timeout)
}

func (s *ConfigSuite) TestPolicyFileOverlay() {
	path := filepath.Join(s.T().TempDir(), "policy.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(`
max_retries: 5
code_ttl_minutes: 10
workflow_roles: [contact_centre]
`), 0o600))
	s.T().Setenv("VERIFICATION_POLICY_FILE", path)

	cfg, err := Load()
	s.Require().NoError(err)
	s.Equal(5, cfg.Verification.MaxRetries)
	s.Equal(10*time.Minute, cfg.Verification.CodeTTL)
	s.Equal([]string{"contact_centre"}, cfg.Verification.WorkflowRoles)
	s.Equal(6, cfg.Verification.CodeLength, "unset keys keep defaults")
}

func (s *ConfigSuite) TestInvalidPolicyRejected() {
	path := filepath.Join(s.T().TempDir(), "policy.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("max_retries: 0\n"), 0o600))
	s.T().Setenv("VERIFICATION_POLICY_FILE", path)

	_, err := Load()
	s.Require().Error(err)
	s.Contains(err.Error(), "max_retries")
}

func (s *ConfigSuite) TestProductionRequiresSigningKey() {
	s.T().Setenv("OPTOUT_ENV", "production")
	_, err := Load()
	s.Require().Error(err)
	s.Contains(err.Error(), "JWT_SIGNING_KEY")
}

func (s *ConfigSuite) TestKafkaTransportRequiresBrokers() {
	s.T().Setenv("NOTIFICATION_TRANSPORT", "kafka")
	_, err := Load()
	s.Require().Error(err)
}

func (s *ConfigSuite) TestProductionRequiresCaptchaSecret() {
	s.T().Setenv("OPTOUT_ENV", "production")
	s.T().Setenv("JWT_SIGNING_KEY", "a-real-production-signing-key")
	_, err := Load()
	s.Require().Error(err)
	s.Contains(err.Error(), "CAPTCHA_SECRET")

	s.T().Setenv("CAPTCHA_SECRET", "0x0000000000000000000000000000000000000000")
	_, err = Load()
	s.NoError(err)
}
