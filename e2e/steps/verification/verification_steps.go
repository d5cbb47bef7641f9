package verification

import (
	"context"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTWithHeaders(path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetIdentifier() string
	CaptchaToken() string
	AuthHeaders() map[string]string
	GetLastResponseStatus() int
	GetResponseField(field string) (any, error)
	SetDecisionToken(token string)
}

// RegisterSteps registers verification workflow step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &verificationSteps{tc: tc}

	ctx.Step(`^I request a code with notification preference "([^"]*)"$`, steps.requestCode)
	ctx.Step(`^I request a code without a captcha token$`, steps.requestCodeWithoutCaptcha)
	ctx.Step(`^I request a code for identifier "([^"]*)"$`, steps.requestCodeForIdentifier)
	ctx.Step(`^staff requests a code with notification preference "([^"]*)"$`, steps.staffRequestsCode)
	ctx.Step(`^I verify the code "([^"]*)"$`, steps.verifyCode)
	ctx.Step(`^I fetch the verification status$`, steps.fetchStatus)
	ctx.Step(`^I fetch the verification status without authorization$`, steps.fetchStatusAnonymously)
	ctx.Step(`^I reset the patient's retries$`, steps.resetRetries)
}

type verificationSteps struct {
	tc TestContext
}

func (s *verificationSteps) requestCode(ctx context.Context, preference string) error {
	return s.tc.POSTWithHeaders("/v1/verifications", map[string]any{
		"identifier":              s.tc.GetIdentifier(),
		"notification_preference": preference,
		"captcha_token":           s.tc.CaptchaToken(),
	}, nil)
}

func (s *verificationSteps) requestCodeWithoutCaptcha(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/v1/verifications", map[string]any{
		"identifier":              s.tc.GetIdentifier(),
		"notification_preference": "none",
	}, nil)
}

func (s *verificationSteps) requestCodeForIdentifier(ctx context.Context, identifier string) error {
	return s.tc.POSTWithHeaders("/v1/verifications", map[string]any{
		"identifier":              identifier,
		"notification_preference": "none",
		"captcha_token":           s.tc.CaptchaToken(),
	}, nil)
}

func (s *verificationSteps) staffRequestsCode(ctx context.Context, preference string) error {
	return s.tc.POSTWithHeaders("/v1/verifications", map[string]any{
		"identifier":              s.tc.GetIdentifier(),
		"notification_preference": preference,
	}, s.tc.AuthHeaders())
}

// verifyCode keeps the decision token from a successful match for later decision steps.
func (s *verificationSteps) verifyCode(ctx context.Context, code string) error {
	err := s.tc.POSTWithHeaders("/v1/verifications/verify", map[string]any{
		"identifier":    s.tc.GetIdentifier(),
		"code":          code,
		"captcha_token": s.tc.CaptchaToken(),
	}, nil)
	if err != nil || s.tc.GetLastResponseStatus() != http.StatusOK {
		return err
	}
	token, err := s.tc.GetResponseField("decision_token")
	if err != nil {
		return err
	}
	if str, ok := token.(string); ok {
		s.tc.SetDecisionToken(str)
	}
	return nil
}

func (s *verificationSteps) fetchStatus(ctx context.Context) error {
	return s.tc.GET("/v1/verifications/"+s.tc.GetIdentifier(), s.tc.AuthHeaders())
}

func (s *verificationSteps) fetchStatusAnonymously(ctx context.Context) error {
	return s.tc.GET("/v1/verifications/"+s.tc.GetIdentifier(), nil)
}

func (s *verificationSteps) resetRetries(ctx context.Context) error {
	return s.tc.POSTWithHeaders("/v1/verifications/"+s.tc.GetIdentifier()+"/reset-retries", map[string]any{}, s.tc.AuthHeaders())
}
