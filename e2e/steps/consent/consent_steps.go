package consent

import (
	"context"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POSTWithHeaders(path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetIdentifier() string
	CaptchaToken() string
	AuthHeaders() map[string]string
	GetDecisionToken() string
}

// RegisterSteps registers opt-out decision step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc}

	ctx.Step(`^I record the choice "([^"]*)"$`, steps.recordChoice)
	ctx.Step(`^I record the choice "([^"]*)" with decision token "([^"]*)"$`, steps.recordChoiceWithToken)
	ctx.Step(`^staff records the choice "([^"]*)"$`, steps.staffRecordsChoice)
	ctx.Step(`^staff records the choice "([^"]*)" with decision token "([^"]*)"$`, steps.staffRecordsChoiceWithToken)
	ctx.Step(`^I fetch the recorded decision$`, steps.fetchDecision)
}

type consentSteps struct {
	tc TestContext
}

// recordChoice sends the decision token kept from the last successful match, if any.
func (s *consentSteps) recordChoice(ctx context.Context, choice string) error {
	return s.recordChoiceWithToken(ctx, choice, s.tc.GetDecisionToken())
}

func (s *consentSteps) recordChoiceWithToken(ctx context.Context, choice, token string) error {
	return s.tc.POSTWithHeaders("/v1/decisions", map[string]any{
		"identifier":     s.tc.GetIdentifier(),
		"choice":         choice,
		"decision_token": token,
		"captcha_token":  s.tc.CaptchaToken(),
	}, nil)
}

func (s *consentSteps) staffRecordsChoice(ctx context.Context, choice string) error {
	return s.staffRecordsChoiceWithToken(ctx, choice, s.tc.GetDecisionToken())
}

func (s *consentSteps) staffRecordsChoiceWithToken(ctx context.Context, choice, token string) error {
	return s.tc.POSTWithHeaders("/v1/decisions", map[string]any{
		"identifier":     s.tc.GetIdentifier(),
		"choice":         choice,
		"decision_token": token,
	}, s.tc.AuthHeaders())
}

func (s *consentSteps) fetchDecision(ctx context.Context) error {
	return s.tc.GET("/v1/decisions/"+s.tc.GetIdentifier(), s.tc.AuthHeaders())
}
