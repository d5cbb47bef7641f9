package e2e

import (
	"github.com/cucumber/godog"

	"optout/e2e/steps/common"
	"optout/e2e/steps/consent"
	"optout/e2e/steps/verification"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	verification.RegisterSteps(ctx, tc)
	consent.RegisterSteps(ctx, tc)
}
