package bdd

import (
	"fmt"

	"github.com/chirino/ulists/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I authenticate as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I store my handle as \${([^}]*)}$`, a.iStoreMyHandleAs)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

func (a *authSteps) iAmAuthenticatedAsUser(userID string) error {
	a.s.SetUser(userID)
	return nil
}

// iStoreMyHandleAs fetches the current user's profile, which assigns a
// handle on first use.
func (a *authSteps) iStoreMyHandleAs(name string) error {
	if err := a.s.SendHTTPRequestWithJSONBody("GET", "/v1/profile", nil); err != nil {
		return err
	}
	handle, err := a.s.Resolve("response.handle")
	if err != nil {
		return err
	}
	if handle == nil {
		return fmt.Errorf("user %q has no handle", a.s.CurrentUser)
	}
	a.s.Variables[name] = handle
	return nil
}
