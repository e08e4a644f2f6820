package cucumber

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^the response code should be (\d+)$`, s.theResponseCodeShouldBe)
		ctx.Step(`^the response should match json:$`, s.theResponseShouldMatchJSONDoc)
		ctx.Step(`^the response should contain json:$`, s.theResponseShouldContainJSONDoc)
		ctx.Step(`^the response should contain "([^"]*)"$`, s.theResponseShouldContain)
		ctx.Step(`^I store the "([^"]*)" selection from the response as \${([^}]*)}$`, s.iStoreTheSelectionFromTheResponseAs)
		ctx.Step(`^I store the \${([^}]*)} as \${([^}]*)}$`, s.iStoreVariableAsVariable)
		ctx.Step(`^the "(.*)" selection from the response should match "([^"]*)"$`, s.theSelectionFromTheResponseShouldMatch)
		ctx.Step(`^the "([^"]*)" selection from the response should match json:$`, s.theSelectionFromTheResponseShouldMatchJSON)
		ctx.Step(`^"([^"]*)" should match "([^"]*)"$`, s.textShouldMatchText)
	})
}

func (s *TestScenario) theResponseCodeShouldBe(expected int) error {
	session := s.Session()
	if session.Resp == nil {
		return fmt.Errorf("no HTTP response available")
	}
	if actual := session.Resp.StatusCode; expected != actual {
		return fmt.Errorf("expected response code to be: %d, but actual is: %d, body: %s", expected, actual, session.RespBytes)
	}
	return nil
}

func (s *TestScenario) theResponseShouldMatchJSONDoc(expected *godog.DocString) error {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return fmt.Errorf("got an empty response from server, expected a json body")
	}
	return s.JSONMustMatch(string(session.RespBytes), expected.Content, true)
}

func (s *TestScenario) theResponseShouldContainJSONDoc(expected *godog.DocString) error {
	return s.theResponseShouldContainJSON(expected.Content)
}

func (s *TestScenario) theResponseShouldContainJSON(expected string) error {
	session := s.Session()
	if len(session.RespBytes) == 0 {
		return fmt.Errorf("got an empty response from server, expected a json body")
	}
	return s.JSONMustContain(string(session.RespBytes), expected, true)
}

func (s *TestScenario) theResponseShouldContain(expected string) error {
	body := string(s.Session().RespBytes)
	if !strings.Contains(body, expected) {
		return fmt.Errorf("expected response to contain '%s', but it does not. Response body: %s", expected, body)
	}
	return nil
}

func (s *TestScenario) textShouldMatchText(actual, expected string) error {
	expected, err := s.Expand(expected)
	if err != nil {
		return err
	}
	actual, err = s.Expand(actual)
	if err != nil {
		return err
	}
	if expected != actual {
		return fmt.Errorf("actual does not match expected, diff:\n%s", unifiedDiff(expected, actual))
	}
	return nil
}

func (s *TestScenario) iStoreVariableAsVariable(name, as string) error {
	value, err := s.Resolve(name)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) iStoreTheSelectionFromTheResponseAs(selector, as string) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	value, err := selectJSON(selector, doc)
	if err != nil {
		return err
	}
	s.Variables[as] = value
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatch(selector, expected string) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	expected, err = s.Expand(expected)
	if err != nil {
		return err
	}
	value, err := selectJSON(selector, doc)
	if err != nil {
		return err
	}
	actual := "null"
	if value != nil {
		actual = fmt.Sprintf("%v", value)
	}
	if actual != expected {
		return fmt.Errorf("selected JSON does not match. expected: %v, actual: %v", expected, actual)
	}
	return nil
}

func (s *TestScenario) theSelectionFromTheResponseShouldMatchJSON(selector string, expected *godog.DocString) error {
	doc, err := s.Session().RespJSON()
	if err != nil {
		return err
	}
	value, err := selectJSON(selector, doc)
	if err != nil {
		return err
	}
	actual, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.JSONMustMatch(string(actual), expected.Content, true)
}
