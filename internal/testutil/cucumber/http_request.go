package cucumber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH) path "([^"]*)" without authentication$`, s.sendHTTPRequestWithoutAuth)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response "([^"]*)" selection to match "([^"]*)"$`, s.iWaitUpToSecondsForAGETOnPathResponseSelectionToMatch)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" to respond with json:$`, s.iWaitUpToSecondsForAGETOnPathToRespondWithJSON)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

func (s *TestScenario) sendHTTPRequestWithoutAuth(method, path string) error {
	session := s.Session()
	saved := session.TestUser
	session.TestUser = nil
	session.Header.Del("Authorization")
	defer func() { session.TestUser = saved }()
	return s.sendHTTPRequest(method, path)
}

func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, jsonTxt *godog.DocString) (err error) {
	defer func() {
		switch t := recover().(type) {
		case string:
			err = errors.New(t)
		case error:
			err = t
		}
	}()

	session := s.Session()

	body := &bytes.Buffer{}
	if jsonTxt != nil {
		expanded, err := s.Expand(jsonTxt.Content)
		if err != nil {
			return err
		}
		body.WriteString(expanded)
	}

	expandedPath, err := s.Expand(path)
	if err != nil {
		return err
	}

	fullURL := s.APIURL + expandedPath
	if u, err := url.Parse(expandedPath); err == nil && u.Scheme != "" {
		fullURL = expandedPath
	}

	session.Resp = nil
	session.RespBytes = nil
	session.respJSON = nil

	req, err := http.NewRequestWithContext(context.Background(), method, fullURL, body)
	if err != nil {
		return err
	}

	// Session headers apply to one request, except Authorization.
	req.Header = session.Header
	session.Header = http.Header{}

	if req.Header.Get("Authorization") != "" {
		session.Header.Set("Authorization", req.Header.Get("Authorization"))
	} else if session.TestUser != nil && session.TestUser.Subject != "" {
		req.Header.Set("Authorization", "Bearer "+session.TestUser.Subject)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := session.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	session.Resp = resp
	session.RespBytes, err = io.ReadAll(resp.Body)
	return err
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

// pollGET repeats a GET on path until check passes or timeout seconds elapse.
func (s *TestScenario) pollGET(timeout float64, path string, check func() error) error {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	interval := time.Duration(timeout * float64(time.Second) / 20)
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	for {
		err := s.sendHTTPRequest("GET", path)
		if err == nil {
			err = check()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %.f seconds: %w", timeout, err)
		}
		time.Sleep(interval)
	}
}

func (s *TestScenario) iWaitUpToSecondsForAGETOnPathResponseSelectionToMatch(timeout float64, path, selection, expected string) error {
	return s.pollGET(timeout, path, func() error {
		return s.theSelectionFromTheResponseShouldMatch(selection, expected)
	})
}

func (s *TestScenario) iWaitUpToSecondsForAGETOnPathToRespondWithJSON(timeout float64, path string, expectedJSON *godog.DocString) error {
	return s.pollGET(timeout, path, func() error {
		if err := s.theResponseCodeShouldBe(200); err != nil {
			return err
		}
		return s.theResponseShouldContainJSON(strings.TrimSpace(expectedJSON.Content))
	})
}
