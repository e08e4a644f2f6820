package bdd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chirino/ulists/internal/testutil/cucumber"
	"github.com/chirino/ulists/internal/testutil/testserver"
	"github.com/cucumber/godog"
	"github.com/stretchr/testify/require"
)

func TestFeatures(t *testing.T) {
	featureFiles, err := filepath.Glob(filepath.Join("features", "*.feature"))
	require.NoError(t, err)
	require.NotEmpty(t, featureFiles, "no feature files found")

	opts := cucumber.DefaultOptions()
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}

	for _, featurePath := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(featurePath), ".feature")
		t.Run(name, func(t *testing.T) {
			o := opts
			o.TestingT = t
			o.Paths = []string{featurePath}
			defer cucumber.ApplyReportOptions(&o, t.Name())()

			suite := cucumber.NewTestSuite()
			suite.TestingT = t
			// Every scenario gets its own server and in-memory database.
			suite.Setup = func(s *cucumber.TestScenario) error {
				srv := testserver.New(t, testserver.WithPingInterval(200*time.Millisecond))
				s.APIURL = srv.URL
				s.Extra[ExtraHub] = srv.Hub
				return nil
			}

			status := godog.TestSuite{
				Name:                name,
				Options:             &o,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
