package route

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMount(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var order []string
	loader := func(name string, err error) RouterLoader {
		return func(*gin.Engine) error {
			order = append(order, name)
			return err
		}
	}
	Register(Plugin{Name: "late", Order: 10, Loader: loader("late", nil)})
	Register(Plugin{Name: "early", Order: 0, Loader: loader("early", nil)})
	Register(Plugin{Name: "tie", Order: 10, Loader: loader("tie", nil)})

	gin.SetMode(gin.TestMode)
	require.NoError(t, Mount(gin.New()))
	require.Equal(t, []string{"early", "late", "tie"}, order)

	Register(Plugin{Name: "broken", Order: 5, Loader: loader("broken", errors.New("port in use"))})
	order = nil
	err := Mount(gin.New())
	require.EqualError(t, err, "failed to load broken routes: port in use")
	require.Equal(t, []string{"early", "broken"}, order)
}
