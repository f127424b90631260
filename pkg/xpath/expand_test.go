package xpath

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	t.Setenv("HOME", "/home/viewer")
	t.Setenv("XRV_DIR", "/srv/videos")

	for _, tc := range []struct {
		in  string
		out string
	}{
		{"~", "/home/viewer"},
		{"~/clips/a.xrv", filepath.Join("/home/viewer", "clips/a.xrv")},
		{"$XRV_DIR/b.xrv", "/srv/videos/b.xrv"},
		{"/abs/c.xrv", "/abs/c.xrv"},
		{"rel/~/d.xrv", "rel/~/d.xrv"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			out, err := Expand(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.out, out)
		})
	}
}
