package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aussiebroadwan/loginkit/internal/fakeidp"
	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// cli runs loginctl against a config file and token database in a
// temporary directory.
type cli struct {
	t      *testing.T
	dir    string
	opener func(ctx context.Context, authURL string) error
}

func newCLI(t *testing.T, config string) *cli {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loginkit.yaml"), []byte(config), 0o600))
	return &cli{t: t, dir: dir, opener: func(context.Context, string) error { return nil }}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()

	var out bytes.Buffer
	root := newRootCmd(&rootOptions{opener: c.opener})
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--config-file", filepath.Join(c.dir, "loginkit.yaml"),
		"--db", filepath.Join(c.dir, "tokens.db"),
		"--env-file", filepath.Join(c.dir, "missing.env"),
	}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// browse follows the authorization redirect to the loopback listener.
func browse(_ context.Context, authURL string) error {
	go func() {
		resp, err := http.Get(authURL)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()
	return nil
}

func TestRegions(t *testing.T) {
	c := newCLI(t, `
keychainService: loginctl-test
bundleId: com.example.cli
log: {level: error}
regions:
  - {key: au, baseUrl: "https://au.auth.example.com", clientId: c1}
  - {key: eu, baseUrl: "https://eu.auth.example.com", clientId: c1}
`)

	out, err := c.run("regions")
	require.NoError(t, err)
	require.Contains(t, out, "au.auth.example.com")
	require.Contains(t, out, "eu.auth.example.com")
	require.NotContains(t, out, "*")

	out, err = c.run("select-region", "eu")
	require.NoError(t, err)
	require.Equal(t, "Region eu selected\n", out)

	out, err = c.run("regions")
	require.NoError(t, err)
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "eu.auth.example.com") {
			require.True(t, strings.HasPrefix(line, "*"), line)
		}
	}

	_, err = c.run("select-region", "us")
	require.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	c := newCLI(t, "keychainService: loginctl-test\nbundleId: com.example.cli\n")

	_, err := c.run("regions")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	c := newCLI(t, "not: [valid")

	out, err := c.run("version")
	require.NoError(t, err)
	require.Equal(t, version+"\n", out)
}

func TestLoginSession(t *testing.T) {
	idp := fakeidp.New(t, fakeidp.Options{ClientID: "cli-client"})
	idp.AddUser(&fakeidp.User{ID: "user-1", Email: "alice@example.com", Name: "Alice", Tenants: []string{"t1"}})

	c := newCLI(t, fmt.Sprintf(`
keychainService: loginctl-test
bundleId: com.example.cli
log: {level: error}
region: {key: au, baseUrl: %q, clientId: cli-client}
`, idp.URL))
	c.opener = browse

	_, err := c.run("whoami")
	require.ErrorIs(t, err, errNotSignedIn)

	out, err := c.run("login")
	require.NoError(t, err)
	require.Equal(t, "Signed in as Alice <alice@example.com>\n", out)

	out, err = c.run("whoami")
	require.NoError(t, err)
	require.Contains(t, out, "alice@example.com")
	require.Contains(t, out, "authenticated")
	require.Equal(t, 2, idp.Calls(authsdk.PathToken), "whoami restores the stored session")

	out, err = c.run("refresh", "--print")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "."), 3, "prints a jwt")

	out, err = c.run("logout")
	require.NoError(t, err)
	require.Equal(t, "Signed out\n", out)
	require.Len(t, idp.Logouts(), 1)

	_, err = c.run("whoami")
	require.ErrorIs(t, err, errNotSignedIn)
}
