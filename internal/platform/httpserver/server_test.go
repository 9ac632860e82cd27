package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/modules/database"
	"github.com/lalapanel/lalapanel/internal/modules/hosting"
	"github.com/lalapanel/lalapanel/internal/modules/iam"
	"github.com/lalapanel/lalapanel/internal/modules/sysusers"
	"github.com/lalapanel/lalapanel/internal/platform/config"
	"github.com/lalapanel/lalapanel/internal/platform/registry"
)

type fakeRunner struct {
	commands []string
	outputs  map[string]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.commands = append(r.commands, cmd)
	if r.outputs != nil {
		if out, ok := r.outputs[cmd]; ok {
			return out, nil
		}
	}
	return "", nil
}

func newTestPanel(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	ts, client, _ := newTestPanelWithRunner(t)
	return ts, client
}

func newTestPanelWithRunner(t *testing.T) (*httptest.Server, *http.Client, *fakeRunner) {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.OpenPath(ctx, filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	cfg := &config.AppConfig{}
	cfg.Auth.CookieName = "lalapanel_session"
	cfg.Hosting.NginxService = "nginx"
	cfg.MariaDB.Service = "mariadb"

	runner := &fakeRunner{outputs: map[string]string{
		"systemctl is-active nginx":   "active",
		"systemctl is-active mariadb": "active",
	}}

	sitesDir := t.TempDir()
	renderer := hosting.NewRenderer(t.TempDir(), t.TempDir())
	activator := hosting.NewActivator(runner, nil, hosting.ActivatorOptions{
		AvailableDir: filepath.Join(t.TempDir(), "sites-available"),
		EnabledDir:   filepath.Join(t.TempDir(), "sites-enabled"),
	})
	issuer := hosting.NewCertbotIssuer(runner, nil, hosting.CertbotIssuerOptions{LiveDir: t.TempDir()})
	installer := hosting.NewManualCertInstaller(t.TempDir())
	mariadb := database.NewMariaDBAdapter(runner)

	hostingSvc := hosting.NewService(reg, nil, renderer, activator, issuer, installer, mariadb,
		hosting.ServiceOptions{
			SitesDir:    sitesDir,
			LogDir:      t.TempDir(),
			PHPVersions: []string{"8.3"},
		})
	databaseSvc := database.NewService(reg, nil, mariadb)
	sysusersSvc := sysusers.NewService(reg, nil, runner, sitesDir)
	authSvc := iam.NewService(reg, nil, iam.Options{})

	_, err = authSvc.CreateAdmin(ctx, "admin", "correct-horse-battery")
	require.NoError(t, err)

	srv := New(zap.NewNop(), cfg, reg, authSvc, runner,
		hosting.NewHandler(hostingSvc),
		database.NewHandler(databaseSvc),
		sysusers.NewHandler(sysusersSvc))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	jar := newCookieJar(t)
	client := &http.Client{Jar: jar}
	return ts, client, runner
}

func login(t *testing.T, ts *httptest.Server, client *http.Client) {
	t.Helper()
	resp, err := client.Post(ts.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"correct-horse-battery"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RequiresSession(t *testing.T) {
	ts, client := newTestPanel(t)

	resp, err := client.Get(ts.URL + "/api/sites")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_LoginAndMe(t *testing.T) {
	ts, client := newTestPanel(t)
	login(t, ts, client)

	resp, err := client.Get(ts.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "admin", body.User.Username)
}

func TestServer_LoginRejectsBadPassword(t *testing.T) {
	ts, client := newTestPanel(t)

	resp, err := client.Post(ts.URL+"/api/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"wrong"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_Logout(t *testing.T) {
	ts, client := newTestPanel(t)
	login(t, ts, client)

	resp, err := client.Post(ts.URL+"/api/logout", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_CreateSiteEndToEnd(t *testing.T) {
	ts, client := newTestPanel(t)
	login(t, ts, client)

	resp, err := client.Post(ts.URL+"/api/sites", "application/json",
		strings.NewReader(`{"domain":"example.com","php_version":"8.3"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/api/sites")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Sites []struct {
			Domain string `json:"domain"`
		} `json:"sites"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sites, 1)
	require.Equal(t, "example.com", body.Sites[0].Domain)
}

func TestServer_Status(t *testing.T) {
	ts, client := newTestPanel(t)
	login(t, ts, client)

	resp, err := client.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Services map[string]bool `json:"services"`
		Sites    int             `json:"sites"`
		Registry string          `json:"registry"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Services["nginx"])
	require.True(t, body.Services["mariadb"])
	require.Zero(t, body.Sites)
	require.True(t, strings.HasSuffix(body.Registry, "registry.db"))
}

func TestServer_RestartService(t *testing.T) {
	ts, client, runner := newTestPanelWithRunner(t)
	login(t, ts, client)

	resp, err := client.Post(ts.URL+"/api/services/nginx/restart", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, runner.commands, "systemctl restart nginx")

	// Units the panel does not manage are refused.
	resp, err = client.Post(ts.URL+"/api/services/sshd/restart", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotContains(t, runner.commands, "systemctl restart sshd")
}

func TestServer_SettingsRoundTrip(t *testing.T) {
	ts, client := newTestPanel(t)
	login(t, ts, client)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/settings",
		strings.NewReader(`{"panel_title":"My Panel"}`))
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/api/settings")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Settings map[string]string `json:"settings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "My Panel", body.Settings["panel_title"])
}

func TestServer_Heartbeat(t *testing.T) {
	ts, client := newTestPanel(t)

	resp, err := client.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
