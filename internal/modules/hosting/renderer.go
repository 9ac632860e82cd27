package hosting

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"text/template"

	"github.com/lalapanel/lalapanel/pkg/adapter"
)

// vhostTemplate covers both listener layouts. Without TLS the site binds the
// plain listener only; with TLS the plain listener keeps serving ACME
// challenge traffic and redirects everything else to the encrypted one.
const vhostTemplate = `# managed by lalapanel - do not edit by hand
server {
    listen 80;
    listen [::]:80;
    server_name {{ .Domain }} www.{{ .Domain }};

    location ^~ /.well-known/acme-challenge/ {
        root {{ .RootDir }};
    }
{{ if .TLSEnabled }}
    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl;
    listen [::]:443 ssl;
    http2 on;
    server_name {{ .Domain }} www.{{ .Domain }};

    ssl_certificate {{ .ChainPath }};
    ssl_certificate_key {{ .KeyPath }};
{{ end }}
    root {{ .RootDir }};
    index index.php index.html;

    access_log {{ .AccessLog }};
    error_log {{ .ErrorLog }};
{{ range .Settings }}    {{ .Key }} {{ .Value }};
{{ end }}
    location / {
        try_files $uri $uri/ /index.php?$query_string;
    }

    location ~ \.php$ {
        include snippets/fastcgi-php.conf;
        fastcgi_pass unix:{{ .SocketPath }};
    }

    location ~ /\.(?!well-known) {
        deny all;
    }
}
`

// defaultTemplate is the catch-all vhost that rejects requests for
// unrecognized domains, including TLS handshakes without a matching cert.
const defaultTemplate = `# managed by lalapanel - do not edit by hand
server {
    listen 80 default_server;
    listen [::]:80 default_server;
    listen 443 ssl default_server;
    listen [::]:443 ssl default_server;
    server_name _;

    ssl_reject_handshake on;
    return 444;
}
`

type settingEntry struct {
	Key   string
	Value string
}

type vhostModel struct {
	Domain     string
	RootDir    string
	TLSEnabled bool
	ChainPath  string
	KeyPath    string
	AccessLog  string
	ErrorLog   string
	SocketPath string
	Settings   []settingEntry
}

// Renderer produces vhost configuration text. It is pure: no file or
// process access, and identical inputs yield byte-identical output.
type Renderer struct {
	logDir  string
	certDir string
	tmpl    *template.Template
}

// NewRenderer compiles the embedded templates.
func NewRenderer(logDir, certDir string) *Renderer {
	return &Renderer{
		logDir:  logDir,
		certDir: certDir,
		tmpl:    template.Must(template.New("vhost").Parse(vhostTemplate)),
	}
}

// Render produces the configuration text for one site. Settings values are
// copied verbatim; validating them is the caller's responsibility (the
// syntax check at activation time is the guard).
func (r *Renderer) Render(profile adapter.SiteProfile) (string, error) {
	domain, err := normalizeDomain(profile.Domain)
	if err != nil {
		return "", err
	}
	if profile.RootDir == "" {
		return "", fmt.Errorf("root dir is required")
	}
	if !phpVersionPattern.MatchString(profile.PHPVersion) {
		return "", fmt.Errorf("invalid php version %q", profile.PHPVersion)
	}

	settings := make([]settingEntry, 0, len(profile.Settings))
	for k, v := range profile.Settings {
		settings = append(settings, settingEntry{Key: k, Value: v})
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })

	model := vhostModel{
		Domain:     domain,
		RootDir:    profile.RootDir,
		TLSEnabled: profile.TLSEnabled,
		ChainPath:  path.Join(r.certDir, domain, "fullchain.pem"),
		KeyPath:    path.Join(r.certDir, domain, "privkey.pem"),
		AccessLog:  path.Join(r.logDir, domain+".access.log"),
		ErrorLog:   path.Join(r.logDir, domain+".error.log"),
		SocketPath: socketPath(profile.PHPVersion),
		Settings:   settings,
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, model); err != nil {
		return "", fmt.Errorf("render vhost: %w", err)
	}
	return buf.String(), nil
}

// RenderDefault produces the catch-all vhost text.
func (r *Renderer) RenderDefault() string {
	return defaultTemplate
}
