// Package config handles application configuration from flags and environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

type (
	// AppConfig contains full configuration of the panel.
	AppConfig struct {
		Env string `long:"env" env:"LALAPANEL_ENV" description:"Environment the panel is running in" default:"prod"`

		Logger  Logger  `group:"Logger options" namespace:"logger" env-namespace:"LALAPANEL_LOGGER"`
		HTTP    Server  `group:"HTTP server options" namespace:"http" env-namespace:"LALAPANEL_HTTP"`
		Hosting Hosting `group:"Hosting options" namespace:"hosting" env-namespace:"LALAPANEL_HOSTING"`
		Certs   Certs   `group:"Certificate options" namespace:"certs" env-namespace:"LALAPANEL_CERTS"`
		MariaDB MariaDB `group:"MariaDB options" namespace:"mariadb" env-namespace:"LALAPANEL_MARIADB"`
		Auth    Auth    `group:"Auth options" namespace:"auth" env-namespace:"LALAPANEL_AUTH"`

		DataDir string `long:"data_dir" env:"LALAPANEL_DATA_DIR" description:"Directory holding the panel registry database" default:"/etc/lalapanel"`
	}

	// Logger contains logger configuration.
	Logger struct {
		Level string `long:"level" env:"LEVEL" description:"Log level to use; environment-based level is used when empty"`
	}

	// Server contains HTTP server configuration.
	Server struct {
		Addr string `long:"addr" env:"ADDR" description:"Address to listen on" default:":8080"`
	}

	// Hosting contains filesystem and service locations for site provisioning.
	Hosting struct {
		SitesDir     string   `long:"sites_dir" env:"SITES_DIR" description:"Base directory for per-site content roots" default:"/var/www"`
		LogDir       string   `long:"log_dir" env:"LOG_DIR" description:"Base directory for per-site nginx logs" default:"/var/log/lalapanel"`
		AvailableDir string   `long:"available_dir" env:"AVAILABLE_DIR" description:"nginx sites-available directory" default:"/etc/nginx/sites-available"`
		EnabledDir   string   `long:"enabled_dir" env:"ENABLED_DIR" description:"nginx sites-enabled directory" default:"/etc/nginx/sites-enabled"`
		NginxService string   `long:"nginx_service" env:"NGINX_SERVICE" description:"systemd unit name for nginx" default:"nginx"`
		PHPVersions  []string `long:"php_version" env:"PHP_VERSIONS" env-delim:"," description:"Allowed PHP versions, newest first" default:"8.3" default:"8.2" default:"8.1"`
	}

	// Certs contains ACME client configuration.
	Certs struct {
		CertbotPath string `long:"certbot_path" env:"CERTBOT_PATH" description:"Path to the certbot binary" default:"/usr/bin/certbot"`
		Email       string `long:"email" env:"EMAIL" description:"Contact email for the ACME account" default:"admin@localhost"`
		LiveDir     string `long:"live_dir" env:"LIVE_DIR" description:"Directory certbot installs live certificates under" default:"/etc/letsencrypt/live"`
	}

	// MariaDB contains database engine configuration.
	MariaDB struct {
		BinaryPath string `long:"binary_path" env:"BINARY_PATH" description:"Path to the mariadb client binary" default:"/usr/bin/mariadb"`
		Service    string `long:"service" env:"SERVICE" description:"systemd unit name for mariadb" default:"mariadb"`
	}

	// Auth contains session and login-throttling configuration.
	Auth struct {
		CookieName       string        `long:"cookie_name" env:"COOKIE_NAME" description:"Session cookie name" default:"lalapanel_session"`
		SessionTTL       time.Duration `long:"session_ttl" env:"SESSION_TTL" description:"Session lifetime" default:"24h"`
		MaxLoginAttempts int           `long:"max_login_attempts" env:"MAX_LOGIN_ATTEMPTS" description:"Login attempts allowed per IP per window" default:"5"`
		AttemptWindow    time.Duration `long:"attempt_window" env:"ATTEMPT_WINDOW" description:"Login rate-limit window" default:"15m"`
	}
)

// ErrHelp is returned when --help flag is used and the application
// should not launch.
var ErrHelp = errors.New("help")

// New reads the given command-line arguments and environment and returns
// the AppConfig that corresponds to the values read.
func New(args []string) (*AppConfig, error) {
	var config AppConfig
	parser := flags.NewParser(&config, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(config.Hosting.PHPVersions) == 0 {
		return nil, fmt.Errorf("at least one PHP version must be configured")
	}
	return &config, nil
}
