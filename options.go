package ecodev

import (
	"io/fs"
	"log/slog"

	"github.com/jai-vignesh007/EcoDev/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	cfg             *config.Config
	port            int
	databaseURL     string
	sqlitePath      string
	githubBaseURL   string
	logger          *slog.Logger
	version         string
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (ECODEV_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL selects the Postgres store with the given connection string,
// overriding ECODEV_STORE and DATABASE_URL.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath selects the embedded SQLite store at path, overriding
// ECODEV_STORE and ECODEV_SQLITE_PATH. It wins over WithDatabaseURL.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithGitHubBaseURL points the GitHub client at another API root, such as a
// GitHub Enterprise Server instance.
func WithGitHubBaseURL(url string) Option {
	return func(o *resolvedOptions) { o.githubBaseURL = url }
}

// WithConfig skips .env and environment loading and uses cfg instead. The
// other options still apply on top of it.
func WithConfig(cfg config.Config) Option {
	return func(o *resolvedOptions) { o.cfg = &cfg }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExtraMigrations adds a SQL migration filesystem to run after the
// built-in migrations. Filesystems are applied in registration order and must
// match the selected store's dialect.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
