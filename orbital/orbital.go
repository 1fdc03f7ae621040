// Package orbital holds application-wide defaults shared by the config
// loader and the CLI entry points.
package orbital

const (
	DefaultAppName    = "orbital"
	DefaultConfigPath = "/etc/orbital"
	DefaultDataDir    = ".orbital"

	// DefaultArchiveDSN is the embedded libsql database used for the
	// best-effort conversation/script archive.
	DefaultArchiveDSN = ".orbital/archive.db"

	DefaultGatewayAddr = "127.0.0.1:8000"
)
