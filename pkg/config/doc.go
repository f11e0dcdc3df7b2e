// Package config loads launcher configuration from environment variables.
//
// Every setting has a default, so an empty environment yields a working
// configuration that loads plugins, runs them and exits.
//
// Runtime settings:
//
//	HINGE_PLUGIN_PATH="/opt/plugins:/usr/share/hinge"  # os.PathListSeparator
//	HINGE_KEY_POLICY="id"                              # id or alias
//	HINGE_ASYNC_WORKERS="4"
//	HINGE_SYMBOL_CACHE_SIZE="64"
//	HINGE_LUA_TIMEOUT="5s"
//
// Admin server and persistence:
//
//	HINGE_ADMIN_ADDR=":9090"
//	HINGE_SHUTDOWN_TIMEOUT="30s"
//	HINGE_SAVE_FILE="/var/lib/hinge/state.yaml"
//	HINGE_SAVE_SCHEDULE="*/5 * * * *"
//
// Observability:
//
//	HINGE_LOG_LEVEL="info"
//	HINGE_LOG_FORMAT="text"  # text or json
//	HINGE_METRICS_ENABLED="true"
//	HINGE_OTEL_ENABLED="false"
//	HINGE_OTEL_ENDPOINT="localhost:4317"
//	HINGE_OTEL_INSECURE="true"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
