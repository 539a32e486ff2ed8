// Package config provides application configuration management.
//
// # Overview
//
// Configuration starts from built-in defaults, is overlaid by an optional YAML file and
// finally by LARKBRIDGE_* environment variables. The result is validated before use.
//
//	cfg, err := config.LoadConfig(*configFile)
//	if err != nil {
//		log.Fatalf("Failed to load configuration: %v", err)
//	}
//
// # Environment
//
// Platform application:
//
//	LARKBRIDGE_APP_ID="cli_a1b2c3"
//	LARKBRIDGE_APP_SECRET="..."
//	LARKBRIDGE_BASE_URL="https://open.feishu.cn"
//	LARKBRIDGE_REDIRECT_URL="https://app.example.com/auth/lark/callback"
//	LARKBRIDGE_SCOPES="contact:user.base:readonly,contact:user.email:readonly"
//
// Events:
//
//	LARKBRIDGE_ENCRYPT_KEY="..."
//	LARKBRIDGE_VERIFICATION_TOKEN="..."
//
// Directory sync:
//
//	LARKBRIDGE_SYNC_SCHEDULE="0 */6 * * *"   # empty disables periodic sync
//	LARKBRIDGE_SYNC_TENANT_ID="1"
//	LARKBRIDGE_SYNC_DEPARTMENT="0"
//	LARKBRIDGE_SYNC_INCLUDE_SUBDEPARTMENTS="true"
//
// Storage:
//
//	LARKBRIDGE_DATABASE_URL="postgres://localhost/larkbridge?sslmode=disable"
//	LARKBRIDGE_REDIS_ADDR="localhost:6379"
//
// Observability:
//
//	LARKBRIDGE_LOG_LEVEL="info"
//	LARKBRIDGE_LOG_FORMAT="json"
//	LARKBRIDGE_OTEL_ENABLED="true"
//	LARKBRIDGE_OTEL_ENDPOINT="localhost:4317"
//
// # YAML File
//
// The file mirrors the Config structure with snake_case keys:
//
//	lark:
//	  app_id: cli_a1b2c3
//	sync:
//	  schedule: "*/30 * * * *"
//	  include_sub_departments: true
//
// Durations accept Go duration strings ("30s", "10m").
package config
