// Package api provides OpenAPI/Swagger documentation for the MnemosyneOS API.
//
// This package contains the OpenAPI 3.0 specification and related documentation
// for the MnemosyneOS HTTP API.
//
// # API Overview
//
// MnemosyneOS provides a RESTful API for:
//   - Memory ingestion with layer classification and deduplication
//   - Semantic similarity search across memory layers
//   - Record retrieval and deletion
//   - Reflection scheduling and status inspection
//   - Namespace statistics, health monitoring and metrics
//
// # Authentication
//
// When auth is enabled, API endpoints require either the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// or a bearer token:
//
//	Authorization: Bearer <jwt>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8208
//
// # OpenAPI Specification
//
// The OpenAPI 3.0 specification is available at:
//   - api/openapi.yaml (static file)
//   - /swagger/doc.json (when swag is used)
//
// # Generating Documentation
//
// To regenerate Swagger documentation using swag:
//
//	make docs-swagger
//
// Or manually:
//
//	swag init -g cmd/mnemo/main.go -o api --parseDependency --parseInternal
//
// # Viewing Documentation
//
// To view the API documentation in Swagger UI:
//
//	make docs-serve
//
// This will start a Swagger UI server at http://localhost:8081
package api
