// Package integration contains the Integration bounded context.
// This context describes the external storefront the order import reads from.
//
// Key concepts:
//   - OrderSource: Port interface for paginated, creation-ordered access to remote orders
//   - ExternalOrder: Value object representing one order as the storefront reports it
//   - OrderFilter: Date and status narrowing applied to both count and page queries
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
