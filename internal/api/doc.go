// Package api provides the ledger REST client used by the admin connection.
//
// Endpoints used:
//   - GET /                 ledger metadata (URL templates, address prefix)
//   - GET <account URI>     account existence check, authorized as admin
package api
