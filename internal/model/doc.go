// Package model defines the ledger resources carried by notifications.
//
// Conventions:
//   - Accounts are identified by their full account URI (e.g. https://ledger/accounts/alice)
//   - Amounts are decimal strings exactly as the ledger sends them
//   - Resources are decoded lazily from the raw notification payload
package model
