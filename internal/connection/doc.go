// Package connection implements the admin connection to the ledger.
//
// The admin connection:
//   - Fetches the ledger metadata and builds the shared ledger context
//   - Holds the single websocket authenticated with the admin credentials
//   - Issues subscribe_account / subscribe_all_accounts requests
//   - Queues inbound notifications for the notification router
//   - Reconnects with exponential backoff and replays the last subscription
package connection
