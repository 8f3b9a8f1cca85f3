// Package gmail talks to Google's OAuth and Gmail endpoints.
//
// It provides three pieces:
//
//   - [AuthorizationFlow]: the interactive authorization-code flow with PKCE.
//     A loopback listener on the first free port in 8080-8089 receives the
//     redirect; the resulting tokens are encrypted into a [model.Account] and
//     handed to the account store.
//   - [TokenManager]: returns a non-expired access token for one account,
//     refreshing through the token endpoint when the token expires within the
//     threshold.
//   - [Client]: the read-only API calls used by the sync engine (unread count
//     of the INBOX label, userinfo, profile).
package gmail
