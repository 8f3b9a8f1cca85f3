// Package model defines the data structures shared by the credential store,
// the token manager and the sync engine.
//
// # Account
//
// [Account] holds one mailbox's credentials. Token fields are kept only in
// their encrypted form ("encrypted:..."); plaintext is produced on demand by
// [Account.DecryptAccessToken] and [Account.DecryptRefreshToken] and is never
// cached. The expiry and access token are always replaced together:
//
//	acct, err := model.NewAccount(cipher, "me@example.com", "Me", access, refresh, time.Hour)
//	if acct.IsTokenExpiring(5 * time.Minute) {
//	    err = acct.UpdateAccessToken(cipher, newAccess, ttl)
//	}
//
// [Record] is the on-disk shape of an account. [FromRecord] rejects records
// whose token fields lack the encrypted prefix.
//
// # AccountSyncInfo
//
// [AccountSyncInfo] is the result of one sync attempt for one account.
package model
