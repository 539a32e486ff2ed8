// Package accounts holds the local account and department model that platform
// identities are reconciled into, together with the repositories that persist them.
//
// An account's platform binding is kept as a typed AccountBinding under the "binding"
// key of the account's attribute bag. SetBinding merges instead of overwriting, so keys
// written by other components survive a login or a directory sync.
package accounts
