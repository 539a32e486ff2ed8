// Package sso signs platform users into the host application.
//
// A login moves through three states. The authorization code from the platform's
// redirect is exchanged for a short-lived user token (AwaitingCode to TokenExchanged),
// the token is used once to fetch the remote identity, and the identity is resolved to a
// local account (AccountResolved). The user token is never cached.
//
// Resolution looks for an account already bound to the remote user id, then for an
// account whose email or username matches. A match is refreshed (name, avatar, email when
// missing, last login) and its binding merged; otherwise a new account is created with a
// fallback email of remoteUserId@lark when the platform supplies none.
//
//	client, _ := lark.NewClient(lark.Config{AppID: id, AppSecret: secret, RedirectURL: cb})
//	bridge := sso.NewBridge(client, store.Accounts(), sso.Config{DefaultTenantID: 1}, logger, metrics)
//	sso.NewHandlers(bridge, logger, true).RegisterRoutes(router)
//
// Routes:
//
//	GET    /auth/lark/login                   redirect to the platform with a CSRF state cookie
//	GET    /auth/lark/callback                complete the login and return the account view
//	DELETE /auth/lark/accounts/{id}/binding   remove the platform binding of an account
package sso
