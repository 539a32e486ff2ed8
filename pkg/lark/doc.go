// Package lark is a small client for the Lark / Feishu open platform.
//
// It covers the calls larkbridge consumes: tenant token exchange, the OAuth code
// exchange and user info, contact lookups and listings, user search, messages and
// approval instances. Typed calls go through the open platform SDK (larkcontact, larkim,
// larkapproval); endpoints without a typed binding go through Client.Call, which unwraps
// the {code, msg, data} envelope itself. Either way a non-zero code becomes an *APIError.
//
//	client, err := lark.NewClient(lark.Config{AppID: id, AppSecret: secret})
//	user, err := client.GetUser(ctx, "ou_123")
//
// The SDK's own token cache is disabled. The service token comes from TokenCache, which
// refreshes single-flight: concurrent callers that find it expired share one exchange.
package lark
