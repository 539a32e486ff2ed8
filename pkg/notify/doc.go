// Package notify delivers messages and approval requests to local accounts.
//
// Every operation resolves the account's platform binding first; an account without one
// fails with ErrUnboundAccount before anything is sent.
//
//	d := notify.NewDispatcher(client, store.Accounts(), logger, metrics)
//	d.Notify(ctx, accountID, notify.Text("build 1234 is green"))
//	d.SendApprovalNotification(ctx, accountID, notify.ApprovalCard{
//		Title:   "Expense report",
//		Body:    "**Amount**: 42 USD",
//		Actions: []notify.CardAction{{Label: "Review", URL: reviewURL}},
//	})
package notify
