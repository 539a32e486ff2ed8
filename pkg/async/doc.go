// Package async runs background work with panic recovery and bounded concurrency.
//
// SafeGo starts a detached task with a timeout and logs its failure; the webhook entry
// point uses it to kick off a directory sync without holding the request open.
//
// Batch fans a slice out over a fixed number of goroutines and returns one error per
// item, which is how notifications to several accounts are sent.
package async
