// Package webhooks receives platform event callbacks.
//
// # Overview
//
// The endpoint verifies the request signature, opens encrypted envelopes, answers the
// url_verification handshake, drops redelivered events and passes everything else to an
// application supplied EventHandler. Routing events by type is left to that handler.
//
// # Security
//
// The signature is hex SHA-256 over timestamp, nonce and the shared secret; the body is
// not signed. Envelopes are AES-CBC with the base64-decoded secret as key and a zero IV.
// Both schemes are fixed by the platform and kept for wire compatibility.
//
//	sec := webhooks.NewSecurity(secret)
//	if !sec.Verify(sig, ts, nonce, body) {
//		return errors.New("invalid signature")
//	}
//	event, err := sec.Decrypt(envelope.Encrypt)
//
// # Usage Example
//
//	handler := webhooks.NewHandler(webhooks.Config{Secret: secret}, func(ctx context.Context, e *webhooks.Event) error {
//		log.Printf("%s %s", e.Header.EventType, e.Body)
//		return nil
//	}, webhooks.NewRedisDeduper(rdb, 0), logger, metrics)
//	handler.RegisterRoutes(router)
//
// # Deduplication
//
// Event ids are remembered for DefaultDedupeTTL, in memory (LRUDeduper) or in Redis
// (RedisDeduper) when several replicas share the endpoint. A failed handler releases
// the id so the platform's redelivery is processed.
package webhooks
