// Package messaging implements confirmable request/response messaging for
// Thread management traffic.
//
// Messages use the CoAP header layout (version, type, token, message ID,
// Uri-Path options and payload marker). A Service sends requests with
// retransmission driven by TimeoutParams and RetryPolicy, matches responses
// by token, and answers inbound requests from registered path handlers.
//
// The Service never retries beyond the RetryPolicy. When a confirmable
// request is not acknowledged after its final transmission, the OnTimeout
// callback fires with usedAllRetries set, which is how upper layers learn
// about a connection failure.
package messaging
