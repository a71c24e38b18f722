package bitmex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// Signer computes BitMEX request authentication signatures.
//
// A signature is HMAC_SHA256(secret, verb + path + token + body), hex
// encoded. The verb is upper-cased, the path is relative (query string
// included), and the body must be exactly the bytes sent on the wire:
// deterministic key order, no incidental whitespace.
//
// Two freshness schemes are supported. A monotonically increasing nonce is
// rejected by the exchange if it does not increase per key, so concurrent
// requests need strict ordering. An expiry timestamp a few seconds in the
// future tolerates clock skew and out-of-order delivery better, and is the
// scheme used for REST calls.
type Signer struct {
	apiKey    string
	apiSecret string
	lastNonce atomic.Int64
}

// NewSigner creates a Signer for the given API key pair.
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret}
}

// Key returns the API key sent in the api-key header.
func (s *Signer) Key() string { return s.apiKey }

// Sign computes the hex HMAC-SHA256 digest of verb + path + token + body.
// Pure and deterministic; token is a nonce or an expiry timestamp.
func (s *Signer) Sign(verb, path string, token int64, body string) string {
	return Sign(s.apiSecret, verb, path, token, body)
}

// Sign is the underlying pure signature function.
func Sign(secret, verb, path string, token int64, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(verb + path + strconv.FormatInt(token, 10) + body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Nonce returns a monotonically increasing nonce (milliseconds since epoch,
// bumped if two calls land on the same millisecond).
func (s *Signer) Nonce() int64 {
	for {
		now := time.Now().UnixMilli()
		last := s.lastNonce.Load()
		if now <= last {
			now = last + 1
		}
		if s.lastNonce.CompareAndSwap(last, now) {
			return now
		}
	}
}

// expiresGrace keeps signatures valid across clock skew between us and the
// exchange.
const expiresGrace = 5 * time.Second

// Expires returns a request expiry a few seconds in the future, in unix
// seconds.
func (s *Signer) Expires() int64 {
	return time.Now().Add(expiresGrace).Unix()
}
