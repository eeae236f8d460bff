// Package events is a small in-memory pub/sub broker used to fan agent
// events and internal notifications out to interested subscribers (e.g. an
// SSE/websocket layer in the out-of-scope HTTP surface).
package events
