// Package notify broadcasts small structured envelopes over a pub/sub
// transport. Delivery is fire-and-forget and at-most-once: nothing is
// persisted, and a subscriber that is offline at publish time never sees the
// message. Redis pub/sub is the default transport; NATS and Kafka
// implementations are provided for deployments already running either.
package notify
