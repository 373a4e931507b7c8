// Package mqtt connects switchboard to the CRM's event broker. Inbound
// CRM events arrive on <prefix>/events as {"event_type", "payload"}
// envelopes and are handed to the dispatcher. Finished conversations
// are published to <prefix>/conversations/finished, and a periodic
// retained status message reports uptime and routing totals.
//
// The connection uses Eclipse Paho v2's [autopaho] package for
// automatic reconnection. On every (re-)connect the client subscribes
// to the events topic and publishes "online" to the availability topic;
// a will message flips it to "offline" on unexpected disconnects.
//
// Events are acknowledged manually, and only after they have been
// dispatched (successfully or not) or found undecodable. Dispatch runs on
// a small worker pool off the receive path. The session outlives short
// restarts, so events still unacknowledged at shutdown are redelivered.
package mqtt
