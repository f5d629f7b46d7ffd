// Package chat implements the real-time chat and presence surface for the
// study planner: websocket message exchange, an online-user registry, and
// durable message history with paged retrieval.
package chat
