// Package convcache is the direct-message conversation cache.
//
// A Cache holds, per conversation partner (peer id), the message history known to this
// process and the loading state of that history. A Coordinator guards history fetches so
// each peer is fetched at most once while a fetch is outstanding or already satisfied.
// Every mutation goes through one merge function that keeps a conversation strictly ordered
// by creation time and unique by message id. Messenger is the facade used by UI surfaces.
//
// The cache is single-tenant: it is always built for exactly one local user ("self").
package convcache
