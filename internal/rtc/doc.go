// Package rtc defines the boundary to the selective-forwarding media engine.
//
// The engine itself (SFU routing, codec negotiation, DTLS/ICE) is an external
// system; this package models only the surface the bridge needs:
//
//   - Router capability discovery for the viewer capability handshake.
//   - Plain RTP transports that forward one producer's media to a local UDP
//     endpoint, which the transcoder reads.
//   - Receive-side WebRTC transports and consumers handed to remote viewers
//     through the signaling channel.
//
// Engine is the abstract contract. HTTPEngine is the concrete adapter that
// speaks to the engine's control API over authenticated HTTP, mirroring how
// the rest of the system integrates external media services. Capability and
// codec payloads reuse pion's RTP types so the wire model matches what real
// WebRTC stacks exchange.
//
// ICE and DTLS parameters are carried opaquely (json.RawMessage): the bridge
// relays them between engine and viewer but never interprets them.
package rtc
