// Package httpcfg implements the provisioning configuration endpoint: a
// minimal HTTP/1.1-like server that lists discovered networks and accepts
// a submitted SSID/password pair.
//
// # Protocol
//
// The server speaks just enough HTTP for a phone or laptop browser joined
// to the provisioning access point:
//
//   - GET / (or any non-matching request) returns the configuration page
//     with the current scan results as clickable entries plus a
//     manual-entry form posting to /connect.
//   - POST /connect with body "ssid=<v>&password=<v>" returns a success
//     page and fires the credential callback.
//
// Each connection carries exactly one request; the server responds and
// closes. There are no persistent connections and no per-request
// cancellation; the only cancellation primitive is closing the listening
// socket during Stop.
//
// # Parsing
//
// Requests are parsed by literal token search over a single 1024-byte
// read, not by a structured HTTP parser, and form values are decoded with
// '+'-for-space only; percent-escapes pass through verbatim. This is a
// deliberate wire-compatibility choice: the served form is the only
// intended client, and its values round-trip exactly. SSIDs or passwords
// containing reserved characters submitted by third-party clients will
// not decode correctly.
//
// # Discovery
//
// While running, the server best-effort announces itself over mDNS as
// "PicoW Setup" (_http._tcp) so clients on the provisioning network can
// find the page without typing the fixed AP address.
package httpcfg
