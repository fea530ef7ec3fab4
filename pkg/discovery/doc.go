// Package discovery advertises and finds timer services with mDNS/DNS-SD.
//
// Only services listening on TCP are advertised; unix sockets are local by
// nature. The service type is _mytimer._tcp in the local domain. The
// instance name defaults to "mytimer-<hostname>".
//
// TXT records:
//   - pv: wire protocol version (major.minor), required
//   - cap: capacity limit at advertisement time, optional
//   - host: host name of the service, optional
//
// Browsers skip services whose protocol major version differs from
// version.Current.
package discovery
