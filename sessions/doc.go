// Package sessions holds the process-wide cache of shared transport
// sessions.
//
// Stream endpoints that name the same group share one underlying
// transport.Session for the lifetime of the process. The first caller for a
// group opens the session, using its configuration file when one is given;
// every later caller receives the cached session and its configuration path
// is ignored. Whichever endpoint starts first therefore pins the
// configuration of its group.
//
// Sessions are never evicted. There is no teardown API; entries live until
// the process exits. Tests that need isolation construct their own Registry
// or use unique group names against Default.
//
// Endpoints that do not name a group call OpenPrivate and own the returned
// session outright.
package sessions
