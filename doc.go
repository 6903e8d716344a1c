// Package auth is the access layer of the budget portal: it turns the
// session cookie into a verified identity and decides, per route, whether a
// request may go on.
//
// Sessions:
//   - TokenCodec signs and verifies the portal session token (HS256). The
//     signing key is injected at construction; a missing role claim never
//     authenticates.
//   - SessionService logs in and refreshes against the upstream IdentityAPI,
//     decodes the upstream grant and mints the portal session. CookieJar
//     writes and clears the session, api_token and refresh_token cookies.
//   - SessionController exposes login, refresh and logout over go-router.
//
// Gateway:
//   - Gateway classifies each request with a routes.Policy, verifies the
//     session for protected paths and checks the role against the ordered
//     zone table. It either forwards with the Identity in router locals and
//     the request context, redirects to the login page (clearing cookies on
//     auth errors) or redirects to the forbidden page.
//
// Activity sinks:
//   - ActivitySink receives login, refresh, logout and route denial events.
//     Sinks run best effort so a slow audit consumer never blocks a request.
//     The approval package publishes plan transitions through the same sink.
//
// Errors are go-errors values with stable text codes; use TextCode,
// HasTextCode, IsAuthError and HTTPStatus rather than comparing messages.
package auth
