// Package directory holds the user and organisation records the
// authorization engine resolves against.
//
// It deliberately stays small: identity, lifecycle status and tenant
// membership. Authentication is the gateway's job, and everything
// permission-shaped lives in pkg/rbac and pkg/catalog.
//
// The list endpoints apply organisation scope: an administrator of an
// ordinary customer organisation only ever sees their own tenant, while
// internal operators see everything. Status changes drop the affected
// user's cached decision sets so a suspension takes effect on the next
// check.
package directory
