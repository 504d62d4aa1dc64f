// Package session manages a single device-code ("short code") login against
// the remote identity API: requesting and polling the code, keeping the access
// token fresh through its refresh token, caching the user's profile and
// unlocked achievements, and writing the whole session through to disk after
// every change.
package session
