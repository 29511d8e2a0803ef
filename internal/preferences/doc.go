// Package preferences persists small JSON documents by key.
//
// The plugin layer stores the user's selected release per plugin under the
// "selectedRelease" key as a map from plugin name to release. SQLiteStore
// writes to the preferences table; MemoryStore backs tests and one-shot CLI
// commands.
package preferences
