// Package feed assembles reverse-chronological news feeds from the posts of
// the accounts a user follows.
//
// A user's feed window lives in an IndexStore as an ordered set of Entry
// values (publish time, post id). Post and user snapshots live in entity
// Stores and are read through a Resolver, which loads from the authoritative
// collaborators (PostStore, UserDirectory) on a miss and caches the result.
//
// The Assembler serves pages from the index while it has entries older than
// the cursor, and falls back to the PostStore when the index is absent or
// exhausted. The Heater seeds an index for a user that has none.
//
// Indexes and snapshots are append/overwrite only, so readers never need a
// lock held across a call into redis or the database.
package feed
