// Package storage is the single serialized access point to the bot's sqlite
// database.
//
// One *sql.DB with a single open connection sits behind a mutex. Every read or
// write runs inside Store.WithCursor, which holds the mutex for the whole
// transaction. Multi-step operations that must look atomic to other
// goroutines compose inside one WithCursor call; nested calls that receive the
// cursor's context join the outer transaction.
package storage
