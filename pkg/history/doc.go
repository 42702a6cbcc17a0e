// Package history provides conversation history stores.
//
// Every store keeps an ordered list of llm.ChatMessage per session id and
// offers the same three operations: Append, List and Clear. Memory keeps the
// messages in process; SQLite persists them to a database file so a
// conversation survives restarts.
//
//	store, err := history.OpenSQLite(ctx, "history.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	ag := agent.New(client, registry, agent.WithHistoryStore(store))
package history

import "errors"

// ErrEmptySessionID is returned when appending without a session id
var ErrEmptySessionID = errors.New("history: empty session id")
