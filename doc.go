// Package hippograph is a long-term associative memory engine for a
// conversational agent. It samples chat transcripts, distills them into
// topical summaries via an LLM, and stores them as an undirected weighted
// graph of concepts linked by co-occurrence strength, synchronised to a
// node/edge store.
//
// # Quick Start
//
// The store backends live under internal/, so only packages inside this
// module can import sqlitestore as shown below.
//
//	package main
//
//	import (
//		"context"
//
//		"github.com/duskfield/hippograph"
//		"github.com/duskfield/hippograph/internal/persistence/sqlitestore"
//	)
//
//	func main() {
//		ctx := context.Background()
//		store, _ := sqlitestore.Open(sqlitestore.Options{Path: "memory.db"})
//
//		engine, err := hippograph.Open(ctx, hippograph.DefaultConfig(), hippograph.Collaborators{
//			Store:        store,
//			MessageStore: myMessageStore,
//			LLM:          myLLM,
//			Formatter:    myFormatter,
//		})
//		if err != nil {
//			panic(err)
//		}
//		defer hippograph.Close()
//
//		memories, _ := engine.Recall(ctx, "what did we discuss about cats?", 5, 3, 2)
//		_ = memories
//	}
//
// # Architecture
//
// The engine owns the Graph, Persistence Adapter, Builder, Forgetter,
// Consolidator and Retriever; each is handed a reference to the engine's
// collaborators at construction time rather than holding an owning
// back-reference, avoiding ownership cycles between the engine and its
// subcomponents.
package hippograph
