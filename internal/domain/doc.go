// Package domain holds the data model shared by the engine, the orchestrator
// and the adapters: workflow graphs, execution runs, thread states, log
// entries, accounts, proxies and the error taxonomy.
package domain
