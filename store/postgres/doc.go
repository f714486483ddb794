// Package postgres implements store.Store on PostgreSQL with pgx/v5.
//
// Reserve claims rows with a single UPDATE over a FOR UPDATE SKIP LOCKED
// subquery, so concurrent workers never block on or share a row. The
// schema ships as embedded SQL files applied by Migrate.
package postgres
