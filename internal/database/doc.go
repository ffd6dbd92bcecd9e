// Package database provides connection pool management and schema setup for
// the PostgreSQL database that backs the marketplace store.
//
// Tables:
//   - users, banned_pairs: participants and their directed bans
//   - rounds: batch windows, concluded at most once
//   - buy_orders, sell_orders: orders, pending until assigned to a round
//   - matches, chat_rooms: conclusion output
package database
