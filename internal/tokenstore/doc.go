// Package tokenstore provides durable storage for the Qwen OAuth token.
//
// Two backends implement the Store contract:
//
//   - FileStore keeps a JSON credentials file under the user's home
//     directory and transparently adopts credentials written by the
//     Qwen CLI tool (fallback + sync on Load).
//   - DBStore keeps the token on a model_configs row in Postgres, with
//     access and refresh tokens encrypted at rest.
//
// Both backends replace the whole record on Save, so readers never see
// a half-written token.
package tokenstore
