// Package item defines the typed records held by every commerce collection.
//
// An Item has a fixed core (id, quantity, selected) and a bounded display
// cache (name, price, image, category). The display cache is carried for
// rendering only and may be stale; nothing in the engine treats it as
// authoritative.
//
// # Identity Keys
//
// Local copies of a collection are keyed by collection kind and actor:
//
//	cart_guest          guest accumulation buffer
//	cart_<userID>       mirror of a signed-in user's remote cart
//
// # ID Normalization
//
// Item IDs are NFC-normalized and trimmed at every boundary (user input,
// local decode, remote decode) so the same catalog id never appears twice
// under two byte encodings.
package item
