/*
Hashing is the determinism kernel every replay-authoritative row is built on.

# Module
  - preimage: fixed-order, pipe-delimited canonical text of a row
  - row hash: sha-256 of the preimage, 64 lowercase hex chars
  - run seed: identity hash of one decision cycle
  - replay root: hash-of-hashes over the ordered, versioned table list

# Rules
  - NULL is the literal token \N
  - timestamps are UTC ISO-8601 with microseconds
  - decimals are fixed to DecimalScale places, -0 is written as 0
  - booleans are t / f
*/
package hashing
