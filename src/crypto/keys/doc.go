// Package keys implements the public key cryptography used by ledger
// witnesses and node identities.
//
// Keys live on the secp256k1 curve. Public keys travel in their 33-byte
// compressed form and signatures in DER, so that a transaction output can be
// locked to a public key and its spending input unlocked by a signature over
// the transaction's unsigned hash.
package keys
