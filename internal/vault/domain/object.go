package domain

import "time"

// WrappedKey is a DEK wrapped by the key-management backend, paired with
// the key version it was wrapped under so a later unwrap can select the
// right key after rotation. The blob is opaque to this core.
type WrappedKey struct {
	KeyVersion string
	Blob       []byte
}

// VaultObject is the metadata record for one encrypted blob. The wrapped
// DEK lives in this record so that deleting the record removes the key
// material and the ciphertext pointer as one unit; the plaintext DEK is
// never stored anywhere.
type VaultObject struct {
	ID         string // uuid, collision resistant
	Owner      string // user id
	Filename   string
	IV         []byte // unique per object, never reused under its DEK
	WrappedDEK WrappedKey
	CreatedAt  time.Time
}

// ObjectSummary is the listing view: never ciphertext, never key material.
type ObjectSummary struct {
	ID        string
	Filename  string
	CreatedAt time.Time
}
