package badger

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so we use prefixed keys to organize the
// different record types into logical namespaces. This design:
//   - Prevents key collisions between record types
//   - Enables efficient range scans (e.g., all pending tasks)
//   - Makes the database structure self-documenting
//   - Supports future extensions without schema changes
//
// Key Namespace Prefixes:
//
// Record Type          Prefix   Key Format                    Value Type
// =========================================================================
// Sync Tasks           "t:"     t:<uuidv7>                    Task (JSON)
// Object DEKs          "ok:"    ok:<bucket>/<key>             ObjectKeyRecord (JSON)
// Multipart Sessions   "mp:"    mp:<uploadID>                 MultipartSession (JSON)
// Share Tokens         "sh:"    sh:<uuid>                     Token (JSON)
// Accepted Shares      "as:"    as:<shareID>                  AcceptedRecord (JSON)
// Key Material         "k:"     k:<name>                      opaque bytes
// Schema Version       "cfg:"   cfg:schema                    uint (JSON)
//
// Task IDs are UUIDv7, so a prefix scan over "t:" yields tasks in creation
// order without a secondary index.
//
// Object DEK keys join bucket and object key with "/"; bucket names cannot
// contain "/" so the mapping is unambiguous.

const (
	prefixTask      = "t:"
	prefixObjectKey = "ok:"
	prefixSession   = "mp:"
	prefixToken     = "sh:"
	prefixAccepted  = "as:"
	prefixKeyRecord = "k:"

	keySchemaVersion = "cfg:schema"
)

func keyTask(id string) []byte {
	return []byte(prefixTask + id)
}

func keyObjectKey(bucket, objectKey string) []byte {
	return []byte(prefixObjectKey + bucket + "/" + objectKey)
}

func keySession(uploadID string) []byte {
	return []byte(prefixSession + uploadID)
}

func keyToken(id string) []byte {
	return []byte(prefixToken + id)
}

func keyAccepted(shareID string) []byte {
	return []byte(prefixAccepted + shareID)
}

func keyRecord(name string) []byte {
	return []byte(prefixKeyRecord + name)
}
