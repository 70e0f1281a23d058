package badger

import (
	"encoding/binary"
	"math"

	"github.com/go-crypt/x/blake2b"
	"github.com/shepsii/dbproxies/core"
	"github.com/shepsii/dbproxies/storage"
)

// Key prefixes for different data types
const (
	recordPrefix = "rec"
	indexPrefix  = "idx"
	metaPrefix   = "meta"
	changePrefix = "chg"
	changeIDSeq  = "chgseq"
)

// makeRecordPrefix generates the prefix shared by every record of a store.
// Format: rec:store:
func makeRecordPrefix(store string) []byte {
	return []byte(recordPrefix + ":" + store + ":")
}

// makeRecordKey generates a key for a record by its serialized id.
// Format: rec:store:id
func makeRecordKey(store string, idKey []byte) []byte {
	prefix := makeRecordPrefix(store)
	buf := make([]byte, len(prefix)+len(idKey))
	offset := copy(buf, prefix)
	copy(buf[offset:], idKey)
	return buf
}

// makeIndexPrefix generates the prefix shared by every index entry of a store.
// Format: idx:store:
func makeIndexPrefix(store string) []byte {
	return []byte(indexPrefix + ":" + store + ":")
}

// makeIndexValuePrefix generates a partial key for index lookups.
// Format: idx:store:field:hash:
func makeIndexValuePrefix(store, field string, hash []byte) []byte {
	prefix := []byte(indexPrefix + ":" + store + ":" + field + ":")
	buf := make([]byte, len(prefix)+len(hash)+1)
	offset := copy(buf, prefix)
	offset += copy(buf[offset:], hash)
	buf[offset] = ':'
	return buf
}

// makeIndexKey generates a composite key for a secondary index entry.
// Format: idx:store:field:hash:id
func makeIndexKey(store, field string, hash, idKey []byte) []byte {
	prefix := makeIndexValuePrefix(store, field, hash)
	buf := make([]byte, len(prefix)+len(idKey))
	offset := copy(buf, prefix)
	copy(buf[offset:], idKey)
	return buf
}

// makeMetaKey generates the key holding a store's layout and version.
func makeMetaKey(store string) []byte {
	return []byte(metaPrefix + ":" + store)
}

// makeChangeKey generates a key for a queued change notification.
// Format: chg:seq
func makeChangeKey(seq uint64) []byte {
	prefix := []byte(changePrefix + ":")
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

// makeIDKey serializes an encoded record id.
func makeIDKey(id any) ([]byte, error) {
	if id == nil || id == "" {
		return nil, storage.ErrMissingID
	}
	return storage.MarshalValue(indexable(id))
}

// hashIndexValue returns a fixed-width hash of an encoded value so index
// keys stay short whatever the value size.
func hashIndexValue(v any) ([]byte, error) {
	bs, err := storage.MarshalValue(indexable(v))
	if err != nil {
		return nil, err
	}
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write(bs)
	return h.Sum(nil), nil
}

// indexable folds numeric kinds so 3 and 3.0 share a key.
func indexable(v any) any {
	f, ok := core.ToFloat(v)
	if !ok {
		return v
	}
	if i, ok := core.ToInt(v); ok && math.Abs(f) < 1<<53 {
		return i
	}
	return f
}
