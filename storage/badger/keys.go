package badger

import (
	"encoding/binary"
)

// Key prefixes, each followed by ":<collection>:".
const (
	recordPrefix    = "vrec"
	orderPrefix     = "vord"
	dimensionPrefix = "vdim"
	sequencePrefix  = "vseq"
)

func collectionPrefix(prefix, collection string) []byte {
	return []byte(prefix + ":" + collection + ":")
}

// makeRecordKey generates the key of a record by chunk ID.
// Format: vrec:collection:chunkID
func makeRecordKey(collection, chunkID string) []byte {
	return append(collectionPrefix(recordPrefix, collection), chunkID...)
}

// makeOrderKey generates the insertion-order index key.
// Format: vord:collection:seq, with seq in BigEndian so lexicographic order
// matches insertion order.
func makeOrderKey(collection string, seq uint64) []byte {
	prefix := collectionPrefix(orderPrefix, collection)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], seq)
	return buf
}

func makeDimensionKey(collection string) []byte {
	return collectionPrefix(dimensionPrefix, collection)
}

func makeSequenceName(collection string) string {
	return sequencePrefix + ":" + collection
}
