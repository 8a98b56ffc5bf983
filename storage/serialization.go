// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/verbatim/core"
)

// recordVersion prefixes every encoded EmbeddingRecord.
const recordVersion = 1

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := varint.Uint64.Unmarshal(data)
	return core.ID(id), err
}

// MarshalInt serializes an int to bytes.
func MarshalInt(v int) []byte {
	buf := make([]byte, varint.Int.Size(v))
	varint.Int.Marshal(v, buf)
	return buf
}

// UnmarshalInt deserializes an int from bytes.
func UnmarshalInt(data []byte) (int, error) {
	v, _, err := varint.Int.Unmarshal(data)
	return v, err
}

// MarshalRecord serializes an EmbeddingRecord to bytes.
func MarshalRecord(record *core.EmbeddingRecord) []byte {
	buf := make([]byte, recordSize(record))
	e := encoder{bs: buf}
	e.int(recordVersion)
	e.chunk(&record.Chunk)
	e.int(len(record.Vector))
	for _, f := range record.Vector {
		e.float32(f)
	}
	e.uint64(record.Seq)
	e.int64(timeToMicro(record.IndexedAt))
	return buf[:e.n]
}

// UnmarshalRecord deserializes an EmbeddingRecord from bytes.
func UnmarshalRecord(data []byte) (*core.EmbeddingRecord, error) {
	d := decoder{bs: data}
	if version := d.int(); d.err == nil && version != recordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", ErrSerializationFailed, version)
	}

	record := &core.EmbeddingRecord{}
	d.chunk(&record.Chunk)

	n := d.int()
	if d.err == nil && (n < 0 || n > len(data)) {
		return nil, fmt.Errorf("%w: vector length %d", ErrTruncatedData, n)
	}
	if d.err == nil && n > 0 {
		record.Vector = make([]float32, n)
		for i := range record.Vector {
			record.Vector[i] = d.float32()
		}
	}
	record.Seq = d.uint64()
	record.IndexedAt = microToTime(d.int64())

	if d.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, d.err)
	}
	return record, nil
}

func recordSize(record *core.EmbeddingRecord) int {
	c := &record.Chunk
	size := varint.Int.Size(recordVersion)
	size += ord.String.Size(c.ID) + ord.String.Size(c.DocumentID) + ord.String.Size(c.Source)
	size += varint.Int.Size(c.Index) + ord.String.Size(c.Text)
	size += varint.Int.Size(c.Start) + varint.Int.Size(c.End)
	size += ord.String.Size(c.Speaker) + ord.Bool.Size(c.IsModerator)
	size += ord.String.Size(c.Demographics.Gender) + ord.String.Size(c.Demographics.AgeRange)
	size += varint.Int.Size(c.Demographics.AgeLow) + varint.Int.Size(c.Demographics.AgeHigh)
	size += ord.String.Size(c.Demographics.Site)
	size += ord.String.Size(c.Timestamp) + varint.Uint64.Size(uint64(c.Hash))
	size += varint.Int.Size(len(record.Vector))
	for _, f := range record.Vector {
		size += raw.Float32.Size(f)
	}
	size += varint.Uint64.Size(record.Seq)
	size += varint.Int64.Size(timeToMicro(record.IndexedAt))
	return size
}

// Unix micro timestamps, zero time encodes as 0.
func timeToMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

type encoder struct {
	bs []byte
	n  int
}

func (e *encoder) string(v string)   { e.n += ord.String.Marshal(v, e.bs[e.n:]) }
func (e *encoder) bool(v bool)       { e.n += ord.Bool.Marshal(v, e.bs[e.n:]) }
func (e *encoder) int(v int)         { e.n += varint.Int.Marshal(v, e.bs[e.n:]) }
func (e *encoder) int64(v int64)     { e.n += varint.Int64.Marshal(v, e.bs[e.n:]) }
func (e *encoder) uint64(v uint64)   { e.n += varint.Uint64.Marshal(v, e.bs[e.n:]) }
func (e *encoder) float32(v float32) { e.n += raw.Float32.Marshal(v, e.bs[e.n:]) }

func (e *encoder) chunk(c *core.Chunk) {
	e.string(c.ID)
	e.string(c.DocumentID)
	e.string(c.Source)
	e.int(c.Index)
	e.string(c.Text)
	e.int(c.Start)
	e.int(c.End)
	e.string(c.Speaker)
	e.bool(c.IsModerator)
	e.string(c.Demographics.Gender)
	e.string(c.Demographics.AgeRange)
	e.int(c.Demographics.AgeLow)
	e.int(c.Demographics.AgeHigh)
	e.string(c.Demographics.Site)
	e.string(c.Timestamp)
	e.uint64(uint64(c.Hash))
}

// decoder reads fields in order and keeps the first error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) string() (v string) {
	if d.err == nil {
		var n int
		v, n, d.err = ord.String.Unmarshal(d.bs[d.n:])
		d.n += n
	}
	return
}

func (d *decoder) bool() (v bool) {
	if d.err == nil {
		var n int
		v, n, d.err = ord.Bool.Unmarshal(d.bs[d.n:])
		d.n += n
	}
	return
}

func (d *decoder) int() (v int) {
	if d.err == nil {
		var n int
		v, n, d.err = varint.Int.Unmarshal(d.bs[d.n:])
		d.n += n
	}
	return
}

func (d *decoder) int64() (v int64) {
	if d.err == nil {
		var n int
		v, n, d.err = varint.Int64.Unmarshal(d.bs[d.n:])
		d.n += n
	}
	return
}

func (d *decoder) uint64() (v uint64) {
	if d.err == nil {
		var n int
		v, n, d.err = varint.Uint64.Unmarshal(d.bs[d.n:])
		d.n += n
	}
	return
}

func (d *decoder) float32() (v float32) {
	if d.err == nil {
		var n int
		v, n, d.err = raw.Float32.Unmarshal(d.bs[d.n:])
		d.n += n
	}
	return
}

func (d *decoder) chunk(c *core.Chunk) {
	c.ID = d.string()
	c.DocumentID = d.string()
	c.Source = d.string()
	c.Index = d.int()
	c.Text = d.string()
	c.Start = d.int()
	c.End = d.int()
	c.Speaker = d.string()
	c.IsModerator = d.bool()
	c.Demographics.Gender = d.string()
	c.Demographics.AgeRange = d.string()
	c.Demographics.AgeLow = d.int()
	c.Demographics.AgeHigh = d.int()
	c.Demographics.Site = d.string()
	c.Timestamp = d.string()
	c.Hash = core.ID(d.uint64())
}
