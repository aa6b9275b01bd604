// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package lightning

import (
	"encoding/binary"
	"sync"
)

// Cache is the external collaborator boundary for cell/segment caching
// described in spec.md §6: an opaque byte-keyed blob store. No
// production KV/Redis client exists anywhere in the retrieval pack
// this module was built from, so only the contract and an in-process
// reference implementation are provided here (documented in DESIGN.md).
type Cache interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key []byte, value []byte) error
}

// MemoryCache is a process-local Cache backed by a mutex-guarded map.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: map[string][]byte{}}
}

func (m *MemoryCache) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryCache) Set(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// fingerprintTag compresses a source's (possibly long) Fingerprint
// string into the 4-byte tag used in cache keys, per spec.md §4.4: the
// low 32 bits of its blake2b-256 sum, the same hashing library the
// teacher uses for content fingerprints (slicenumpy.go).
func fingerprintTag(fingerprint string) [4]byte {
	sum := blake2bSum(fingerprint)
	var tag [4]byte
	copy(tag[:], sum[:4])
	return tag
}

// cellCacheKey builds the cache key for a computed cell, per spec.md
// §4.4: fingerprint tag, sample-subset name, chromosome, statistic
// kind byte, and the cell's Morton Z code.
func cellCacheKey(fingerprint, subsetName, chromosome string, kind StatKind, z uint64) []byte {
	tag := fingerprintTag(fingerprint)
	key := make([]byte, 0, 4+len(subsetName)+1+len(chromosome)+1+1+8)
	key = append(key, tag[:]...)
	key = append(key, subsetName...)
	key = append(key, 0)
	key = append(key, chromosome...)
	key = append(key, 0)
	key = append(key, byte(kind))
	var zb [8]byte
	binary.BigEndian.PutUint64(zb[:], z)
	key = append(key, zb[:]...)
	return key
}

// segmentCacheKey builds the cache key for a loaded segment's names,
// per spec.md §4.4: fingerprint tag, sample-subset name, chromosome,
// start_bp, stop_bp.
func segmentCacheKey(fingerprint, subsetName, chromosome string, startBP, stopBP uint64) []byte {
	tag := fingerprintTag(fingerprint)
	key := make([]byte, 0, 4+len(subsetName)+1+len(chromosome)+1+8+8)
	key = append(key, tag[:]...)
	key = append(key, subsetName...)
	key = append(key, 0)
	key = append(key, chromosome...)
	key = append(key, 0)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], startBP)
	key = append(key, b[:]...)
	binary.BigEndian.PutUint64(b[:], stopBP)
	key = append(key, b[:]...)
	return key
}
