// Vector Index component: exposes full_scan, a k-NN cosine scan over
// any table's vector BLOB column. vector_distance_cos is the scalar function
// vec_compat.go registers; this file is the thin Go-level wrapper around it
// plus the embedding codec shared by every table that stores a vector BLOB.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"mementor/internal/merr"
)

// VectorMatch is one full_scan result: a row identifier and its cosine
// distance (smaller is more similar) from the query vector.
type VectorMatch struct {
	RowID    int64
	Distance float64
}

// encodeEmbedding packs a float32 vector into the little-endian blob layout
// vector_distance_cos expects.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks an encodeEmbedding blob back into a float32 vector.
func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, merr.New(merr.Invariant, fmt.Sprintf("embedding blob length %d not a multiple of 4", len(blob)))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// EncodeEmbedding is the exported form of encodeEmbedding, for callers in
// other packages (e.g. internal/centroid) that store raw vector BLOBs using
// this package's layout.
func EncodeEmbedding(vec []float32) []byte { return encodeEmbedding(vec) }

// DecodeEmbedding is the exported form of decodeEmbedding.
func DecodeEmbedding(blob []byte) ([]float32, error) { return decodeEmbedding(blob) }

// FullScan runs a k-NN cosine-distance scan against table's vector column,
// ordering ascending by distance (smaller = more similar) and returning at
// most k rows. table, idColumn, and vectorColumn are always one of this
// package's own fixed schema identifiers, never caller-supplied, so
// building the query by format string carries no injection risk.
func (s *Store) FullScan(ctx context.Context, table, idColumn, vectorColumn string, query []float32, k int) ([]VectorMatch, error) {
	if len(query) == 0 {
		return nil, merr.New(merr.Invariant, "full_scan: empty query vector")
	}
	if k <= 0 {
		return nil, nil
	}

	blob := encodeEmbedding(query)
	q := fmt.Sprintf(
		"SELECT %s, vector_distance_cos(%s, ?) AS distance FROM %s WHERE %s IS NOT NULL ORDER BY distance ASC LIMIT ?",
		idColumn, vectorColumn, table, vectorColumn,
	)

	rows, err := s.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "vector full_scan failed", err)
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var m VectorMatch
		if err := rows.Scan(&m.RowID, &m.Distance); err != nil {
			return nil, merr.Wrap(merr.Storage, "scanning full_scan row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// unitNormEpsilon bounds the invariant that every stored embedding has
// Euclidean norm within this epsilon of 1.
const unitNormEpsilon = 1e-3

// IsUnitNorm reports whether vec's Euclidean norm is within unitNormEpsilon of 1.
func IsUnitNorm(vec []float32) bool {
	var sumSq float64
	for _, f := range vec {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	return math.Abs(norm-1) <= unitNormEpsilon
}
