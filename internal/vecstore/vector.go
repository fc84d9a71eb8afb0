package vecstore

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a. Callers must have verified
// the vectors share a dimension.
func cosine(a, b []float32, aNorm float32) float32 {
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScore holds only the ID and score during the scan phase of a search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// topK pops the heap into a slice ordered by descending score, plus a
// score lookup by id.
func (h *idScoreHeap) drain() ([]string, map[string]float32) {
	ids := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}
	return ids, scores
}
