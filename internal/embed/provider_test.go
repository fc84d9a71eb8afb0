package embed

import (
	"context"
	"errors"
	"testing"
)

// fakeEngine returns vectors of a fixed length.
type fakeEngine struct {
	dim   int
	calls int
	err   error
}

func (f *fakeEngine) Embed(ctx context.Context, model, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32(len(text)) * 0.01
	}
	return v, nil
}

func TestNewProvider_VerifiesDimension(t *testing.T) {
	eng := &fakeEngine{dim: 384}
	p, err := NewProvider(context.Background(), eng, "test-embed", 384)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Dimension() != 384 {
		t.Errorf("Dimension = %d, want 384", p.Dimension())
	}
	if eng.calls != 1 {
		t.Errorf("probe calls = %d, want 1", eng.calls)
	}
}

func TestNewProvider_DimensionMismatchFailsFast(t *testing.T) {
	// Model produces 768-d vectors but the system constant is 384.
	_, err := NewProvider(context.Background(), &fakeEngine{dim: 768}, "test-embed", 384)
	if err == nil {
		t.Fatal("expected startup failure on dimension mismatch")
	}
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("error type = %T, want *DimensionError", err)
	}
	if dimErr.Want != 384 || dimErr.Got != 768 {
		t.Errorf("DimensionError = %+v", dimErr)
	}
}

func TestNewProvider_InvalidDimension(t *testing.T) {
	if _, err := NewProvider(context.Background(), &fakeEngine{dim: 384}, "m", 0); err == nil {
		t.Error("expected error for non-positive dimension")
	}
}

func TestEmbed_EnforcesDimension(t *testing.T) {
	eng := &fakeEngine{dim: 384}
	p, err := NewProvider(context.Background(), eng, "test-embed", 384)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	vec, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("len(vec) = %d, want 384", len(vec))
	}

	// Simulate a backend that starts returning the wrong length mid-flight.
	eng.dim = 768
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Error("expected DimensionError after backend drift")
	}
}

func TestEmbedBatch(t *testing.T) {
	p, err := NewProvider(context.Background(), &fakeEngine{dim: 8}, "m", 8)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 8 {
			t.Errorf("vector %d has length %d, want 8", i, len(v))
		}
	}

	empty, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || empty != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", empty, err)
	}
}
