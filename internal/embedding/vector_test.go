package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	vecs := [][]float32{
		{},
		{0},
		{1.5, -2.25, 3.125},
		{math.MaxFloat32, math.SmallestNonzeroFloat32, -0.000123},
	}

	for _, v := range vecs {
		got := Unpack(Pack(v))
		if len(got) != len(v) {
			t.Fatalf("round trip changed length: %d != %d", len(got), len(v))
		}
		for i := range v {
			if math.Abs(float64(got[i]-v[i])) > 1e-5 {
				t.Errorf("component %d: got %v, want %v", i, got[i], v[i])
			}
		}
	}
}

func TestUnpackIgnoresTrailingBytes(t *testing.T) {
	b := append(Pack([]float32{1, 2}), 0xAB, 0xCD)
	got := Unpack(b)
	if len(got) != 2 {
		t.Fatalf("expected 2 components, got %d", len(got))
	}
}

func TestCosine(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5}

	if got := Cosine(v, v); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("cosine(v,v) = %v, want 1", got)
	}
	if got := Cosine(v, []float32{0, 0, 0}); got != 0 {
		t.Errorf("cosine(v,0) = %v, want 0", got)
	}
	if got := Cosine(v, []float32{1, 2}); got != 0 {
		t.Errorf("cosine on mismatched lengths = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("cosine of orthogonal vectors = %v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1.0) > 1e-6 {
		t.Errorf("cosine of opposed vectors = %v, want -1", got)
	}
}

type stubEngine struct {
	vec  []float32
	err  error
	dims int
}

func (s *stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}
func (s *stubEngine) Dimensions() int { return s.dims }
func (s *stubEngine) Name() string    { return "stub" }

func TestTryEmbedDegradesOnFailure(t *testing.T) {
	e := NewEmbedderFromEngine(&stubEngine{err: errors.New("down"), dims: 3})

	if _, ok := e.TryEmbed(context.Background(), "hello"); ok {
		t.Error("TryEmbed should report ok=false when the engine errors")
	}
}

func TestTryEmbedSuccess(t *testing.T) {
	e := NewEmbedderFromEngine(&stubEngine{vec: []float32{1, 2, 3}, dims: 3})

	vec, ok := e.TryEmbed(context.Background(), "hello")
	if !ok {
		t.Fatal("TryEmbed failed")
	}
	if len(vec) != 3 {
		t.Errorf("got %d dims, want 3", len(vec))
	}
}

func TestTryEmbedEmptyText(t *testing.T) {
	e := NewEmbedderFromEngine(&stubEngine{vec: []float32{1}, dims: 1})
	if _, ok := e.TryEmbed(context.Background(), ""); ok {
		t.Error("empty text should not be embedded")
	}
}
