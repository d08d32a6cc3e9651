package ringbuf

import (
	"slices"
	"testing"
)

func TestRing(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		push     []int
		lastN    int
		want     []int
	}{
		{name: "empty", capacity: 3, lastN: -1, want: []int{}},
		{name: "partial", capacity: 3, push: []int{1, 2}, lastN: -1, want: []int{1, 2}},
		{name: "exactly full", capacity: 3, push: []int{1, 2, 3}, lastN: -1, want: []int{1, 2, 3}},
		{name: "wraps", capacity: 3, push: []int{1, 2, 3, 4, 5}, lastN: -1, want: []int{3, 4, 5}},
		{name: "last n", capacity: 3, push: []int{1, 2, 3, 4, 5}, lastN: 2, want: []int{4, 5}},
		{name: "last zero", capacity: 3, push: []int{1, 2}, lastN: 0, want: []int{}},
		{name: "n larger than size", capacity: 5, push: []int{1, 2}, lastN: 10, want: []int{1, 2}},
		{name: "zero capacity", capacity: 0, push: []int{1, 2}, lastN: -1, want: []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New[int](tt.capacity)
			for _, v := range tt.push {
				r.Push(v)
			}
			got := r.Last(tt.lastN)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Last(%d) = %v, want %v", tt.lastN, got, tt.want)
			}
		})
	}
}

func TestRing_Clear(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len after Clear = %d", r.Len())
	}
	r.Push(7)
	if got := r.Last(-1); !slices.Equal(got, []int{7}) {
		t.Fatalf("Last after Clear and Push = %v", got)
	}
	if r.Cap() != 2 {
		t.Errorf("Cap = %d, want 2", r.Cap())
	}
}
