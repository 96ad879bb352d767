package tokens

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEncoder struct {
	panics bool
}

func (f fakeEncoder) Encode(text string, _ []string, _ []string) []int {
	if f.panics {
		panic("boom")
	}
	return make([]int, len(strings.Fields(text)))
}

func TestCountEmpty(t *testing.T) {
	e := NewEstimatorWithLoader("x", func(string) (Encoder, error) { return fakeEncoder{}, nil })
	assert.Equal(t, 0, e.Count(""))
}

func TestCountUsesEncoder(t *testing.T) {
	e := NewEstimatorWithLoader("x", func(string) (Encoder, error) { return fakeEncoder{}, nil })
	assert.Equal(t, 3, e.Count("one two three"))
}

func TestCountFallsBackWhenLoadFails(t *testing.T) {
	e := NewEstimatorWithLoader("missing", func(string) (Encoder, error) { return nil, errors.New("no ranks") })
	text := "hello world"
	assert.Equal(t, Heuristic(text), e.Count(text))
}

func TestCountFallsBackWhenEncoderPanics(t *testing.T) {
	e := NewEstimatorWithLoader("x", func(string) (Encoder, error) { return fakeEncoder{panics: true}, nil })
	text := "hello world"
	assert.Equal(t, Heuristic(text), e.Count(text))
}

func TestEncoderLoadedOnce(t *testing.T) {
	var loads int32
	e := NewEstimatorWithLoader("x", func(string) (Encoder, error) {
		atomic.AddInt32(&loads, 1)
		return fakeEncoder{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Count("a b c")
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&loads))
}

func TestHeuristic(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"ascii word", "abcd", 1},
		{"ascii words", "abcd efgh", 2},
		{"punctuation", "!!", 1},
		{"cjk", "你好世界", 4},
		{"whitespace only", "   ", 1},
		{"rounds up", "abcde", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Heuristic(tt.text))
		})
	}
}

func TestHeuristicStable(t *testing.T) {
	text := strings.Repeat("The quick brown fox, jumps! ", 50)
	first := Heuristic(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Heuristic(text))
	}
	assert.Greater(t, first, 0)
}
