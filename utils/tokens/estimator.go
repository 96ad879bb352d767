// Package tokens estimates token counts for budgeting and summary triggers.
//
// Counting uses a BPE encoding when one can be loaded and falls back to a
// character-class heuristic otherwise. Count never fails.
package tokens

import (
	"fmt"
	"log"
	"math"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used when none is configured
const DefaultEncoding = "cl100k_base"

func init() {
	// Ranks ship with the binary; no network fetch at runtime.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Counter is the token counting capability shared by the services.
type Counter interface {
	Count(text string) int
}

// Encoder is the subset of a BPE encoding the estimator uses
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// LoadFunc loads an encoder by name
type LoadFunc func(name string) (Encoder, error)

func loadTiktoken(name string) (Encoder, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

type cacheEntry struct {
	once sync.Once
	enc  Encoder
	err  error
}

// Estimator counts tokens. Encoders are loaded once per encoding name and
// are read-only afterwards, so an Estimator is safe for concurrent use.
type Estimator struct {
	encoding string
	load     LoadFunc

	mu    sync.Mutex
	cache map[string]*cacheEntry
	warn  sync.Once
}

// NewEstimator creates an estimator for the named encoding
func NewEstimator(encoding string) *Estimator {
	return NewEstimatorWithLoader(encoding, loadTiktoken)
}

// NewEstimatorWithLoader creates an estimator with a custom encoder loader
func NewEstimatorWithLoader(encoding string, load LoadFunc) *Estimator {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Estimator{
		encoding: encoding,
		load:     load,
		cache:    make(map[string]*cacheEntry),
	}
}

var (
	defaultOnce      sync.Once
	defaultEstimator *Estimator
)

// Default returns a process-wide estimator for DefaultEncoding
func Default() *Estimator {
	defaultOnce.Do(func() {
		defaultEstimator = NewEstimator(DefaultEncoding)
	})
	return defaultEstimator
}

// Count returns a non-negative token count for text. Same input, same output.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}

	enc, err := e.encoder()
	if err != nil {
		e.warn.Do(func() {
			log.Printf("[Tokens] Warning: encoding %s unavailable, using heuristic: %v", e.encoding, err)
		})
		return Heuristic(text)
	}

	n, err := encodeLen(enc, text)
	if err != nil {
		log.Printf("[Tokens] Warning: encode failed, using heuristic: %v", err)
		return Heuristic(text)
	}
	return n
}

func (e *Estimator) encoder() (Encoder, error) {
	e.mu.Lock()
	entry, ok := e.cache[e.encoding]
	if !ok {
		entry = &cacheEntry{}
		e.cache[e.encoding] = entry
	}
	e.mu.Unlock()

	entry.once.Do(func() {
		if e.load == nil {
			entry.err = fmt.Errorf("no encoder loader")
			return
		}
		entry.enc, entry.err = e.load(e.encoding)
		if entry.err == nil && entry.enc == nil {
			entry.err = fmt.Errorf("encoder %s is nil", e.encoding)
		}
	})
	return entry.enc, entry.err
}

func encodeLen(enc Encoder, text string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("encoder panic: %v", r)
		}
	}()
	return len(enc.Encode(text, nil, nil)), nil
}

// Character class weights, in tokens per rune. ASCII word characters follow
// the common ~4 characters per token ratio of BPE tokenizers on English.
const (
	weightASCIIWord   = 0.25
	weightPunctuation = 0.5
	weightLatinExt    = 0.4
	weightCJK         = 1.0
	weightOther       = 0.5
)

// Heuristic estimates tokens from character classes. Whitespace is free,
// ideographic scripts cost about a token per rune.
func Heuristic(text string) int {
	var total float64
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
		case r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			total += weightASCIIWord
		case r < 0x80:
			total += weightPunctuation
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			total += weightCJK
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			total += weightLatinExt
		default:
			total += weightOther
		}
	}
	if total == 0 {
		// whitespace only
		return 1
	}
	return int(math.Ceil(total))
}
