package normalizer

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short":  "black leather wallet with id cards",
	"medium": "Found near the main library entrance: a dark blue backpack containing two notebooks, a graphing calculator, a water bottle with stickers and a set of house keys on a red lanyard.",
	"long":   strings.Repeat("Silver wristwatch with a cracked face and brown strap, left on the bench beside the basketball court after evening practice. ", 20),
}

func BenchmarkNormalize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_, _ = Normalize(text)
			}
		})
	}
}

func BenchmarkNormalizeVaryingSize(b *testing.B) {
	sizes := []int{10, 100, 500, 1000}
	baseWord := "lost wallet found keys umbrella charger "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_, _ = Normalize(text)
			}
		})
	}
}
