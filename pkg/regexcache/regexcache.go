// Package regexcache caches compiled regular expressions so matcher
// and extraction patterns compile once per process, not once per
// response.
package regexcache

import (
	"regexp"
	"sync"
)

var cache sync.Map // pattern string -> *regexp.Regexp

// Get returns the compiled form of pattern, compiling and caching it
// on first use. Invalid patterns return the compile error.
func Get(pattern string) (*regexp.Regexp, error) {
	if cached, ok := cache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := cache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// MustGet is Get for patterns known valid at compile time. It panics
// on an invalid pattern.
func MustGet(pattern string) *regexp.Regexp {
	re, err := Get(pattern)
	if err != nil {
		panic(err)
	}
	return re
}

// Precompile warms the cache with the given patterns, returning the
// compile errors for any that fail.
func Precompile(patterns ...string) []error {
	var errs []error
	for _, p := range patterns {
		if _, err := Get(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Size returns the number of cached expressions.
func Size() int {
	n := 0
	cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
