// Package cookie keeps the cookies one fetcher has seen across responses.
package cookie

import (
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Jar maps cookie names to values and renders them as a Cookie header.
//
// A Jar belongs to a single fetcher and is not safe for concurrent use.
type Jar struct {
	names  []string
	values map[string]string
}

// NewJar returns a jar pre-seeded with the given cookies.
func NewJar(seed map[string]string) *Jar {
	j := &Jar{values: make(map[string]string, len(seed))}
	for _, name := range slices.Sorted(maps.Keys(seed)) {
		j.set(name, seed[name])
	}
	return j
}

// Merge folds Set-Cookie header values into the jar. Cookies that the
// server expires are removed; unparseable values are skipped.
func (j *Jar) Merge(setCookies []string) {
	for _, line := range setCookies {
		c, err := http.ParseSetCookie(line)
		if err != nil || c.Name == "" {
			continue
		}
		if c.MaxAge < 0 {
			j.remove(c.Name)
			continue
		}
		j.set(c.Name, c.Value)
	}
}

// String renders the jar as a Cookie header value in insertion order.
func (j *Jar) String() string {
	parts := make([]string, 0, len(j.names))
	for _, name := range j.names {
		parts = append(parts, name+"="+j.values[name])
	}
	return strings.Join(parts, "; ")
}

// Empty reports whether the jar holds no cookies.
func (j *Jar) Empty() bool {
	return len(j.names) == 0
}

// Len returns the number of cookies held.
func (j *Jar) Len() int {
	return len(j.names)
}

// Get returns the value stored for name.
func (j *Jar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

func (j *Jar) set(name, value string) {
	if _, ok := j.values[name]; !ok {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

func (j *Jar) remove(name string) {
	if _, ok := j.values[name]; !ok {
		return
	}
	delete(j.values, name)
	for i, n := range j.names {
		if n == name {
			j.names = append(j.names[:i], j.names[i+1:]...)
			break
		}
	}
}
