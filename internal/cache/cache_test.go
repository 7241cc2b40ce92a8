package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsStableAndPositional(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("b", "a"))
	assert.NotEqual(t, Key("query"), Key("other"))
}

func TestPutGet(t *testing.T) {
	s := New(time.Minute)
	key := Key("今日新闻")

	_, ok := s.Get(key)
	assert.False(t, ok)

	s.Put(key, "snippet")
	got, ok := s.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "snippet", got)
}

func TestExpiry(t *testing.T) {
	s := New(10 * time.Millisecond)
	s.Put("k", "v")

	time.Sleep(20 * time.Millisecond)
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s := New(0)
	s.Put("k", "v")

	time.Sleep(5 * time.Millisecond)
	got, ok := s.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)
}
