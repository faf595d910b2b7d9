package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestAtOrdersByTime(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	later := At(ts.Add(time.Millisecond))
	earlier := At(ts)
	assert.Less(t, earlier, later)
	assert.Len(t, earlier, 26)
}

func TestClientOrderID(t *testing.T) {
	t.Parallel()

	cid := ClientOrderID()
	assert.True(t, strings.HasPrefix(cid, "fxhook-"))
	assert.Len(t, cid, len("fxhook-")+26)
}
