package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileNameRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 123, 9999} {
		got, ok := ParseFileName(FileName(n))
		assert.True(t, ok, FileName(n))
		assert.Equal(t, n, got)
	}
	assert.Equal(t, "RFC123.txt", FileName(123))
}

func TestParseFileNameRejectsForeignFiles(t *testing.T) {
	for _, name := range []string{"", "RFC.txt", "RFC12", "rfc12.txt", "RFC-1.txt", "RFC012.txt", "RFC1a.txt", "notes.txt"} {
		_, ok := ParseFileName(name)
		assert.False(t, ok, name)
	}
}

func TestIsMetadataEqualComparesInstants(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	a := &Metadata{Number: 1, Title: "One", Length: 3, UpdateTime: now}
	b := &Metadata{Number: 1, Title: "One", Length: 3, UpdateTime: now.UTC()}

	assert.True(t, IsMetadataEqual(a, b))
	assert.False(t, IsMetadataEqual(a, &Metadata{Number: 1, Title: "Uno", Length: 3, UpdateTime: now}))
	assert.False(t, IsMetadataEqual(a, nil))
	assert.True(t, IsMetadataEqual(nil, nil))
}

func TestOwnerAddress(t *testing.T) {
	assert.Equal(t, "hostA:7735", (&Owner{Host: "hostA", Port: 7735}).Address())
	assert.Equal(t, "[::1]:7735", (&Owner{Host: "::1", Port: 7735}).Address())
}
