package imap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageRange_Contains(t *testing.T) {
	tests := []struct {
		rng  MessageRange
		uid  UID
		want bool
	}{
		{rng: All(), uid: 1, want: true},
		{rng: All(), uid: UID(^uint32(0)), want: true},
		{rng: One(3), uid: 3, want: true},
		{rng: One(3), uid: 4, want: false},
		{rng: Range(2, 4), uid: 2, want: true},
		{rng: Range(2, 4), uid: 4, want: true},
		{rng: Range(2, 4), uid: 5, want: false},
		{rng: Range(4, 2), uid: 3, want: false},
		{rng: From(10), uid: 9, want: false},
		{rng: From(10), uid: 1000, want: true},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.rng.String()+"/"+tc.uid.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rng.Contains(tc.uid))
		})
	}
}

func TestMessageRange_IsEmpty(t *testing.T) {
	assert.True(t, Range(5, 4).IsEmpty())
	assert.False(t, Range(4, 4).IsEmpty())
	assert.False(t, One(0).IsEmpty())
	assert.False(t, All().IsEmpty())
}

func TestMessageRange_String(t *testing.T) {
	assert.Equal(t, "1:*", All().String())
	assert.Equal(t, "7", One(7).String())
	assert.Equal(t, "2:9", Range(2, 9).String())
	assert.Equal(t, "5:*", From(5).String())
}
