package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphabetIsCanonical(t *testing.T) {
	t.Parallel()

	require.Len(t, Alphabet, AlphabetSize)
	require.NoError(t, Validate(Alphabet))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Validate("abc"))
	assert.Error(t, Validate(Alphabet[:78]+"A")) // right length, duplicate 'A'
	assert.NoError(t, Validate(Alphabet))
}

func TestFromIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		i    int64
		want string
	}{
		{name: "first index", i: 0, want: "A"},
		{name: "last single char", i: 78, want: "?"},
		{name: "first double char", i: 79, want: "AA"},
		{name: "second double char", i: 80, want: "AB"},
		{name: "last double char", i: 79 + 79*79 - 1, want: "??"},
		{name: "first triple char", i: 79 + 79*79, want: "AAA"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := FromIndex(tt.i, Alphabet)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromIndexFirstBlockMatchesAlphabetOrder(t *testing.T) {
	t.Parallel()

	for i := 0; i < AlphabetSize; i++ {
		got, err := FromIndex(int64(i), Alphabet)
		require.NoError(t, err)
		assert.Equal(t, string(Alphabet[i]), got)
	}
}

func TestFromIndexErrors(t *testing.T) {
	t.Parallel()

	_, err := FromIndex(-1, Alphabet)
	assert.ErrorIs(t, err, ErrNegativeIndex)

	_, err = FromIndex(0, "x")
	assert.ErrorIs(t, err, ErrAlphabetTooSmall)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	indices := []int64{0, 1, 78, 79, 80, 6241, 6319, 6320, 500_000, 1_000_000_007}
	for _, i := range indices {
		s, err := FromIndex(i, Alphabet)
		require.NoError(t, err)
		back, err := IndexOf(s, Alphabet)
		require.NoError(t, err)
		assert.Equal(t, i, back, "candidate %q", s)
	}
}

func TestRoundTripSmallAlphabetExhaustive(t *testing.T) {
	t.Parallel()

	const alpha = "ab"
	for i := int64(0); i < 2+4+8+16; i++ {
		s, err := FromIndex(i, alpha)
		require.NoError(t, err)
		back, err := IndexOf(s, alpha)
		require.NoError(t, err)
		require.Equal(t, i, back)
	}
}

func TestIndexOfErrors(t *testing.T) {
	t.Parallel()

	_, err := IndexOf("", Alphabet)
	assert.ErrorIs(t, err, ErrEmptyCandidate)

	_, err = IndexOf("A B", Alphabet)
	assert.ErrorIs(t, err, ErrNotInAlphabet)
}

func TestSpaceSize(t *testing.T) {
	t.Parallel()

	n, err := SpaceSize(1, Alphabet)
	require.NoError(t, err)
	assert.Equal(t, int64(79), n)

	n, err = SpaceSize(2, Alphabet)
	require.NoError(t, err)
	assert.Equal(t, int64(79+79*79), n)

	n, err = SpaceSize(3, "ab")
	require.NoError(t, err)
	assert.Equal(t, int64(2+4+8), n)

	_, err = SpaceSize(0, Alphabet)
	assert.Error(t, err)

	// 79^10 alone exceeds int64.
	_, err = SpaceSize(11, Alphabet)
	assert.ErrorIs(t, err, ErrIndexOverflow)
}
