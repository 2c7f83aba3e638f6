package signature

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestSign_CanonicalString(t *testing.T) {
	got, err := Sign([]string{"esim-shop", "500.00", "1042"}, "secretA")
	require.NoError(t, err)
	assert.Equal(t, md5hex("esim-shop:500.00:1042:secretA"), got)
	assert.Equal(t, strings.ToLower(got), got)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	cases := [][]string{
		{"500.00", "1042"},
		{"shop", "1.50", "1"},
		{"99999.99", "2147483647"},
	}
	for _, fields := range cases {
		sig, err := Sign(fields, "s3cr3t")
		require.NoError(t, err)

		ok, err := Verify(fields, "s3cr3t", sig)
		require.NoError(t, err)
		assert.True(t, ok, "fields %v", fields)

		ok, err = Verify(fields, "s3cr3t", strings.ToUpper(sig))
		require.NoError(t, err)
		assert.True(t, ok, "uppercase digest must verify")
	}
}

func TestVerify_WrongSecretOrOrder(t *testing.T) {
	sig, err := Sign([]string{"500.00", "1042"}, "secretB")
	require.NoError(t, err)

	ok, err := Verify([]string{"500.00", "1042"}, "secretA", sig)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Verify([]string{"1042", "500.00"}, "secretB", sig)
	require.NoError(t, err)
	assert.False(t, ok)

	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	ok, err = Verify([]string{"500.00", "1042"}, "secretB", string(flipped))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_EmptyInput(t *testing.T) {
	_, err := Sign(nil, "x")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Sign([]string{"a", ""}, "x")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Sign([]string{"a"}, "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Verify([]string{"a"}, "x", "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestVerifyAny_FirstMatchWins(t *testing.T) {
	variants := []Variant{
		{Name: "merchant-qualified", Fields: []string{"shop", "500.00", "1042"}},
		{Name: "unqualified", Fields: []string{"500.00", "1042"}},
	}

	unq, err := Sign(variants[1].Fields, "secretA")
	require.NoError(t, err)
	v, ok, err := VerifyAny(variants, "secretA", unq)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "unqualified", v.Name)

	q, err := Sign(variants[0].Fields, "secretA")
	require.NoError(t, err)
	v, ok, err = VerifyAny(variants, "secretA", q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "merchant-qualified", v.Name)

	_, ok, err = VerifyAny(variants, "secretB", q)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = VerifyAny(nil, "secretA", q)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
