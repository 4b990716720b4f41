package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMSISDN(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0712345678", "254712345678", true},
		{"0110123456", "254110123456", true},
		{"254712345678", "254712345678", true},
		{"+254712345678", "254712345678", true},
		{"+254 712 345 678", "254712345678", true},
		{"0712-345-678", "254712345678", true},
		{"712345678", "", false},
		{"07123", "", false},
		{"255712345678", "", false},
		{"07123456789", "", false},
		{"", "", false},
		{"safaricom", "", false},
		{"+2547123456a8", "", false},
	}

	for _, tc := range cases {
		got, ok := NormalizeMSISDN(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}
