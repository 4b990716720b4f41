package model

import "math"

// VATRate is the flat VAT applied to every sale subtotal.
const VATRate = 0.16

// Round2 rounds a currency amount to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
