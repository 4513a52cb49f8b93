package oracle

import "math"

// NormalCDF is the standard normal cumulative distribution function,
// computed from the error function. Accurate to about 1e-7.
func NormalCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// ExceedProbability returns the model probability that the asset trades
// above strike after the given number of hours, assuming log-normal
// returns with the supplied realized hourly volatility. ok is false when
// the inputs cannot support an estimate.
func ExceedProbability(price, strike, hourlyVol, hours float64) (p float64, ok bool) {
	if price <= 0 || strike <= 0 || hours <= 0 {
		return 0, false
	}
	scaledVol := hourlyVol * math.Sqrt(hours)
	if scaledVol <= 0 {
		return 0, false
	}
	z := math.Log(strike/price) / scaledVol
	return 1.0 - NormalCDF(z), true
}
