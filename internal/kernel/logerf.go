package kernel

import "math"

// logErfcAsymptoticCutoff is where math.Erfc stops being usable directly:
// beyond it the asymptotic series is more accurate and never underflows.
const logErfcAsymptoticCutoff = 10.0

// LogErfc returns log(erfc(x)) for any finite x without underflow. For
// moderate x the library erfc is exact enough; deep in the right tail the
// asymptotic expansion erfc(x) ~ exp(-x^2)/(x*sqrt(pi)) * (1 - 1/(2x^2) + ...)
// is used instead, which stays finite long after erfc itself has flushed
// to zero.
func LogErfc(x float64) float64 {
	if x < logErfcAsymptoticCutoff {
		return math.Log(math.Erfc(x))
	}
	inv2 := 1.0 / (2 * x * x)
	// Three terms of the asymptotic series; the truncation error at x >= 10
	// is below 1e-7 in the log, far under the solver tolerances downstream.
	series := 1 - inv2*(1-3*inv2*(1-5*inv2))
	return -x*x - math.Log(x*math.Sqrt(math.Pi)) + math.Log(series)
}

// LogErfDiff returns log(erf(a) - erf(b)) for a > b, avoiding the
// catastrophic cancellation that the naive difference suffers when a and b
// sit in the same tail. Three regimes:
//
//   - b >= 0 (both in the right tail): rewrite as erfc(b) - erfc(a) and work
//     with LogErfc, so the shared exp(-x^2) scale cancels in the log domain.
//   - a <= 0 (both in the left tail): mirror into the right tail via
//     erf(-x) = -erf(x).
//   - straddling zero: both erf values have opposite signs so the difference
//     adds magnitudes and the direct formula is already stable.
//
// Returns -Inf when the difference is a true zero at working precision; the
// caller treats that as a zero contribution.
func LogErfDiff(a, b float64) float64 {
	if !(a > b) {
		return math.Inf(-1)
	}
	switch {
	case b >= 0:
		lb := LogErfc(b)
		la := LogErfc(a)
		return lb + log1mexp(la-lb)
	case a <= 0:
		return LogErfDiff(-b, -a)
	default:
		return math.Log(math.Erf(a) - math.Erf(b))
	}
}

// log1mexp computes log(1 - exp(x)) for x <= 0, switching between expm1 and
// log1p at log(1/2) per the standard Maechler recipe.
func log1mexp(x float64) float64 {
	if x >= 0 {
		return math.Inf(-1)
	}
	if x > -math.Ln2 {
		return math.Log(-math.Expm1(x))
	}
	return math.Log1p(-math.Exp(x))
}
