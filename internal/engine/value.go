package engine

// Score domain shared with the evaluation collaborator. Values beyond the
// tablebase range are reserved for forced outcomes; static evaluations must
// stay strictly inside (ValueTBLossInMaxPly, ValueTBWinInMaxPly).
const (
	MaxPly = 246

	ValueZero     = 0
	ValueDraw     = 0
	ValueMate     = 32000
	ValueInfinite = 32001
	ValueNone     = 32002

	ValueMateInMaxPly  = ValueMate - MaxPly
	ValueMatedInMaxPly = -ValueMateInMaxPly

	ValueTB             = ValueMateInMaxPly - 1
	ValueTBWinInMaxPly  = ValueTB - MaxPly
	ValueTBLossInMaxPly = -ValueTBWinInMaxPly
)

// MateIn returns the score for giving mate in ply plies.
func MateIn(ply int) int {
	return ValueMate - ply
}

// MatedIn returns the score for being mated in ply plies.
func MatedIn(ply int) int {
	return -ValueMate + ply
}

// IsWin reports whether v is a forced win (mate or tablebase).
func IsWin(v int) bool {
	return v >= ValueTBWinInMaxPly
}

// IsLoss reports whether v is a forced loss.
func IsLoss(v int) bool {
	return v <= ValueTBLossInMaxPly
}

// IsDecisive reports whether v is outside the evaluation range.
func IsDecisive(v int) bool {
	return IsWin(v) || IsLoss(v)
}

// ClampEval keeps a static evaluation out of the tablebase range.
func ClampEval(v int) int {
	return min(max(v, ValueTBLossInMaxPly+1), ValueTBWinInMaxPly-1)
}

// ValueToTT adjusts a mate or TB score from "plies to mate from the root" to
// "plies to mate from the current position" before it is stored. Standard
// scores are unchanged.
func ValueToTT(v, ply int) int {
	switch {
	case IsWin(v):
		return v + ply
	case IsLoss(v):
		return v - ply
	}
	return v
}

// ValueFromTT is the inverse of ValueToTT. It also downgrades mate and TB
// scores that could not be reached before the fifty-move counter r50 runs
// out, since the stored distance may come from a different move history.
func ValueFromTT(v, ply, r50 int) int {
	if v == ValueNone {
		return ValueNone
	}

	if IsWin(v) {
		if v >= ValueMateInMaxPly && ValueMate-v > 100-r50 {
			return ValueTBWinInMaxPly - 1
		}
		if ValueTB-v > 100-r50 {
			return ValueTBWinInMaxPly - 1
		}
		return v - ply
	}

	if IsLoss(v) {
		if v <= ValueMatedInMaxPly && ValueMate+v > 100-r50 {
			return ValueTBLossInMaxPly + 1
		}
		if ValueTB+v > 100-r50 {
			return ValueTBLossInMaxPly + 1
		}
		return v + ply
	}

	return v
}

// ScoreToString converts a score to a human-readable string.
func ScoreToString(score int) string {
	if score >= ValueMateInMaxPly {
		return "Mate in " + itoa((ValueMate-score+1)/2)
	}
	if score <= ValueMatedInMaxPly {
		return "Mated in " + itoa((ValueMate+score+1)/2)
	}

	sign := ""
	if score < 0 {
		sign = "-"
		score = -score
	}
	pawns := score / 100
	centipawns := score % 100
	pad := ""
	if centipawns < 10 {
		pad = "0"
	}

	return sign + itoa(pawns) + "." + pad + itoa(centipawns)
}

// Simple integer to string (avoid fmt import)
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	if n < 0 {
		return "-" + itoa(-n)
	}
	s := ""
	for n > 0 {
		s = string(rune('0'+n%10)) + s
		n /= 10
	}
	return s
}
