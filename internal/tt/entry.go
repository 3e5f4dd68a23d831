package tt

// Bound indicates how a stored value relates to the search window.
type Bound uint8

const (
	BoundNone  Bound = iota
	BoundUpper       // Failed low
	BoundLower       // Failed high (beta cutoff)
	BoundExact = BoundUpper | BoundLower
)

// Move is a compact 16-bit move encoding. The table stores it verbatim.
type Move uint16

// MoveNone marks the absence of a best move.
const MoveNone Move = 0

// Depth constants. Stored depths are offset by DepthEntryOffset so that
// quiescence depths fit in an unsigned byte while a zero byte still means
// "unoccupied". Representable depths are (DepthEntryOffset, 256+DepthEntryOffset).
const (
	DepthQS          = 0
	DepthUnsearched  = -2
	DepthEntryOffset = -3
)

// Generation constants. The low GenerationBits of genBound8 hold the PV flag
// and the bound, so the generation advances in steps of GenerationDelta.
const (
	GenerationBits  = 3
	GenerationDelta = 1 << GenerationBits
	GenerationCycle = 255 + GenerationDelta
	GenerationMask  = (0xFF << GenerationBits) & 0xFF
)

// Entry is a single 10-byte table slot:
//
//	key16     16 bit
//	depth8     8 bit
//	genBound8  8 bit  generation (5) | pv (1) | bound (2)
//	move16    16 bit
//	value16   16 bit
//	eval16    16 bit
//
// Entries are read and written without synchronization. Each field is an
// independent scalar store; a concurrent reader may observe a mix of two
// writes, which either still matches the key or is evicted later.
type Entry struct {
	key16     uint16
	depth8    uint8
	genBound8 uint8
	move16    uint16
	value16   int16
	eval16    int16
}

func (e *Entry) Key16() uint16 { return e.key16 }
func (e *Entry) Move() Move { return Move(e.move16) }
func (e *Entry) Value() int { return int(e.value16) }
func (e *Entry) Eval() int { return int(e.eval16) }
func (e *Entry) Depth() int { return int(e.depth8) + DepthEntryOffset }
func (e *Entry) Bound() Bound { return Bound(e.genBound8 & 0x3) }
func (e *Entry) IsPV() bool { return e.genBound8&0x4 != 0 }
func (e *Entry) Occupied() bool { return e.depth8 != 0 }
func (e *Entry) Generation() uint8 { return e.genBound8 & GenerationMask }

// Save populates the entry with a new node's data, possibly overwriting an
// old position. The update is not atomic and can be racy.
func (e *Entry) Save(key uint64, v int, pv bool, b Bound, d int, m Move, ev int, generation8 uint8) {
	key16 := uint16(key)

	// Keep the old move if we don't have a new one for the same position
	if m != MoveNone || key16 != e.key16 {
		e.move16 = uint16(m)
	}

	var pv8 uint8
	if pv {
		pv8 = 1
	}

	// Overwrite less valuable entries (cheapest checks first)
	if b == BoundExact || key16 != e.key16 ||
		d-DepthEntryOffset+2*int(pv8) > int(e.depth8)-4 ||
		e.RelativeAge(generation8) != 0 {
		e.key16 = key16
		e.depth8 = uint8(d - DepthEntryOffset)
		e.genBound8 = generation8 | pv8<<2 | uint8(b)
		e.value16 = int16(v)
		e.eval16 = int16(ev)
	}
}

// RelativeAge returns how many generations (in GenerationDelta units) the
// entry is behind generation8. GenerationCycle absorbs the pv and bound bits
// so the result stays correct after generation8 wraps past 255.
func (e *Entry) RelativeAge(generation8 uint8) uint8 {
	return uint8((GenerationCycle + int(generation8) - int(e.genBound8)) & GenerationMask)
}

// replaceValue ranks entries for eviction; lower is replaced first.
func (e *Entry) replaceValue(generation8 uint8) int {
	return int(e.depth8) - 2*int(e.RelativeAge(generation8))
}
