package fold

// Element is one stream beat: PE x MMV lanes, each SIMD values wide.
//
// Data is laid out mmv-major: lane (pe, mmv) starts at (mmv*PE+pe)*SIMD.
// Output elements use SIMD == 1, so a flattened output is channel order for
// each pixel.
type Element[T any] struct {
	PE   int
	MMV  int
	SIMD int
	Data []T
}

// NewElement allocates a zeroed element of the given shape.
func NewElement[T any](pe, mmv, simd int) Element[T] {
	return Element[T]{PE: pe, MMV: mmv, SIMD: simd, Data: make([]T, pe*mmv*simd)}
}

// ElementFrom wraps data without copying. len(data) must be pe*mmv*simd.
func ElementFrom[T any](pe, mmv, simd int, data []T) Element[T] {
	return Element[T]{PE: pe, MMV: mmv, SIMD: simd, Data: data}
}

func (e Element[T]) offset(pe, mmv int) int {
	return (mmv*e.PE + pe) * e.SIMD
}

// Lane returns the SIMD values of lane (pe, mmv). The slice aliases Data.
func (e Element[T]) Lane(pe, mmv int) []T {
	off := e.offset(pe, mmv)
	return e.Data[off : off+e.SIMD : off+e.SIMD]
}

// At returns sub-element s of lane (pe, mmv).
func (e Element[T]) At(pe, mmv, s int) T {
	return e.Data[e.offset(pe, mmv)+s]
}

// Set stores v as sub-element s of lane (pe, mmv).
func (e Element[T]) Set(pe, mmv, s int, v T) {
	e.Data[e.offset(pe, mmv)+s] = v
}

func (e Element[T]) hasShape(pe, mmv, simd int) bool {
	return e.PE == pe && e.MMV == mmv && e.SIMD == simd && len(e.Data) == pe*mmv*simd
}
