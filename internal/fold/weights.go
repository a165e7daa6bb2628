package fold

import "fmt"

// Tile is the weight vector for one step: PE lanes of SIMD values each.
// Data[pe*SIMD+s] holds sub-element s of lane pe.
type Tile[W any] struct {
	PE   int
	SIMD int
	Data []W
}

// NewTile allocates a zeroed tile.
func NewTile[W any](pe, simd int) Tile[W] {
	return Tile[W]{PE: pe, SIMD: simd, Data: make([]W, pe*simd)}
}

// Lane returns the SIMD weights of lane pe. The slice aliases Data.
func (t Tile[W]) Lane(pe int) []W {
	off := pe * t.SIMD
	return t.Data[off : off+t.SIMD : off+t.SIMD]
}

// WeightTable answers with the weight tile for a tile index in [0, Len()).
// Implementations must be read-only while an engine is running.
type WeightTable[W any] interface {
	Len() int
	Tile(tile int) Tile[W]
}

// Table is a dense in-memory WeightTable.
type Table[W any] struct {
	pe    int
	simd  int
	tiles int
	data  []W
}

// NewTable allocates a zeroed table of tiles x pe x simd weights.
func NewTable[W any](tiles, pe, simd int) *Table[W] {
	return &Table[W]{pe: pe, simd: simd, tiles: tiles, data: make([]W, tiles*pe*simd)}
}

// TableFromKernels lays out per-channel depthwise kernels for a fold.
//
// kernels[c] holds the KernelArea*SIMD weights of channel c. Tile nf*SF+sf,
// lane pe, sub-element s takes kernels[nf*PE+pe][sf*SIMD+s].
func TableFromKernels[W any](cfg Config, kernels [][]W) (*Table[W], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(kernels) != cfg.Channels {
		return nil, fmt.Errorf("%w: got %d kernels for %d channels", ErrTableShape, len(kernels), cfg.Channels)
	}
	want := cfg.KernelArea * cfg.SIMD
	for c, k := range kernels {
		if len(k) != want {
			return nil, fmt.Errorf("%w: kernel %d has %d weights, want %d", ErrTableShape, c, len(k), want)
		}
	}
	nf := cfg.Channels / cfg.PE
	sf := cfg.KernelArea
	t := NewTable[W](nf*sf, cfg.PE, cfg.SIMD)
	for g := range nf {
		for k := range sf {
			tile := g*sf + k
			for pe := range cfg.PE {
				src := kernels[g*cfg.PE+pe][k*cfg.SIMD : (k+1)*cfg.SIMD]
				copy(t.Tile(tile).Lane(pe), src)
			}
		}
	}
	return t, nil
}

func (t *Table[W]) Len() int { return t.tiles }

// Tile returns a view of tile; writes through it modify the table.
func (t *Table[W]) Tile(tile int) Tile[W] {
	n := t.pe * t.simd
	off := tile * n
	return Tile[W]{PE: t.pe, SIMD: t.simd, Data: t.data[off : off+n : off+n]}
}

// Set stores one weight.
func (t *Table[W]) Set(tile, pe, s int, v W) {
	t.data[(tile*t.pe+pe)*t.simd+s] = v
}

// At loads one weight.
func (t *Table[W]) At(tile, pe, s int) W {
	return t.data[(tile*t.pe+pe)*t.simd+s]
}

func checkTable[W any](cfg Config, g Geometry, table WeightTable[W]) error {
	if table == nil {
		return fmt.Errorf("%w: nil weight table", ErrTableShape)
	}
	if table.Len() < g.TotalFold {
		return fmt.Errorf("%w: table has %d tiles, fold needs %d", ErrTableShape, table.Len(), g.TotalFold)
	}
	for i := range g.TotalFold {
		tile := table.Tile(i)
		if tile.PE != cfg.PE || tile.SIMD != cfg.SIMD || len(tile.Data) != cfg.PE*cfg.SIMD {
			return fmt.Errorf("%w: tile %d is %dx%d, want %dx%d", ErrTableShape, i, tile.PE, tile.SIMD, cfg.PE, cfg.SIMD)
		}
	}
	return nil
}
