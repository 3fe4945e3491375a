package game

import "errors"

var (
	ErrOutOfRange = errors.New("out_of_range")
	ErrCellTaken  = errors.New("cell_taken")
)

// Board is the authoritative size×size claim grid for one session. It is
// pure state: callers serialize access (the session runtime holds its lock
// across every read-check-write).
type Board struct {
	size    int
	cells   []string
	claimed int
}

func NewBoard(size int) *Board {
	return &Board{size: size, cells: make([]string, size*size)}
}

func (b *Board) Size() int { return b.size }

func (b *Board) Cell(x, y int) (string, error) {
	if x < 0 || y < 0 || x >= b.size || y >= b.size {
		return "", ErrOutOfRange
	}
	return b.cells[y*b.size+x], nil
}

// Claim assigns the cell to ownerID. Exactly one of N serialized claims on
// the same empty cell succeeds; every later one gets ErrCellTaken.
func (b *Board) Claim(x, y int, ownerID string) error {
	if x < 0 || y < 0 || x >= b.size || y >= b.size {
		return ErrOutOfRange
	}
	idx := y*b.size + x
	if b.cells[idx] != "" {
		return ErrCellTaken
	}
	b.cells[idx] = ownerID
	b.claimed++
	return nil
}

// Restore writes a cell unconditionally. Used only when rebuilding a board
// from the cache mirror or the move log.
func (b *Board) Restore(x, y int, ownerID string) {
	if x < 0 || y < 0 || x >= b.size || y >= b.size {
		return
	}
	idx := y*b.size + x
	if b.cells[idx] == "" && ownerID != "" {
		b.claimed++
	}
	b.cells[idx] = ownerID
}

func (b *Board) Claimed() int { return b.claimed }

func (b *Board) Full() bool { return b.claimed == len(b.cells) }

// Grid returns a row-major copy for snapshots, "" marking empty cells.
func (b *Board) Grid() [][]string {
	grid := make([][]string, b.size)
	for y := 0; y < b.size; y++ {
		row := make([]string, b.size)
		copy(row, b.cells[y*b.size:(y+1)*b.size])
		grid[y] = row
	}
	return grid
}

// Scores counts owned cells per owner.
func (b *Board) Scores() map[string]int {
	scores := map[string]int{}
	for _, owner := range b.cells {
		if owner != "" {
			scores[owner]++
		}
	}
	return scores
}
