//go:build !linux

package gpio

type Board struct{}

func Open(Config) (*Board, error) {
	return nil, ErrUnsupported
}

func (b *Board) Chip() string { return "" }

func (b *Board) Touched(int) (bool, error) { return false, ErrUnsupported }

func (b *Board) AtHome() (bool, error) { return false, ErrUnsupported }

func (b *Board) AtAway() (bool, error) { return false, ErrUnsupported }

func (b *Board) Close() error { return nil }
