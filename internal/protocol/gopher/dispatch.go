package gopher

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Kind classifies what a selector resolved to.
type Kind int

const (
	KindError Kind = iota
	KindDirectory
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "error"
	}
}

// Resolution is the outcome of mapping a selector onto the served tree.
// For KindError, ErrType and Message describe the error item to send.
type Resolution struct {
	Kind     Kind
	Selector string
	Path     string
	ErrType  ItemType
	Message  string
}

const msgUnsupported = "unsupported file type"

// JoinRoot maps a selector to a path under root. The selector is cleaned as
// an absolute path first, so ".." components cannot climb above root.
func JoinRoot(root, selector string) string {
	return filepath.Join(root, filepath.Clean("/"+selector))
}

// Resolve stats the path a selector names. It never opens anything.
func Resolve(root, selector string) Resolution {
	res := Resolution{Selector: selector, Path: JoinRoot(root, selector)}

	info, err := os.Stat(res.Path)
	if err != nil {
		res.Kind = KindError
		res.ErrType = ItemInfo
		res.Message = errorText(err)
		return res
	}

	switch mode := info.Mode(); {
	case mode.IsDir():
		res.Kind = KindDirectory
	case mode.IsRegular():
		res.Kind = KindFile
	default:
		res.Kind = KindError
		res.ErrType = ItemInfo
		res.Message = msgUnsupported
	}
	return res
}

// errorText reduces an fs error to the platform's message without the
// operation and path, e.g. "no such file or directory".
func errorText(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	return err.Error()
}
