// Package banner stamps produced artifacts with a user-supplied marker.
//
// The exact binary layout is format-dependent, so injection is a pluggable
// post-processing step over the artifact bytes: zip archives take the
// banner as the archive comment (handled by the assembler), native
// libraries and executables get a delimited trailing marker, which loaders
// ignore. Injection failures are warnings; the artifact is never reverted.
package banner

import (
	"fmt"
	"os"
)

const (
	trailerOpen  = "\n#--- pypack banner ---\n"
	trailerClose = "\n#--- end banner ---\n"
)

// MaxSize bounds the banner file; anything larger is refused rather than
// bloating the artifact.
const MaxSize = 1 << 20

// Injector applies a banner to a produced artifact.
type Injector interface {
	Inject(artifact string, banner []byte) error
}

// Trailer appends the banner between marker lines at the end of the
// artifact. Trailing bytes are ignored by ELF and PE loaders and by the
// Python extension loader.
type Trailer struct{}

func (Trailer) Inject(artifact string, banner []byte) error {
	f, err := os.OpenFile(artifact, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, chunk := range [][]byte{[]byte(trailerOpen), banner, []byte(trailerClose)} {
		if _, err := f.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and size-checks a banner file.
func Load(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > MaxSize {
		return nil, fmt.Errorf("banner file %s exceeds %d bytes", path, MaxSize)
	}
	return os.ReadFile(path)
}
