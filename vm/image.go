package vm

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ImageMagic identifies a serialized program image.
const ImageMagic = "MILC"

// ImageVersion is the current image format version.
const ImageVersion = 1

// image is the on-disk form of a Program.
type image struct {
	Magic     string        `cbor:"1,keyasint"`
	Version   int           `cbor:"2,keyasint"`
	Code      []Instruction `cbor:"3,keyasint"`
	Variables []string      `cbor:"4,keyasint,omitempty"`
}

// Canonical mode keeps images byte-identical for identical programs,
// which the compile cache relies on.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalProgram serializes a Program to CBOR bytes.
func MarshalProgram(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(&image{
		Magic:     ImageMagic,
		Version:   ImageVersion,
		Code:      p.Code,
		Variables: p.Variables,
	})
}

// UnmarshalProgram deserializes and validates a Program from CBOR bytes.
func UnmarshalProgram(data []byte) (*Program, error) {
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if img.Magic != ImageMagic {
		return nil, fmt.Errorf("vm: not a program image (magic %q)", img.Magic)
	}
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("vm: unsupported image version %d", img.Version)
	}
	p := &Program{Code: img.Code, Variables: img.Variables}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteImage writes the program image to path.
func WriteImage(path string, p *Program) error {
	data, err := MarshalProgram(p)
	if err != nil {
		return fmt.Errorf("vm: marshal image: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("vm: write image %s: %w", path, err)
	}
	return nil
}

// ReadImage loads a program image from path.
func ReadImage(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vm: read image %s: %w", path, err)
	}
	return UnmarshalProgram(data)
}
