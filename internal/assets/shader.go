// Package assets loads the files the renderer consumes: SPIR-V bytecode,
// decoded textures and triangulated meshes.
package assets

//go:generate glslc shaders/shader.vert -o ../../assets/shaders/vert.spv
//go:generate glslc shaders/shader.frag -o ../../assets/shaders/frag.spv
//go:generate glslc shaders/shader.comp -o ../../assets/shaders/comp.spv
//go:generate glslc shaders/particle.vert -o ../../assets/shaders/particle_vert.spv
//go:generate glslc shaders/particle.frag -o ../../assets/shaders/particle_frag.spv

import (
	"encoding/binary"
	"io/fs"

	"github.com/cockroachdb/errors"
)

var (
	ErrShaderLoad  = errors.New("shader load failed")
	ErrTextureLoad = errors.New("texture load failed")
	ErrMeshLoad    = errors.New("mesh load failed")
)

const spirvMagic = 0x07230203

// Bytecode reinterprets little-endian SPIR-V bytes as the word stream
// vkCreateShaderModule expects.
func Bytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Wrapf(ErrShaderLoad, "bytecode length %d is not a positive multiple of 4", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	if byteCode[0] != spirvMagic {
		return nil, errors.Wrapf(ErrShaderLoad, "bad SPIR-V magic %#08x", byteCode[0])
	}

	return byteCode, nil
}

func LoadShader(fsys fs.FS, name string) ([]uint32, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read shader %s", name), ErrShaderLoad)
	}

	code, err := Bytecode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", name)
	}
	return code, nil
}
