package assets

import (
	"io"
	"io/fs"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
)

// Vertex is interleaved and bound at vertex rate; keep the field order in
// sync with the attribute descriptions in the renderer.
type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
	TexCoord mgl32.Vec2
}

type Mesh struct {
	Vertices []Vertex
	Indices  []uint32

	// SkippedFaces counts faces with fewer than three corners or with
	// corners pointing outside the position array.
	SkippedFaces int
	// SkippedObjects counts objects that contributed no triangles.
	SkippedObjects int
}

type meshFace struct {
	positions []int
	uvs       []int
}

type meshObject struct {
	name  string
	faces []meshFace
}

type meshSource struct {
	positions []float32
	uvs       []float32
	objects   []meshObject
}

func sourceFromDecoder(decoder *obj.Decoder) meshSource {
	src := meshSource{
		positions: decoder.Vertices,
		uvs:       decoder.Uvs,
	}

	for _, decodedObj := range decoder.Objects {
		object := meshObject{name: decodedObj.Name}
		for _, face := range decodedObj.Faces {
			object.faces = append(object.faces, meshFace{
				positions: face.Vertices,
				uvs:       face.Uvs,
			})
		}
		src.objects = append(src.objects, object)
	}

	return src
}

type vertexKey struct {
	position int
	uv       int
}

type meshBuilder struct {
	src    *meshSource
	mesh   Mesh
	unique map[vertexKey]uint32
}

func (b *meshBuilder) validPosition(index int) bool {
	return index >= 0 && index*3+2 < len(b.src.positions)
}

func (b *meshBuilder) addVertex(face meshFace, corner int) {
	key := vertexKey{position: face.positions[corner], uv: -1}
	if corner < len(face.uvs) {
		uvIndex := face.uvs[corner]
		if uvIndex >= 0 && uvIndex*2+1 < len(b.src.uvs) {
			key.uv = uvIndex
		}
	}

	index, exists := b.unique[key]
	if !exists {
		vert := Vertex{
			Position: mgl32.Vec3{
				b.src.positions[key.position*3],
				b.src.positions[key.position*3+1],
				b.src.positions[key.position*3+2],
			},
			Color: mgl32.Vec3{1, 1, 1},
		}

		// V is flipped so that 0 addresses the top row of the texture.
		if key.uv >= 0 {
			vert.TexCoord = mgl32.Vec2{
				b.src.uvs[key.uv*2],
				1.0 - b.src.uvs[key.uv*2+1],
			}
		}

		index = uint32(len(b.mesh.Vertices))
		b.mesh.Vertices = append(b.mesh.Vertices, vert)
		b.unique[key] = index
	}

	b.mesh.Indices = append(b.mesh.Indices, index)
}

func (b *meshBuilder) addFace(face meshFace) bool {
	if len(face.positions) < 3 {
		return false
	}
	for _, p := range face.positions {
		if !b.validPosition(p) {
			return false
		}
	}

	// Polygons are fanned around their first corner.
	for i := 2; i < len(face.positions); i++ {
		b.addVertex(face, 0)
		b.addVertex(face, i-1)
		b.addVertex(face, i)
	}
	return true
}

func buildMesh(src meshSource) (*Mesh, error) {
	b := &meshBuilder{
		src:    &src,
		unique: make(map[vertexKey]uint32),
	}

	for _, object := range src.objects {
		if len(src.positions) == 0 || len(object.faces) == 0 {
			b.mesh.SkippedObjects++
			continue
		}

		added := 0
		for _, face := range object.faces {
			if b.addFace(face) {
				added++
			} else {
				b.mesh.SkippedFaces++
			}
		}

		if added == 0 {
			b.mesh.SkippedObjects++
		}
	}

	if len(b.mesh.Indices) == 0 {
		return nil, errors.Wrapf(ErrMeshLoad, "no triangles in %d objects", len(src.objects))
	}

	return &b.mesh, nil
}

// DecodeMesh parses an OBJ stream. material may be nil.
func DecodeMesh(mesh io.Reader, material io.Reader) (*Mesh, error) {
	if material == nil {
		material = strings.NewReader("")
	}

	decoder, err := obj.DecodeReader(mesh, material)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode obj"), ErrMeshLoad)
	}

	return buildMesh(sourceFromDecoder(decoder))
}

func LoadMesh(fsys fs.FS, meshName, materialName string) (*Mesh, error) {
	meshFile, err := fsys.Open(meshName)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open mesh %s", meshName), ErrMeshLoad)
	}
	defer meshFile.Close()

	var material io.Reader
	if materialName != "" {
		matFile, err := fsys.Open(materialName)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "open material %s", materialName), ErrMeshLoad)
		}
		defer matFile.Close()
		material = matFile
	}

	mesh, err := DecodeMesh(meshFile, material)
	if err != nil {
		return nil, errors.Wrapf(err, "mesh %s", meshName)
	}
	return mesh, nil
}
