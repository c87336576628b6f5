package assets

import (
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a tightly packed 8-bit pixel grid, row-major, top row first.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pixels   []byte
}

// Count is the number of channel values, width*height*channels.
func (i *Image) Count() int {
	return i.Width * i.Height * i.Channels
}

// Size is the byte length of Pixels.
func (i *Image) Size() int {
	return i.Count()
}

func (i *Image) Valid() bool {
	return i.Width > 0 && i.Height > 0 && i.Channels > 0 && len(i.Pixels) == i.Size()
}

// DecodeRGBA converts any decoded image into 4-channel, non-premultiplied
// RGBA8. Registered decoders: PNG, JPEG, BMP, TIFF, WebP.
func DecodeRGBA(src image.Image) *Image {
	bounds := src.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)

	return &Image{
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Channels: 4,
		Pixels:   rgba.Pix,
	}
}

func LoadTexture(fsys fs.FS, name string) (*Image, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open texture %s", name), ErrTextureLoad)
	}
	defer f.Close()

	decoded, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode texture %s", name), ErrTextureLoad)
	}

	img := DecodeRGBA(decoded)
	if !img.Valid() {
		return nil, errors.Wrapf(ErrTextureLoad, "texture %s (%s) decoded to an empty image", name, format)
	}

	return img, nil
}
