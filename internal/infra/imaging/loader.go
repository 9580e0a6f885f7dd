package imaging

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/ports/adapter"
)

var _ adapter.ImageLoader = (*Processor)(nil)

// Load decodes a stored image file. PNG, JPEG and GIF are registered.
func (p *Processor) Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: image file %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInfrastructure, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrCalculation, path, err)
	}
	p.log.Debug().Str("path", path).Str("format", format).Msg("image decoded")
	return img, nil
}
