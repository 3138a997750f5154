package util

import (
	"github.com/aquilax/go-perlin"

	"github.com/annel0/blockcodec/internal/section"
)

const (
	noiseAlpha   = 2.0 // Сглаживание шума
	noiseBeta    = 2.0 // Частота шума
	noiseOctaves = 3
	noiseScale   = 0.08
)

// NewNoise создаёт генератор шума Перлина с указанным сидом
func NewNoise(seed int64) *perlin.Perlin {
	return perlin.NewPerlin(noiseAlpha, noiseBeta, noiseOctaves, seed)
}

// PerlinNoise2D возвращает значение шума для координат в диапазоне от 0 до 1
func PerlinNoise2D(p *perlin.Perlin, x, y float64) float64 {
	return clamp01((p.Noise2D(x, y) + 1.0) / 2.0)
}

// PerlinNoise3D трёхмерный вариант PerlinNoise2D
func PerlinNoise3D(p *perlin.Perlin, x, y, z float64) float64 {
	return clamp01((p.Noise3D(x, y, z) + 1.0) / 2.0)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v >= 1:
		return 0.999999
	}
	return v
}

// NoiseSection заполняет секцию блоками из blocks по шуму Перлина.
// Высота поверхности задаётся 2D-шумом, выше неё: blocks[0] (воздух),
// ниже: остальные значения полосами 3D-шума. Детерминирована по seed.
func NoiseSection(l section.Layout, seed int64, blocks []uint32) (*section.Section, error) {
	s := section.New(l)
	if len(blocks) == 0 {
		return s, nil
	}
	p := NewNoise(seed)
	solid := blocks[1:]

	for z := 0; z < section.Size; z++ {
		for x := 0; x < section.Size; x++ {
			height := int(PerlinNoise2D(p, float64(x)*noiseScale, float64(z)*noiseScale) * section.Size)
			for y := 0; y < section.Size; y++ {
				id := blocks[0]
				if y <= height && len(solid) > 0 {
					n := PerlinNoise3D(p, float64(x)*noiseScale, float64(y)*noiseScale, float64(z)*noiseScale)
					id = solid[int(n*float64(len(solid)))]
				}
				if _, err := s.SetBlock(x, y, z, id); err != nil {
					return nil, err
				}
			}
		}
	}
	return s, nil
}
