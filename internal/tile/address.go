package tile

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoomLimit — верхняя граница масштаба независимо от конфигурации.
const MaxZoomLimit = 30

// ErrInvalidTileAddress — координаты тайла вне допустимого диапазона.
var ErrInvalidTileAddress = errors.New("некорректный адрес тайла")

// ValidateAddress проверяет 0 ≤ z ≤ maxZoom, 0 ≤ x, y < 2^z (схема XYZ)
// и возвращает тайл.
func ValidateAddress(z, x, y int64, maxZoom int) (maptile.Tile, error) {
	if maxZoom > MaxZoomLimit {
		maxZoom = MaxZoomLimit
	}
	if z < 0 || z > int64(maxZoom) {
		return maptile.Tile{}, fmt.Errorf("%w: z=%d вне диапазона 0-%d", ErrInvalidTileAddress, z, maxZoom)
	}
	n := int64(1) << uint(z)
	if x < 0 || x >= n {
		return maptile.Tile{}, fmt.Errorf("%w: x=%d вне диапазона 0-%d при z=%d", ErrInvalidTileAddress, x, n-1, z)
	}
	if y < 0 || y >= n {
		return maptile.Tile{}, fmt.Errorf("%w: y=%d вне диапазона 0-%d при z=%d", ErrInvalidTileAddress, y, n-1, z)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}

// queryBound возвращает охват тайла в EPSG:4326, расширенный на буфер.
// buffer и extent заданы в пикселях тайла.
func queryBound(t maptile.Tile, buffer int, extent uint32) orb.Bound {
	return t.Bound(float64(buffer) / float64(extent))
}

// clipBound — область отсечения в координатах тайла.
func clipBound(buffer int, extent uint32) orb.Bound {
	b := float64(buffer)
	e := float64(extent)
	return orb.Bound{Min: orb.Point{-b, -b}, Max: orb.Point{e + b, e + b}}
}
