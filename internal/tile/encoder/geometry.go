package encoder

import (
	"math"

	"github.com/paulmach/orb"
	"google.golang.org/protobuf/encoding/protowire"
)

// ipoint — точка в целых координатах тайла.
type ipoint struct {
	x, y int64
}

func round(p orb.Point) ipoint {
	return ipoint{x: int64(math.Round(p[0])), y: int64(math.Round(p[1]))}
}

// cursor накапливает команды; координаты пишутся приращениями
// относительно предыдущей точки.
type cursor struct {
	x, y int64
	data []uint32
}

func (c *cursor) command(id, count uint32) {
	c.data = append(c.data, (id&0x7)|(count<<3))
}

func (c *cursor) point(p ipoint) {
	c.data = append(c.data,
		uint32(protowire.EncodeZigZag(p.x-c.x)),
		uint32(protowire.EncodeZigZag(p.y-c.y)),
	)
	c.x, c.y = p.x, p.y
}

// encodeGeometry возвращает тип и команды геометрии. Пустой результат
// означает, что геометрия выродилась.
func encodeGeometry(g orb.Geometry) (GeomType, []uint32) {
	c := &cursor{}

	switch g := g.(type) {
	case orb.Point:
		c.command(cmdMoveTo, 1)
		c.point(round(g))
		return GeomPoint, c.data
	case orb.MultiPoint:
		if len(g) == 0 {
			return GeomPoint, nil
		}
		c.command(cmdMoveTo, uint32(len(g)))
		for _, p := range g {
			c.point(round(p))
		}
		return GeomPoint, c.data
	case orb.LineString:
		c.lineString(g)
		return GeomLineString, c.data
	case orb.MultiLineString:
		for _, ls := range g {
			c.lineString(ls)
		}
		return GeomLineString, c.data
	case orb.Ring:
		c.polygon(orb.Polygon{g})
		return GeomPolygon, c.data
	case orb.Polygon:
		c.polygon(g)
		return GeomPolygon, c.data
	case orb.MultiPolygon:
		for _, p := range g {
			c.polygon(p)
		}
		return GeomPolygon, c.data
	case orb.Bound:
		c.polygon(g.ToPolygon())
		return GeomPolygon, c.data
	}
	return 0, nil
}

func (c *cursor) lineString(ls orb.LineString) {
	pts := dedupe(ls)
	if len(pts) < 2 {
		return
	}
	c.command(cmdMoveTo, 1)
	c.point(pts[0])
	c.command(cmdLineTo, uint32(len(pts)-1))
	for _, p := range pts[1:] {
		c.point(p)
	}
}

// polygon пишет внешнее кольцо с положительной площадью и дыры
// с отрицательной. Полигон с вырожденным внешним кольцом пропускается.
func (c *cursor) polygon(p orb.Polygon) {
	if len(p) == 0 {
		return
	}
	outer := ringPoints(p[0])
	if outer == nil {
		return
	}
	if area2(outer) < 0 {
		reverse(outer)
	}
	c.ring(outer)

	for _, r := range p[1:] {
		hole := ringPoints(r)
		if hole == nil {
			continue
		}
		if area2(hole) > 0 {
			reverse(hole)
		}
		c.ring(hole)
	}
}

func (c *cursor) ring(pts []ipoint) {
	c.command(cmdMoveTo, 1)
	c.point(pts[0])
	c.command(cmdLineTo, uint32(len(pts)-1))
	for _, p := range pts[1:] {
		c.point(p)
	}
	c.command(cmdClosePath, 1)
}

// dedupe округляет точки и убирает подряд идущие совпадения.
func dedupe(pts []orb.Point) []ipoint {
	out := make([]ipoint, 0, len(pts))
	for _, p := range pts {
		ip := round(p)
		if len(out) > 0 && out[len(out)-1] == ip {
			continue
		}
		out = append(out, ip)
	}
	return out
}

// ringPoints возвращает кольцо без замыкающей точки либо nil,
// если после округления у кольца нет площади.
func ringPoints(r orb.Ring) []ipoint {
	pts := dedupe(r)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 || area2(pts) == 0 {
		return nil
	}
	return pts
}

// area2 — удвоенная знаковая площадь (формула землемера).
func area2(pts []ipoint) int64 {
	var sum int64
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}
	return sum
}

func reverse(pts []ipoint) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}
