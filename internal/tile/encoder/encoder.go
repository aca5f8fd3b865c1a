// encoder.go — детерминированный кодировщик Mapbox Vector Tile (v2).
//
// Один слой на тайл. Порядок байтов зависит только от входа:
//   - объекты пишутся в порядке поступления (вызывающий сортирует по ID)
//   - ключи свойств объекта сортируются, таблицы keys/values
//     заполняются в порядке первого использования
//   - внешние кольца полигонов имеют положительную площадь в
//     координатах тайла (ось Y вниз), внутренние — отрицательную
package encoder

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"google.golang.org/protobuf/encoding/protowire"
)

// Номера полей vector_tile.proto.
const (
	tileLayers protowire.Number = 3

	layerName     protowire.Number = 1
	layerFeatures protowire.Number = 2
	layerKeys     protowire.Number = 3
	layerValues   protowire.Number = 4
	layerExtent   protowire.Number = 5
	layerVersion  protowire.Number = 15

	featureID       protowire.Number = 1
	featureTags     protowire.Number = 2
	featureType     protowire.Number = 3
	featureGeometry protowire.Number = 4

	valueString protowire.Number = 1
	valueDouble protowire.Number = 3
	valueUint   protowire.Number = 5
	valueSint   protowire.Number = 6
	valueBool   protowire.Number = 7
)

// GeomType — тип геометрии объекта MVT.
type GeomType uint64

const (
	GeomPoint      GeomType = 1
	GeomLineString GeomType = 2
	GeomPolygon    GeomType = 3
)

// Команды геометрии.
const (
	cmdMoveTo    = 1
	cmdLineTo    = 2
	cmdClosePath = 7
)

// Version — версия спецификации MVT, записываемая в слой.
const Version = 2

// Feature — объект слоя в координатах тайла.
type Feature struct {
	ID         uint64
	Properties map[string]any
	Geometry   orb.Geometry
}

// Layer — слой тайла.
type Layer struct {
	Name     string
	Extent   uint32
	Features []Feature
}

// Encode кодирует слой в тайл. Объекты, геометрия которых вырождается
// после округления до целых координат, пропускаются. Если не осталось
// ни одного объекта, возвращается nil.
func Encode(l Layer) []byte {
	kv := newKeyValues()

	var features []byte
	count := 0
	for _, f := range l.Features {
		for _, part := range splitCollection(f.Geometry) {
			typ, geom := encodeGeometry(part)
			if len(geom) == 0 {
				continue
			}
			features = protowire.AppendTag(features, layerFeatures, protowire.BytesType)
			features = protowire.AppendBytes(features, encodeFeature(f.ID, kv.tags(f.Properties), typ, geom))
			count++
		}
	}
	if count == 0 {
		return nil
	}

	var layer []byte
	layer = protowire.AppendTag(layer, layerName, protowire.BytesType)
	layer = protowire.AppendString(layer, l.Name)
	layer = append(layer, features...)
	for _, k := range kv.keys {
		layer = protowire.AppendTag(layer, layerKeys, protowire.BytesType)
		layer = protowire.AppendString(layer, k)
	}
	for _, v := range kv.values {
		layer = protowire.AppendTag(layer, layerValues, protowire.BytesType)
		layer = protowire.AppendBytes(layer, v.encode())
	}
	layer = protowire.AppendTag(layer, layerExtent, protowire.VarintType)
	layer = protowire.AppendVarint(layer, uint64(l.Extent))
	layer = protowire.AppendTag(layer, layerVersion, protowire.VarintType)
	layer = protowire.AppendVarint(layer, Version)

	var tile []byte
	tile = protowire.AppendTag(tile, tileLayers, protowire.BytesType)
	tile = protowire.AppendBytes(tile, layer)
	return tile
}

func encodeFeature(id uint64, tags []uint32, typ GeomType, geom []uint32) []byte {
	var b []byte
	b = protowire.AppendTag(b, featureID, protowire.VarintType)
	b = protowire.AppendVarint(b, id)
	if len(tags) > 0 {
		b = protowire.AppendTag(b, featureTags, protowire.BytesType)
		b = protowire.AppendBytes(b, packed(tags))
	}
	b = protowire.AppendTag(b, featureType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(typ))
	b = protowire.AppendTag(b, featureGeometry, protowire.BytesType)
	b = protowire.AppendBytes(b, packed(geom))
	return b
}

func packed(vals []uint32) []byte {
	b := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		b = protowire.AppendVarint(b, uint64(v))
	}
	return b
}

// splitCollection раскладывает GeometryCollection на отдельные объекты
// с тем же ID: в MVT коллекций нет.
func splitCollection(g orb.Geometry) []orb.Geometry {
	switch g := g.(type) {
	case nil:
		return nil
	case orb.Collection:
		var out []orb.Geometry
		for _, part := range g {
			out = append(out, splitCollection(part)...)
		}
		return out
	default:
		return []orb.Geometry{g}
	}
}

// --- свойства ---

type valueKind uint8

const (
	kindString valueKind = iota + 1
	kindDouble
	kindUint
	kindSint
	kindBool
)

// value — значение свойства; сравнимо и служит ключом таблицы values.
type value struct {
	kind valueKind
	s    string
	f    float64
	u    uint64
	i    int64
	b    bool
}

func (v value) encode() []byte {
	var b []byte
	switch v.kind {
	case kindString:
		b = protowire.AppendTag(b, valueString, protowire.BytesType)
		b = protowire.AppendString(b, v.s)
	case kindDouble:
		b = protowire.AppendTag(b, valueDouble, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.f))
	case kindUint:
		b = protowire.AppendTag(b, valueUint, protowire.VarintType)
		b = protowire.AppendVarint(b, v.u)
	case kindSint:
		b = protowire.AppendTag(b, valueSint, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(v.i))
	case kindBool:
		b = protowire.AppendTag(b, valueBool, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(v.b))
	}
	return b
}

// toValue приводит значение свойства к типу MVT. nil пропускается,
// вложенные объекты и массивы пишутся строкой JSON.
func toValue(raw any) (value, bool) {
	switch x := raw.(type) {
	case nil:
		return value{}, false
	case string:
		return value{kind: kindString, s: x}, true
	case bool:
		return value{kind: kindBool, b: x}, true
	case float64:
		return value{kind: kindDouble, f: x}, true
	case float32:
		return value{kind: kindDouble, f: float64(x)}, true
	case int:
		return signed(int64(x)), true
	case int32:
		return signed(int64(x)), true
	case int64:
		return signed(x), true
	case uint:
		return value{kind: kindUint, u: uint64(x)}, true
	case uint32:
		return value{kind: kindUint, u: uint64(x)}, true
	case uint64:
		return value{kind: kindUint, u: x}, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return signed(i), true
		}
		if f, err := x.Float64(); err == nil {
			return value{kind: kindDouble, f: f}, true
		}
		return value{kind: kindString, s: x.String()}, true
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return value{}, false
		}
		return value{kind: kindString, s: string(data)}, true
	}
}

func signed(i int64) value {
	if i >= 0 {
		return value{kind: kindUint, u: uint64(i)}
	}
	return value{kind: kindSint, i: i}
}

// keyValues — таблицы keys/values слоя.
type keyValues struct {
	keys     []string
	keyIdx   map[string]uint32
	values   []value
	valueIdx map[value]uint32
}

func newKeyValues() *keyValues {
	return &keyValues{
		keyIdx:   make(map[string]uint32),
		valueIdx: make(map[value]uint32),
	}
}

// tags возвращает пары индексов key/value для свойств объекта.
func (kv *keyValues) tags(props map[string]any) []uint32 {
	if len(props) == 0 {
		return nil
	}

	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)

	tags := make([]uint32, 0, 2*len(names))
	for _, k := range names {
		v, ok := toValue(props[k])
		if !ok {
			continue
		}
		tags = append(tags, kv.key(k), kv.value(v))
	}
	return tags
}

func (kv *keyValues) key(k string) uint32 {
	if i, ok := kv.keyIdx[k]; ok {
		return i
	}
	i := uint32(len(kv.keys))
	kv.keys = append(kv.keys, k)
	kv.keyIdx[k] = i
	return i
}

func (kv *keyValues) value(v value) uint32 {
	if i, ok := kv.valueIdx[v]; ok {
		return i
	}
	i := uint32(len(kv.values))
	kv.values = append(kv.values, v)
	kv.valueIdx[v] = i
	return i
}
