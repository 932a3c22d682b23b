package ibge

import (
	"fmt"
	"os"
	"strings"

	shp "github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/decode"
)

// parseShapefileZip reads every record of the archive's shapefile, resolving
// the geocode and name attributes by column-name heuristics. The reader wants
// a path, so the payload goes through a temp file.
func parseShapefileZip(raw []byte) ([]feature, error) {
	tmp, err := os.CreateTemp("", "mesh-*.zip")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	zr, err := shp.OpenZip(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("shapefile archive not readable: %w", err)
	}
	defer zr.Close()

	codeIdx, nameIdx := attributeIndexes(zr.Fields())
	if codeIdx < 0 {
		return nil, fmt.Errorf("shapefile carries no geocode attribute")
	}

	var out []feature
	for zr.Next() {
		_, shape := zr.Shape()
		f := feature{
			code: decode.DigitsOnly(zr.Attribute(codeIdx)),
			geom: shapeToGeometry(shape),
		}
		if nameIdx >= 0 {
			f.name = strings.TrimSpace(zr.Attribute(nameIdx))
		}
		if f.code == "" {
			continue
		}
		out = append(out, f)
	}
	if err := zr.Err(); err != nil {
		return nil, fmt.Errorf("shapefile read interrupted: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("shapefile yields no records")
	}
	return out, nil
}

// attributeIndexes finds the geocode column (CD_MUN, CD_GEOCODI, CD_DIST,
// CD_SETOR and vintages thereof) and the display-name column (NM_*).
func attributeIndexes(fields []shp.Field) (code, name int) {
	code, name = -1, -1
	for i, f := range fields {
		key := decode.NormalizeKey(f.String())
		switch {
		case code < 0 && strings.HasPrefix(key, "cd_") &&
			(strings.Contains(key, "mun") || strings.Contains(key, "geocod") ||
				strings.Contains(key, "dist") || strings.Contains(key, "setor")):
			code = i
		case name < 0 && strings.HasPrefix(key, "nm_"):
			name = i
		}
	}
	return code, name
}

func shapeToGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.Polygon:
		return polygonFromParts(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygonFromParts(s.Parts, s.Points)
	case *shp.PolyLine:
		return lineFromParts(s.Parts, s.Points)
	default:
		return nil
	}
}

// polygonFromParts reassembles shapefile rings into polygons: clockwise rings
// open a new polygon (shapefile exterior convention), counter-clockwise rings
// are holes of the polygon before them. Rings are closed and reoriented to
// the OGC convention on the way out, which repairs the most common mesh
// defects without a full make-valid pass.
func polygonFromParts(parts []int32, points []shp.Point) orb.Geometry {
	var polygons orb.MultiPolygon
	var current orb.Polygon

	flush := func() {
		if len(current) > 0 {
			polygons = append(polygons, current)
			current = nil
		}
	}

	for p := 0; p < len(parts); p++ {
		start := int(parts[p])
		end := len(points)
		if p+1 < len(parts) {
			end = int(parts[p+1])
		}
		ring := make(orb.Ring, 0, end-start+1)
		for _, pt := range points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if len(ring) < 3 {
			continue
		}
		if !ring.Closed() {
			ring = append(ring, ring[0])
		}

		if ring.Orientation() == orb.CW {
			// Exterior ring; OGC wants it counter-clockwise.
			ring.Reverse()
			flush()
			current = orb.Polygon{ring}
		} else {
			if len(current) == 0 {
				current = orb.Polygon{ring}
				continue
			}
			ring.Reverse()
			current = append(current, ring)
		}
	}
	flush()

	if len(polygons) == 0 {
		return nil
	}
	if len(polygons) == 1 {
		return polygons[0]
	}
	return polygons
}

func lineFromParts(parts []int32, points []shp.Point) orb.Geometry {
	var lines orb.MultiLineString
	for p := 0; p < len(parts); p++ {
		start := int(parts[p])
		end := len(points)
		if p+1 < len(parts) {
			end = int(parts[p+1])
		}
		line := make(orb.LineString, 0, end-start)
		for _, pt := range points[start:end] {
			line = append(line, orb.Point{pt.X, pt.Y})
		}
		if len(line) >= 2 {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}
