package sync

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rainman19121979/spoolsync/internal/client"
	"github.com/rainman19121979/spoolsync/internal/models"
)

// Defaults substituted when neither the filament record nor the type
// catalog carries a value.
const (
	defaultDiameterMM  = 1.75
	defaultDensityGCM3 = 1.24
	defaultBrand       = "Unknown"
)

// knownMaterials is the ordered scan list for material extraction. Longest
// match wins, so compounds like PLA+ and PETG-CF are tried before their
// base materials.
var knownMaterials = []string{
	"PLA+", "PETG-CF", "PLA-CF", "ABS+", "TPU-95A", "TPU-98A",
	"PETG", "PLA", "ABS", "TPU", "NYLON", "ASA", "PC", "PP", "PVA", "HIPS",
}

var hexColorRe = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// Normalize converts a Cloud filament plus the types catalog into the
// internal Filament model.
func Normalize(cf client.CloudFilament, types map[string]client.CloudFilamentType) models.Filament {
	typeEntry, hasType := lookupType(cf.Type, types)

	material := ExtractMaterial(cf.Type, types)

	brand := cf.Brand
	if brand == "" && hasType {
		brand = typeEntry.Brand
	}
	if brand == "" {
		brand = defaultBrand
	}

	diameter := cf.Dia.Float()
	if diameter == 0 && hasType {
		diameter = typeEntry.Dia.Float()
	}
	if diameter == 0 {
		diameter = defaultDiameterMM
	}

	density := cf.Density.Float()
	if density == 0 && hasType {
		density = typeEntry.Density.Float()
	}
	if density == 0 {
		density = defaultDensityGCM3
	}

	f := models.Filament{
		Name:        buildName(typeEntry.ProfileName, material, cf.ColorName),
		Brand:       brand,
		Material:    material,
		DiameterMM:  diameter,
		DensityGCM3: density,
		ColorHex:    CanonColor(cf.ColorHex),
	}

	if hasType {
		f.NozzleTempC = int(typeEntry.NozzleTemp.Float())
		f.BedTempC = int(typeEntry.BedTemp.Float())
		f.Price = typeEntry.Price.Float() / 100 // minor to major currency units
	}

	return f
}

// ExtractMaterial resolves the canonical short material code for a Cloud
// type reference. Resolution order: the catalog's material_type_name for the
// id, then a scan of the raw label against the known materials, then the
// last plausible whitespace token, then the raw label itself.
func ExtractMaterial(ref client.TypeRef, types map[string]client.CloudFilamentType) string {
	if ref.ID != 0 {
		if t, ok := types[strconv.FormatInt(ref.ID, 10)]; ok && t.MaterialTypeName != "" {
			return t.MaterialTypeName
		}
	}
	if ref.Name == "" {
		if ref.ID != 0 {
			// An unresolvable numeric id is kept verbatim, like any other
			// unrecognized label.
			return strconv.FormatInt(ref.ID, 10)
		}
		return ""
	}
	return extractMaterialFromLabel(ref.Name)
}

func extractMaterialFromLabel(label string) string {
	label = strings.TrimSpace(label)
	upper := strings.ToUpper(label)

	best := ""
	for _, m := range knownMaterials {
		if len(m) <= len(best) {
			continue
		}
		if upper == m || strings.HasSuffix(upper, " "+m) || strings.HasPrefix(upper, m+" ") {
			best = m
		}
	}
	if best != "" {
		return best
	}

	fields := strings.Fields(label)
	if len(fields) > 0 {
		last := fields[len(fields)-1]
		if len(last) >= 2 && len(last) <= 10 {
			return last
		}
	}
	return label
}

// CanonColor canonicalizes a color to #RRGGBB. Accepts a leading # or bare
// 6 hex digits; anything else collapses to "".
func CanonColor(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "#")
	if !hexColorRe.MatchString(s) {
		return ""
	}
	return "#" + strings.ToUpper(s)
}

// buildName derives the display name: "{profile_name or material}
// {colorName}", trimmed.
func buildName(profileName, material, colorName string) string {
	base := profileName
	if base == "" {
		base = material
	}
	return strings.TrimSpace(base + " " + colorName)
}

// FormatTimestamp converts unix seconds into ISO-8601 with UTC offset.
// Non-positive values yield "".
func FormatTimestamp(unixSecs int64) string {
	if unixSecs <= 0 {
		return ""
	}
	return time.Unix(unixSecs, 0).UTC().Format(time.RFC3339)
}

// ParseTimestamp validates and parses an upstream timestamp string. Inv
// emits RFC 3339 with or without sub-second precision; a bare datetime
// without offset is read as UTC. Returns the zero time for anything else.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func lookupType(ref client.TypeRef, types map[string]client.CloudFilamentType) (client.CloudFilamentType, bool) {
	if ref.ID == 0 {
		return client.CloudFilamentType{}, false
	}
	t, ok := types[strconv.FormatInt(ref.ID, 10)]
	return t, ok
}
