package client

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Ref resolves an upstream reference that may arrive nested ({"id": 7}) or
// flat (7). Both upstreams interchange the two shapes freely.
type Ref struct {
	ID int64
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		r.ID = 0
		return nil
	}
	if b[0] == '{' {
		var obj struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		r.ID = obj.ID
		return nil
	}
	return json.Unmarshal(b, &r.ID)
}

// Number is a float64 that tolerates the loose typing of upstream payloads:
// numbers, quoted numbers, null, and garbage all decode without error,
// with anything non-numeric collapsing to zero.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

// Float returns the plain float64 value.
func (n Number) Float() float64 {
	return float64(n)
}

// TypeRef is a Cloud material type reference: a numeric id, a raw label
// string, or an object carrying both.
type TypeRef struct {
	ID   int64
	Name string
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TypeRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		t.ID, t.Name = 0, ""
		return nil
	}
	switch b[0] {
	case '{':
		var obj struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		t.ID, t.Name = obj.ID, obj.Name
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		// A quoted numeric label is still an id.
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.ID = id
			return nil
		}
		t.Name = s
		return nil
	default:
		return json.Unmarshal(b, &t.ID)
	}
}

// InvSpool is a spool record as returned by Inv. The filament reference is
// normalized from its nested-or-flat shape on read.
type InvSpool struct {
	ID            int64   `json:"id"`
	LotNr         string  `json:"lot_nr"`
	UsedWeight    Number  `json:"used_weight"`
	InitialWeight Number  `json:"initial_weight"`
	SpoolWeight   Number  `json:"spool_weight"`
	Price         Number  `json:"price"`
	Archived      bool    `json:"archived"`
	Filament      Ref     `json:"filament"`
	FilamentID    int64   `json:"filament_id"`
	UpdatedAt     string  `json:"updated_at"`
	LastUsed      string  `json:"last_used"`
}

// FilamentRef returns the owning filament id regardless of wire shape.
func (s InvSpool) FilamentRef() int64 {
	if s.Filament.ID != 0 {
		return s.Filament.ID
	}
	return s.FilamentID
}

// InvFilament is a filament record as returned by Inv.
type InvFilament struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Material string `json:"material"`
	Diameter Number `json:"diameter"`
	Density  Number `json:"density"`
	ColorHex string `json:"color_hex"`
	Vendor   Ref    `json:"vendor"`
	VendorID int64  `json:"vendor_id"`
}

// VendorRef returns the vendor id regardless of wire shape.
func (f InvFilament) VendorRef() int64 {
	if f.Vendor.ID != 0 {
		return f.Vendor.ID
	}
	return f.VendorID
}

// InvVendor is a vendor record as returned by Inv.
type InvVendor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// InvFilamentCreate is the payload for creating an Inv filament.
type InvFilamentCreate struct {
	Name             string  `json:"name"`
	VendorID         int64   `json:"vendor_id"`
	Material         string  `json:"material"`
	Diameter         float64 `json:"diameter"`
	Density          float64 `json:"density"`
	ColorHex         string  `json:"color_hex,omitempty"`
	Weight           float64 `json:"weight,omitempty"`
	ExtruderTemp     int     `json:"settings_extruder_temp,omitempty"`
	BedTemp          int     `json:"settings_bed_temp,omitempty"`
	Price            float64 `json:"price,omitempty"`
}

// InvSpoolCreate is the payload for creating an Inv spool.
type InvSpoolCreate struct {
	FilamentID    int64   `json:"filament_id"`
	LotNr         string  `json:"lot_nr"`
	InitialWeight float64 `json:"initial_weight"`
	SpoolWeight   float64 `json:"spool_weight,omitempty"`
	UsedWeight    float64 `json:"used_weight"`
	Price         float64 `json:"price"`
	Archived      bool    `json:"archived"`
	LastUsed      string  `json:"last_used,omitempty"`
}

// InvSpoolUpdate is the payload for updating an Inv spool. Pointer fields
// are omitted when nil so partial updates preserve the remaining fields.
type InvSpoolUpdate struct {
	FilamentID *int64   `json:"filament_id,omitempty"`
	LotNr      *string  `json:"lot_nr,omitempty"`
	UsedWeight *float64 `json:"used_weight,omitempty"`
	Price      *float64 `json:"price,omitempty"`
	Archived   *bool    `json:"archived,omitempty"`
	LastUsed   *string  `json:"last_used,omitempty"`
}

// CloudFilament is one filament entry from the Cloud catalog. Total, Left
// and SpoolWeight are millimetres and grams as reported by Cloud.
type CloudFilament struct {
	UID         string  `json:"uid"`
	Type        TypeRef `json:"type"`
	Brand       string  `json:"brand"`
	ColorName   string  `json:"colorName"`
	ColorHex    string  `json:"colorHex"`
	Dia         Number  `json:"dia"`
	Density     Number  `json:"density"`
	Total       Number  `json:"total"`
	Left        Number  `json:"left"`
	SpoolWeight Number  `json:"spoolWeight"`
	LastUsed    Number  `json:"last_used"`
}

// CloudFilamentType is one entry of the Cloud material-type catalog.
type CloudFilamentType struct {
	ID               Number `json:"id"`
	MaterialTypeName string `json:"material_type_name"`
	Brand            string `json:"brand"`
	ProfileName      string `json:"profile_name"`
	Dia              Number `json:"dia"`
	Density          Number `json:"density"`
	NozzleTemp       Number `json:"nozzle_temp"`
	BedTemp          Number `json:"bed_temp"`
	Price            Number `json:"price"` // minor currency units
}

// CloudFilamentUpdate is the payload sent when Inv is authoritative and the
// remaining length is pushed back to Cloud.
type CloudFilamentUpdate struct {
	Left            float64 `json:"left"`         // mm
	TotalLength     float64 `json:"total_length"` // mm
	TotalLengthType string  `json:"total_length_type"`
	// Upstream's length_used field carries percent REMAINING, not used.
	// The inversion is intentional and mirrors live Cloud behavior.
	LengthUsed     float64 `json:"length_used"`
	LeftLengthType string  `json:"left_length_type"`
	ColorName      string  `json:"color_name"`
	ColorHex       string  `json:"color_hex"`
	Width          float64 `json:"width"` // diameter mm
	Density        float64 `json:"density"`
	Brand          string  `json:"brand"`
	FilamentType   int64   `json:"filament_type"`
}
