// Package tiger downloads Census TIGER/Line boundary shapefiles and parses
// them into attribute-tagged polygon features for the local boundary cache.
package tiger

import (
	"fmt"
	"sort"
)

// Layer names used throughout the boundary cache.
const (
	LayerState = "state"
	LayerZCTA  = "zcta"
	LayerTract = "tract"
)

// Product describes a TIGER/Line shapefile product.
type Product struct {
	Name     string   // e.g., "STATE"
	Layer    string   // cache layer name, e.g., "state"
	Dir      string   // URL path segment under TIGER{year}
	ZipName  string   // zip filename pattern; %d = year, %s = state FIPS
	National bool     // true = single national file, false = per-state
	Columns  []string // DBF attribute columns, in product order
}

// Products lists the boundary products used for enrichment.
var Products = []Product{
	{
		Name:     "STATE",
		Layer:    LayerState,
		Dir:      "STATE",
		ZipName:  "tl_%d_us_state.zip",
		National: true,
		Columns: []string{
			"REGION", "DIVISION", "STATEFP", "STATENS", "GEOID", "STUSPS",
			"NAME", "LSAD", "MTFCC", "FUNCSTAT", "ALAND", "AWATER",
			"INTPTLAT", "INTPTLON",
		},
	},
	{
		Name:     "ZCTA5",
		Layer:    LayerZCTA,
		Dir:      "ZCTA5",
		ZipName:  "tl_%d_us_zcta510.zip",
		National: true,
		Columns: []string{
			"ZCTA5CE10", "GEOID10", "CLASSFP10", "MTFCC10", "FUNCSTAT10",
			"ALAND10", "AWATER10", "INTPTLAT10", "INTPTLON10",
		},
	},
	{
		Name:     "TRACT",
		Layer:    LayerTract,
		Dir:      "TRACT",
		ZipName:  "tl_%d_%s_tract.zip",
		National: false,
		Columns: []string{
			"STATEFP", "COUNTYFP", "TRACTCE", "GEOID", "NAME", "NAMELSAD",
			"MTFCC", "FUNCSTAT", "ALAND", "AWATER", "INTPTLAT", "INTPTLON",
		},
	},
}

// FIPSCodes maps state abbreviation to 2-digit FIPS code for all 50 states + DC.
var FIPSCodes = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06",
	"CO": "08", "CT": "09", "DE": "10", "DC": "11", "FL": "12",
	"GA": "13", "HI": "15", "ID": "16", "IL": "17", "IN": "18",
	"IA": "19", "KS": "20", "KY": "21", "LA": "22", "ME": "23",
	"MD": "24", "MA": "25", "MI": "26", "MN": "27", "MS": "28",
	"MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38",
	"OH": "39", "OK": "40", "OR": "41", "PA": "42", "RI": "44",
	"SC": "45", "SD": "46", "TN": "47", "TX": "48", "UT": "49",
	"VT": "50", "VA": "51", "WA": "53", "WV": "54", "WI": "55",
	"WY": "56",
}

// ZIPPrefixesByState maps state abbreviation to the leading ZIP code digits
// used within that state. Used to restrict the national ZCTA layer when only
// a subset of states is loaded.
var ZIPPrefixesByState = map[string]string{
	"AK": "9", "AL": "3", "AR": "7", "AZ": "8", "CA": "9",
	"CO": "8", "CT": "0", "DC": "2", "DE": "1", "FL": "3",
	"GA": "3", "HI": "9", "IA": "56", "ID": "8", "IL": "6",
	"IN": "4", "KS": "6", "KY": "4", "LA": "7", "MA": "0",
	"MD": "2", "ME": "0", "MI": "4", "MN": "5", "MO": "6",
	"MS": "3", "MT": "5", "NC": "2", "ND": "5", "NE": "6",
	"NH": "3", "NJ": "0", "NM": "8", "NV": "8", "NY": "01",
	"OH": "4", "OK": "7", "OR": "9", "PA": "1", "RI": "0",
	"SC": "2", "SD": "5", "TN": "3", "TX": "78", "UT": "8",
	"VA": "2", "VT": "0", "WA": "9", "WI": "5", "WV": "2",
	"WY": "8",
}

// abbrByFIPS is a reverse lookup from FIPS code to state abbreviation.
var abbrByFIPS map[string]string

func init() {
	abbrByFIPS = make(map[string]string, len(FIPSCodes))
	for abbr, fips := range FIPSCodes {
		abbrByFIPS[fips] = abbr
	}
}

// AbbrFromFIPS returns the state abbreviation for a FIPS code.
func AbbrFromFIPS(fips string) (string, bool) {
	abbr, ok := abbrByFIPS[fips]
	return abbr, ok
}

// AllStateAbbrs returns a sorted list of state abbreviations (50 states + DC).
func AllStateAbbrs() []string {
	abbrs := make([]string, 0, len(FIPSCodes))
	for abbr := range FIPSCodes {
		abbrs = append(abbrs, abbr)
	}
	sort.Strings(abbrs)
	return abbrs
}

// ProductByLayer looks up a product by its cache layer name.
func ProductByLayer(layer string) (Product, bool) {
	for _, p := range Products {
		if p.Layer == layer {
			return p, true
		}
	}
	return Product{}, false
}

// LayerKey returns the cache key for a product, qualified by state FIPS for
// per-state products.
func (p Product) LayerKey(stateFIPS string) string {
	if p.National {
		return p.Layer
	}
	return fmt.Sprintf("%s_%s", p.Layer, stateFIPS)
}

// HasColumn reports whether the product schema contains the named column.
func (p Product) HasColumn(name string) bool {
	for _, c := range p.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// DownloadURL builds the Census Bureau download URL for a product.
// National products ignore stateFIPS.
func DownloadURL(product Product, baseURL string, year int, stateFIPS string) string {
	var zipName string
	if product.National {
		zipName = fmt.Sprintf(product.ZipName, year)
	} else {
		zipName = fmt.Sprintf(product.ZipName, year, stateFIPS)
	}
	return fmt.Sprintf("%s/TIGER%d/%s/%s", baseURL, year, product.Dir, zipName)
}
