package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

const catalogBaseURL = "https://developers.google.com/earth-engine/datasets/catalog/"

// keywordDatasets maps query keywords to known catalog entries. The sets
// are closed; Browse falls back to Sentinel-2 when nothing matches.
var keywordDatasets = map[string][]ports.Dataset{
	"landsat": {
		{ID: "LANDSAT/LC09/C02/T1_L2", Name: "Landsat 9 Level 2", Type: "optical"},
		{ID: "LANDSAT/LC08/C02/T1_L2", Name: "Landsat 8 Level 2", Type: "optical"},
		{ID: "LANDSAT/LE07/C02/T1_L2", Name: "Landsat 7 Level 2", Type: "optical"},
	},
	"sentinel": {
		{ID: "COPERNICUS/S2_SR_HARMONIZED", Name: "Sentinel-2 Surface Reflectance", Type: "optical"},
		{ID: "COPERNICUS/S1_GRD", Name: "Sentinel-1 SAR GRD", Type: "sar"},
		{ID: "COPERNICUS/S5P/OFFL/L3_NO2", Name: "Sentinel-5P NO2", Type: "atmosphere"},
	},
	"modis": {
		{ID: "MODIS/061/MOD13A1", Name: "MODIS Vegetation Indices", Type: "vegetation"},
		{ID: "MODIS/061/MOD09GA", Name: "MODIS Surface Reflectance", Type: "optical"},
		{ID: "MODIS/061/MCD12Q1", Name: "MODIS Land Cover", Type: "landcover"},
	},
	"climate": {
		{ID: "ECMWF/ERA5_LAND/DAILY_AGGR", Name: "ERA5-Land Daily", Type: "climate"},
		{ID: "UCSB-CHG/CHIRPS/DAILY", Name: "CHIRPS Precipitation", Type: "precipitation"},
	},
	"elevation": {
		{ID: "USGS/SRTMGL1_003", Name: "SRTM Digital Elevation", Type: "elevation"},
		{ID: "JAXA/ALOS/AW3D30/V3_2", Name: "ALOS World 3D", Type: "elevation"},
	},
	"ndvi": {
		{ID: "MODIS/061/MOD13A1", Name: "MODIS NDVI/EVI", Type: "vegetation"},
		{ID: "LANDSAT/LC09/C02/T1_L2", Name: "Landsat 9 (compute NDVI)", Type: "optical"},
	},
	"sar": {
		{ID: "COPERNICUS/S1_GRD", Name: "Sentinel-1 SAR", Type: "sar"},
	},
	"flood": {
		{ID: "COPERNICUS/S1_GRD", Name: "Sentinel-1 SAR (flood detection)", Type: "sar"},
		{ID: "JRC/GSW1_4/GlobalSurfaceWater", Name: "Global Surface Water", Type: "water"},
	},
	"fire": {
		{ID: "MODIS/061/MOD14A1", Name: "MODIS Thermal Anomalies/Fire", Type: "fire"},
		{ID: "FIRMS", Name: "FIRMS Active Fires", Type: "fire"},
	},
	"deforestation": {
		{ID: "UMD/hansen/global_forest_change_2023_v1_11", Name: "Hansen Global Forest Change", Type: "forest"},
		{ID: "LANDSAT/LC09/C02/T1_L2", Name: "Landsat 9 (forest analysis)", Type: "optical"},
	},
}

// catalogKeywords fixes the match order for Browse. Map iteration order is
// random, so a multi-keyword query would otherwise return the same datasets
// in a different order on each call.
var catalogKeywords = []string{
	"landsat", "sentinel", "modis", "climate", "elevation",
	"ndvi", "sar", "flood", "fire", "deforestation",
}

var defaultDataset = ports.Dataset{
	ID: "COPERNICUS/S2_SR_HARMONIZED", Name: "Sentinel-2 (default)", Type: "optical",
}

// bandSchemas holds band layouts for the datasets the catalog knows well.
var bandSchemas = map[string]ports.BandSchema{
	"COPERNICUS/S2_SR_HARMONIZED": {
		Bands:     12,
		BandNames: []string{"B1", "B2", "B3", "B4", "B5", "B6", "B7", "B8", "B8A", "B9", "B11", "B12"},
		Properties: map[string]any{
			"CLOUDY_PIXEL_PERCENTAGE": "cloud cover percentage",
			"resolution_m":            10,
		},
	},
	"COPERNICUS/S1_GRD": {
		Bands:     3,
		BandNames: []string{"VV", "VH", "angle"},
		Properties: map[string]any{
			"instrumentMode": "IW",
			"resolution_m":   10,
		},
	},
	"LANDSAT/LC09/C02/T1_L2": {
		Bands:     8,
		BandNames: []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7", "QA_PIXEL"},
		Properties: map[string]any{
			"CLOUD_COVER":  "cloud cover percentage",
			"resolution_m": 30,
		},
	},
	"LANDSAT/LC08/C02/T1_L2": {
		Bands:     8,
		BandNames: []string{"SR_B1", "SR_B2", "SR_B3", "SR_B4", "SR_B5", "SR_B6", "SR_B7", "QA_PIXEL"},
		Properties: map[string]any{
			"CLOUD_COVER":  "cloud cover percentage",
			"resolution_m": 30,
		},
	},
	"MODIS/061/MOD13A1": {
		Bands:     4,
		BandNames: []string{"NDVI", "EVI", "DetailedQA", "SummaryQA"},
		Properties: map[string]any{
			"resolution_m": 500,
		},
	},
	"UMD/hansen/global_forest_change_2023_v1_11": {
		Bands:     5,
		BandNames: []string{"treecover2000", "loss", "gain", "lossyear", "datamask"},
		Properties: map[string]any{
			"resolution_m": 30,
		},
	},
}

// StaticCatalog implements ports.Catalog from a built-in dataset table.
// It stands in for a live catalog service: keyword browsing, band schema
// lookups, and docs URLs work offline; metadata and previews return what
// the table knows.
type StaticCatalog struct{}

// NewStaticCatalog creates the built-in catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{}
}

// Browse returns datasets whose keyword appears in the query, deduplicated
// in keyword-match order, or the Sentinel-2 default when nothing matches.
func (c *StaticCatalog) Browse(ctx context.Context, query string) ([]ports.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	seen := make(map[string]struct{})
	var results []ports.Dataset

	for _, keyword := range catalogKeywords {
		if !strings.Contains(queryLower, keyword) {
			continue
		}
		for _, d := range keywordDatasets[keyword] {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			results = append(results, d)
		}
	}

	if len(results) == 0 {
		results = []ports.Dataset{defaultDataset}
	}
	return results, nil
}

// BandSchema returns the band layout for a known dataset.
func (c *StaticCatalog) BandSchema(ctx context.Context, id string) (ports.BandSchema, error) {
	if err := ctx.Err(); err != nil {
		return ports.BandSchema{}, err
	}

	schema, ok := bandSchemas[id]
	if !ok {
		return ports.BandSchema{}, fmt.Errorf("no band schema for dataset %q", id)
	}
	return schema, nil
}

// AssetMetadata returns what the static table knows about an asset.
func (c *StaticCatalog) AssetMetadata(ctx context.Context, id string) (map[string]any, error) {
	schema, err := c.BandSchema(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         id,
		"type":       "ImageCollection",
		"bands":      schema.BandNames,
		"properties": schema.Properties,
	}, nil
}

// Preview reports availability for a date range. The static catalog has no
// imagery, so it returns the request shape with an empty sample list.
func (c *StaticCatalog) Preview(ctx context.Context, id, start, end string, limit int) (map[string]any, error) {
	if _, err := c.BandSchema(ctx, id); err != nil {
		return nil, err
	}
	dateRange := "all dates"
	if start != "" && end != "" {
		dateRange = start + " to " + end
	}
	return map[string]any{
		"collection_id": id,
		"date_range":    dateRange,
		"sample_images": []map[string]any{},
	}, nil
}

// DocsURL maps an asset ID to its catalog documentation page.
func (c *StaticCatalog) DocsURL(id string) string {
	return catalogBaseURL + strings.ReplaceAll(id, "/", "_")
}

var _ ports.Catalog = (*StaticCatalog)(nil)
