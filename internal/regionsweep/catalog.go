package regionsweep

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// LoadCatalog reads the region catalog a sweep is seeded from. When path is
// empty the built-in sido tier ships as a usable default; finer tiers
// (sigungu, dong) are large enough that deployments provide them as a JSON
// file instead.
func LoadCatalog(path string, tier models.RegionTier) ([]models.Region, error) {
	if path == "" {
		if tier == models.RegionSido {
			return sidoCatalog(), nil
		}
		return nil, fmt.Errorf("region catalog file required for tier %q (REGION_CATALOG_PATH)", tier)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region catalog: %w", err)
	}

	var entries []struct {
		Code       string `json:"code"`
		Name       string `json:"name"`
		Tier       string `json:"tier"`
		ParentCode string `json:"parent_code"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse region catalog: %w", err)
	}

	regions := make([]models.Region, 0, len(entries))
	for _, e := range entries {
		if e.Tier != "" && models.RegionTier(e.Tier) != tier {
			continue
		}
		if e.Code == "" {
			return nil, fmt.Errorf("region catalog entry missing code (name %q)", e.Name)
		}
		regions = append(regions, models.Region{
			Code:       e.Code,
			Name:       e.Name,
			Tier:       tier,
			ParentCode: e.ParentCode,
		})
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("region catalog %q has no entries for tier %q", path, tier)
	}
	return regions, nil
}

// sidoCatalog is the 17 top-tier administrative divisions, keyed by their
// standard district-code prefixes.
func sidoCatalog() []models.Region {
	entries := []struct{ code, name string }{
		{"11", "서울특별시"},
		{"26", "부산광역시"},
		{"27", "대구광역시"},
		{"28", "인천광역시"},
		{"29", "광주광역시"},
		{"30", "대전광역시"},
		{"31", "울산광역시"},
		{"36", "세종특별자치시"},
		{"41", "경기도"},
		{"43", "충청북도"},
		{"44", "충청남도"},
		{"46", "전라남도"},
		{"47", "경상북도"},
		{"48", "경상남도"},
		{"50", "제주특별자치도"},
		{"51", "강원특별자치도"},
		{"52", "전북특별자치도"},
	}
	regions := make([]models.Region, 0, len(entries))
	for _, e := range entries {
		regions = append(regions, models.Region{Code: e.code, Name: e.name, Tier: models.RegionSido})
	}
	return regions
}
