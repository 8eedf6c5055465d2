package parser

import (
	"strings"

	"github.com/raphaelgruber/assetcheck/internal/models"
)

// ParseAssetRows maps asset sheet rows to assets. Rows without an id are skipped.
func ParseAssetRows(rows [][]string) []models.Asset {
	assets := make([]models.Asset, 0, len(rows))
	for _, row := range rows {
		a := models.Asset{
			ID:                  cell(row, 0),
			Name:                cell(row, 1),
			Type:                cell(row, 2),
			Building:            cell(row, 3),
			Floor:               cell(row, 4),
			Status:              cell(row, 5),
			NextMaintenanceDate: cell(row, 6),
			LastMaintenanceDate: cell(row, 7),
			SerialNumber:        cell(row, 8),
			Manufacturer:        cell(row, 9),
			Model:               cell(row, 10),
			InstallationDate:    cell(row, 11),
		}
		if a.ID == "" {
			continue
		}
		assets = append(assets, a)
	}
	return assets
}

// ParseContractorRows reads the contractors directory
// (AssetType | Name | Company | Role). Asset types are lowercased; rows with
// neither a name nor a company are skipped.
func ParseContractorRows(rows [][]string) []models.Contractor {
	var out []models.Contractor
	for _, row := range rows {
		c := models.Contractor{
			AssetType: strings.ToLower(cell(row, 0)),
			Name:      cell(row, 1),
			Company:   cell(row, 2),
			Role:      cell(row, 3),
		}
		if c.AssetType == "" || (c.Name == "" && c.Company == "") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// GroupResultHistory collapses result rows into one entry per session,
// keyed by asset, procedure and timestamp, in first-seen order.
func GroupResultHistory(rows [][]string) []models.TestHistoryEntry {
	seen := make(map[models.SessionKey]bool)
	var out []models.TestHistoryEntry
	for _, row := range rows {
		key := models.SessionKey{
			AssetID:     cell(row, models.ColAssetID),
			ProcedureID: cell(row, models.ColProcedureID),
			Timestamp:   cell(row, models.ColTimestamp),
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, models.TestHistoryEntry{
			AssetID:       key.AssetID,
			ProcedureID:   key.ProcedureID,
			Date:          cell(row, models.ColDate),
			Technicians:   cell(row, models.ColTechnicians),
			Contractors:   cell(row, models.ColContractors),
			OverallStatus: cell(row, models.ColOverallStatus),
			Notes:         cell(row, models.ColOverallNotes),
			Timestamp:     key.Timestamp,
		})
	}
	return out
}
